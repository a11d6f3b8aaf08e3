package planner

type (
	// StatusTag is a marker attachable to a Student. A tag is either present or absent.
	StatusTag struct {
		Key   string `json:"key"`
		Label string `json:"label"`
		Icon  string `json:"icon"`
		Group string `json:"group"`
	}

	TagGroup struct {
		Key   string      `json:"key"`
		Label string      `json:"label"`
		Color string      `json:"color"`
		Tags  []StatusTag `json:"tags"`
	}
)

// Tag groups
const (
	GroupPerformance = "performance"
	GroupDiscipline  = "discipline"
	GroupCheckIns    = "checkins"
)

var (
	catalog = []TagGroup{
		{
			Key: GroupPerformance, Label: "Performance", Color: "#2e7d32",
			Tags: []StatusTag{
				{Key: "exceptional_effort", Label: "Exceptional effort", Icon: "⭐"},
				{Key: "great_participation", Label: "Great participation", Icon: "🙋"},
				{Key: "homework_complete", Label: "Homework complete", Icon: "📘"},
				{Key: "improved_work", Label: "Improved work", Icon: "📈"},
				{Key: "helped_peer", Label: "Helped a peer", Icon: "🤝"},
			},
		},
		{
			Key: GroupDiscipline, Label: "Discipline", Color: "#c62828",
			Tags: []StatusTag{
				{Key: "disruptive", Label: "Disruptive", Icon: "📢"},
				{Key: "off_task", Label: "Off task", Icon: "💤"},
				{Key: "unprepared", Label: "Unprepared", Icon: "🎒"},
				{Key: "phone_use", Label: "Phone use", Icon: "📱"},
				{Key: "disrespectful", Label: "Disrespectful", Icon: "⚠️"},
			},
		},
		{
			Key: GroupCheckIns, Label: "Check-ins", Color: "#1565c0",
			Tags: []StatusTag{
				{Key: "needs_check_in", Label: "Needs check-in", Icon: "🚩"},
				{Key: "parent_contacted", Label: "Parent contacted", Icon: "☎️"},
				{Key: "counselor_referral", Label: "Counselor referral", Icon: "🧭"},
				{Key: "missing_work", Label: "Missing work", Icon: "📝"},
			},
		},
	}

	tagsByKey = indexCatalog()
)

func indexCatalog() map[string]StatusTag {
	idx := make(map[string]StatusTag)
	for gi := range catalog {
		for ti := range catalog[gi].Tags {
			catalog[gi].Tags[ti].Group = catalog[gi].Key
			tag := catalog[gi].Tags[ti]
			idx[tag.Key] = tag
		}
	}
	return idx
}

// Catalog returns a copy of the tag groups, in display order.
func Catalog() []TagGroup {
	groups := make([]TagGroup, 0, len(catalog))
	for _, g := range catalog {
		tags := make([]StatusTag, len(g.Tags))
		copy(tags, g.Tags)
		g.Tags = tags
		groups = append(groups, g)
	}
	return groups
}

func LookupTag(key string) (StatusTag, bool) {
	tag, ok := tagsByKey[key]
	return tag, ok
}

func IsValidStatus(key string) bool {
	_, ok := tagsByKey[key]
	return ok
}
