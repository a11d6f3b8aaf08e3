package planner

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Encode serializes classes as a JSON array. The output is deterministic:
// map keys are sorted and empty collections are written as [] and {}.
func Encode(classes []ClassRoom) ([]byte, error) {
	data, err := json.Marshal(normalize(classes))
	if err != nil {
		return nil, errors.Wrap(err, "encoding classes")
	}
	return data, nil
}

// Decode parses data written by Encode. Documents with missing or duplicate IDs are rejected.
func Decode(data []byte) (Snapshot, error) {
	var classes []ClassRoom
	if err := json.Unmarshal(data, &classes); err != nil {
		return nil, errors.Wrap(err, "decoding classes")
	}
	snap := normalize(classes)
	if err := check(snap); err != nil {
		return nil, errors.Wrap(err, "decoding classes")
	}
	return snap, nil
}

func normalize(classes []ClassRoom) Snapshot {
	snap := make(Snapshot, 0, len(classes))
	for _, c := range classes {
		c = c.clone()
		for i, s := range c.Students {
			c.Students[i].Statuses = dedupe(s.Statuses)
		}
		snap = append(snap, c)
	}
	return snap
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	res := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			res = append(res, k)
		}
	}
	return res
}

// check enforces the collection invariants on decoded data: unique ids, known enums and tags, canonical dates and
// attendance only for students of the class.
func check(classes Snapshot) error {
	ids := make(map[string]bool)
	for _, c := range classes {
		if c.ID == "" {
			return errors.New("class without id")
		}
		if ids[c.ID] {
			return fmt.Errorf("duplicate id %q", c.ID)
		}
		ids[c.ID] = true
		if !c.Grade.IsValid() {
			return fmt.Errorf("class %q: invalid grade %q", c.ID, c.Grade)
		}
		if !c.Schedule.IsValid() {
			return fmt.Errorf("class %q: invalid schedule %q", c.ID, c.Schedule)
		}

		for _, s := range c.Students {
			if s.ID == "" {
				return fmt.Errorf("student without id in class %q", c.ID)
			}
			if ids[s.ID] {
				return fmt.Errorf("duplicate id %q", s.ID)
			}
			ids[s.ID] = true
			for _, key := range s.Statuses {
				if !IsValidStatus(key) {
					return fmt.Errorf("student %q: unknown status tag %q", s.ID, key)
				}
			}
		}

		for date, day := range c.Attendance {
			if d, err := ParseDate(date); err != nil || d != date {
				return fmt.Errorf("class %q: invalid attendance date %q", c.ID, date)
			}
			for sid, st := range day {
				if c.studentIndex(sid) < 0 {
					return fmt.Errorf("class %q: attendance for unknown student %q", c.ID, sid)
				}
				if !st.IsValid() {
					return fmt.Errorf("class %q: invalid attendance status %q", c.ID, st)
				}
			}
		}
	}
	return nil
}
