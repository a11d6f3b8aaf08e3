package planner

import (
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/planner/core"
)

// DateLayout is the ISO calendar date format used as attendance key.
const DateLayout = "2006-01-02"

type Grade string

const (
	Grade6 Grade = "6"
	Grade7 Grade = "7"
	Grade8 Grade = "8"
)

var Grades = []Grade{Grade6, Grade7, Grade8}

func (g Grade) IsValid() bool {
	for _, v := range Grades {
		if g == v {
			return true
		}
	}
	return false
}

type Schedule string

const (
	ScheduleEven Schedule = "even"
	ScheduleOdd  Schedule = "odd"
)

var Schedules = []Schedule{ScheduleEven, ScheduleOdd}

func (sc Schedule) IsValid() bool {
	return sc == ScheduleEven || sc == ScheduleOdd
}

// AttendanceStatus of a student for a given class and date.
// Unset ("") and a missing entry mean the same thing.
type AttendanceStatus string

const (
	Unset   AttendanceStatus = ""
	Present AttendanceStatus = "present"
	Absent  AttendanceStatus = "absent"
	Tardy   AttendanceStatus = "tardy"
)

func (st AttendanceStatus) IsValid() bool {
	switch st {
	case Unset, Present, Absent, Tardy:
		return true
	}
	return false
}

type (
	Student struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Statuses []string `json:"statuses"`
	}

	ClassRoom struct {
		ID         string                                 `json:"id"`
		Name       string                                 `json:"name"`
		Grade      Grade                                  `json:"grade"`
		Schedule   Schedule                               `json:"schedule"`
		Students   []Student                              `json:"students"`
		Attendance map[string]map[string]AttendanceStatus `json:"attendance"` // {date: {studentID: status}}
	}

	// Snapshot is an immutable copy of the whole classes collection.
	Snapshot []ClassRoom
)

func (s Student) HasStatus(key string) bool {
	for _, st := range s.Statuses {
		if st == key {
			return true
		}
	}
	return false
}

func (s Student) clone() Student {
	statuses := make([]string, len(s.Statuses))
	copy(statuses, s.Statuses)
	s.Statuses = statuses
	return s
}

func (c ClassRoom) Student(id string) (Student, bool) {
	if i := c.studentIndex(id); i >= 0 {
		return c.Students[i].clone(), true
	}
	return Student{}, false
}

func (c ClassRoom) studentIndex(id string) int {
	for i, s := range c.Students {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// AttendanceOn returns the status of every student of the class on date, keyed by student ID.
func (c ClassRoom) AttendanceOn(date string) map[string]AttendanceStatus {
	day := c.Attendance[date]
	res := make(map[string]AttendanceStatus, len(c.Students))
	for _, s := range c.Students {
		res[s.ID] = day[s.ID]
	}
	return res
}

// Dates returns the dates having at least one attendance entry, ascending.
func (c ClassRoom) Dates() []string {
	dates := make([]string, 0, len(c.Attendance))
	for d := range c.Attendance {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func (c ClassRoom) clone() ClassRoom {
	students := make([]Student, 0, len(c.Students))
	for _, s := range c.Students {
		students = append(students, s.clone())
	}
	c.Students = students

	attendance := make(map[string]map[string]AttendanceStatus, len(c.Attendance))
	for date, day := range c.Attendance {
		d := make(map[string]AttendanceStatus, len(day))
		for sid, st := range day {
			d[sid] = st
		}
		attendance[date] = d
	}
	c.Attendance = attendance
	return c
}

func (snap Snapshot) clone() Snapshot {
	classes := make(Snapshot, 0, len(snap))
	for _, c := range snap {
		classes = append(classes, c.clone())
	}
	return classes
}

// NewClass contains information needed to create a new ClassRoom.
type NewClass struct {
	Name     string   `json:"name" validate:"required,notblank"`
	Grade    Grade    `json:"grade" validate:"required,oneof=6 7 8"`
	Schedule Schedule `json:"schedule" validate:"required,oneof=even odd"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Grade = Grade(core.CleanString(string(nc.Grade)))
	nc.Schedule = Schedule(core.CleanString(string(nc.Schedule), true /* lower */))
	return validate.Struct(nc)
}

// NewStudent contains information needed to add a Student to a ClassRoom.
type NewStudent struct {
	Name string `json:"name" validate:"required,notblank"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	return validate.Struct(ns)
}

// ParseDate checks that date is an ISO calendar date and returns its canonical form.
func ParseDate(date string) (string, error) {
	t, err := time.Parse(DateLayout, core.CleanString(date))
	if err != nil {
		return "", core.NewValidationError(ErrInvalidDate, core.FieldError{Field: "date", Error: ErrInvalidDate.Error()})
	}
	return t.Format(DateLayout), nil
}
