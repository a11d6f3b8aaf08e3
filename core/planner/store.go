package planner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/planner/core"
)

// DefaultKey is the storage key holding the serialized classes collection.
const DefaultKey = "classes"

var (
	// errors
	ErrClassNotFound     = errors.New("class not found")
	ErrStudentNotFound   = errors.New("student not found")
	ErrUnknownStatus     = errors.New("unknown status tag")
	ErrInvalidAttendance = errors.New("invalid attendance status")
	ErrInvalidDate       = errors.New("invalid date, expected YYYY-MM-DD")
	ErrIDExhausted       = errors.New("could not generate a unique id")
)

// maxIDAttempts bounds the retries on id collisions.
const maxIDAttempts = 100

// LoadError reports stored planner data that could not be read or decoded.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "loading planner state: " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Status is what the UI shows in its banner.
type Status struct {
	Hydrated  bool   `json:"hydrated"`
	LoadError string `json:"load_error,omitempty"`
	SaveError string `json:"save_error,omitempty"`
}

type Option func(*Store)

// WithKey sets the storage key. Defaults to DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithIDGenerator replaces the UUID generator used for class & student IDs.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store owns the classes collection. Every update builds a new snapshot, writes it to storage then notifies subscribers.
type Store struct {
	mu       sync.RWMutex
	classes  Snapshot
	hydrated bool
	loadErr  error
	saveErr  error

	kv       core.KeyValueStore
	key      string
	validate *validator.Validate
	logger   core.Logger
	newID    func() string

	subsMu    sync.Mutex
	subs      map[int]func(Snapshot)
	nextSubID int

	// snapshots waiting for delivery, in commit order
	queueMu  sync.Mutex
	queue    []Snapshot
	draining bool
}

func NewStore(kv core.KeyValueStore, validate *validator.Validate, logger core.Logger, opts ...Option) *Store {
	s := &Store{
		classes:  Snapshot{},
		kv:       kv,
		key:      DefaultKey,
		validate: validate,
		logger:   logger,
		newID:    func() string { return uuid.New().String() },
		subs:     make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate loads the persisted collection. Only the first call reads storage.
// On malformed data the store keeps an empty collection and a *LoadError is returned.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return nil
	}
	s.hydrated = true

	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, core.ErrKeyNotFound) {
			return nil
		}
		return s.loadFailed(errors.Wrap(err, "reading storage"))
	}

	classes, err := Decode(data)
	if err != nil {
		s.mu.Unlock()
		return s.loadFailed(err)
	}
	s.classes = classes
	s.enqueue(s.classes.clone())
	s.mu.Unlock()

	s.deliver()
	return nil
}

func (s *Store) loadFailed(err error) error {
	lErr := &LoadError{Err: err}
	s.mu.Lock()
	s.loadErr = lErr
	s.mu.Unlock()
	s.logger.Warn("planner state could not be loaded, starting empty", lErr)
	return lErr
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Hydrated: s.hydrated}
	if s.loadErr != nil {
		st.LoadError = s.loadErr.Error()
	}
	if s.saveErr != nil {
		st.SaveError = s.saveErr.Error()
	}
	return st
}

// Classes returns a copy of the whole collection, in creation order.
func (s *Store) Classes() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classes.clone()
}

func (s *Store) Class(id string) (ClassRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.classIndex(id); i >= 0 {
		return s.classes[i].clone(), nil
	}
	return ClassRoom{}, ErrClassNotFound
}

// Attendance returns the status of a student on date; Unset when never set or cleared.
func (s *Store) Attendance(classID, studentID, date string) (AttendanceStatus, error) {
	date, err := ParseDate(date)
	if err != nil {
		return Unset, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.classIndex(classID)
	if i < 0 {
		return Unset, ErrClassNotFound
	}
	class := s.classes[i]
	if class.studentIndex(studentID) < 0 {
		return Unset, ErrStudentNotFound
	}
	return class.Attendance[date][studentID], nil
}

// AttendanceOn returns the status of every student of a class on date.
func (s *Store) AttendanceOn(classID, date string) (map[string]AttendanceStatus, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.classIndex(classID)
	if i < 0 {
		return nil, ErrClassNotFound
	}
	return s.classes[i].AttendanceOn(date), nil
}

// Export returns the serialization of the current collection.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Encode(s.classes)
}

// Flush writes the collection again when the last write failed. Storage is left untouched otherwise, so a
// collection that could not be loaded never replaces the stored document unless it was updated.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr == nil {
		return nil
	}
	return s.persist(ctx)
}

// Subscribe registers fn to be called with a new snapshot after every change. Call the returned func to unsubscribe.
// Snapshots are delivered one at a time in commit order; with concurrent writers, an update may return before its
// snapshot reached the subscribers.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// enqueue schedules snap for delivery. s.mu must be held, so the queue follows commit order.
func (s *Store) enqueue(snap Snapshot) {
	s.queueMu.Lock()
	s.queue = append(s.queue, snap)
	s.queueMu.Unlock()
}

// deliver notifies subscribers of the queued snapshots, one at a time and in order. If another goroutine is
// already delivering, it takes over ours.
func (s *Store) deliver() {
	s.queueMu.Lock()
	if s.draining {
		s.queueMu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		snap := s.queue[0]
		s.queue = s.queue[1:]
		s.queueMu.Unlock()
		s.notify(snap)
		s.queueMu.Lock()
	}
	s.draining = false
	s.queueMu.Unlock()
}

func (s *Store) notify(snap Snapshot) {
	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids) // subscription order
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap.clone())
	}
}

// Updates

func (s *Store) AddClass(ctx context.Context, nc NewClass) (ClassRoom, error) {
	if err := nc.Validate(s.validate); err != nil {
		return ClassRoom{}, err
	}

	s.mu.Lock()
	id, err := s.uniqueID()
	if err != nil {
		s.mu.Unlock()
		return ClassRoom{}, err
	}
	class := ClassRoom{
		ID:         id,
		Name:       nc.Name,
		Grade:      nc.Grade,
		Schedule:   nc.Schedule,
		Students:   []Student{},
		Attendance: make(map[string]map[string]AttendanceStatus),
	}
	next := make(Snapshot, len(s.classes), len(s.classes)+1)
	copy(next, s.classes)
	next = append(next, class)
	s.commit(ctx, next)
	s.mu.Unlock()

	s.deliver()
	s.logger.Info(fmt.Sprintf("class %q created", class.Name), map[string]interface{}{"class_id": class.ID})
	return class.clone(), nil
}

func (s *Store) AddStudent(ctx context.Context, classID string, ns NewStudent) (Student, error) {
	if err := ns.Validate(s.validate); err != nil {
		return Student{}, err
	}

	s.mu.Lock()
	i := s.classIndex(classID)
	if i < 0 {
		s.mu.Unlock()
		return Student{}, ErrClassNotFound
	}

	id, err := s.uniqueID()
	if err != nil {
		s.mu.Unlock()
		return Student{}, err
	}
	student := Student{ID: id, Name: ns.Name, Statuses: []string{}}
	class := s.classes[i].clone()
	class.Students = append(class.Students, student)
	s.commit(ctx, s.replace(i, class))
	s.mu.Unlock()

	s.deliver()
	return student.clone(), nil
}

// ToggleStatus removes key from the student's statuses if present, adds it otherwise.
func (s *Store) ToggleStatus(ctx context.Context, classID, studentID, key string) (Student, error) {
	if !IsValidStatus(key) {
		return Student{}, core.NewValidationError(
			ErrUnknownStatus,
			core.FieldError{Field: "status", Error: fmt.Sprintf("unknown status tag %q", key)},
		)
	}

	s.mu.Lock()
	ci, si, err := s.locate(classID, studentID)
	if err != nil {
		s.mu.Unlock()
		return Student{}, err
	}

	class := s.classes[ci].clone()
	student := class.Students[si]
	if student.HasStatus(key) {
		statuses := make([]string, 0, len(student.Statuses))
		for _, st := range student.Statuses {
			if st != key {
				statuses = append(statuses, st)
			}
		}
		student.Statuses = statuses
	} else {
		student.Statuses = append(student.Statuses, key)
	}
	class.Students[si] = student
	s.commit(ctx, s.replace(ci, class))
	s.mu.Unlock()

	s.deliver()
	return student.clone(), nil
}

// SetAttendance stores status for the (class, date, student) triple. Unset is stored as is, it clears the entry.
func (s *Store) SetAttendance(ctx context.Context, classID, studentID, date string, status AttendanceStatus) error {
	_, err := s.updateAttendance(ctx, classID, studentID, date, status, func(AttendanceStatus) AttendanceStatus {
		return status
	})
	return err
}

// ToggleAttendance sets status, or clears the entry if status is already the active one.
func (s *Store) ToggleAttendance(ctx context.Context, classID, studentID, date string, status AttendanceStatus) (AttendanceStatus, error) {
	return s.updateAttendance(ctx, classID, studentID, date, status, func(current AttendanceStatus) AttendanceStatus {
		if current == status {
			return Unset
		}
		return status
	})
}

func (s *Store) updateAttendance(
	ctx context.Context,
	classID, studentID, date string,
	status AttendanceStatus,
	next func(current AttendanceStatus) AttendanceStatus,
) (AttendanceStatus, error) {
	if !status.IsValid() {
		return Unset, core.NewValidationError(
			ErrInvalidAttendance,
			core.FieldError{Field: "status", Error: fmt.Sprintf("invalid attendance status %q", status)},
		)
	}
	date, err := ParseDate(date)
	if err != nil {
		return Unset, err
	}

	s.mu.Lock()
	ci, _, err := s.locate(classID, studentID)
	if err != nil {
		s.mu.Unlock()
		return Unset, err
	}

	class := s.classes[ci].clone()
	day, ok := class.Attendance[date]
	if !ok {
		day = make(map[string]AttendanceStatus)
		class.Attendance[date] = day
	}
	newStatus := next(day[studentID])
	day[studentID] = newStatus
	s.commit(ctx, s.replace(ci, class))
	s.mu.Unlock()

	s.deliver()
	return newStatus, nil
}

// helpers; callers must hold s.mu

func (s *Store) classIndex(id string) int {
	for i, c := range s.classes {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) locate(classID, studentID string) (int, int, error) {
	ci := s.classIndex(classID)
	if ci < 0 {
		return -1, -1, ErrClassNotFound
	}
	si := s.classes[ci].studentIndex(studentID)
	if si < 0 {
		return -1, -1, ErrStudentNotFound
	}
	return ci, si, nil
}

// replace returns a new collection with the class at index i substituted.
func (s *Store) replace(i int, class ClassRoom) Snapshot {
	next := make(Snapshot, len(s.classes))
	copy(next, s.classes)
	next[i] = class
	return next
}

func (s *Store) uniqueID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID()
		if id != "" && !s.idTaken(id) {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

func (s *Store) idTaken(id string) bool {
	for _, c := range s.classes {
		if c.ID == id {
			return true
		}
		for _, st := range c.Students {
			if st.ID == id {
				return true
			}
		}
	}
	return false
}

// commit swaps in the new collection, persists it and queues its snapshot for the subscribers.
func (s *Store) commit(ctx context.Context, next Snapshot) {
	s.classes = next
	_ = s.persist(ctx)
	s.enqueue(s.classes.clone())
}

func (s *Store) persist(ctx context.Context) error {
	data, err := Encode(s.classes)
	if err == nil {
		err = s.kv.Set(ctx, s.key, data)
	}
	if err != nil {
		s.saveErr = errors.Wrap(err, "saving planner state")
		s.logger.Error("could not persist planner state", s.saveErr)
		return s.saveErr
	}
	s.saveErr = nil
	return nil
}
