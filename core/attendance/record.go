package attendance

import (
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/student"
)

var (
	// errors
	ErrAlreadyMarked        = core.NewPolicyError("student is already marked for this session")
	ErrNotMarked            = core.NewPolicyError("student is not marked present or late for this session")
	ErrNotFinalized         = core.NewPolicyError("late marks are only possible once the session is finalized")
	ErrAlreadyFinalized     = core.NewPolicyError("attendance is already finalized for this session")
	ErrStudentNotInGroup    = core.NewPolicyError("student is not a member of this group")
	ErrAbsenceLimitExceeded = core.NewPolicyError("student has reached the absence limit")
	ErrNoRecord             = core.NewNotFoundError("no attendance record for this session")
	ErrVersionConflict      = core.NewConflictError("attendance record was modified concurrently, please retry")
)

// NewRecord returns an open, empty record.
func NewRecord(groupID string, date core.Date) Record {
	return Record{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		Date:      date,
		Present:   make(Set),
		Late:      make(Set),
		Absent:    make(Set),
		Excused:   make(Set),
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() Record {
	c := *r
	c.Present = r.Present.Clone()
	c.Late = r.Late.Clone()
	c.Absent = r.Absent.Clone()
	c.Excused = r.Excused.Clone()
	return c
}

func (r *Record) State() State {
	if r.IsFinalized {
		return StateFinalized
	}
	return StateOpen
}

// StatusOf returns the status matching the set studentID is in.
func (r *Record) StatusOf(studentID string) (student.Status, bool) {
	switch {
	case r.Present.Has(studentID):
		return student.StatusPresent, true
	case r.Late.Has(studentID):
		return student.StatusLate, true
	case r.Absent.Has(studentID):
		return student.StatusAbsent, true
	case r.Excused.Has(studentID):
		return student.StatusPresentFromOtherGroup, true
	}
	return "", false
}

func (r *Record) attended(studentID string) bool {
	return r.Present.Has(studentID) || r.Late.Has(studentID) || r.Excused.Has(studentID)
}

func (r *Record) init() {
	if r.Present == nil {
		r.Present = make(Set)
	}
	if r.Late == nil {
		r.Late = make(Set)
	}
	if r.Absent == nil {
		r.Absent = make(Set)
	}
	if r.Excused == nil {
		r.Excused = make(Set)
	}
}

// MarkPresent records an on-time attendance, into Excused when fromOtherGroup.
func (r *Record) MarkPresent(studentID string, fromOtherGroup bool) error {
	r.init()
	if r.attended(studentID) {
		return ErrAlreadyMarked
	}
	delete(r.Absent, studentID)
	if fromOtherGroup {
		r.Excused[studentID] = struct{}{}
	} else {
		r.Present[studentID] = struct{}{}
	}
	return nil
}

// MarkLate records an arrival after the session was finalized.
func (r *Record) MarkLate(studentID string) error {
	r.init()
	if !r.IsFinalized {
		return ErrNotFinalized
	}
	if r.attended(studentID) {
		return ErrAlreadyMarked
	}
	delete(r.Absent, studentID)
	r.Late[studentID] = struct{}{}
	return nil
}

// RemoveMark undoes a present or late mark. Absent and excused are reconciliation-only.
func (r *Record) RemoveMark(studentID string) error {
	r.init()
	switch {
	case r.Present.Has(studentID):
		delete(r.Present, studentID)
	case r.Late.Has(studentID):
		delete(r.Late, studentID)
	default:
		return ErrNotMarked
	}
	return nil
}

// Finalize closes the session: every roster member not present, late or excused becomes absent.
// It returns the newly absent ids, sorted.
func (r *Record) Finalize(roster []string, at time.Time) ([]string, error) {
	r.init()
	if r.IsFinalized {
		return nil, ErrAlreadyFinalized
	}

	absent := make([]string, 0, len(roster))
	for _, id := range roster {
		if r.attended(id) || r.Absent.Has(id) {
			continue
		}
		r.Absent[id] = struct{}{}
		absent = append(absent, id)
	}
	r.IsFinalized = true
	r.FinalizedAt = null.TimeFrom(at.UTC())
	return SetOf(absent...).Sorted(), nil
}

// Snapshot renders the record for group key.
func (r *Record) Snapshot(key student.GroupKey) Snapshot {
	r.init()
	return Snapshot{
		ID:          r.ID,
		Group:       key,
		Date:        r.Date,
		State:       r.State(),
		Present:     r.Present.Sorted(),
		Late:        r.Late.Sorted(),
		Absent:      r.Absent.Sorted(),
		Excused:     r.Excused.Sorted(),
		IsFinalized: r.IsFinalized,
		FinalizedAt: r.FinalizedAt,
		Version:     r.Version,
	}
}

// EmptySnapshot describes a session nothing was recorded for yet.
func EmptySnapshot(key student.GroupKey, date core.Date) Snapshot {
	return Snapshot{
		Group:   key,
		Date:    date,
		State:   StateNotStarted,
		Present: []string{},
		Late:    []string{},
		Absent:  []string{},
		Excused: []string{},
	}
}
