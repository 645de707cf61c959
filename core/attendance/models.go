package attendance

import (
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/student"
)

// Session states, per (group, date).
const (
	StateNotStarted State = "not_started"
	StateOpen       State = "open"
	StateFinalized  State = "finalized"
)

type State string

// Set is a set of student ids.
type Set map[string]struct{}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func SetOf(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Clone() Set {
	c := make(Set, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Record is the attendance ledger of one group on one day.
// A student id is in at most one of Present, Late, Absent and Excused.
type Record struct {
	ID          string
	GroupID     string
	Date        core.Date
	Present     Set
	Late        Set
	Absent      Set
	Excused     Set // attended from another group
	IsFinalized bool
	FinalizedAt null.Time
	Version     int
	CreatedAt   time.Time // UTC
}

// Snapshot is the read model of a Record returned to callers.
type Snapshot struct {
	ID          string           `json:"id,omitempty"`
	Group       student.GroupKey `json:"group"`
	Date        core.Date        `json:"date"`
	State       State            `json:"state"`
	Present     []string         `json:"present"`
	Late        []string         `json:"late"`
	Absent      []string         `json:"absent"`
	Excused     []string         `json:"excused"`
	IsFinalized bool             `json:"is_finalized"`
	FinalizedAt null.Time        `json:"finalized_at"`
	Version     int              `json:"version"`
}

// Session identifies a (group, date) pair. An empty Date means today in the center's time zone.
type Session struct {
	Group student.GroupKey `json:"group"`
	Date  string           `json:"date" query:"date" validate:"omitempty,date"`
}

func (s *Session) Validate(validate *validator.Validate) error {
	s.Group = s.Group.Clean()
	s.Date = core.CleanString(s.Date)
	return validate.Struct(s)
}

type MarkRequest struct {
	Session
	Student             string           `json:"student" validate:"required,notblank"` // card id or code
	FromOtherGroup      bool             `json:"from_other_group"`
	IgnoreAbsencePolicy bool             `json:"ignore_absence_policy"`
	Homework            student.Homework `json:"homework" validate:"omitempty,oneof=done not_done not_specified"`
}

func (mr *MarkRequest) Validate(validate *validator.Validate) error {
	mr.Group = mr.Group.Clean()
	mr.Date = core.CleanString(mr.Date)
	mr.Student = core.CleanString(mr.Student)
	mr.Homework = mr.Homework.OrDefault()
	return validate.Struct(mr)
}

type RemoveRequest struct {
	Session
	StudentID string `json:"student_id" validate:"required,notblank"`
}

func (rr *RemoveRequest) Validate(validate *validator.Validate) error {
	rr.Group = rr.Group.Clean()
	rr.Date = core.CleanString(rr.Date)
	rr.StudentID = core.CleanString(rr.StudentID)
	return validate.Struct(rr)
}

type FinalizeRequest struct {
	Session
}

// Result is returned by mutating operations once the ledger write succeeded.
// Secondary holds the best-effort failures (history projection), already logged.
type Result struct {
	Record      Snapshot       `json:"record"`
	StudentID   string         `json:"student_id,omitempty"`
	Status      student.Status `json:"status,omitempty"`
	Absences    *int           `json:"absences,omitempty"`
	NewlyAbsent []string       `json:"newly_absent,omitempty"`
	Secondary   []error        `json:"-"`
}

// Warnings exposes the secondary failures as strings.
func (res Result) Warnings() []string {
	if len(res.Secondary) == 0 {
		return nil
	}
	warnings := make([]string, 0, len(res.Secondary))
	for _, err := range res.Secondary {
		warnings = append(warnings, err.Error())
	}
	return warnings
}

// ReportLine is one student of a populated report set.
type ReportLine struct {
	ID              string           `json:"id"`
	Code            string           `json:"code"`
	Name            string           `json:"name"`
	Phone           string           `json:"phone"`
	ParentPhone     string           `json:"parent_phone"`
	Absences        int              `json:"absences"`
	Homework        student.Homework `json:"homework"`
	AmountRemaining decimal.Decimal  `json:"amount_remaining"`
}

// Report holds the four sets of a record populated with student display fields.
type Report struct {
	Record  Snapshot     `json:"record"`
	Present []ReportLine `json:"present"`
	Late    []ReportLine `json:"late"`
	Absent  []ReportLine `json:"absent"`
	Excused []ReportLine `json:"excused"`
}

// QueryFilter is built per request and applies AND on the set fields.
type QueryFilter struct {
	Center      string `query:"center"`
	Grade       string `query:"grade"`
	GradeType   string `query:"grade_type"`
	GroupTime   string `query:"group_time"`
	From        string `query:"from" validate:"omitempty,date"`
	To          string `query:"to" validate:"omitempty,date"`
	IsFinalized *bool  `query:"is_finalized"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Center == "" && qf.Grade == "" && qf.GradeType == "" && qf.GroupTime == "" &&
		qf.From == "" && qf.To == "" && qf.IsFinalized == nil
}

func (qf *QueryFilter) Clean() {
	qf.Center = core.CleanString(qf.Center)
	qf.Grade = core.CleanString(qf.Grade)
	qf.GradeType = core.CleanString(qf.GradeType)
	qf.GroupTime = core.CleanString(qf.GroupTime)
	qf.From = core.CleanString(qf.From)
	qf.To = core.CleanString(qf.To)
}

func (qf *QueryFilter) Validate(validate *validator.Validate) error {
	qf.Clean()
	return validate.Struct(qf)
}

// Match reports whether a record of group key on date satisfies the filter. Used by in-memory stores.
func (qf *QueryFilter) Match(key student.GroupKey, r Record) bool {
	if qf == nil {
		return true
	}
	if (qf.Center != "" && key.Center != qf.Center) ||
		(qf.Grade != "" && key.Grade != qf.Grade) ||
		(qf.GradeType != "" && key.GradeType != qf.GradeType) ||
		(qf.GroupTime != "" && key.GroupTime != qf.GroupTime) {
		return false
	}
	if (qf.From != "" && string(r.Date) < qf.From) || (qf.To != "" && string(r.Date) > qf.To) {
		return false
	}
	return qf.IsFinalized == nil || *qf.IsFinalized == r.IsFinalized
}

// Event is published on every ledger change.
type Event struct {
	RecordID   string           `json:"record_id"`
	Group      student.GroupKey `json:"group"`
	Date       core.Date        `json:"date"`
	StudentIDs []string         `json:"student_ids"`
	Status     student.Status   `json:"status,omitempty"`
	At         time.Time        `json:"at"`
}
