package student

import (
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
)

// Attendance statuses, as stored in history entries.
const (
	StatusPresent               Status = "Present"
	StatusLate                  Status = "Late"
	StatusAbsent                Status = "Absent"
	StatusPresentFromOtherGroup Status = "Present From Other Group"
)

// Homework statuses.
const (
	HomeworkDone         Homework = "done"
	HomeworkNotDone      Homework = "not_done"
	HomeworkNotSpecified Homework = "not_specified"
)

type (
	Status   string
	Homework string
)

// IsPresentLike reports whether the student attended, on time or not.
func (s Status) IsPresentLike() bool {
	switch s {
	case StatusPresent, StatusLate, StatusPresentFromOtherGroup:
		return true
	}
	return false
}

func (h Homework) OrDefault() Homework {
	if h == "" {
		return HomeworkNotSpecified
	}
	return h
}

// GroupKey is the natural key of a Group.
type GroupKey struct {
	Center    string `json:"center" query:"center" validate:"required,notblank"`
	Grade     string `json:"grade" query:"grade" validate:"required,notblank"`
	GradeType string `json:"grade_type" query:"grade_type"`
	GroupTime string `json:"group_time" query:"group_time" validate:"required,notblank"`
}

func (k GroupKey) Clean() GroupKey {
	return GroupKey{
		Center:    core.CleanString(k.Center),
		Grade:     core.CleanString(k.Grade),
		GradeType: core.CleanString(k.GradeType),
		GroupTime: core.CleanString(k.GroupTime),
	}
}

func (k GroupKey) IsZero() bool { return k == GroupKey{} }

func (k GroupKey) String() string {
	grade := k.Grade
	if k.GradeType != "" {
		grade += " " + k.GradeType
	}
	return strings.Join([]string{k.Center, grade, k.GroupTime}, " / ")
}

// Group is a cohort of students sharing a center, grade and time slot.
type Group struct {
	ID        string              `json:"id"`
	Key       GroupKey            `json:"key"`
	Students  map[string]struct{} `json:"-"`
	CreatedAt time.Time           `json:"created_at"` // UTC
}

func (g *Group) Has(studentID string) bool {
	_, ok := g.Students[studentID]
	return ok
}

func (g *Group) Add(studentID string) {
	if g.Students == nil {
		g.Students = make(map[string]struct{})
	}
	g.Students[studentID] = struct{}{}
}

func (g *Group) Remove(studentID string) {
	delete(g.Students, studentID)
}

// Roster returns the member ids, sorted.
func (g *Group) Roster() []string {
	ids := make([]string, 0, len(g.Students))
	for id := range g.Students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type PaymentSnapshot struct {
	Balance         decimal.Decimal `json:"balance"`
	AmountRemaining decimal.Decimal `json:"amount_remaining"`
}

// HistoryEntry is the per-day attendance projection kept on a Student. At most one per date.
type HistoryEntry struct {
	Date                 core.Date       `json:"date"`
	RecordID             string          `json:"attendance"`
	Status               Status          `json:"status"`
	Homework             Homework        `json:"homework"`
	Group                GroupKey        `json:"group"`
	Payment              PaymentSnapshot `json:"payment"`
	AbsencePolicyIgnored bool            `json:"absence_policy_ignored"`
	FromOtherGroup       bool            `json:"from_other_group"`
	RecordedAt           time.Time       `json:"recorded_at"` // UTC
}

type Student struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	CardID          null.String     `json:"card_id"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	ParentPhone     string          `json:"parent_phone"`
	ParentEmail     null.String     `json:"parent_email"`
	Absences        int             `json:"absences"`
	Balance         decimal.Decimal `json:"balance"`
	AmountRemaining decimal.Decimal `json:"amount_remaining"`
	Group           GroupKey        `json:"group"`
	History         []HistoryEntry  `json:"attendance_history"` // ordered by date
	CreatedAt       time.Time       `json:"created_at"`         // UTC
	UpdatedAt       time.Time       `json:"updated_at"`         // UTC
}

// HistoryFor returns the entry recorded for date, if any.
func (s *Student) HistoryFor(date core.Date) (HistoryEntry, bool) {
	for _, e := range s.History {
		if e.Date == date {
			return e, true
		}
	}
	return HistoryEntry{}, false
}

func (s *Student) Payment() PaymentSnapshot {
	return PaymentSnapshot{Balance: s.Balance, AmountRemaining: s.AmountRemaining}
}

// UpsertHistory replaces the entry for e.Date or inserts e, keeping entries ordered by date.
func (s *Student) UpsertHistory(e HistoryEntry) {
	for i := range s.History {
		if s.History[i].Date == e.Date {
			s.History[i] = e
			return
		}
	}
	s.History = append(s.History, e)
	sort.SliceStable(s.History, func(i, j int) bool { return s.History[i].Date < s.History[j].Date })
}

// RemoveHistory deletes the entries referencing recordID and returns how many were removed.
func (s *Student) RemoveHistory(recordID string) int {
	kept := s.History[:0]
	for _, e := range s.History {
		if e.RecordID != recordID {
			kept = append(kept, e)
		}
	}
	removed := len(s.History) - len(kept)
	s.History = kept
	return removed
}

// NewStudent contains information needed to register a new Student.
type NewStudent struct {
	Code            string          `json:"code" validate:"required,numeric,max=20"`
	CardID          string          `json:"card_id" validate:"omitempty,max=50"`
	Name            string          `json:"name" validate:"required,notblank,max=200"`
	Phone           string          `json:"phone" validate:"omitempty,phone"`
	ParentPhone     string          `json:"parent_phone" validate:"required,phone"`
	ParentEmail     string          `json:"parent_email" validate:"omitempty,email"`
	Balance         decimal.Decimal `json:"balance"`
	AmountRemaining decimal.Decimal `json:"amount_remaining"`
	Group           GroupKey        `json:"group"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Code = core.CleanString(ns.Code)
	ns.CardID = core.CleanString(ns.CardID)
	ns.Name = core.CleanString(ns.Name)
	ns.Phone = core.CleanString(ns.Phone)
	ns.ParentPhone = core.CleanString(ns.ParentPhone)
	ns.ParentEmail = core.CleanString(ns.ParentEmail, true /* lower */)
	ns.Group = ns.Group.Clean()
	return validate.Struct(ns)
}

// GetFilter selects one Student. ID wins when set, then a CardID match, then a Code match.
type GetFilter struct {
	ID     string
	CardID string
	Code   string
}

// ByIdentifier builds a filter matching either a card id or a numeric code.
func ByIdentifier(identifier string) GetFilter {
	identifier = core.CleanString(identifier)
	if isNumeric(identifier) {
		return GetFilter{Code: identifier, CardID: identifier}
	}
	return GetFilter{CardID: identifier}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// QueryFilter is built per request and applies AND on the set fields.
// Search does a case-insensitive match on Name or an exact match on Code.
type QueryFilter struct {
	Search      string `query:"search"`
	Center      string `query:"center"`
	Grade       string `query:"grade"`
	GradeType   string `query:"grade_type"`
	GroupTime   string `query:"group_time"`
	MinAbsences *int   `query:"min_absences"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Center == "" && qf.Grade == "" && qf.GradeType == "" &&
		qf.GroupTime == "" && qf.MinAbsences == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Center = core.CleanString(qf.Center)
	qf.Grade = core.CleanString(qf.Grade)
	qf.GradeType = core.CleanString(qf.GradeType)
	qf.GroupTime = core.CleanString(qf.GroupTime)
}

// Match reports whether s satisfies the filter. Used by in-memory stores.
func (qf *QueryFilter) Match(s Student) bool {
	if qf == nil {
		return true
	}
	if qf.Search != "" && s.Code != qf.Search &&
		!strings.Contains(strings.ToLower(s.Name), strings.ToLower(qf.Search)) {
		return false
	}
	if qf.Center != "" && s.Group.Center != qf.Center {
		return false
	}
	if qf.Grade != "" && s.Group.Grade != qf.Grade {
		return false
	}
	if qf.GradeType != "" && s.Group.GradeType != qf.GradeType {
		return false
	}
	if qf.GroupTime != "" && s.Group.GroupTime != qf.GroupTime {
		return false
	}
	if qf.MinAbsences != nil && s.Absences < *qf.MinAbsences {
		return false
	}
	return true
}

// AssignGroup is the payload of a group change.
type AssignGroup struct {
	Group GroupKey `json:"group"`
}

func (ag *AssignGroup) Validate(validate *validator.Validate) error {
	ag.Group = ag.Group.Clean()
	return validate.Struct(ag)
}

type UpdateAmountRemaining struct {
	AmountRemaining decimal.Decimal `json:"amount_remaining"`
}

func (uar *UpdateAmountRemaining) Validate() error {
	if uar.AmountRemaining.IsNegative() {
		return core.NewValidationError(nil, core.FieldError{Field: "amount_remaining", Error: "must not be negative"})
	}
	return nil
}
