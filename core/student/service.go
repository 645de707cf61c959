package student

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/phone"
)

var (
	// errors
	ErrNotFound      = core.NewNotFoundError("student not found")
	ErrGroupNotFound = core.NewNotFoundError("group not found")
	ErrCodeExists    = errors.New("a student with this code already exists")
	ErrCardIDExists  = errors.New("a student with this card id already exists")
)

type (
	Repository interface {
		// CreateStudent fails with ErrCodeExists or ErrCardIDExists on duplicates.
		CreateStudent(ctx context.Context, s Student) (Student, error)
		// GetStudent loads the student and its history, or fails with ErrNotFound.
		GetStudent(ctx context.Context, filter GetFilter) (Student, error)
		QueryStudents(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Student, error)
		UpdateStudentGroup(ctx context.Context, id string, key GroupKey) error
		UpdateAmountRemaining(ctx context.Context, id string, amount decimal.Decimal) error

		// SaveHistoryEntry upserts the entry for e.Date and shifts Absences by absencesDelta
		// (never below 0) in one write. It returns the resulting absences count.
		SaveHistoryEntry(ctx context.Context, studentID string, e HistoryEntry, absencesDelta int) (int, error)
		// DeleteHistoryEntries deletes the entries referencing recordID and returns how many went.
		DeleteHistoryEntries(ctx context.Context, studentID, recordID string) (int, error)

		// GetGroup fails with ErrGroupNotFound.
		GetGroup(ctx context.Context, key GroupKey) (Group, error)
		GetGroupByID(ctx context.Context, id string) (Group, error)
		GetOrCreateGroup(ctx context.Context, key GroupKey) (Group, error)
		// AddToGroup adds the student to the roster of key, creating the group if needed.
		AddToGroup(ctx context.Context, key GroupKey, studentID string) (Group, error)
		RemoveFromGroup(ctx context.Context, key GroupKey, studentID string) error
	}

	Service struct {
		repo   Repository
		conf   *core.Config
		logger core.Logger
	}
)

func NewService(repo Repository, conf *core.Config, logger core.Logger) *Service {
	return &Service{repo: repo, conf: conf, logger: logger}
}

func (svc *Service) checkUniqueness(err error) error {
	var field string
	switch errors.Cause(err) {
	case ErrCodeExists:
		field = "code"
	case ErrCardIDExists:
		field = "card_id"
	default:
		return err
	}
	return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
}

// Register creates the student and adds them to their group's roster, creating the group lazily.
// NewStudent must have been validated.
func (svc *Service) Register(ctx context.Context, ns NewStudent) (Student, error) {
	parentPhone, err := phone.Normalize(ns.ParentPhone, svc.conf.Notification.CountryCode)
	if err != nil {
		return Student{}, core.NewValidationError(err, core.FieldError{Field: "parent_phone", Error: err.Error()})
	}
	var studentPhone string
	if ns.Phone != "" {
		if studentPhone, err = phone.Normalize(ns.Phone, svc.conf.Notification.CountryCode); err != nil {
			return Student{}, core.NewValidationError(err, core.FieldError{Field: "phone", Error: err.Error()})
		}
	}

	now := time.Now().UTC()
	s := Student{
		ID:              uuid.New().String(),
		Code:            ns.Code,
		CardID:          null.NewString(ns.CardID, ns.CardID != ""),
		Name:            ns.Name,
		Phone:           studentPhone,
		ParentPhone:     parentPhone,
		ParentEmail:     null.NewString(ns.ParentEmail, ns.ParentEmail != ""),
		Balance:         ns.Balance,
		AmountRemaining: ns.AmountRemaining,
		Group:           ns.Group.Clean(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s, err = svc.repo.CreateStudent(ctx, s)
	if err != nil {
		return Student{}, svc.checkUniqueness(errors.Wrap(err, "creating student"))
	}
	if _, err = svc.repo.AddToGroup(ctx, s.Group, s.ID); err != nil {
		return Student{}, errors.Wrap(err, "adding student to group")
	}
	return s, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudent(ctx, GetFilter{ID: id})
}

// Find resolves a student by card id or numeric code.
func (svc *Service) Find(ctx context.Context, identifier string) (Student, error) {
	if core.CleanString(identifier) == "" {
		return Student{}, ErrNotFound
	}
	return svc.repo.GetStudent(ctx, ByIdentifier(identifier))
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, filter, ordering...)
}

// Assign moves the student to the group of key. Membership is a single current assignment.
func (svc *Service) Assign(ctx context.Context, id string, key GroupKey) (Student, error) {
	s, err := svc.Get(ctx, id)
	if err != nil {
		return Student{}, errors.Wrap(err, "getting student")
	}
	key = key.Clean()
	if s.Group == key {
		return s, nil
	}

	// a student left on the previous roster would be marked absent by its sessions
	if err = svc.repo.RemoveFromGroup(ctx, s.Group, s.ID); err != nil && errors.Cause(err) != ErrGroupNotFound {
		return Student{}, errors.Wrap(err, "removing student from previous group")
	}
	if _, err = svc.repo.AddToGroup(ctx, key, s.ID); err != nil {
		if !s.Group.IsZero() {
			if _, rbErr := svc.repo.AddToGroup(ctx, s.Group, s.ID); rbErr != nil {
				svc.logger.Error("restoring student to previous group", rbErr, map[string]interface{}{"student": s.ID})
			}
		}
		return Student{}, errors.Wrap(err, "adding student to group")
	}
	// roster moves are idempotent, so Assign can be retried
	if err = svc.repo.UpdateStudentGroup(ctx, s.ID, key); err != nil {
		return Student{}, errors.Wrap(err, "updating student group")
	}

	s.Group = key
	return s, nil
}

func (svc *Service) GetGroup(ctx context.Context, key GroupKey) (Group, error) {
	return svc.repo.GetGroup(ctx, key.Clean())
}
