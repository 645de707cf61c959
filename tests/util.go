package testutil

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/student"
	logsvc "github.com/trezcool/darasa/services/logger"
)

// Cairo is the default center time zone.
var Cairo = mustLoadLocation("Africa/Cairo")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// NewConfig returns the settings tests run with: in-memory storage, console channels.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.Debug = true
	conf.TestMode = true
	conf.Database.Engine = "inmem"
	conf.ReportEmail = "center@example.com"
	conf.Notification.Channel = "console"
	conf.Notification.CountryCode = "20"
	conf.Notification.DedupWindow = 10 * time.Minute
	conf.Notification.DedupRatio = 0.9
	conf.Attendance.Timezone = "Africa/Cairo"
	conf.Attendance.AbsenceLimit = 3
	conf.Nats.URL = ""
	return conf
}

// NewLogger returns a logger that reports nothing.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

func NewValidator() *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	return validate
}

// ClockAt returns a clock frozen at the given Cairo wall time.
func ClockAt(year int, month time.Month, day, hour, min int) core.FixedClock {
	return core.FixedClock{At: time.Date(year, month, day, hour, min, 0, 0, Cairo), Loc: Cairo}
}

// CreateStudent registers a student in group key, with absences already counted.
func CreateStudent(
	t *testing.T,
	repo student.Repository,
	code, name, parentPhone string,
	key student.GroupKey,
	absences int,
	cardID ...string,
) student.Student {
	ctx := context.Background()
	now := time.Now().UTC()
	s := student.Student{
		Code:            code,
		Name:            name,
		ParentPhone:     parentPhone,
		Absences:        absences,
		Balance:         decimal.NewFromInt(300),
		AmountRemaining: decimal.NewFromInt(100),
		Group:           key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(cardID) > 0 {
		s.CardID.SetValid(cardID[0])
	}
	s, err := repo.CreateStudent(ctx, s)
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	if _, err = repo.AddToGroup(ctx, key, s.ID); err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return s
}
