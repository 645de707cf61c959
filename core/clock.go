package core

import (
	"time"

	"github.com/pkg/errors"
)

const dateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// Date is a calendar day in the center's time zone, formatted YYYY-MM-DD.
type Date string

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, CleanString(s))
	if err != nil {
		return "", ErrInvalidDate
	}
	return Date(t.Format(dateLayout)), nil
}

// DateOf returns the calendar day `t` falls on in `loc`.
func DateOf(t time.Time, loc *time.Location) Date {
	return Date(t.In(loc).Format(dateLayout))
}

func (d Date) String() string { return string(d) }

func (d Date) IsZero() bool { return d == "" }

// Clock tells "today" unambiguously: always in one fixed time zone,
// whatever the server's or the caller's local time.
type Clock interface {
	Now() time.Time
	Today() Date
	Location() *time.Location
}

type zoneClock struct {
	loc *time.Location
	now func() time.Time
}

func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &zoneClock{loc: loc, now: time.Now}
}

func (c *zoneClock) Now() time.Time           { return c.now().In(c.loc) }
func (c *zoneClock) Today() Date              { return DateOf(c.now(), c.loc) }
func (c *zoneClock) Location() *time.Location { return c.loc }

// FixedClock always returns the same instant. Used by tests and backfills.
type FixedClock struct {
	At  time.Time
	Loc *time.Location
}

func (c FixedClock) Now() time.Time { return c.At.In(c.Location()) }
func (c FixedClock) Today() Date    { return DateOf(c.At, c.Location()) }

func (c FixedClock) Location() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}
