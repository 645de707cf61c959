package attendance

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/student"
)

// Projector keeps each student's attendance history and absences counter in line with the ledger.
// Its writes are best-effort: callers log the errors it returns and carry on.
type Projector struct {
	repo student.Repository
}

func NewProjector(repo student.Repository) *Projector {
	return &Projector{repo: repo}
}

// absencesDelta is the counter change a new status brings: an absence adds one,
// any attendance forgives one (the store never goes below zero).
func absencesDelta(status student.Status) int {
	switch {
	case status == student.StatusAbsent:
		return 1
	case status.IsPresentLike():
		return -1
	}
	return 0
}

// RecordAttendance upserts the entry for e.Date and returns the resulting absences count.
func (p *Projector) RecordAttendance(ctx context.Context, studentID string, e student.HistoryEntry) (int, error) {
	e.Homework = e.Homework.OrDefault()
	absences, err := p.repo.SaveHistoryEntry(ctx, studentID, e, absencesDelta(e.Status))
	if err != nil {
		return 0, errors.Wrapf(err, "recording %s history of student %s", e.Date, studentID)
	}
	return absences, nil
}

// RemoveAttendance deletes the entries of recordID. The absences counter is left as is:
// forgiveness granted by a removed mark is not taken back.
func (p *Projector) RemoveAttendance(ctx context.Context, studentID, recordID string) error {
	if _, err := p.repo.DeleteHistoryEntries(ctx, studentID, recordID); err != nil {
		return errors.Wrapf(err, "removing history of student %s", studentID)
	}
	return nil
}
