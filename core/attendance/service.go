package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/student"
)

type (
	RecordRepository interface {
		// GetRecord fails with ErrNoRecord.
		GetRecord(ctx context.Context, groupID string, date core.Date) (Record, error)
		GetOrCreateRecord(ctx context.Context, groupID string, date core.Date) (Record, error)
		// SaveRecord writes r if the stored version still equals r.Version and returns it with
		// the bumped version. It fails with ErrVersionConflict otherwise.
		SaveRecord(ctx context.Context, r Record) (Record, error)
		QueryRecords(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Record, error)
	}

	ServiceDeps struct {
		Conf     *core.Config
		Logger   core.Logger
		Clock    core.Clock
		Records  RecordRepository
		Students student.Repository
		Notifier core.Notifier
		MailSvc  core.EmailService
		Events   core.EventPublisher
	}

	Service struct {
		conf     *core.Config
		logger   core.Logger
		clock    core.Clock
		records  RecordRepository
		students student.Repository
		history  *Projector
		notifier core.Notifier
		mailSvc  core.EmailService
		events   core.EventPublisher
		locks    *keyedMutex

		// dispatch runs the side effects of a committed change
		dispatch func(func())
		wg       sync.WaitGroup
	}
)

const sideEffectsTimeout = 30 * time.Second

func NewService(deps ServiceDeps) *Service {
	svc := newService(deps)
	svc.dispatch = func(fn func()) {
		svc.wg.Add(1)
		go func() {
			defer svc.wg.Done()
			fn()
		}()
	}
	return svc
}

func newService(deps ServiceDeps) *Service {
	if deps.Clock == nil {
		deps.Clock = core.NewClock(deps.Conf.Location())
	}
	if deps.Events == nil {
		deps.Events = core.NewNopPublisher()
	}
	return &Service{
		conf:     deps.Conf,
		logger:   deps.Logger,
		clock:    deps.Clock,
		records:  deps.Records,
		students: deps.Students,
		history:  NewProjector(deps.Students),
		notifier: deps.Notifier,
		mailSvc:  deps.MailSvc,
		events:   deps.Events,
		locks:    newKeyedMutex(),
	}
}

// Wait blocks until the pending notifications are done.
func (svc *Service) Wait() {
	svc.wg.Wait()
}

func (svc *Service) resolveDate(date string) (core.Date, error) {
	if date == "" {
		return svc.clock.Today(), nil
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return "", core.NewValidationError(err, core.FieldError{Field: "date", Error: err.Error()})
	}
	return d, nil
}

// secondary logs a best-effort failure and keeps it on res.
func (svc *Service) secondary(res *Result, msg string, err error, extra map[string]interface{}) {
	svc.logger.Error(msg, err, extra)
	res.Secondary = append(res.Secondary, err)
}

// MarkAttendance records a student's attendance: present (or excused when from another group)
// while the session is open, late once it is finalized.
func (svc *Service) MarkAttendance(ctx context.Context, req MarkRequest) (Result, error) {
	date, err := svc.resolveDate(req.Date)
	if err != nil {
		return Result{}, err
	}
	key := req.Group.Clean()

	stdnt, err := svc.students.GetStudent(ctx, student.ByIdentifier(req.Student))
	if err != nil {
		return Result{}, errors.Wrap(err, "finding student")
	}

	var group student.Group
	if req.FromOtherGroup {
		if group, err = svc.students.GetGroup(ctx, key); err != nil {
			return Result{}, errors.Wrap(err, "finding group")
		}
	} else {
		if stdnt.Group != key {
			return Result{}, ErrStudentNotInGroup
		}
		if group, err = svc.students.GetOrCreateGroup(ctx, key); err != nil {
			return Result{}, errors.Wrap(err, "getting group")
		}
		if !group.Has(stdnt.ID) {
			if group, err = svc.students.AddToGroup(ctx, key, stdnt.ID); err != nil {
				return Result{}, errors.Wrap(err, "adding student to group")
			}
		}
	}

	if stdnt.Absences >= svc.conf.Attendance.AbsenceLimit && !req.IgnoreAbsencePolicy {
		return Result{}, ErrAbsenceLimitExceeded
	}

	unlock := svc.locks.Lock(sessionKey(group.ID, date))
	rec, err := svc.records.GetOrCreateRecord(ctx, group.ID, date)
	if err != nil {
		unlock()
		return Result{}, errors.Wrap(err, "getting attendance record")
	}

	var status student.Status
	if rec.IsFinalized {
		status = student.StatusLate
		err = rec.MarkLate(stdnt.ID)
	} else {
		status = student.StatusPresent
		if req.FromOtherGroup {
			status = student.StatusPresentFromOtherGroup
		}
		err = rec.MarkPresent(stdnt.ID, req.FromOtherGroup)
	}
	if err != nil {
		unlock()
		return Result{}, err
	}
	if rec, err = svc.records.SaveRecord(ctx, rec); err != nil {
		unlock()
		return Result{}, errors.Wrap(err, "saving attendance record")
	}

	res := Result{Record: rec.Snapshot(key), StudentID: stdnt.ID, Status: status}
	entry := student.HistoryEntry{
		Date:                 date,
		RecordID:             rec.ID,
		Status:               status,
		Homework:             req.Homework.OrDefault(),
		Group:                key,
		Payment:              stdnt.Payment(),
		AbsencePolicyIgnored: req.IgnoreAbsencePolicy && stdnt.Absences >= svc.conf.Attendance.AbsenceLimit,
		FromOtherGroup:       req.FromOtherGroup,
		RecordedAt:           svc.clock.Now().UTC(),
	}
	absences, err := svc.history.RecordAttendance(ctx, stdnt.ID, entry)
	if err != nil {
		svc.secondary(&res, "projecting attendance history", err, map[string]interface{}{"student": stdnt.ID, "date": date})
		absences = stdnt.Absences
	} else {
		res.Absences = &absences
	}
	unlock()

	tmplKey := TemplateKeyFor(status)
	stdnt.Absences = absences
	svc.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectsTimeout)
		defer cancel()
		svc.notifyParent(ctx, stdnt, tmplKey, svc.payload(stdnt, key, date, entry.Homework))
		svc.publish(ctx, core.EventAttendanceMarked, Event{
			RecordID: rec.ID, Group: key, Date: date, StudentIDs: []string{stdnt.ID}, Status: status, At: entry.RecordedAt,
		})
	})
	return res, nil
}

// RemoveAttendance undoes a present or late mark.
func (svc *Service) RemoveAttendance(ctx context.Context, req RemoveRequest) (Result, error) {
	date, err := svc.resolveDate(req.Date)
	if err != nil {
		return Result{}, err
	}
	key := req.Group.Clean()

	group, err := svc.students.GetGroup(ctx, key)
	if err != nil {
		return Result{}, errors.Wrap(err, "finding group")
	}

	res, status, err := svc.removeMark(ctx, group.ID, key, date, req.StudentID)
	if err != nil {
		return Result{}, err
	}
	recordID := res.Record.ID

	svc.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectsTimeout)
		defer cancel()
		svc.publish(ctx, core.EventAttendanceRemoved, Event{
			RecordID: recordID, Group: key, Date: date, StudentIDs: []string{req.StudentID}, Status: status, At: svc.clock.Now().UTC(),
		})
	})
	return res, nil
}

// removeMark runs the ledger write and its projection under the session lock.
func (svc *Service) removeMark(ctx context.Context, groupID string, key student.GroupKey, date core.Date, studentID string) (Result, student.Status, error) {
	unlock := svc.locks.Lock(sessionKey(groupID, date))
	defer unlock()

	rec, err := svc.records.GetRecord(ctx, groupID, date)
	if err != nil {
		return Result{}, "", errors.Wrap(err, "getting attendance record")
	}
	status, _ := rec.StatusOf(studentID)
	if err = rec.RemoveMark(studentID); err != nil {
		return Result{}, "", err
	}
	if rec, err = svc.records.SaveRecord(ctx, rec); err != nil {
		return Result{}, "", errors.Wrap(err, "saving attendance record")
	}

	res := Result{Record: rec.Snapshot(key), StudentID: studentID}
	if err = svc.history.RemoveAttendance(ctx, studentID, rec.ID); err != nil {
		svc.secondary(&res, "removing attendance history", err, map[string]interface{}{"student": studentID, "date": date})
	}
	return res, status, nil
}

// FinalizeAttendance closes the session. Roster members who did not attend become absent,
// get an Absent history entry and their parents are notified, each independently.
func (svc *Service) FinalizeAttendance(ctx context.Context, req FinalizeRequest) (Result, error) {
	date, err := svc.resolveDate(req.Date)
	if err != nil {
		return Result{}, err
	}
	key := req.Group.Clean()

	group, err := svc.students.GetGroup(ctx, key)
	if err != nil {
		return Result{}, errors.Wrap(err, "finding group")
	}

	unlock := svc.locks.Lock(sessionKey(group.ID, date))
	rec, err := svc.records.GetRecord(ctx, group.ID, date)
	if err != nil {
		unlock()
		return Result{}, errors.Wrap(err, "getting attendance record")
	}
	now := svc.clock.Now()
	absentIDs, err := rec.Finalize(group.Roster(), now)
	if err != nil {
		unlock()
		return Result{}, err
	}
	if rec, err = svc.records.SaveRecord(ctx, rec); err != nil {
		unlock()
		return Result{}, errors.Wrap(err, "saving attendance record")
	}

	res := Result{Record: rec.Snapshot(key), NewlyAbsent: absentIDs}
	absentees := make([]student.Student, 0, len(absentIDs))
	for _, id := range absentIDs {
		stdnt, err := svc.students.GetStudent(ctx, student.GetFilter{ID: id})
		if err != nil {
			svc.secondary(&res, "loading absent student", errors.Wrap(err, id), map[string]interface{}{"student": id, "date": date})
			continue
		}
		entry := student.HistoryEntry{
			Date:       date,
			RecordID:   rec.ID,
			Status:     student.StatusAbsent,
			Homework:   student.HomeworkNotSpecified,
			Group:      key,
			Payment:    stdnt.Payment(),
			RecordedAt: now.UTC(),
		}
		absences, err := svc.history.RecordAttendance(ctx, id, entry)
		if err != nil {
			svc.secondary(&res, "projecting absence history", err, map[string]interface{}{"student": id, "date": date})
		} else {
			stdnt.Absences = absences
		}
		absentees = append(absentees, stdnt)
	}
	unlock()

	snap := res.Record
	svc.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectsTimeout)
		defer cancel()
		for _, stdnt := range absentees {
			svc.notifyParent(ctx, stdnt, core.TemplateAttendanceAbsent, svc.payload(stdnt, key, date, ""))
		}
		svc.sendSummary(snap, absentees)
		svc.publish(ctx, core.EventAttendanceFinalized, Event{
			RecordID: snap.ID, Group: key, Date: date, StudentIDs: absentIDs, Status: student.StatusAbsent, At: now.UTC(),
		})
	})
	return res, nil
}

// UpdateRemainingBalance writes the student's amount remaining. Only the write itself can fail it.
func (svc *Service) UpdateRemainingBalance(ctx context.Context, studentID string, amount decimal.Decimal) error {
	if err := svc.students.UpdateAmountRemaining(ctx, studentID, amount); err != nil {
		return errors.Wrap(err, "updating amount remaining")
	}
	return nil
}

// GetRecord returns the session's snapshot, in the NotStarted state when nothing was recorded yet.
func (svc *Service) GetRecord(ctx context.Context, sess Session) (Snapshot, error) {
	date, err := svc.resolveDate(sess.Date)
	if err != nil {
		return Snapshot{}, err
	}
	key := sess.Group.Clean()

	group, err := svc.students.GetGroup(ctx, key)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "finding group")
	}
	rec, err := svc.records.GetRecord(ctx, group.ID, date)
	if err != nil {
		if errors.Cause(err) == ErrNoRecord {
			return EmptySnapshot(key, date), nil
		}
		return Snapshot{}, errors.Wrap(err, "getting attendance record")
	}
	return rec.Snapshot(key), nil
}

// Report returns the session's four sets populated with student display fields.
func (svc *Service) Report(ctx context.Context, sess Session) (Report, error) {
	date, err := svc.resolveDate(sess.Date)
	if err != nil {
		return Report{}, err
	}
	key := sess.Group.Clean()

	group, err := svc.students.GetGroup(ctx, key)
	if err != nil {
		return Report{}, errors.Wrap(err, "finding group")
	}
	rec, err := svc.records.GetRecord(ctx, group.ID, date)
	if err != nil {
		return Report{}, errors.Wrap(err, "getting attendance record")
	}

	snap := rec.Snapshot(key)
	report := Report{Record: snap}
	sets := []struct {
		ids  []string
		dest *[]ReportLine
	}{
		{snap.Present, &report.Present},
		{snap.Late, &report.Late},
		{snap.Absent, &report.Absent},
		{snap.Excused, &report.Excused},
	}
	for _, s := range sets {
		lines := make([]ReportLine, 0, len(s.ids))
		for _, id := range s.ids {
			stdnt, err := svc.students.GetStudent(ctx, student.GetFilter{ID: id})
			if err != nil {
				return Report{}, errors.Wrapf(err, "loading student %s", id)
			}
			line := ReportLine{
				ID:              stdnt.ID,
				Code:            stdnt.Code,
				Name:            stdnt.Name,
				Phone:           stdnt.Phone,
				ParentPhone:     stdnt.ParentPhone,
				Absences:        stdnt.Absences,
				Homework:        student.HomeworkNotSpecified,
				AmountRemaining: stdnt.AmountRemaining,
			}
			if e, ok := stdnt.HistoryFor(date); ok {
				line.Homework = e.Homework
			}
			lines = append(lines, line)
		}
		*s.dest = lines
	}
	return report, nil
}

// QueryRecords lists the snapshots matching filter, newest first unless ordered otherwise.
func (svc *Service) QueryRecords(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Snapshot, error) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "date", Ascending: false}}
	}
	recs, err := svc.records.QueryRecords(ctx, filter, ordering...)
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance records")
	}

	keys := make(map[string]student.GroupKey)
	snaps := make([]Snapshot, 0, len(recs))
	for i := range recs {
		key, ok := keys[recs[i].GroupID]
		if !ok {
			group, err := svc.students.GetGroupByID(ctx, recs[i].GroupID)
			if err != nil {
				return nil, errors.Wrap(err, "finding group")
			}
			key = group.Key
			keys[group.ID] = key
		}
		snaps = append(snaps, recs[i].Snapshot(key))
	}
	return snaps, nil
}

func (svc *Service) publish(ctx context.Context, subject string, event Event) {
	if err := svc.events.Publish(ctx, subject, event); err != nil {
		svc.logger.Error(fmt.Sprintf("publishing %s: %v", subject, err), err)
	}
}
