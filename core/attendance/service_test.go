package attendance_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/student"
	"github.com/trezcool/darasa/services/email"
	"github.com/trezcool/darasa/services/notify"
	"github.com/trezcool/darasa/storage/database/inmem"
	"github.com/trezcool/darasa/tests"
)

var (
	groupA = student.GroupKey{Center: "Nasr City", Grade: "3", GradeType: "Sec", GroupTime: "Sat 4pm"}
	groupB = student.GroupKey{Center: "Nasr City", Grade: "3", GradeType: "Sec", GroupTime: "Mon 6pm"}
)

const today = "2024-03-02"

type env struct {
	svc      *attendance.Service
	students student.Repository
	records  attendance.RecordRepository
	sender   *notifysvc.ConsoleSender
}

func setup(t *testing.T, clock core.Clock) *env {
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)

	db := inmemdb.Open()
	e := &env{
		students: inmemdb.NewStudentRepository(db),
		records:  inmemdb.NewRecordRepository(db),
		sender:   notifysvc.NewConsoleSenderMock(),
	}
	e.svc = attendance.NewServiceMock(attendance.ServiceDeps{
		Conf:     conf,
		Logger:   logger,
		Clock:    clock,
		Records:  e.records,
		Students: e.students,
		Notifier: notifysvc.NewGateway(conf, e.sender, inmemdb.NewNotificationRepository(db), logger),
		MailSvc:  emailsvc.NewConsoleServiceMock(conf, logger),
	})
	return e
}

func (e *env) student(t *testing.T, id string) student.Student {
	s, err := e.students.GetStudent(context.Background(), student.GetFilter{ID: id})
	if err != nil {
		t.Fatalf("GetStudent() failed: %v", err)
	}
	return s
}

func mark(key student.GroupKey, identifier string) attendance.MarkRequest {
	return attendance.MarkRequest{
		Session:  attendance.Session{Group: key, Date: today},
		Student:  identifier,
		Homework: student.HomeworkDone,
	}
}

func finalize(key student.GroupKey) attendance.FinalizeRequest {
	return attendance.FinalizeRequest{Session: attendance.Session{Group: key, Date: today}}
}

func TestService_sessionLifecycle(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 16, 5))

	ali := testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 1, "CARD-ALI")
	mona := testutil.CreateStudent(t, e.students, "1002", "Mona Adel", "01022222222", groupB, 0)
	omar := testutil.CreateStudent(t, e.students, "1003", "Omar Said", "01033333333", groupA, 0)
	emailsBefore := len(emailsvc.SentMessages)

	res, err := e.svc.MarkAttendance(ctx, mark(groupA, "CARD-ALI"))
	require.NoError(t, err)
	assert.Equal(t, student.StatusPresent, res.Status)
	assert.Equal(t, attendance.StateOpen, res.Record.State)
	require.NotNil(t, res.Absences)
	assert.Equal(t, 0, *res.Absences, "attending forgives one absence")

	otherReq := mark(groupA, "1002")
	otherReq.FromOtherGroup = true
	res, err = e.svc.MarkAttendance(ctx, otherReq)
	require.NoError(t, err)
	assert.Equal(t, student.StatusPresentFromOtherGroup, res.Status)

	res, err = e.svc.FinalizeAttendance(ctx, finalize(groupA))
	require.NoError(t, err)
	assert.Equal(t, []string{omar.ID}, res.NewlyAbsent)

	snap := res.Record
	assert.True(t, snap.IsFinalized)
	assert.Equal(t, attendance.StateFinalized, snap.State)
	assert.Equal(t, []string{ali.ID}, snap.Present)
	assert.Equal(t, []string{mona.ID}, snap.Excused)
	assert.Equal(t, []string{omar.ID}, snap.Absent)
	assert.Empty(t, snap.Late)

	assert.Equal(t, 0, e.student(t, ali.ID).Absences)
	assert.Equal(t, 0, e.student(t, mona.ID).Absences, "absences never go below zero")
	omar = e.student(t, omar.ID)
	assert.Equal(t, 1, omar.Absences)
	entry, ok := omar.HistoryFor(today)
	require.True(t, ok)
	assert.Equal(t, student.StatusAbsent, entry.Status)
	assert.Equal(t, snap.ID, entry.RecordID)

	mona = e.student(t, mona.ID)
	entry, ok = mona.HistoryFor(today)
	require.True(t, ok)
	assert.True(t, entry.FromOtherGroup)
	assert.Equal(t, groupA, entry.Group)

	sent := e.sender.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "201011111111", sent[0].Phone)
	assert.Contains(t, sent[0].Message, "Ali Hassan (1001) attended")
	assert.Contains(t, sent[0].Message, "Homework: done.")
	assert.Equal(t, "201033333333", sent[2].Phone)
	assert.Contains(t, sent[2].Message, "Omar Said (1003) was absent")
	assert.Contains(t, sent[2].Message, "Absences so far: 1")

	require.Len(t, emailsvc.SentMessages, emailsBefore+1)
	summary := emailsvc.SentMessages[emailsBefore]
	assert.Equal(t, "center@example.com", summary.To[0].Address)
	assert.Contains(t, summary.TextContent, "Absent: 1")
	assert.Contains(t, summary.TextContent, "Omar Said (1003)")
}

func TestService_MarkAttendance_errors(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 16, 5))

	testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 0)
	testutil.CreateStudent(t, e.students, "1002", "Mona Adel", "01022222222", groupB, 0)
	if _, err := e.svc.MarkAttendance(ctx, mark(groupA, "1001")); err != nil {
		t.Fatalf("MarkAttendance() failed: %v", err)
	}

	unknownGroup := student.GroupKey{Center: "Dokki", Grade: "1", GroupTime: "Sun 2pm"}
	fromUnknown := mark(unknownGroup, "1002")
	fromUnknown.FromOtherGroup = true
	badDate := mark(groupA, "1001")
	badDate.Date = "02/03/2024"

	tests := []struct {
		name    string
		req     attendance.MarkRequest
		wantErr error
	}{
		{name: "unknown student", req: mark(groupA, "9999"), wantErr: student.ErrNotFound},
		{name: "already marked", req: mark(groupA, "1001"), wantErr: attendance.ErrAlreadyMarked},
		{name: "not in group", req: mark(groupA, "1002"), wantErr: attendance.ErrStudentNotInGroup},
		{name: "from unknown group", req: fromUnknown, wantErr: student.ErrGroupNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.MarkAttendance(ctx, tt.req)
			if errors.Cause(err) != tt.wantErr {
				t.Errorf("MarkAttendance() error = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("invalid date", func(t *testing.T) {
		_, err := e.svc.MarkAttendance(ctx, badDate)
		var verr *core.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("MarkAttendance() error = %v; want a validation error", err)
		}
	})
}

func TestService_MarkAttendance_absenceLimit(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 16, 5))
	s := testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 3)

	_, err := e.svc.MarkAttendance(ctx, mark(groupA, "1001"))
	if errors.Cause(err) != attendance.ErrAbsenceLimitExceeded {
		t.Fatalf("MarkAttendance() error = %v; wantErr %v", err, attendance.ErrAbsenceLimitExceeded)
	}
	assert.Empty(t, e.sender.Sent())
	assert.Empty(t, e.student(t, s.ID).History)

	req := mark(groupA, "1001")
	req.IgnoreAbsencePolicy = true
	res, err := e.svc.MarkAttendance(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Absences)
	assert.Equal(t, 2, *res.Absences)

	s = e.student(t, s.ID)
	assert.Equal(t, 2, s.Absences)
	entry, ok := s.HistoryFor(today)
	require.True(t, ok)
	assert.True(t, entry.AbsencePolicyIgnored)

	sent := e.sender.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Message, "Warning: Ali Hassan has 2 absences. Entry is refused from 3 absences.")
}

func TestService_MarkAttendance_lateAfterFinalize(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 18, 30))
	ali := testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 0)
	omar := testutil.CreateStudent(t, e.students, "1002", "Omar Said", "01033333333", groupA, 0)

	if _, err := e.svc.MarkAttendance(ctx, mark(groupA, "1002")); err != nil {
		t.Fatalf("MarkAttendance() failed: %v", err)
	}
	if _, err := e.svc.FinalizeAttendance(ctx, finalize(groupA)); err != nil {
		t.Fatalf("FinalizeAttendance() failed: %v", err)
	}
	assert.Equal(t, 1, e.student(t, ali.ID).Absences)

	res, err := e.svc.MarkAttendance(ctx, mark(groupA, "1001"))
	require.NoError(t, err)
	assert.Equal(t, student.StatusLate, res.Status)
	assert.Equal(t, []string{ali.ID}, res.Record.Late)
	assert.Empty(t, res.Record.Absent)
	assert.Equal(t, []string{omar.ID}, res.Record.Present)

	ali = e.student(t, ali.ID)
	assert.Equal(t, 0, ali.Absences)
	require.Len(t, ali.History, 1, "the absent entry is replaced, not duplicated")
	assert.Equal(t, student.StatusLate, ali.History[0].Status)

	_, err = e.svc.MarkAttendance(ctx, mark(groupA, "1001"))
	if errors.Cause(err) != attendance.ErrAlreadyMarked {
		t.Errorf("MarkAttendance() twice: error = %v; wantErr %v", err, attendance.ErrAlreadyMarked)
	}

	sent := e.sender.Sent()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1].Message, "arrived late")
}

func TestService_RemoveAttendance(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 16, 5))
	ali := testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 2)
	omar := testutil.CreateStudent(t, e.students, "1002", "Omar Said", "01033333333", groupA, 0)

	remove := func(id string) attendance.RemoveRequest {
		return attendance.RemoveRequest{Session: attendance.Session{Group: groupA, Date: today}, StudentID: id}
	}

	_, err := e.svc.RemoveAttendance(ctx, remove(ali.ID))
	if errors.Cause(err) != attendance.ErrNoRecord {
		t.Fatalf("RemoveAttendance() without record: error = %v; wantErr %v", err, attendance.ErrNoRecord)
	}

	if _, err = e.svc.MarkAttendance(ctx, mark(groupA, "1001")); err != nil {
		t.Fatalf("MarkAttendance() failed: %v", err)
	}
	assert.Equal(t, 1, e.student(t, ali.ID).Absences)

	res, err := e.svc.RemoveAttendance(ctx, remove(ali.ID))
	require.NoError(t, err)
	assert.Empty(t, res.Record.Present)
	assert.Empty(t, res.Secondary)

	ali = e.student(t, ali.ID)
	assert.Empty(t, ali.History)
	assert.Equal(t, 1, ali.Absences, "removal does not take the forgiveness back")

	tests := []struct {
		name    string
		req     attendance.RemoveRequest
		wantErr error
	}{
		{name: "not marked anymore", req: remove(ali.ID), wantErr: attendance.ErrNotMarked},
		{name: "never marked", req: remove(omar.ID), wantErr: attendance.ErrNotMarked},
		{
			name:    "unknown group",
			req:     attendance.RemoveRequest{Session: attendance.Session{Group: groupB, Date: today}, StudentID: ali.ID},
			wantErr: student.ErrGroupNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.RemoveAttendance(ctx, tt.req)
			if errors.Cause(err) != tt.wantErr {
				t.Errorf("RemoveAttendance() error = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_RemoveAttendance_absentIsReconciliationOnly(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 18, 30))
	ali := testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 0)
	testutil.CreateStudent(t, e.students, "1002", "Omar Said", "01033333333", groupA, 0)

	if _, err := e.svc.MarkAttendance(ctx, mark(groupA, "1002")); err != nil {
		t.Fatalf("MarkAttendance() failed: %v", err)
	}
	if _, err := e.svc.FinalizeAttendance(ctx, finalize(groupA)); err != nil {
		t.Fatalf("FinalizeAttendance() failed: %v", err)
	}

	_, err := e.svc.RemoveAttendance(ctx, attendance.RemoveRequest{
		Session: attendance.Session{Group: groupA, Date: today}, StudentID: ali.ID,
	})
	if errors.Cause(err) != attendance.ErrNotMarked {
		t.Errorf("RemoveAttendance() error = %v; wantErr %v", err, attendance.ErrNotMarked)
	}
}

func TestService_FinalizeAttendance_errors(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 18, 30))
	testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 0)

	_, err := e.svc.FinalizeAttendance(ctx, finalize(groupA))
	if errors.Cause(err) != attendance.ErrNoRecord {
		t.Errorf("FinalizeAttendance() without record: error = %v; wantErr %v", err, attendance.ErrNoRecord)
	}

	if _, err = e.svc.MarkAttendance(ctx, mark(groupA, "1001")); err != nil {
		t.Fatalf("MarkAttendance() failed: %v", err)
	}
	res, err := e.svc.FinalizeAttendance(ctx, finalize(groupA))
	require.NoError(t, err)
	assert.Empty(t, res.NewlyAbsent)

	_, err = e.svc.FinalizeAttendance(ctx, finalize(groupA))
	if errors.Cause(err) != attendance.ErrAlreadyFinalized {
		t.Errorf("FinalizeAttendance() twice: error = %v; wantErr %v", err, attendance.ErrAlreadyFinalized)
	}

	_, err = e.svc.FinalizeAttendance(ctx, finalize(groupB))
	if errors.Cause(err) != student.ErrGroupNotFound {
		t.Errorf("FinalizeAttendance() unknown group: error = %v; wantErr %v", err, student.ErrGroupNotFound)
	}
}

func TestService_defaultDateUsesCenterTimezone(t *testing.T) {
	ctx := context.Background()
	// 00:30 in Cairo is still the previous day in UTC
	e := setup(t, testutil.ClockAt(2024, 3, 3, 0, 30))
	testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 0)

	req := mark(groupA, "1001")
	req.Date = ""
	res, err := e.svc.MarkAttendance(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.Date("2024-03-03"), res.Record.Date)
}

func TestService_GetRecord(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 16, 5))
	ali := testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 0)
	sess := attendance.Session{Group: groupA, Date: today}

	snap, err := e.svc.GetRecord(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, attendance.StateNotStarted, snap.State)
	assert.Equal(t, core.Date(today), snap.Date)
	assert.Equal(t, []string{}, snap.Present)

	if _, err = e.svc.MarkAttendance(ctx, mark(groupA, "1001")); err != nil {
		t.Fatalf("MarkAttendance() failed: %v", err)
	}
	snap, err = e.svc.GetRecord(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, attendance.StateOpen, snap.State)
	assert.Equal(t, []string{ali.ID}, snap.Present)
	assert.Equal(t, 1, snap.Version)

	_, err = e.svc.GetRecord(ctx, attendance.Session{Group: groupB, Date: today})
	if errors.Cause(err) != student.ErrGroupNotFound {
		t.Errorf("GetRecord() unknown group: error = %v; wantErr %v", err, student.ErrGroupNotFound)
	}
}

func TestService_Report(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 18, 30))
	ali := testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 0)
	omar := testutil.CreateStudent(t, e.students, "1002", "Omar Said", "01033333333", groupA, 0)

	req := mark(groupA, "1001")
	req.Homework = student.HomeworkNotDone
	if _, err := e.svc.MarkAttendance(ctx, req); err != nil {
		t.Fatalf("MarkAttendance() failed: %v", err)
	}
	if _, err := e.svc.FinalizeAttendance(ctx, finalize(groupA)); err != nil {
		t.Fatalf("FinalizeAttendance() failed: %v", err)
	}

	report, err := e.svc.Report(ctx, attendance.Session{Group: groupA, Date: today})
	require.NoError(t, err)
	require.Len(t, report.Present, 1)
	assert.Equal(t, ali.ID, report.Present[0].ID)
	assert.Equal(t, "Ali Hassan", report.Present[0].Name)
	assert.Equal(t, student.HomeworkNotDone, report.Present[0].Homework)
	assert.True(t, decimal.NewFromInt(100).Equal(report.Present[0].AmountRemaining))

	require.Len(t, report.Absent, 1)
	assert.Equal(t, omar.ID, report.Absent[0].ID)
	assert.Equal(t, 1, report.Absent[0].Absences)
	assert.Equal(t, student.HomeworkNotSpecified, report.Absent[0].Homework)
	assert.Empty(t, report.Late)
	assert.Empty(t, report.Excused)
}

func TestService_QueryRecords(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 16, 5))
	testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 0)
	testutil.CreateStudent(t, e.students, "1002", "Mona Adel", "01022222222", groupB, 0)

	for _, date := range []string{"2024-03-01", "2024-03-02"} {
		reqA := mark(groupA, "1001")
		reqA.Date = date
		reqB := mark(groupB, "1002")
		reqB.Date = date
		for _, req := range []attendance.MarkRequest{reqA, reqB} {
			if _, err := e.svc.MarkAttendance(ctx, req); err != nil {
				t.Fatalf("MarkAttendance(%s) failed: %v", date, err)
			}
		}
	}
	if _, err := e.svc.FinalizeAttendance(ctx, finalize(groupA)); err != nil {
		t.Fatalf("FinalizeAttendance() failed: %v", err)
	}
	bPtr := func(b bool) *bool { return &b }

	tests := []struct {
		name      string
		filter    *attendance.QueryFilter
		wantDates []core.Date
		wantGroup student.GroupKey
	}{
		{name: "all", filter: nil, wantDates: []core.Date{"2024-03-02", "2024-03-02", "2024-03-01", "2024-03-01"}},
		{
			name:      "group",
			filter:    &attendance.QueryFilter{GroupTime: "Mon 6pm"},
			wantDates: []core.Date{"2024-03-02", "2024-03-01"},
			wantGroup: groupB,
		},
		{name: "from", filter: &attendance.QueryFilter{From: "2024-03-02"}, wantDates: []core.Date{"2024-03-02", "2024-03-02"}},
		{name: "to", filter: &attendance.QueryFilter{To: "2024-03-01"}, wantDates: []core.Date{"2024-03-01", "2024-03-01"}},
		{
			name:      "finalized",
			filter:    &attendance.QueryFilter{IsFinalized: bPtr(true)},
			wantDates: []core.Date{"2024-03-02"},
			wantGroup: groupA,
		},
		{name: "no match", filter: &attendance.QueryFilter{Center: "Dokki"}, wantDates: []core.Date{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snaps, err := e.svc.QueryRecords(ctx, tt.filter)
			require.NoError(t, err)
			dates := make([]core.Date, 0, len(snaps))
			for _, s := range snaps {
				dates = append(dates, s.Date)
				if !tt.wantGroup.IsZero() {
					assert.Equal(t, tt.wantGroup, s.Group)
				}
			}
			assert.Equal(t, tt.wantDates, dates)
		})
	}
}

func TestService_UpdateRemainingBalance(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 16, 5))
	ali := testutil.CreateStudent(t, e.students, "1001", "Ali Hassan", "01011111111", groupA, 0)

	require.NoError(t, e.svc.UpdateRemainingBalance(ctx, ali.ID, decimal.RequireFromString("42.50")))
	assert.True(t, decimal.RequireFromString("42.5").Equal(e.student(t, ali.ID).AmountRemaining))

	err := e.svc.UpdateRemainingBalance(ctx, "unknown", decimal.Zero)
	if errors.Cause(err) != student.ErrNotFound {
		t.Errorf("UpdateRemainingBalance() error = %v; wantErr %v", err, student.ErrNotFound)
	}
}

func TestService_concurrentMarks(t *testing.T) {
	ctx := context.Background()
	e := setup(t, testutil.ClockAt(2024, 3, 2, 16, 5))

	n := 25
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s := testutil.CreateStudent(t, e.students, fmt.Sprintf("%d", 2000+i), fmt.Sprintf("Student %02d", i),
			fmt.Sprintf("0100000%04d", i), groupA, 0)
		ids = append(ids, s.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			if _, err := e.svc.MarkAttendance(ctx, mark(groupA, code)); err != nil {
				errs <- err
			}
		}(fmt.Sprintf("%d", 2000+i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("MarkAttendance() failed: %v", err)
	}

	snap, err := e.svc.GetRecord(ctx, attendance.Session{Group: groupA, Date: today})
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, snap.Present)
	assert.Equal(t, n, snap.Version)
	assert.Len(t, e.sender.Sent(), n)
	for _, d := range e.sender.Sent() {
		assert.True(t, strings.HasPrefix(d.Phone, "20100000"), d.Phone)
	}
}
