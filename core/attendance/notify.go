package attendance

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/student"
)

const summaryTemplate = "attendance_summary"

// TemplateKeyFor returns the parent notification template of status.
func TemplateKeyFor(status student.Status) core.TemplateKey {
	switch status {
	case student.StatusLate:
		return core.TemplateAttendanceLate
	case student.StatusAbsent:
		return core.TemplateAttendanceAbsent
	default:
		return core.TemplateAttendancePresent
	}
}

func homeworkLine(hw student.Homework) string {
	switch hw {
	case student.HomeworkDone:
		return "Homework: done."
	case student.HomeworkNotDone:
		return "Homework: not done."
	}
	return ""
}

func (svc *Service) payload(s student.Student, key student.GroupKey, date core.Date, hw student.Homework) core.NotificationPayload {
	p := core.NotificationPayload{
		StudentName:  s.Name,
		StudentCode:  s.Code,
		Group:        key.String(),
		Absences:     s.Absences,
		HomeworkLine: homeworkLine(hw),
		Date:         date,
	}
	limit := svc.conf.Attendance.AbsenceLimit
	if s.Absences >= limit-1 {
		p.WarningMessage = fmt.Sprintf(
			"Warning: %s has %d absences. Entry is refused from %d absences.", s.Name, s.Absences, limit)
	}
	return p
}

// notifyParent never fails: delivery problems are logged.
func (svc *Service) notifyParent(ctx context.Context, s student.Student, key core.TemplateKey, p core.NotificationPayload) {
	if s.ParentPhone == "" {
		svc.logger.Warn("no parent phone, notification skipped", map[string]interface{}{"student": s.ID, "template": key})
		return
	}
	res := svc.notifier.Send(ctx, s.ParentPhone, key, p)
	if !res.Success {
		svc.logger.Warn(fmt.Sprintf("notifying parent: %s", res.Message), map[string]interface{}{"student": s.ID, "template": key})
	}
}

type summaryData struct {
	Group       string
	Date        core.Date
	Present     int
	Late        int
	Excused     int
	Absent      int
	AbsentNames []string
}

// sendSummary emails the closed session's figures to the center, when configured.
func (svc *Service) sendSummary(snap Snapshot, absentees []student.Student) {
	if svc.mailSvc == nil || svc.conf.ReportEmail == "" {
		return
	}
	to, err := mail.ParseAddress(svc.conf.ReportEmail)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("parsing report email: %v", err), err)
		return
	}

	names := make([]string, 0, len(absentees))
	for _, s := range absentees {
		names = append(names, fmt.Sprintf("%s (%s)", s.Name, s.Code))
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{*to},
		Subject:      fmt.Sprintf("Attendance %s - %s", snap.Group, snap.Date),
		TemplateName: summaryTemplate,
		TemplateData: summaryData{
			Group:       snap.Group.String(),
			Date:        snap.Date,
			Present:     len(snap.Present),
			Late:        len(snap.Late),
			Excused:     len(snap.Excused),
			Absent:      len(snap.Absent),
			AbsentNames: names,
		},
	})
}
