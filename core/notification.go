package core

import (
	"bytes"
	"context"
	"path"
	"sync"
	"text/template"
	"time"

	"github.com/pkg/errors"

	appfs "github.com/trezcool/darasa/fs"
)

type TemplateKey string

// Parent notification templates.
const (
	TemplateAttendancePresent TemplateKey = "attendance_present"
	TemplateAttendanceLate    TemplateKey = "attendance_late"
	TemplateAttendanceAbsent  TemplateKey = "attendance_absent"
)

var (
	TemplateKeys = []TemplateKey{TemplateAttendancePresent, TemplateAttendanceLate, TemplateAttendanceAbsent}

	ErrUnknownTemplate = errors.New("unknown notification template")

	notifTmpls     map[TemplateKey]*template.Template
	notifTmplsErr  error
	notifTmplsInit sync.Once
)

type (
	// NotificationPayload holds the values rendered into a parent notification.
	NotificationPayload struct {
		StudentName    string
		StudentCode    string
		Group          string
		Absences       int
		HomeworkLine   string
		Date           Date
		WarningMessage string // optional
	}

	// SendResult is what a Notifier reports back. Delivery failures are reported here, never raised.
	SendResult struct {
		Success bool
		Message string
	}

	// Notifier delivers templated messages to a phone number.
	Notifier interface {
		Send(ctx context.Context, phone string, key TemplateKey, payload NotificationPayload) SendResult
	}

	// Notification is one recorded delivery attempt.
	Notification struct {
		ID          string      `db:"id"`
		Phone       string      `db:"phone"`
		TemplateKey TemplateKey `db:"template_key"`
		StudentCode string      `db:"student_code"`
		Message     string      `db:"message"`
		Success     bool        `db:"success"`
		Skipped     bool        `db:"skipped"`
		Detail      string      `db:"detail"`
		SentAt      time.Time   `db:"sent_at"` // UTC
	}

	NotificationRepository interface {
		CreateNotification(ctx context.Context, n Notification) error
		// RecentNotifications returns notifications sent to phone at or after since, newest first.
		RecentNotifications(ctx context.Context, phone string, since time.Time) ([]Notification, error)
	}
)

// RenderNotification renders the embedded template for key.
func RenderNotification(key TemplateKey, payload NotificationPayload) (string, error) {
	notifTmplsInit.Do(func() { notifTmplsErr = parseNotificationTemplates() })
	if notifTmplsErr != nil {
		return "", notifTmplsErr
	}

	tmpl, ok := notifTmpls[key]
	if !ok {
		return "", errors.Wrap(ErrUnknownTemplate, string(key))
	}
	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, payload); err != nil {
		return "", errors.Wrapf(err, "rendering %s", key)
	}
	return buff.String(), nil
}

func parseNotificationTemplates() error {
	notifTmpls = make(map[TemplateKey]*template.Template, len(TemplateKeys))
	for _, key := range TemplateKeys {
		fp := path.Join("templates", "notifications", string(key)+".txt")
		tmpl, err := template.ParseFS(appfs.FS, fp)
		if err != nil {
			return errors.Wrapf(err, "core.parseNotificationTemplates(%s)", key)
		}
		notifTmpls[key] = tmpl.Option("missingkey=error")
	}
	return nil
}
