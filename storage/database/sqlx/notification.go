package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

type notificationRepository struct {
	db core.DB
}

var _ core.NotificationRepository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db core.DB) core.NotificationRepository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, n core.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	q := `INSERT INTO notifications (id, phone, template_key, student_code, message, success, skipped, detail, sent_at)
		VALUES (:id, :phone, :template_key, :student_code, :message, :success, :skipped, :detail, :sent_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, n); err != nil {
		return errors.Wrap(err, "inserting notification")
	}
	return nil
}

func (repo *notificationRepository) RecentNotifications(ctx context.Context, phone string, since time.Time) ([]core.Notification, error) {
	var notifs []core.Notification
	q := `SELECT id, phone, template_key, student_code, message, success, skipped, detail, sent_at FROM notifications
		WHERE phone = $1 AND sent_at >= $2 ORDER BY sent_at DESC`
	if err := repo.db.SelectContext(ctx, &notifs, q, phone, since.UTC()); err != nil {
		return nil, errors.Wrap(err, "selecting notifications")
	}
	return notifs, nil
}
