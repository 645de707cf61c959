package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/darasa/core"
)

type notificationRepository struct {
	db *notificationTable
}

var _ core.NotificationRepository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) core.NotificationRepository {
	return &notificationRepository{db: db.notification}
}

func (repo *notificationRepository) CreateNotification(_ context.Context, n core.Notification) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	repo.db.table = append(repo.db.table, n)
	return nil
}

func (repo *notificationRepository) RecentNotifications(_ context.Context, phone string, since time.Time) ([]core.Notification, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	res := make([]core.Notification, 0)
	for i := len(repo.db.table) - 1; i >= 0; i-- { // newest first
		n := repo.db.table[i]
		if n.Phone == phone && !n.SentAt.Before(since) {
			res = append(res, n)
		}
	}
	return res, nil
}
