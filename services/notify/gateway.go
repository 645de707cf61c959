package notifysvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/phone"
)

// Sender delivers a rendered message to a normalized phone number.
type Sender interface {
	Deliver(ctx context.Context, phone, message string) error
}

// Gateway is the core.Notifier: it normalizes the recipient, renders the template,
// drops near-duplicates of recent messages and records every attempt.
type Gateway struct {
	sender      Sender
	log         core.NotificationRepository
	logger      core.Logger
	countryCode string
	dedupWindow time.Duration
	dedupRatio  float64
	now         func() time.Time
}

var _ core.Notifier = (*Gateway)(nil)

func NewGateway(conf *core.Config, sender Sender, log core.NotificationRepository, logger core.Logger) *Gateway {
	return &Gateway{
		sender:      sender,
		log:         log,
		logger:      logger,
		countryCode: conf.Notification.CountryCode,
		dedupWindow: conf.Notification.DedupWindow,
		dedupRatio:  conf.Notification.DedupRatio,
		now:         time.Now,
	}
}

func (gw *Gateway) Send(ctx context.Context, number string, key core.TemplateKey, payload core.NotificationPayload) (res core.SendResult) {
	defer func() {
		if r := recover(); r != nil {
			res = core.SendResult{Message: fmt.Sprintf("notification panicked: %v", r)}
			gw.logger.Error(res.Message)
		}
	}()

	to, err := phone.Normalize(number, gw.countryCode)
	if err != nil {
		return core.SendResult{Message: fmt.Sprintf("invalid phone %q: %v", number, err)}
	}
	msg, err := core.RenderNotification(key, payload)
	if err != nil {
		gw.logger.Error(fmt.Sprintf("rendering notification: %v", err), err)
		return core.SendResult{Message: err.Error()}
	}

	now := gw.now().UTC()
	notif := core.Notification{
		ID:          uuid.New().String(),
		Phone:       to,
		TemplateKey: key,
		StudentCode: payload.StudentCode,
		Message:     msg,
		SentAt:      now,
	}

	if dup, ok := gw.duplicateOf(ctx, notif); ok {
		notif.Skipped = true
		notif.Detail = "duplicate of " + dup.ID
		res = core.SendResult{Success: true, Message: "skipped: a similar message was sent recently"}
	} else if err = gw.sender.Deliver(ctx, to, msg); err != nil {
		notif.Detail = err.Error()
		res = core.SendResult{Message: err.Error()}
	} else {
		notif.Success = true
		res = core.SendResult{Success: true, Message: "sent"}
	}

	if err = gw.log.CreateNotification(ctx, notif); err != nil {
		gw.logger.Error(fmt.Sprintf("recording notification: %v", err), err)
	}
	return res
}

// duplicateOf returns a message successfully sent to the same phone within the dedup window,
// about the same student with the same template, that is near-identical to notif's.
// Siblings share a parent phone, so their messages never dedup each other.
func (gw *Gateway) duplicateOf(ctx context.Context, notif core.Notification) (core.Notification, bool) {
	if gw.dedupWindow <= 0 || gw.dedupRatio <= 0 {
		return core.Notification{}, false
	}
	recent, err := gw.log.RecentNotifications(ctx, notif.Phone, notif.SentAt.Add(-gw.dedupWindow))
	if err != nil {
		gw.logger.Warn(fmt.Sprintf("loading recent notifications: %v", err), err)
		return core.Notification{}, false
	}
	for _, n := range recent {
		if !n.Success || n.Skipped || n.TemplateKey != notif.TemplateKey || n.StudentCode != notif.StudentCode {
			continue
		}
		if Similarity(n.Message, notif.Message) >= gw.dedupRatio {
			return n, true
		}
	}
	return core.Notification{}, false
}

// Similarity returns the difflib ratio of a and b, compared line by line and rune by rune.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	sm := difflib.NewMatcher(splitRunes(a), splitRunes(b))
	return sm.Ratio()
}

func splitRunes(s string) []string {
	runes := make([]string, 0, len(s))
	for _, r := range s {
		runes = append(runes, string(r))
	}
	return runes
}
