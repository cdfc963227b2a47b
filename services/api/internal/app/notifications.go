package app

import (
	"context"
	"fmt"

	"ghazal/internal/util"
	"ghazal/pkg/domain"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// notice is one notification before it is addressed and stored.
type notice struct {
	Type    domain.NotificationType
	Title   string
	Message string
	Link    string
	Data    map[string]string
}

// notify inserts one row per recipient in a single batch, then pushes each
// row to live subscribers. Failures are logged and never returned: fan-out
// must not undo the action that triggered it.
func (a *App) notify(ctx context.Context, n notice, userIDs ...string) {
	seen := make(map[string]bool, len(userIDs))
	now := a.now()
	batch := make([]domain.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		batch = append(batch, domain.Notification{
			ID:        util.NewID(),
			UserID:    id,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Link:      n.Link,
			Data:      n.Data,
			CreatedAt: now,
		})
	}
	if len(batch) == 0 {
		return
	}
	logger := util.LoggerFromContext(ctx)
	if err := a.store.CreateNotifications(batch); err != nil {
		logger.Error("notification fan-out failed", "type", n.Type, "recipients", len(batch), "err", err)
		return
	}
	a.metrics.RecordNotifications(len(batch))
	if a.realtime == nil {
		return
	}
	for _, item := range batch {
		if err := a.realtime.Publish(ctx, item); err != nil {
			logger.Warn("realtime publish failed", "notification_id", item.ID, "err", err)
		}
	}
}

// notifyAdmins sends n to every active admin except the ids in skip.
func (a *App) notifyAdmins(ctx context.Context, n notice, skip ...string) {
	admins, err := a.store.ListAdmins()
	if err != nil {
		util.LoggerFromContext(ctx).Error("list admins for fan-out", "type", n.Type, "err", err)
		return
	}
	excluded := make(map[string]bool, len(skip))
	for _, id := range skip {
		excluded[id] = true
	}
	ids := make([]string, 0, len(admins))
	for _, admin := range admins {
		if !excluded[admin.ID] {
			ids = append(ids, admin.ID)
		}
	}
	a.notify(ctx, n, ids...)
}

// Notifications lists the user's notifications, newest first.
func (a *App) Notifications(user domain.User, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	items, err := a.store.ListNotifications(user.ID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

// UnreadCount returns the number of unread notifications.
func (a *App) UnreadCount(user domain.User) (int, error) {
	return a.store.CountUnreadNotifications(user.ID)
}

// MarkRead marks one of the user's own notifications as read.
func (a *App) MarkRead(user domain.User, id string) error {
	ok, err := a.store.MarkNotificationRead(user.ID, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of the user and returns how many changed.
func (a *App) MarkAllRead(user domain.User) (int, error) {
	return a.store.MarkAllNotificationsRead(user.ID)
}
