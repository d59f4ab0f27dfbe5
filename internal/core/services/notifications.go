package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"picpic.sync/internal/core/domain"
	"picpic.sync/internal/core/events"
)

const defaultNotificationCap = 100

// NotificationCenter keeps the session's toast-style notifications. Expired
// entries are pruned on read; nothing here survives the process.
type NotificationCenter struct {
	mu    sync.Mutex
	items []domain.Notification
	cap   int
	now   func() time.Time
}

func NewNotificationCenter() *NotificationCenter {
	return &NotificationCenter{
		cap: defaultNotificationCap,
		now: time.Now,
	}
}

// Attach subscribes the center to inbound notification and error events.
func (c *NotificationCenter) Attach(bus *events.Dispatcher) {
	bus.On(events.KindNotification, func(payload any) {
		if n, ok := payload.(domain.Notification); ok {
			c.Add(n)
		}
	})
	bus.On(events.KindError, func(payload any) {
		if e, ok := payload.(events.ErrorEvent); ok {
			c.Add(domain.Notification{
				Severity:  domain.SeverityError,
				Title:     "Connection error",
				Message:   e.Message,
				CreatedAt: e.Timestamp,
			})
		}
	})
}

// Add records a notification, assigning an id and creation time when the
// sender left them empty. The oldest entries fall off past the cap.
func (c *NotificationCenter) Add(n domain.Notification) domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = c.now()
	}
	c.items = append(c.items, n)
	if len(c.items) > c.cap {
		c.items = c.items[len(c.items)-c.cap:]
	}
	return n
}

// Dismiss drops one notification by id.
func (c *NotificationCenter) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

// Active returns the live notifications, pruning expired ones first.
func (c *NotificationCenter) Active() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	live := c.items[:0]
	for _, n := range c.items {
		if !n.Expired(now) {
			live = append(live, n)
		}
	}
	c.items = live

	out := make([]domain.Notification, len(live))
	copy(out, live)
	return out
}
