// Package redismirror fans inbound push events out over Redis pub/sub.
// Pub/sub is fire-and-forget: nothing is stored, so job data still never
// outlives the session.
package redismirror

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"picpic.sync/internal/core/domain"
	"picpic.sync/internal/core/events"
	"picpic.sync/internal/core/logger"
	"picpic.sync/internal/core/ports"
)

var _ ports.EventMirror = (*Mirror)(nil)

const (
	JobUpdateChannel    = "sync:job_updates"
	ResourceChannel     = "sync:resources"
	NotificationChannel = "sync:notifications"
)

type Mirror struct {
	client *redis.Client
}

func New(url string) (*Mirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Mirror{client: redis.NewClient(opts)}, nil
}

// Attach subscribes the mirror to the event kinds it republishes.
func (m *Mirror) Attach(bus *events.Dispatcher) {
	bus.On(events.KindJobUpdate, func(payload any) {
		if update, ok := payload.(events.JobUpdate); ok {
			m.publish(JobUpdateChannel, update)
		}
	})
	bus.On(events.KindResourceUpdate, func(payload any) {
		if update, ok := payload.(events.ResourceUpdate); ok {
			m.publish(ResourceChannel, update)
		}
	})
	bus.On(events.KindNotification, func(payload any) {
		if n, ok := payload.(domain.Notification); ok {
			m.publish(NotificationChannel, n)
		}
	})
}

// Close releases the Redis connection.
func (m *Mirror) Close() {
	m.client.Close()
}

func (m *Mirror) publish(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("redis event not encodable", "channel", channel, "error", err)
		return
	}
	if err := m.client.Publish(context.Background(), channel, data).Err(); err != nil {
		logger.Warn("redis publish failed", "channel", channel, "error", err)
	}
}
