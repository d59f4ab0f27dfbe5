package ports

import (
	"context"

	"picpic.sync/internal/core/domain"
	"picpic.sync/internal/core/events"
)

// FrameSender sends one control or heartbeat frame over the push channel.
// Implemented by the realtime connection manager.
type FrameSender interface {
	Send(kind events.Kind, payload any) error
}

// StatusClient is the companion request/response endpoint consumed by the
// health monitor. It is separate from the push channel.
type StatusClient interface {
	Health(ctx context.Context) (*domain.ServerHealth, error)
	Tools(ctx context.Context) ([]domain.ToolInfo, error)
}

// EventMirror republishes inbound push events for sidecar consumers
// (Redis pub/sub, MQTT).
type EventMirror interface {
	Attach(bus *events.Dispatcher)
	Close()
}
