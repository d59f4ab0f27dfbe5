// Package events is the typed pub/sub layer between the transport and
// application consumers. Kinds form a closed set; the realtime codec is the
// only producer of inbound payloads, so every listener can type-assert the
// payload for its kind without a comma-ok dance going wrong at runtime.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"picpic.sync/internal/core/domain"
	"picpic.sync/internal/core/logger"
)

type Kind string

const (
	// Inbound push kinds.
	KindJobUpdate        Kind = "job_update"
	KindResourceUpdate   Kind = "resource_update"
	KindNotification     Kind = "notification"
	KindSystemMessage    Kind = "system_message"
	KindConnectionStatus Kind = "connection_status"
	KindError            Kind = "error"

	// Outbound control kinds.
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
	KindPing        Kind = "ping"
)

// JobUpdate carries a live patch for one job.
type JobUpdate struct {
	JobID    string             `json:"job_id"`
	Status   *domain.JobStatus  `json:"status,omitempty"`
	Progress *int               `json:"progress,omitempty"`
	Metrics  *domain.JobMetrics `json:"metrics,omitempty"`
}

// Patch converts the update into the store's partial-merge shape.
func (u JobUpdate) Patch() domain.JobPatch {
	return domain.JobPatch{
		Status:   u.Status,
		Progress: u.Progress,
		Metrics:  u.Metrics,
	}
}

// ResourceUpdate carries a workspace usage snapshot.
type ResourceUpdate struct {
	WorkspaceID string               `json:"workspace_id"`
	Usage       domain.ResourceUsage `json:"usage"`
}

// SystemMessage is an opaque server broadcast, forwarded verbatim.
type SystemMessage struct {
	Payload json.RawMessage `json:"payload"`
}

// ConnectionStatus is emitted by the connection manager on every transition.
type ConnectionStatus struct {
	Connected bool      `json:"connected"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent surfaces a contained transport error to observers.
type ErrorEvent struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Handle identifies one registered listener so it can be removed.
type Handle uint64

// Listener receives the payload for the kind it registered under.
type Listener func(payload any)

type entry struct {
	id Handle
	fn Listener
}

// Dispatcher fans events out to listeners, synchronously and in
// registration order. A panicking listener is recovered and logged; the
// remaining listeners for the same event still run.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[Kind][]entry
	nextID    Handle
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		listeners: make(map[Kind][]entry),
	}
}

// On registers a listener for kind and returns its removal handle.
func (d *Dispatcher) On(kind Kind, fn Listener) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.listeners[kind] = append(d.listeners[kind], entry{id: d.nextID, fn: fn})
	return d.nextID
}

// Off removes one listener; unknown handles are a no-op.
func (d *Dispatcher) Off(kind Kind, h Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.listeners[kind]
	for i, e := range list {
		if e.id == h {
			d.listeners[kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// RemoveAll clears every listener for one kind.
func (d *Dispatcher) RemoveAll(kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, kind)
}

// Reset clears every listener for every kind.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = make(map[Kind][]entry)
}

// Emit delivers payload to every listener of kind before returning.
func (d *Dispatcher) Emit(kind Kind, payload any) {
	d.mu.Lock()
	list := make([]entry, len(d.listeners[kind]))
	copy(list, d.listeners[kind])
	d.mu.Unlock()

	for _, e := range list {
		invoke(kind, e.fn, payload)
	}
}

func invoke(kind Kind, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event listener panicked", "kind", string(kind), "panic", r)
		}
	}()
	fn(payload)
}
