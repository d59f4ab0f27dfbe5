package realtime

import (
	"sort"
	"sync"

	"picpic.sync/internal/core/events"
	"picpic.sync/internal/core/logger"
	"picpic.sync/internal/core/ports"
)

// Subscription identifies one entity the server pushes updates for.
type Subscription struct {
	Entity string
	ID     string
}

// Registry reference-counts consumer interest per (entity, id). The wire
// only sees a subscribe frame on the 0->1 transition and an unsubscribe on
// 1->0, so overlapping consumers never cut each other's stream off.
type Registry struct {
	sender ports.FrameSender

	mu     sync.Mutex
	counts map[Subscription]int
}

func NewRegistry(sender ports.FrameSender) *Registry {
	return &Registry{
		sender: sender,
		counts: make(map[Subscription]int),
	}
}

// Attach wires the registry to connection status events so active
// subscriptions are replayed after every reconnect.
func (r *Registry) Attach(bus *events.Dispatcher) {
	bus.On(events.KindConnectionStatus, func(payload any) {
		status, ok := payload.(events.ConnectionStatus)
		if ok && status.Connected {
			r.Replay()
		}
	})
}

// Subscribe records one consumer's interest, sending the control frame only
// for the first consumer of the pair.
func (r *Registry) Subscribe(entity, id string) {
	key := Subscription{Entity: entity, ID: id}
	r.mu.Lock()
	r.counts[key]++
	first := r.counts[key] == 1
	r.mu.Unlock()

	if first {
		r.send(events.KindSubscribe, key)
	}
}

// Unsubscribe releases one consumer's interest. The unsubscribe frame goes
// out only when the last consumer of the pair is gone; releasing a pair
// nobody holds is a no-op.
func (r *Registry) Unsubscribe(entity, id string) {
	key := Subscription{Entity: entity, ID: id}
	r.mu.Lock()
	count, ok := r.counts[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	count--
	if count <= 0 {
		delete(r.counts, key)
	} else {
		r.counts[key] = count
	}
	last := count <= 0
	r.mu.Unlock()

	if last {
		r.send(events.KindUnsubscribe, key)
	}
}

// Replay re-issues subscribe frames for every active pair.
func (r *Registry) Replay() {
	for _, sub := range r.Active() {
		r.send(events.KindSubscribe, sub)
	}
}

// Active returns the currently held pairs, ordered for stable output.
func (r *Registry) Active() []Subscription {
	r.mu.Lock()
	subs := make([]Subscription, 0, len(r.counts))
	for key := range r.counts {
		subs = append(subs, key)
	}
	r.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Entity != subs[j].Entity {
			return subs[i].Entity < subs[j].Entity
		}
		return subs[i].ID < subs[j].ID
	})
	return subs
}

func (r *Registry) send(kind events.Kind, sub Subscription) {
	err := r.sender.Send(kind, SubscribePayload{Entity: sub.Entity, ID: sub.ID})
	if err != nil {
		logger.Warn("subscription frame not sent",
			"kind", string(kind), "entity", sub.Entity, "id", sub.ID, "error", err)
	}
}
