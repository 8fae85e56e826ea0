package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"simplexbridge/pkg/event"
)

// Registry tracks live subscribers and fans events out to them.
type Registry struct {
	log *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]Subscriber
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		log:         log.With("component", "bus.registry"),
		subscribers: make(map[string]Subscriber),
	}
}

// Add registers a subscriber; later broadcasts include it.
func (r *Registry) Add(sub Subscriber) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	r.subscribers[sub.ID()] = sub
	count := len(r.subscribers)
	r.mu.Unlock()

	r.log.Info("Subscriber connected", "subscriber_id", sub.ID(), "clients", count)
}

// Remove drops a subscriber. Removing an absent subscriber is a no-op.
func (r *Registry) Remove(sub Subscriber) bool {
	if sub == nil {
		return false
	}

	r.mu.Lock()
	_, ok := r.subscribers[sub.ID()]
	delete(r.subscribers, sub.ID())
	count := len(r.subscribers)
	r.mu.Unlock()

	if ok {
		r.log.Info("Subscriber disconnected", "subscriber_id", sub.ID(), "clients", count)
	}
	return ok
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Broadcast encodes e once and writes it to every subscriber registered at
// call time. Subscribers that are not open are skipped and dropped; a failed
// write drops and closes that subscriber without affecting the others.
// The returned error is only set when e cannot be encoded.
func (r *Registry) Broadcast(e event.Event) (Result, error) {
	payload, err := event.Encode(e)
	if err != nil {
		return Result{}, fmt.Errorf("encode event: %w", err)
	}

	r.mu.RLock()
	snapshot := lo.Values(r.subscribers)
	r.mu.RUnlock()

	var (
		result Result
		stale  []Subscriber
	)
	for _, sub := range snapshot {
		if !sub.Open() {
			result.Skipped++
			stale = append(stale, sub)
			continue
		}

		result.Attempted++
		if err := sub.Send(payload); err != nil {
			result.Failed++
			stale = append(stale, sub)
			r.log.Warn("Dropping subscriber after failed write", "subscriber_id", sub.ID(), "event_type", e.Type(), "error", err)
			continue
		}
		result.Delivered++
	}

	for _, sub := range stale {
		r.Remove(sub)
		_ = sub.Close()
	}

	r.log.Debug("Broadcast event", "event_type", e.Type(), "delivered", result.Delivered, "removed", result.Removed())
	return result, nil
}

// Close closes and drops every subscriber.
func (r *Registry) Close() {
	r.mu.Lock()
	subs := lo.Values(r.subscribers)
	clear(r.subscribers)
	r.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
}
