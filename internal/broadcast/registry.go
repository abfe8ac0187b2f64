// Package broadcast tracks push subscribers and fans one payload out to all
// of them.
package broadcast

import (
	"log/slog"

	"github.com/relabs-tech/orientation_server/internal/metrics"
)

// Subscriber receives push frames.
type Subscriber interface {
	ID() string
	WriteFrame(payload []byte) error
	Close() error
}

// Registry is the set of live subscribers. It is not safe for concurrent
// use: the event loop owns it.
type Registry struct {
	subs map[Subscriber]struct{}
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[Subscriber]struct{})}
}

// Subscribe adds s. Adding a subscriber twice is a no-op.
func (r *Registry) Subscribe(s Subscriber) {
	r.subs[s] = struct{}{}
	metrics.SubscribersCurrent.Set(float64(len(r.subs)))
}

// Unsubscribe removes and closes s, reporting whether it was present.
func (r *Registry) Unsubscribe(s Subscriber) bool {
	if _, ok := r.subs[s]; !ok {
		return false
	}
	r.remove(s)
	return true
}

// Len is the number of live subscribers.
func (r *Registry) Len() int {
	return len(r.subs)
}

// Broadcast writes payload to every subscriber. A subscriber whose write
// fails is removed and closed; the rest still receive the payload.
// It returns the number of successful deliveries.
func (r *Registry) Broadcast(payload []byte) int {
	delivered := 0
	for s := range r.subs {
		if err := s.WriteFrame(payload); err != nil {
			slog.Debug("broadcast: dropping subscriber", "subscriber", s.ID(), "error", err)
			metrics.SubscriberWriteFailuresTotal.Inc()
			r.remove(s)
			continue
		}
		delivered++
	}
	metrics.FramesBroadcastTotal.Add(float64(delivered))
	return delivered
}

// CloseAll closes and removes every subscriber.
func (r *Registry) CloseAll() {
	for s := range r.subs {
		r.remove(s)
	}
}

func (r *Registry) remove(s Subscriber) {
	delete(r.subs, s)
	_ = s.Close()
	metrics.SubscribersCurrent.Set(float64(len(r.subs)))
}
