package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shortontech/dnaguard/internal/alert"
)

// Subscriber is a live operator connection.
type Subscriber interface {
	ID() string
	Open() bool
	Send(payload []byte) error
	Close() error
}

// LiveHub pushes every alert to all open subscribers. Closed subscribers are
// skipped and pruned; a subscriber whose send fails is dropped.
type LiveHub struct {
	mu     sync.RWMutex
	subs   map[string]Subscriber
	logger *slog.Logger
	// OnCount, when set, receives the subscriber count after every change.
	OnCount func(n int)
}

func NewLiveHub(logger *slog.Logger) *LiveHub {
	return &LiveHub{subs: make(map[string]Subscriber), logger: orDefault(logger)}
}

func (h *LiveHub) Name() string { return "live" }

func (h *LiveHub) Start(ctx context.Context) error { return nil }

func (h *LiveHub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Info("live subscriber connected", "subscriber", s.ID(), "subscribers", n)
	h.notify(n)
}

func (h *LiveHub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s.ID()]
	delete(h.subs, s.ID())
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		h.logger.Info("live subscriber disconnected", "subscriber", s.ID(), "subscribers", n)
		h.notify(n)
	}
}

func (h *LiveHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *LiveHub) Enqueue(ev alert.Event) error {
	payload, err := alert.Envelope(ev)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	h.mu.RLock()
	snapshot := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, s := range snapshot {
		if !s.Open() {
			h.Unsubscribe(s)
			continue
		}
		if err := s.Send(payload); err != nil {
			h.logger.Warn("live subscriber send failed", "subscriber", s.ID(), "error", err)
			_ = s.Close()
			h.Unsubscribe(s)
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (h *LiveHub) Close() error {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	h.notify(0)
	return nil
}

func (h *LiveHub) notify(n int) {
	if h.OnCount != nil {
		h.OnCount(n)
	}
}
