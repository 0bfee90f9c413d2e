package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shortontech/dnaguard/internal/alert"
)

// Delivery statuses recorded per sink.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Outcome is the result of delivering one alert to one sink.
type Outcome struct {
	Sink     string
	Status   string
	Err      error
	Duration time.Duration
}

// Fanout delivers each alert to every sink concurrently. Delivery is
// best-effort: failures are logged and observed, never returned.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	// Observe, when set, receives every outcome.
	Observe func(ev alert.Event, o Outcome)
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: orDefault(logger)}
}

func (f *Fanout) Sinks() []Sink { return f.sinks }

// Dispatch starts one delivery per sink and returns without waiting. Alerts
// dispatched after Drain has begun are dropped and logged.
func (f *Fanout) Dispatch(ev alert.Event) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.logger.Warn("alert dropped during shutdown", "dna_hash", ev.DNAHash, "severity", ev.Severity)
		return
	}
	f.wg.Add(len(f.sinks))
	f.mu.Unlock()

	for _, s := range f.sinks {
		s := s
		go func() {
			defer f.wg.Done()
			f.record(ev, deliver(s, ev))
		}()
	}
}

// Wait blocks until every in-flight delivery has finished.
func (f *Fanout) Wait() { f.wg.Wait() }

// Drain stops accepting alerts, then waits for in-flight deliveries.
func (f *Fanout) Drain() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.wg.Wait()
}

func deliver(s Sink, ev alert.Event) (o Outcome) {
	start := time.Now()
	o.Sink = s.Name()
	defer func() {
		if r := recover(); r != nil {
			o.Status = StatusFailed
			o.Err = fmt.Errorf("panic: %v", r)
		}
		o.Duration = time.Since(start)
	}()

	err := s.Enqueue(ev)
	switch {
	case err == nil:
		o.Status = StatusDelivered
	case errors.Is(err, ErrSkipped):
		o.Status = StatusSkipped
	default:
		o.Status = StatusFailed
		o.Err = err
	}
	return o
}

func (f *Fanout) record(ev alert.Event, o Outcome) {
	switch o.Status {
	case StatusFailed:
		f.logger.Error("alert delivery failed",
			"sink", o.Sink, "dna_hash", ev.DNAHash, "duration", o.Duration, "error", o.Err)
	case StatusSkipped:
		f.logger.Debug("alert delivery skipped", "sink", o.Sink, "dna_hash", ev.DNAHash)
	default:
		f.logger.Info("alert delivered",
			"sink", o.Sink, "dna_hash", ev.DNAHash, "severity", ev.Severity, "duration", o.Duration)
	}
	if f.Observe != nil {
		f.Observe(ev, o)
	}
}
