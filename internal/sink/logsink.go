package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/shortontech/dnaguard/internal/alert"
)

// LogSink appends one alert envelope per line to a file, or to stdout when
// the destination is "stdout".
type LogSink struct {
	dst string
	mu  sync.Mutex
	f   *os.File
	w   io.Writer
}

func NewLogSink() *LogSink {
	return &LogSink{dst: getEnvOr("ALERT_LOG_PATH", "alerts.ndjson")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dst == "stdout" {
		s.w = os.Stdout
		return nil
	}
	f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	s.f = f
	s.w = f
	return nil
}

func (s *LogSink) Enqueue(ev alert.Event) error {
	b, err := alert.Envelope(ev)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("log sink not started")
	}
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	return nil
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = nil
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
