package sink

import (
	"context"
	"errors"

	"github.com/shortontech/dnaguard/internal/alert"
)

// ErrSkipped is returned by a sink that is intentionally not delivering,
// typically because it has no destination configured.
var ErrSkipped = errors.New("sink: not configured")

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(ev alert.Event) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}
