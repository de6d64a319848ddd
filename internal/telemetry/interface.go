package telemetry

import (
	"context"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/gpu"
)

// Collector persists monitoring history for presentation consumers.
// The monitoring core functions fully without it.
type Collector interface {
	RecordSnapshot(ctx context.Context, snapshot gpu.Snapshot) error
	RecordEvent(ctx context.Context, event alert.Event) error
	Close() error
}
