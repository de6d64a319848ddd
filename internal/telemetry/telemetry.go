package telemetry

import (
	"context"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/errors"
	"codeberg.org/mutker/nvidiamon/internal/gpu"
	"codeberg.org/mutker/nvidiamon/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation used when telemetry is disabled
type noopCollector struct{}

func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Telemetry recording disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg)
	if err != nil {
		return nil, err
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) RecordSnapshot(ctx context.Context, snapshot gpu.Snapshot) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.StoreSnapshot(ctx, snapshot)
	}
}

func (s *service) RecordEvent(ctx context.Context, event alert.Event) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.StoreEvent(ctx, event)
	}
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}
	return nil
}

// EventSink adapts a Collector into an alert sink so the dispatcher
// can feed it lifecycle events off the sampling goroutine
type EventSink struct {
	collector Collector
}

func NewEventSink(collector Collector) *EventSink {
	return &EventSink{collector: collector}
}

func (s *EventSink) Handle(event alert.Event) {
	if err := s.collector.RecordEvent(context.Background(), event); err != nil {
		logger.Debug().Err(err).Msg("Event recording failed")
	}
}

func (*noopCollector) RecordSnapshot(_ context.Context, _ gpu.Snapshot) error {
	return nil
}

func (*noopCollector) RecordEvent(_ context.Context, _ alert.Event) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}
