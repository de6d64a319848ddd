package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/errors"
	"codeberg.org/mutker/nvidiamon/internal/gpu"
	"codeberg.org/mutker/nvidiamon/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

type Repository interface {
	StoreSnapshot(ctx context.Context, snapshot gpu.Snapshot) error
	StoreEvent(ctx context.Context, event alert.Event) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	logger.Debug().Msgf("Initializing telemetry repository at: %s", cfg.DBPath)

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal=WAL")
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{
		db: db,
	}, nil
}

func (r *sqliteRepository) StoreSnapshot(ctx context.Context, snapshot gpu.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO snapshots (
            device_id, timestamp,
            utilization_pct, memory_used_mb, memory_total_mb,
            temperature_c, power_draw_w, fan_pct, clock_mhz
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(device_id, timestamp) DO UPDATE SET
            utilization_pct = excluded.utilization_pct,
            memory_used_mb = excluded.memory_used_mb,
            memory_total_mb = excluded.memory_total_mb,
            temperature_c = excluded.temperature_c,
            power_draw_w = excluded.power_draw_w,
            fan_pct = excluded.fan_pct,
            clock_mhz = excluded.clock_mhz
    `,
		string(snapshot.DeviceID),
		snapshot.Timestamp.Unix(),
		snapshot.UtilizationPct,
		snapshot.MemoryUsedMB,
		snapshot.MemoryTotalMB,
		snapshot.TemperatureC,
		snapshot.PowerDrawW,
		snapshot.FanPct,
		snapshot.ClockMHz,
	)
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) StoreEvent(ctx context.Context, event alert.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO alert_events (timestamp, device_id, metric, kind, value, limit_value)
        VALUES (?, ?, ?, ?, ?, ?)
    `,
		event.Timestamp.Unix(),
		string(event.DeviceID),
		string(event.Metric),
		string(event.Kind),
		event.Value,
		event.Limit,
	)
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}
