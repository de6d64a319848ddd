package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/nvidiamon/internal/errors"
)

// initSchema creates the history tables for device snapshots and alert
// lifecycle events
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS snapshots (
            device_id TEXT NOT NULL,
            timestamp INTEGER NOT NULL,
            utilization_pct REAL,
            memory_used_mb REAL,
            memory_total_mb REAL,
            temperature_c REAL,
            power_draw_w REAL,
            fan_pct REAL,
            clock_mhz REAL,
            PRIMARY KEY (device_id, timestamp)
        );
        CREATE TABLE IF NOT EXISTS alert_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp INTEGER NOT NULL,
            device_id TEXT,
            metric TEXT,
            kind TEXT NOT NULL,
            value REAL,
            limit_value REAL
        );
        CREATE INDEX IF NOT EXISTS idx_alert_events_timestamp
            ON alert_events (timestamp)
    `)
	if err != nil {
		return errors.New().Wrap(ErrSchemaInitFailed, err)
	}

	return nil
}
