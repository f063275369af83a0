package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DefaultSQLiteDSN is used when no DSN is configured.
const DefaultSQLiteDSN = "file:quakewatch.db?_pragma=busy_timeout(5000)"

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS seismic_events (
			id TEXT PRIMARY KEY,
			magnitude REAL NOT NULL,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			depth_km REAL NOT NULL,
			occurred_at INTEGER NOT NULL,
			tsunami INTEGER NOT NULL,
			place TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seismic_events_occurred_at ON seismic_events(occurred_at)`,
	},
	upsert: `INSERT INTO seismic_events (id, magnitude, lat, lng, depth_km, occurred_at, tsunami, place)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			magnitude = excluded.magnitude,
			lat = excluded.lat,
			lng = excluded.lng,
			depth_km = excluded.depth_km,
			occurred_at = excluded.occurred_at,
			tsunami = excluded.tsunami,
			place = excluded.place`,
	deleteOld: `DELETE FROM seismic_events WHERE occurred_at < ?`,
	loadSince: `SELECT id, magnitude, lat, lng, depth_km, occurred_at, tsunami, place
		FROM seismic_events WHERE occurred_at > ? ORDER BY occurred_at, id`,
}

// NewSQLite opens a SQLite snapshot store. Init must be called before use.
func NewSQLite(dsn string) (SnapshotStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = DefaultSQLiteDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps in-memory databases shared and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &baseStore{db: db, q: sqliteDialect}, nil
}
