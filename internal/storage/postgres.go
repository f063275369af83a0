package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

var postgresDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS seismic_events (
			id TEXT PRIMARY KEY,
			magnitude DOUBLE PRECISION NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			depth_km DOUBLE PRECISION NOT NULL,
			occurred_at BIGINT NOT NULL,
			tsunami BOOLEAN NOT NULL,
			place TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seismic_events_occurred_at ON seismic_events(occurred_at)`,
	},
	upsert: `INSERT INTO seismic_events (id, magnitude, lat, lng, depth_km, occurred_at, tsunami, place)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			magnitude = EXCLUDED.magnitude,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			depth_km = EXCLUDED.depth_km,
			occurred_at = EXCLUDED.occurred_at,
			tsunami = EXCLUDED.tsunami,
			place = EXCLUDED.place`,
	deleteOld: `DELETE FROM seismic_events WHERE occurred_at < $1`,
	loadSince: `SELECT id, magnitude, lat, lng, depth_km, occurred_at, tsunami, place
		FROM seismic_events WHERE occurred_at > $1 ORDER BY occurred_at, id`,
}

// NewPostgres opens a Postgres snapshot store through the pgx stdlib driver.
func NewPostgres(dsn string) (SnapshotStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%w: postgres storage requires a DSN", domain.ErrConfiguration)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &baseStore{db: db, q: postgresDialect}, nil
}
