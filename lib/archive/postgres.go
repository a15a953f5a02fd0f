package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/simukti/sqldb-logger/logadapter/zerologadapter"
)

// PostgresStore writes archived positions to a Postgres "positions" table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens dsn, wrapping the driver with sqldb-logger so every
// query is logged through logger at the same level as the rest of this
// module.
func NewPostgresStore(dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	driver := sqldblogger.OpenDriver(dsn, &pq.Driver{}, zerologadapter.New(logger))
	db := sqlx.NewDb(driver, "postgres")
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("archive: postgres ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// InsertPositions bulk-inserts positions in one statement.
func (s *PostgresStore) InsertPositions(ctx context.Context, positions []Position) error {
	if len(positions) == 0 {
		return nil
	}
	const q = `
		INSERT INTO positions (icao, observed_at, latitude, longitude, alt_ft, source)
		VALUES (:icao, :observed_at, :latitude, :longitude, :alt_ft, :source)`

	rows := make([]postgresRow, len(positions))
	for i, p := range positions {
		rows[i] = postgresRow{
			ICAO:       p.ICAO,
			ObservedAt: p.Timestamp,
			Latitude:   p.Latitude,
			Longitude:  p.Longitude,
			AltFt:      p.AltFt,
			Source:     p.Source,
		}
	}
	_, err := s.db.NamedExecContext(ctx, q, rows)
	if err != nil {
		return fmt.Errorf("archive: postgres insert: %w", err)
	}
	return nil
}

type postgresRow struct {
	ICAO       string    `db:"icao"`
	ObservedAt time.Time `db:"observed_at"`
	Latitude   float64   `db:"latitude"`
	Longitude  float64   `db:"longitude"`
	AltFt      int32     `db:"alt_ft"`
	Source     string    `db:"source"`
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
