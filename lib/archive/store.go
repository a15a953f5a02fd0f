// Package archive is a minimal trace archive: positions observed by the
// tracker can be written to either a Postgres or a ClickHouse backend
// behind a common Store interface. The tracker itself stays in-memory;
// this exists to give the teacher's persistence dependencies
// (jmoiron/sqlx, lib/pq, simukti/sqldb-logger, ClickHouse/clickhouse-go)
// a real, if deliberately small, home. Schema evolution, querying and
// retention are out of scope.
package archive

import (
	"context"
	"time"
)

// Position is one archived fix for an aircraft.
type Position struct {
	ICAO      string
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	AltFt     int32
	Source    string
}

// Store persists archived positions. Both backends in this package
// (Postgres, ClickHouse) implement it.
type Store interface {
	InsertPositions(ctx context.Context, positions []Position) error
	Close() error
}
