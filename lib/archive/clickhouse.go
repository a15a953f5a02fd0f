package archive

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseStore writes archived positions to a ClickHouse "positions"
// table, as one synchronous batch (PrepareBatch, then Send) per
// InsertPositions call.
type ClickHouseStore struct {
	conn clickhouse.Conn
}

// NewClickHouseStore opens a native-protocol connection to one of addrs.
func NewClickHouseStore(addrs []string, database, username, password string) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: addrs,
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("archive: clickhouse open: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("archive: clickhouse ping: %w", err)
	}
	return &ClickHouseStore{conn: conn}, nil
}

// InsertPositions batches positions into one native-protocol insert.
func (s *ClickHouseStore) InsertPositions(ctx context.Context, positions []Position) error {
	if len(positions) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO positions (icao, observed_at, latitude, longitude, alt_ft, source)")
	if err != nil {
		return fmt.Errorf("archive: clickhouse prepare batch: %w", err)
	}
	for _, p := range positions {
		if err := batch.Append(p.ICAO, p.Timestamp, p.Latitude, p.Longitude, p.AltFt, p.Source); err != nil {
			return fmt.Errorf("archive: clickhouse append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("archive: clickhouse send: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
