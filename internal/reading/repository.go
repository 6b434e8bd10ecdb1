package reading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tempmon-core/internal/infrastructure/database"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// SQLRepository implements Repository on the temp_data table.
// It works against both SQLite and PostgreSQL.
type SQLRepository struct {
	db *database.DB
}

// NewSQLRepository creates a repository on an open, migrated database.
func NewSQLRepository(db *database.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// LastTwo returns up to two most recent rows for a sensor, newest first.
func (r *SQLRepository) LastTwo(ctx context.Context, sensorID int) ([]Record, error) {
	return r.ListRecent(ctx, sensorID, 2)
}

// InsertIfNotDuplicate stores the reading unless an equal temperature for the
// same sensor already exists within DuplicateWindow of its time.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - rd: Reading to store
//
// Returns:
//   - Record: The inserted row
//   - bool: false if a duplicate was found and nothing was written
//   - error: nil on success, otherwise the underlying database error
func (r *SQLRepository) InsertIfNotDuplicate(ctx context.Context, rd Reading) (Record, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var n int
	err = tx.QueryRowContext(ctx, r.db.Rebind(
		`SELECT COUNT(*) FROM temp_data
		 WHERE sensor_id = ? AND temp = ? AND time BETWEEN ? AND ?`),
		rd.SensorID,
		rd.Temperature,
		r.db.TimeArg(rd.ObservedAt.Add(-DuplicateWindow)),
		r.db.TimeArg(rd.ObservedAt.Add(DuplicateWindow)),
	).Scan(&n)
	if err != nil {
		return Record{}, false, fmt.Errorf("checking duplicates: %w", err)
	}
	if n > 0 {
		return Record{}, false, nil
	}

	rec := Record{
		Temperature: rd.Temperature,
		Time:        rd.ObservedAt.UTC().Truncate(time.Millisecond),
		SensorID:    rd.SensorID,
	}

	err = tx.QueryRowContext(ctx, r.db.Rebind(
		`INSERT INTO temp_data (temp, time, sensor_id) VALUES (?, ?, ?) RETURNING id`),
		rec.Temperature,
		r.db.TimeArg(rec.Time),
		rec.SensorID,
	).Scan(&rec.ID)
	if err != nil {
		return Record{}, false, fmt.Errorf("inserting reading: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, false, fmt.Errorf("committing insert: %w", err)
	}

	return rec, true, nil
}

// TouchLatest moves the newest row of a sensor to time t.
func (r *SQLRepository) TouchLatest(ctx context.Context, sensorID int, t time.Time) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var rec Record
	err = tx.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, temp, time, sensor_id FROM temp_data
		 WHERE sensor_id = ? ORDER BY id DESC LIMIT 1`),
		sensorID,
	).Scan(&rec.ID, &rec.Temperature, &rec.Time, &rec.SensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("sensor %d has no rows", sensorID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("loading latest row: %w", err)
	}

	rec.Time = t.UTC().Truncate(time.Millisecond)
	if _, err := tx.ExecContext(ctx, r.db.Rebind(
		"UPDATE temp_data SET time = ? WHERE id = ?"),
		r.db.TimeArg(rec.Time),
		rec.ID,
	); err != nil {
		return Record{}, fmt.Errorf("updating latest row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("committing update: %w", err)
	}

	return rec, nil
}

// ListRecent returns the newest rows for a sensor, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - sensorID: Sensor to list
//   - limit: Maximum rows (default 50, max 1000)
func (r *SQLRepository) ListRecent(ctx context.Context, sensorID int, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, temp, time, sensor_id FROM temp_data
		 WHERE sensor_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		sensorID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Temperature, &rec.Time, &rec.SensorID); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		rec.Time = rec.Time.UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}

	return records, nil
}

// ListSensors summarises every sensor with stored rows, ascending by id.
func (r *SQLRepository) ListSensors(ctx context.Context) ([]SensorSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.sensor_id, c.n, t.temp, t.time, t.id
		 FROM temp_data t
		 JOIN (SELECT sensor_id, COUNT(*) AS n, MAX(id) AS last_id
		       FROM temp_data GROUP BY sensor_id) c ON t.id = c.last_id
		 ORDER BY t.sensor_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	defer rows.Close()

	var out []SensorSummary
	for rows.Next() {
		var s SensorSummary
		if err := rows.Scan(&s.SensorID, &s.Records, &s.LastTemp, &s.LastTime, &s.LastRecord); err != nil {
			return nil, fmt.Errorf("scanning sensor: %w", err)
		}
		s.LastTime = s.LastTime.UTC()
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensors: %w", err)
	}

	return out, nil
}
