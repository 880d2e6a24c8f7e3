package calibration

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS calibration_results (
		id                    TEXT PRIMARY KEY,
		distance              DOUBLE NOT NULL UNIQUE,
		avg_raw_rssi          DOUBLE,
		avg_filtered_rssi     DOUBLE,
		std_deviation         DOUBLE,
		sample_count          BIGINT,
		avg_battery_mv        DOUBLE,
		comment               TEXT,
		created_at_ms         BIGINT
	);
`

// SQLiteStore keeps results in a calibration_results table.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save replaces the table contents in one transaction.
func (s *SQLiteStore) Save(results map[float64]Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM calibration_results`); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO calibration_results (
			id, distance, avg_raw_rssi, avg_filtered_rssi, std_deviation,
			sample_count, avg_battery_mv, comment, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range sortedResults(results) {
		if _, err := stmt.Exec(
			r.ID, r.Distance, r.AverageRawRssi, r.AverageFilteredRssi, r.StdDeviation,
			r.SampleCount, r.AverageBatteryMv, r.Comment, r.CreatedAtMs,
		); err != nil {
			return fmt.Errorf("insert %.2fm: %w", r.Distance, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load() (map[float64]Result, error) {
	rows, err := s.db.Query(`
		SELECT id, distance, avg_raw_rssi, avg_filtered_rssi, std_deviation,
		       sample_count, avg_battery_mv, comment, created_at_ms
		FROM calibration_results
		ORDER BY distance`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make(map[float64]Result)
	for rows.Next() {
		var r Result
		var comment sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Distance, &r.AverageRawRssi, &r.AverageFilteredRssi, &r.StdDeviation,
			&r.SampleCount, &r.AverageBatteryMv, &comment, &r.CreatedAtMs,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Comment = comment.String
		out[r.Distance] = r
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM calibration_results`); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	return nil
}
