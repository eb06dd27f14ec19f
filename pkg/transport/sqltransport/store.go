// Package sqltransport implements transport.Transport over a shared SQLite
// database in WAL mode: instead of real network sockets, every process
// opens the same file and the database itself is the broadcast medium,
// exactly as pkg/store did for clockmail's agent log. Each collective kind
// (gather, broadcast, reduce-min) gets its own table and a
// per-process round counter; a rank contributes by inserting its row for
// the current round and polls until every peer's row has landed.
package sqltransport

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// store owns the SQLite connection shared by all collective kinds a
// Transport drives.
type store struct {
	db *sql.DB
}

// openStore opens (or creates) the database at path and migrates its
// schema. WAL mode plus a generous busy_timeout is what lets many
// processes hit the same file concurrently without SQLITE_BUSY aborting
// every other writer.
func openStore(path string) (*store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqltransport: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqltransport: migrate: %w", err)
	}
	return s, nil
}

func (s *store) Close() error { return s.db.Close() }

func (s *store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS gather_rows (
		kind    TEXT NOT NULL,
		round   INTEGER NOT NULL,
		rank    INTEGER NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (kind, round, rank)
	);

	CREATE TABLE IF NOT EXISTS broadcast_rows (
		kind    TEXT NOT NULL,
		round   INTEGER NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (kind, round)
	);

	CREATE TABLE IF NOT EXISTS reduce_rows (
		round INTEGER NOT NULL,
		rank  INTEGER NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (round, rank)
	);

	CREATE TABLE IF NOT EXISTS progress (
		kind  TEXT NOT NULL,
		rank  INTEGER NOT NULL,
		round INTEGER NOT NULL,
		PRIMARY KEY (kind, rank)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// insertGatherRow records this rank's contribution for round under kind.
func (s *store) insertGatherRow(kind string, round, rank int, payload string) error {
	return s.retryOp(roundWriteRetryConfig, func() error {
		_, err := s.db.Exec(
			`INSERT INTO gather_rows (kind, round, rank, payload) VALUES (?, ?, ?, ?)
			 ON CONFLICT(kind, round, rank) DO UPDATE SET payload = excluded.payload`,
			kind, round, rank, payload,
		)
		return err
	})
}

// gatherRowCount returns how many ranks have contributed to round under kind.
func (s *store) gatherRowCount(kind string, round int) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM gather_rows WHERE kind = ? AND round = ?`, kind, round,
	).Scan(&n)
	return n, err
}

// gatherRowsOrdered returns the payloads for round under kind, indexed by
// rank (payloads[i] is rank i's contribution).
func (s *store) gatherRowsOrdered(kind string, round, worldSize int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT rank, payload FROM gather_rows WHERE kind = ? AND round = ? ORDER BY rank`, kind, round,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, worldSize)
	for rows.Next() {
		var rank int
		var payload string
		if err := rows.Scan(&rank, &payload); err != nil {
			return nil, err
		}
		if rank >= 0 && rank < worldSize {
			out[rank] = payload
		}
	}
	return out, rows.Err()
}

// insertBroadcastRow records the root's value for round under kind.
func (s *store) insertBroadcastRow(kind string, round int, payload string) error {
	return s.retryOp(roundWriteRetryConfig, func() error {
		_, err := s.db.Exec(
			`INSERT INTO broadcast_rows (kind, round, payload) VALUES (?, ?, ?)
			 ON CONFLICT(kind, round) DO UPDATE SET payload = excluded.payload`,
			kind, round, payload,
		)
		return err
	})
}

// broadcastRow returns the root's value for round under kind, and whether
// it has been written yet.
func (s *store) broadcastRow(kind string, round int) (string, bool, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM broadcast_rows WHERE kind = ? AND round = ?`, kind, round,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

// insertReduceRow records this rank's value for round.
func (s *store) insertReduceRow(round, rank int, value float64) error {
	return s.retryOp(roundWriteRetryConfig, func() error {
		_, err := s.db.Exec(
			`INSERT INTO reduce_rows (round, rank, value) VALUES (?, ?, ?)
			 ON CONFLICT(round, rank) DO UPDATE SET value = excluded.value`,
			round, rank, value,
		)
		return err
	})
}

// reduceValues returns every contributed value for round.
func (s *store) reduceValues(round int) ([]float64, error) {
	rows, err := s.db.Query(`SELECT value FROM reduce_rows WHERE round = ?`, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// reduceRowCount returns how many ranks have contributed to round.
func (s *store) reduceRowCount(round int) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reduce_rows WHERE round = ?`, round).Scan(&n)
	return n, err
}

// recordProgress marks rank as having completed round under kind, for
// frontier-based garbage collection (frontier.go).
func (s *store) recordProgress(kind string, rank, round int) error {
	return s.retryOp(pointstampRetryConfig, func() error {
		_, err := s.db.Exec(
			`INSERT INTO progress (kind, rank, round) VALUES (?, ?, ?)
			 ON CONFLICT(kind, rank) DO UPDATE SET round = excluded.round`,
			kind, rank, round,
		)
		return err
	})
}

// activePointstamps returns the most recently completed round for every
// rank that has reported progress under kind.
func (s *store) activePointstamps(kind string) ([]pointstamp, error) {
	rows, err := s.db.Query(`SELECT rank, round FROM progress WHERE kind = ?`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pointstamp
	for rows.Next() {
		var p pointstamp
		if err := rows.Scan(&p.rank, &p.round); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// pruneRoundsBelow deletes gather/broadcast/reduce rows for kind strictly
// older than floor, once every rank is known to have passed them.
func (s *store) pruneRoundsBelow(kind string, floor int) error {
	return s.retryOp(pointstampRetryConfig, func() error {
		if _, err := s.db.Exec(`DELETE FROM gather_rows WHERE kind = ? AND round < ?`, kind, floor); err != nil {
			return err
		}
		if _, err := s.db.Exec(`DELETE FROM broadcast_rows WHERE kind = ? AND round < ?`, kind, floor); err != nil {
			return err
		}
		if kind == reduceKind {
			_, err := s.db.Exec(`DELETE FROM reduce_rows WHERE round < ?`, floor)
			return err
		}
		return nil
	})
}
