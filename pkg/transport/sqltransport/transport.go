package sqltransport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mabmrun/mabm/pkg/mabmerr"
)

const (
	gatherKind    = "gather"
	broadcastKind = "broadcast"
	reduceKind    = "reduce"
	rootRank      = 0
)

// Config controls polling cadence and round garbage collection.
type Config struct {
	// PollInterval is how often a blocked collective call re-checks the
	// database for the rows it is waiting on.
	PollInterval time.Duration
	// PollTimeout bounds how long a call waits before giving up: a
	// collective that cannot complete for every peer must fail the whole
	// simulation rather than hang forever.
	PollTimeout time.Duration
	// KeepRounds is how many rounds behind the computed frontier the root
	// retains before pruning, as a safety margin for stragglers.
	KeepRounds int
}

func defaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  30 * time.Second,
		KeepRounds:   2,
	}
}

// Option configures a Transport at Open time.
type Option func(*Transport)

// WithConfig overrides the default polling and GC configuration.
func WithConfig(cfg Config) Option { return func(t *Transport) { t.cfg = cfg } }

// WithLogger overrides the default slog logger used for GC diagnostics.
func WithLogger(l *slog.Logger) Option { return func(t *Transport) { t.logger = l } }

// Transport implements transport.Transport over a shared SQLite database.
// Every process in the collective opens the same path; rows in
// gather_rows/broadcast_rows/reduce_rows are the wire.
type Transport struct {
	s         *store
	rank      int
	worldSize int
	cfg       Config
	logger    *slog.Logger

	gatherRound    roundCounter
	broadcastRound roundCounter
	reduceRound    roundCounter
}

// Open opens (or creates) the shared database at path for rank within a
// worldSize-peer collective.
func Open(path string, rank, worldSize int, opts ...Option) (*Transport, error) {
	s, err := openStore(path)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		s:         s,
		rank:      rank,
		worldSize: worldSize,
		cfg:       defaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Close releases the underlying database connection.
func (t *Transport) Close() error { return t.s.Close() }

// Rank returns this process's rank.
func (t *Transport) Rank() int { return t.rank }

// WorldSize returns the number of peers in the collective.
func (t *Transport) WorldSize() int { return t.worldSize }

// GatherToRoot implements transport.Transport.
func (t *Transport) GatherToRoot(value any) ([]any, error) {
	round := t.gatherRound.advance()

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("sqltransport: marshal gather payload: %w", err)
	}
	if err := t.s.insertGatherRow(gatherKind, round, t.rank, string(payload)); err != nil {
		return nil, fmt.Errorf("sqltransport: insert gather row: %w: %w", err, mabmerr.ErrTransport)
	}
	if err := t.awaitCount(func() (int, error) { return t.s.gatherRowCount(gatherKind, round) }); err != nil {
		return nil, err
	}
	t.noteProgress(gatherKind, round)

	if t.rank != rootRank {
		return nil, nil
	}
	raw, err := t.s.gatherRowsOrdered(gatherKind, round, t.worldSize)
	if err != nil {
		return nil, fmt.Errorf("sqltransport: read gather rows: %w: %w", err, mabmerr.ErrTransport)
	}
	result := make([]any, t.worldSize)
	for rank, r := range raw {
		if r == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			return nil, fmt.Errorf("sqltransport: decode gather payload from rank %d: %w", rank, err)
		}
		result[rank] = v
	}
	return result, nil
}

// BroadcastFromRoot implements transport.Transport.
func (t *Transport) BroadcastFromRoot(value any) (any, error) {
	round := t.broadcastRound.advance()

	if t.rank == rootRank {
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("sqltransport: marshal broadcast payload: %w", err)
		}
		if err := t.s.insertBroadcastRow(broadcastKind, round, string(payload)); err != nil {
			return nil, fmt.Errorf("sqltransport: insert broadcast row: %w: %w", err, mabmerr.ErrTransport)
		}
	}

	deadline := time.Now().Add(t.cfg.PollTimeout)
	var payload string
	for {
		p, ok, err := t.s.broadcastRow(broadcastKind, round)
		if err != nil {
			return nil, fmt.Errorf("sqltransport: read broadcast row: %w: %w", err, mabmerr.ErrTransport)
		}
		if ok {
			payload = p
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("sqltransport: broadcast round %d timed out: %w", round, mabmerr.ErrTransport)
		}
		time.Sleep(t.cfg.PollInterval)
	}
	t.noteProgress(broadcastKind, round)

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, fmt.Errorf("sqltransport: decode broadcast payload: %w", err)
	}
	return v, nil
}

// ReduceMinToRoot implements transport.Transport. Every rank, not just
// root, computes the minimum locally once all contributions have landed.
func (t *Transport) ReduceMinToRoot(value float64) (float64, error) {
	round := t.reduceRound.advance()

	if err := t.s.insertReduceRow(round, t.rank, value); err != nil {
		return 0, fmt.Errorf("sqltransport: insert reduce row: %w: %w", err, mabmerr.ErrTransport)
	}
	if err := t.awaitCount(func() (int, error) { return t.s.reduceRowCount(round) }); err != nil {
		return 0, err
	}
	t.noteProgress(reduceKind, round)

	values, err := t.s.reduceValues(round)
	if err != nil {
		return 0, fmt.Errorf("sqltransport: read reduce rows: %w: %w", err, mabmerr.ErrTransport)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("sqltransport: reduce round %d has no rows: %w", round, mabmerr.ErrTransport)
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min, nil
}

// awaitCount blocks until count() reports every peer's contribution or
// PollTimeout elapses.
func (t *Transport) awaitCount(count func() (int, error)) error {
	deadline := time.Now().Add(t.cfg.PollTimeout)
	for {
		n, err := count()
		if err != nil {
			return fmt.Errorf("sqltransport: poll round completion: %w: %w", err, mabmerr.ErrTransport)
		}
		if n >= t.worldSize {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sqltransport: round did not complete within %s: %w", t.cfg.PollTimeout, mabmerr.ErrTransport)
		}
		time.Sleep(t.cfg.PollInterval)
	}
}

// noteProgress records this rank's completion of round under kind and, if
// this is the root and every rank has now reported progress, prunes rows
// the frontier shows are unreachable (see frontier.go). GC failures are
// logged, never fatal: stale rows are a disk-space concern, not a
// correctness one.
func (t *Transport) noteProgress(kind string, round int) {
	if err := t.s.recordProgress(kind, t.rank, round); err != nil {
		t.logger.Warn("sqltransport: record progress failed", "kind", kind, "rank", t.rank, "round", round, "err", err)
		return
	}
	if t.rank != rootRank {
		return
	}

	active, err := t.s.activePointstamps(kind)
	if err != nil {
		t.logger.Warn("sqltransport: read pointstamps failed", "kind", kind, "err", err)
		return
	}
	if len(active) < t.worldSize {
		return
	}
	min, ok := frontier(active)
	if !ok {
		return
	}
	floor := min - t.cfg.KeepRounds
	if floor <= 0 {
		return
	}
	if err := t.s.pruneRoundsBelow(kind, floor); err != nil {
		t.logger.Warn("sqltransport: prune rounds failed", "kind", kind, "floor", floor, "err", err)
	}
}
