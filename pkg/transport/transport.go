// Package transport defines the thin collective interface the sync engine
// drives every tick: gather-to-root, broadcast-from-root, and
// reduce-min-to-root over a fixed set of peer processes numbered
// 0..WorldSize-1. Three backends implement it: chantransport (in-process,
// for tests and single-binary runs), sqltransport (a shared SQLite
// database as the broadcast medium) and kafkatransport (real topics for a
// genuinely distributed deployment).
//
// Implementations must be reliable, in-order per peer-pair, and must not
// deliver a partial payload — a collective either completes for every
// peer or the whole simulation aborts.
package transport

// Transport is the environment-provided collective primitive the core
// requires. Every method blocks until the collective completes.
type Transport interface {
	// Rank returns this process's rank in [0, WorldSize).
	Rank() int

	// WorldSize returns the number of peers in the collective.
	WorldSize() int

	// GatherToRoot sends value to the root and returns the values from
	// every peer (indexed by rank) on the root; non-root callers receive
	// nil. value must be a transport-serializable map or slice.
	GatherToRoot(value any) ([]any, error)

	// BroadcastFromRoot distributes the root's value to every peer,
	// including the root itself, which gets back exactly what it passed
	// in.
	BroadcastFromRoot(value any) (any, error)

	// ReduceMinToRoot gathers value from every peer and returns the
	// minimum to every peer (not just root) — the global next-fire time
	// needs to be known everywhere, so unlike GatherToRoot this one
	// already includes the implicit broadcast.
	ReduceMinToRoot(value float64) (float64, error)
}

// Note on scalars vs elements: a Transport never resolves plain model
// scalars (tax rates, thresholds, config values) through the Directory.
// Only values encodable as identity.Identity belong in a
// GatherToRoot/BroadcastFromRoot payload keyed by canonical id string.
