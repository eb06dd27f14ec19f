// Package chantransport implements transport.Transport for a single OS
// process simulating WorldSize peers as goroutines. It is the default
// transport for tests and for cmd/mabmrun's local demonstrations: every
// process synchronizes at each tick boundary via the collective, and here
// that barrier is a shared Hub guarded by a sync.Cond-based generation
// counter instead of real inter-process I/O.
package chantransport

import (
	"fmt"
	"sync"

	"github.com/mabmrun/mabm/pkg/mabmerr"
)

// rootRank is fixed at 0 throughout the core.
const rootRank = 0

// Hub is the shared rendezvous point for one simulation's WorldSize
// goroutines. Every field is guarded by mu; all reads and writes happen
// while holding it, so generation advances and the result snapshot they
// guard are never observed torn.
type Hub struct {
	worldSize int

	mu   sync.Mutex
	cond *sync.Cond

	gatherVals  []any
	gatherCount int
	gatherGen   int

	bcastVal   any
	bcastCount int
	bcastGen   int

	reduceVals   []float64
	reduceResult float64
	reduceCount  int
	reduceGen    int
}

// NewHub returns a Hub for worldSize participants.
func NewHub(worldSize int) *Hub {
	h := &Hub{
		worldSize:  worldSize,
		gatherVals: make([]any, worldSize),
		reduceVals: make([]float64, worldSize),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Transport is one rank's view onto a shared Hub.
type Transport struct {
	hub  *Hub
	rank int
}

// For returns the Transport for rank on this Hub.
func (h *Hub) For(rank int) *Transport {
	return &Transport{hub: h, rank: rank}
}

// Rank returns this peer's rank.
func (t *Transport) Rank() int { return t.rank }

// WorldSize returns the number of participants in the collective.
func (t *Transport) WorldSize() int { return t.hub.worldSize }

// GatherToRoot blocks until every rank has called it this round, then
// returns the full, rank-indexed slice of contributed values to the root
// and nil to everyone else.
func (t *Transport) GatherToRoot(value any) ([]any, error) {
	if t.rank < 0 || t.rank >= t.hub.worldSize {
		return nil, rankOutOfRange(t.rank, t.hub.worldSize)
	}
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	gen := h.gatherGen
	h.gatherVals[t.rank] = value
	h.gatherCount++
	if h.gatherCount == h.worldSize {
		h.gatherCount = 0
		h.gatherGen++
		h.cond.Broadcast()
	} else {
		for h.gatherGen == gen {
			h.cond.Wait()
		}
	}

	if t.rank != rootRank {
		return nil, nil
	}
	result := make([]any, h.worldSize)
	copy(result, h.gatherVals)
	return result, nil
}

// BroadcastFromRoot blocks until every rank has called it this round, then
// returns the root's contributed value to every rank (the root's own
// value argument is the one that counts; non-root callers' arguments are
// ignored).
func (t *Transport) BroadcastFromRoot(value any) (any, error) {
	if t.rank < 0 || t.rank >= t.hub.worldSize {
		return nil, rankOutOfRange(t.rank, t.hub.worldSize)
	}
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if t.rank == rootRank {
		h.bcastVal = value
	}
	gen := h.bcastGen
	h.bcastCount++
	if h.bcastCount == h.worldSize {
		h.bcastCount = 0
		h.bcastGen++
		h.cond.Broadcast()
	} else {
		for h.bcastGen == gen {
			h.cond.Wait()
		}
	}
	return h.bcastVal, nil
}

// ReduceMinToRoot blocks until every rank has contributed a value, then
// returns the minimum across all of them to every rank.
func (t *Transport) ReduceMinToRoot(value float64) (float64, error) {
	if t.rank < 0 || t.rank >= t.hub.worldSize {
		return 0, rankOutOfRange(t.rank, t.hub.worldSize)
	}
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	gen := h.reduceGen
	h.reduceVals[t.rank] = value
	h.reduceCount++
	if h.reduceCount == h.worldSize {
		min := h.reduceVals[0]
		for _, v := range h.reduceVals[1:] {
			if v < min {
				min = v
			}
		}
		h.reduceResult = min
		h.reduceCount = 0
		h.reduceGen++
		h.cond.Broadcast()
	} else {
		for h.reduceGen == gen {
			h.cond.Wait()
		}
	}
	return h.reduceResult, nil
}

func rankOutOfRange(rank, worldSize int) error {
	return fmt.Errorf("chantransport: rank %d out of range [0,%d): %w", rank, worldSize, mabmerr.ErrTransport)
}
