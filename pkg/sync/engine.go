// Package sync implements the per-tick synchronization protocol: the
// collective exchange that lets every process resolve the remote agent
// state its local agents asked to read, plus the topology bootstrap and
// global next-time reduction that bracket it.
//
// Engine owns exactly the per-process sync state. Its registration
// methods (Request, RequestWatch, NotifyStateChange, ...) are called by
// agent code during publish_requests()/update(); Exchange is called once
// per tick by the runtime, strictly between scheduler.CollectRequests and
// scheduler.Fire.
package sync

import (
	"fmt"
	"log/slog"

	"github.com/mabmrun/mabm/pkg/directory"
	"github.com/mabmrun/mabm/pkg/element"
	"github.com/mabmrun/mabm/pkg/generator"
	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/mabmerr"
	"github.com/mabmrun/mabm/pkg/transport"
)

// rootRank is the fixed root of every collective this Engine drives.
const rootRank = 0

// Mode selects how remote state is resolved, fixed for the life of the
// Engine.
type Mode int

const (
	// ModeRequest: agents name the remote ids they read every tick via
	// publish_requests(), re-declared each time.
	ModeRequest Mode = iota
	// ModeWatch: agents declare a standing subscription once; the home
	// of each subscribed id pushes fresh state whenever it changes.
	ModeWatch
)

// Engine holds the per-process sync state and drives the per-tick
// collective exchange. Not goroutine-safe — see pkg/scheduler for the
// same single-threaded-per-process rationale.
type Engine struct {
	mode      Mode
	rank      int
	transport transport.Transport
	directory *directory.Directory
	generator *generator.Generator
	logger    *slog.Logger

	requests        map[string]requestMode
	outgoingWatches map[string]struct{}
	incomingWatches map[string]struct{}
	dirtyWatched    map[string]struct{}
	newEdges        []edge
}

// New returns an Engine for this process. logger may be nil, in which
// case slog.Default() is used.
func New(mode Mode, rank int, tr transport.Transport, dir *directory.Directory, gen *generator.Generator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		mode:            mode,
		rank:            rank,
		transport:       tr,
		directory:       dir,
		generator:       gen,
		logger:          logger,
		requests:        make(map[string]requestMode),
		outgoingWatches: make(map[string]struct{}),
		incomingWatches: make(map[string]struct{}),
		dirtyWatched:    make(map[string]struct{}),
	}
}

// Mode returns the fixed resolution mode this Engine was built with.
func (e *Engine) Mode() Mode { return e.mode }

// Request registers interest in id for this tick only. A no-op for ids
// homed on this process (local lookup is free) and for
// ids already upgraded to a standing watch.
func (e *Engine) Request(id identity.Identity) {
	if id.HomeProcess == e.rank {
		return
	}
	key := id.Encode()
	if existing, ok := e.requests[key]; ok && existing == modeWatch {
		return
	}
	e.requests[key] = modePlain
}

// RequestWatch upgrades (or creates) id's entry to a standing watch.
func (e *Engine) RequestWatch(id identity.Identity) {
	if id.HomeProcess == e.rank {
		return
	}
	e.requests[id.Encode()] = modeWatch
}

// AddIncomingWatch records a standing subscription to a remote id without
// going through the request path. SynchronizeTopology does not use it: it
// calls RequestWatch, and Exchange records the incoming watch afterwards.
func (e *Engine) AddIncomingWatch(id identity.Identity) {
	e.incomingWatches[id.Encode()] = struct{}{}
}

// AddOutgoingWatch records that some peer watches a locally owned id.
func (e *Engine) AddOutgoingWatch(id identity.Identity) {
	e.outgoingWatches[id.Encode()] = struct{}{}
}

// NotifyStateChange marks id dirty for this tick's push if a peer is
// watching it. Called by local agent code after mutating state.
func (e *Engine) NotifyStateChange(id identity.Identity) {
	key := id.Encode()
	if _, ok := e.outgoingWatches[key]; ok {
		e.dirtyWatched[key] = struct{}{}
	}
}

// AddEdge buffers a cross-process watch to be installed at the next
// SynchronizeTopology call.
func (e *Engine) AddEdge(watcher, watched identity.Identity) {
	e.newEdges = append(e.newEdges, edge{Watcher: watcher.Encode(), Watched: watched.Encode()})
}

// Exchange runs the three-stage per-tick collective. Must be called
// after agents have registered interest and before Scheduler.Fire.
func (e *Engine) Exchange() error {
	union, err := e.stageA()
	if err != nil {
		return fmt.Errorf("sync: stage A: %w", err)
	}

	full, err := e.stageB(union)
	if err != nil {
		return fmt.Errorf("sync: stage B: %w", err)
	}

	if err := applyStageC(full, e.incomingWatches, e.requests, e.directory, e.generator); err != nil {
		return fmt.Errorf("sync: stage C: %w", err)
	}

	for idStr, mode := range e.requests {
		if mode == modeWatch {
			e.incomingWatches[idStr] = struct{}{}
		}
	}
	e.requests = make(map[string]requestMode)
	e.dirtyWatched = make(map[string]struct{})
	return nil
}

func (e *Engine) stageA() (map[string]requestMode, error) {
	e.logger.Debug("sync: stage A begin", "rank", e.rank, "requests", len(e.requests))
	gathered, err := e.transport.GatherToRoot(e.requests)
	if err != nil {
		return nil, fmt.Errorf("gather requests: %w", err)
	}

	var union map[string]requestMode
	if e.rank == rootRank {
		union = make(map[string]requestMode)
		for _, g := range gathered {
			m, err := normalizeRequests(g)
			if err != nil {
				return nil, err
			}
			union = mergeRequests(union, m)
		}
	}

	wireUnion, err := e.transport.BroadcastFromRoot(union)
	if err != nil {
		return nil, fmt.Errorf("broadcast union: %w", err)
	}
	result, err := normalizeRequests(wireUnion)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("sync: stage A end", "rank", e.rank, "union", len(result))
	return result, nil
}

func (e *Engine) stageB(union map[string]requestMode) (map[string]any, error) {
	answers, newOutgoing, err := buildAnswers(union, e.dirtyWatched, e.directory, e.rank)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("sync: stage B answers", "rank", e.rank, "answers", len(answers))
	for _, id := range newOutgoing {
		e.outgoingWatches[id] = struct{}{}
	}

	gathered, err := e.transport.GatherToRoot(answers)
	if err != nil {
		return nil, fmt.Errorf("gather answers: %w", err)
	}

	var full map[string]any
	if e.rank == rootRank {
		maps := make([]map[string]any, 0, len(gathered))
		for _, g := range gathered {
			m, err := normalizeAnswers(g)
			if err != nil {
				return nil, err
			}
			maps = append(maps, m)
		}
		full = mergeAnswerMaps(maps)
	}

	wireFull, err := e.transport.BroadcastFromRoot(full)
	if err != nil {
		return nil, fmt.Errorf("broadcast answers: %w", err)
	}
	return normalizeAnswers(wireFull)
}

// SynchronizeTopology runs the bootstrap/edge-mutation collective: gather
// every peer's buffered edges, broadcast the union, then each peer
// installs the edges it owns.
func (e *Engine) SynchronizeTopology() error {
	gathered, err := e.transport.GatherToRoot(e.newEdges)
	if err != nil {
		return fmt.Errorf("sync: gather edges: %w", err)
	}

	var all []edge
	if e.rank == rootRank {
		for _, g := range gathered {
			edges, err := normalizeEdges(g)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			all = append(all, edges...)
		}
	}

	wireAll, err := e.transport.BroadcastFromRoot(all)
	if err != nil {
		return fmt.Errorf("sync: broadcast edges: %w", err)
	}
	allEdges, err := normalizeEdges(wireAll)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	for _, ed := range allEdges {
		watcher, err := identity.Decode(ed.Watcher)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		if watcher.HomeProcess != e.rank {
			continue
		}
		watched, err := identity.Decode(ed.Watched)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		el, err := e.directory.Lookup(watcher)
		if err != nil {
			return fmt.Errorf("sync: topology watcher %s: %w", ed.Watcher, err)
		}
		agent, ok := el.(element.Agent)
		if !ok {
			return fmt.Errorf("sync: topology watcher %s is not an Agent: %w", ed.Watcher, mabmerr.ErrUnknownElement)
		}
		agent.AddNeighbor(watched)
		e.RequestWatch(watched)
	}

	e.newEdges = nil
	return nil
}

// GlobalNextTime reduces every peer's local next-fire time to the
// minimum and returns it, already broadcast to every rank by the
// transport's ReduceMinToRoot contract.
func (e *Engine) GlobalNextTime(localNext float64) (float64, error) {
	global, err := e.transport.ReduceMinToRoot(localNext)
	if err != nil {
		return 0, fmt.Errorf("sync: reduce next time: %w", err)
	}
	return global, nil
}
