// Package runtime drives the per-tick model loop: collect requests, run
// the sync exchange, fire due events, invoke the model's optional
// post-update hook, then reduce the next global time. It also implements
// element.Handle, the narrow capability surface agent code uses to reach
// back into the model instead of a shared God object.
package runtime

import (
	"fmt"
	"log/slog"

	"github.com/mabmrun/mabm/pkg/directory"
	"github.com/mabmrun/mabm/pkg/element"
	"github.com/mabmrun/mabm/pkg/generator"
	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/scheduler"
	"github.com/mabmrun/mabm/pkg/sync"
	"github.com/mabmrun/mabm/pkg/transport"
)

// PostUpdateHook is invoked once per tick, after Scheduler.Fire, with the
// Runtime that just fired. Model-defined; may be nil.
type PostUpdateHook func(rt *Runtime)

// Runtime orchestrates one process's simulation: a Directory, a Generator,
// a Scheduler, a sync.Engine, and the Transport they share. Not
// goroutine-safe, for the same single-threaded-per-process reason as its
// collaborators.
type Runtime struct {
	rank      int
	directory *directory.Directory
	generator *generator.Generator
	scheduler *scheduler.Scheduler
	engine    *sync.Engine
	transport transport.Transport
	logger    *slog.Logger

	postUpdate PostUpdateHook

	currentTime scheduler.Time
	nextTime    scheduler.Time
	haveNext    bool
	ticks       int
}

// New returns a Runtime for this process. logger may be nil, in which
// case slog.Default() is used. mode selects the sync.Engine's resolution
// protocol (request vs watch), fixed for the run.
func New(mode sync.Mode, rank int, tr transport.Transport, dir *directory.Directory, gen *generator.Generator, sched *scheduler.Scheduler, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		rank:      rank,
		directory: dir,
		generator: gen,
		scheduler: sched,
		engine:    sync.New(mode, rank, tr, dir, gen, logger),
		transport: tr,
		logger:    logger,
	}
}

// SetPostUpdate installs the optional per-tick hook, run after events fire.
func (rt *Runtime) SetPostUpdate(hook PostUpdateHook) { rt.postUpdate = hook }

// Engine exposes the underlying sync.Engine so a model builder can call
// AddEdge/SynchronizeTopology/RequestWatch during setup, before Run starts.
func (rt *Runtime) Engine() *sync.Engine { return rt.engine }

// Directory exposes the underlying Directory for model construction.
func (rt *Runtime) Directory() *directory.Directory { return rt.directory }

// Generator exposes the underlying Generator for model construction.
func (rt *Runtime) Generator() *generator.Generator { return rt.generator }

// Scheduler exposes the underlying Scheduler for model construction.
func (rt *Runtime) Scheduler() *scheduler.Scheduler { return rt.scheduler }

// Rank returns this process's rank.
func (rt *Runtime) Rank() int { return rt.rank }

// Ticks returns the number of ticks executed so far by Tick/Run.
func (rt *Runtime) Ticks() int { return rt.ticks }

// SynchronizeTopology runs the topology bootstrap collective. Called once
// after agents are built, before the first Tick.
func (rt *Runtime) SynchronizeTopology() error {
	return rt.engine.SynchronizeTopology()
}

// --- element.Handle ---

// AddEvent schedules e to fire at time.
func (rt *Runtime) AddEvent(time float64, e element.Agent) {
	rt.scheduler.AddEvent(time, e)
}

// NotifyStateChange signals that a local agent's state changed this tick.
func (rt *Runtime) NotifyStateChange(id identity.Identity) {
	rt.engine.NotifyStateChange(id)
}

// Request registers one-shot interest in id, resolved at the next sync.
func (rt *Runtime) Request(id identity.Identity) {
	rt.engine.Request(id)
}

// RequestWatch registers (or upgrades to) a standing subscription on id.
func (rt *Runtime) RequestWatch(id identity.Identity) {
	rt.engine.RequestWatch(id)
}

// GetElement returns the Element currently representing id on this
// process.
func (rt *Runtime) GetElement(id identity.Identity) (element.Element, error) {
	return rt.directory.Lookup(id)
}

// Time returns the current simulated time.
func (rt *Runtime) Time() float64 { return rt.currentTime }

var _ element.Handle = (*Runtime)(nil)

// Tick runs one full iteration of the model loop:
//  1. advance current_time to the previously computed next_time (if any),
//  2. collect_requests in request mode,
//  3. run the sync exchange,
//  4. fire due events,
//  5. invoke the post-update hook,
//  6. reduce the next global time.
func (rt *Runtime) Tick() error {
	if rt.haveNext {
		rt.currentTime = rt.nextTime
	}

	if rt.engine.Mode() == sync.ModeRequest {
		rt.scheduler.CollectRequests(rt.currentTime)
	}

	if err := rt.engine.Exchange(); err != nil {
		return fmt.Errorf("runtime: tick %d: %w", rt.ticks, err)
	}

	rt.scheduler.Fire(rt.currentTime)
	rt.ticks++

	if rt.postUpdate != nil {
		rt.postUpdate(rt)
	}

	localNext := rt.scheduler.NextTime()
	globalNext, err := rt.engine.GlobalNextTime(localNext)
	if err != nil {
		return fmt.Errorf("runtime: tick %d: %w", rt.ticks, err)
	}
	rt.nextTime = globalNext
	rt.haveNext = true

	rt.logger.Debug("runtime: tick complete", "rank", rt.rank, "tick", rt.ticks, "time", rt.currentTime, "next", rt.nextTime)
	return nil
}

// Run repeats Tick until the global next time is scheduler.Infinity or
// maxTicks ticks have run, whichever comes first. maxTicks <= 0 means no
// limit. It returns the number of ticks actually executed.
func (rt *Runtime) Run(maxTicks int) (int, error) {
	ran := 0
	for maxTicks <= 0 || ran < maxTicks {
		if rt.haveNext && rt.nextTime == scheduler.Infinity {
			break
		}
		if err := rt.Tick(); err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}
