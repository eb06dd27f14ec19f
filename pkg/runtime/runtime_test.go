package runtime_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/mabmrun/mabm/pkg/directory"
	"github.com/mabmrun/mabm/pkg/element"
	"github.com/mabmrun/mabm/pkg/generator"
	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/runtime"
	"github.com/mabmrun/mabm/pkg/scheduler"
	syncengine "github.com/mabmrun/mabm/pkg/sync"
	"github.com/mabmrun/mabm/pkg/transport/chantransport"
)

// knowerAgent is a minimal rumor-style Agent: state 0 (ignorant) or 1
// (knows), updated from neighbor snapshots each tick.
type knowerAgent struct {
	id        identity.Identity
	value     int
	neighbors []identity.Identity
	handle    element.Handle
}

func (a *knowerAgent) ID() identity.Identity { return a.id }

func (a *knowerAgent) Update() {
	if a.value != 0 || len(a.neighbors) == 0 {
		return
	}
	heard := false
	for _, n := range a.neighbors {
		el, err := a.handle.GetElement(n)
		if err != nil {
			continue
		}
		if state(el) == 1 {
			heard = true
			break
		}
	}
	if heard {
		a.value = 1
		a.handle.NotifyStateChange(a.id)
		return
	}
	a.handle.AddEvent(a.handle.Time()+1, a)
}

func (a *knowerAgent) Serialize() any { return a.value }

func (a *knowerAgent) PublishRequests() {
	for _, n := range a.neighbors {
		a.handle.Request(n)
	}
}

func (a *knowerAgent) AddNeighbor(id identity.Identity) { a.neighbors = append(a.neighbors, id) }

type knowerShadow struct {
	id    identity.Identity
	value int
}

func (s *knowerShadow) ID() identity.Identity { return s.id }
func (s *knowerShadow) Apply(payload any) {
	s.value = knowerValue(payload)
}

func state(el element.Element) int {
	switch v := el.(type) {
	case *knowerAgent:
		return v.value
	case *knowerShadow:
		return v.value
	default:
		return 0
	}
}

func knowerAgentFactory(id identity.Identity, _ ...any) element.Agent {
	return &knowerAgent{id: id}
}

func knowerShadowFactory(id identity.Identity, payload any) element.Shadow {
	return &knowerShadow{id: id, value: knowerValue(payload)}
}

// knowerValue accepts both a native int (chantransport) and a float64 (a
// JSON-backed transport decoding a marshaled int), matching what
// PersonShadow.Apply has to tolerate in the real rumor model.
func knowerValue(payload any) int {
	switch v := payload.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func newTestRuntime(mode syncengine.Mode, rank int, hub *chantransport.Hub) *runtime.Runtime {
	dir := directory.New()
	gen := generator.New(rank)
	gen.Register(0, knowerAgentFactory, knowerShadowFactory)
	sched := scheduler.New(rand.New(rand.NewSource(int64(rank) + 1)))
	return runtime.New(mode, rank, hub.For(rank), dir, gen, sched, nil)
}

func runOnAll(rts []*runtime.Runtime, fn func(rt *runtime.Runtime) error) []error {
	errs := make([]error, len(rts))
	var wg sync.WaitGroup
	for i, rt := range rts {
		wg.Add(1)
		go func(i int, rt *runtime.Runtime) {
			defer wg.Done()
			errs[i] = fn(rt)
		}(i, rt)
	}
	wg.Wait()
	return errs
}

func requireNoErrors(t *testing.T, errs []error) {
	t.Helper()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", i, err)
		}
	}
}

func TestKnowerValueAcceptsJSONDecodedFloat64(t *testing.T) {
	// chantransport hands knowerShadow.Apply a native int, but
	// sqltransport/kafkatransport round-trip every payload through JSON,
	// which always decodes a number into float64.
	if v := knowerValue(float64(1)); v != 1 {
		t.Fatalf("knowerValue(float64(1)) = %d, want 1", v)
	}
	if v := knowerValue(1); v != 1 {
		t.Fatalf("knowerValue(1) = %d, want 1", v)
	}
}

func TestTickPropagatesKnowledgeAcrossAWatchedEdge(t *testing.T) {
	const worldSize = 2
	hub := chantransport.NewHub(worldSize)
	rts := []*runtime.Runtime{
		newTestRuntime(syncengine.ModeWatch, 0, hub),
		newTestRuntime(syncengine.ModeWatch, 1, hub),
	}

	idA := identity.New(0, 0, 0)
	idB := identity.New(0, 0, 1)

	agentA := &knowerAgent{id: idA, value: 0, handle: rts[0]}
	rts[0].Directory().Insert(agentA)
	rts[0].AddEvent(0, agentA)

	agentB := &knowerAgent{id: idB, value: 1, handle: rts[1]}
	rts[1].Directory().Insert(agentB)

	rts[0].Engine().AddEdge(idA, idB)
	requireNoErrors(t, runOnAll(rts, func(rt *runtime.Runtime) error { return rt.SynchronizeTopology() }))

	requireNoErrors(t, runOnAll(rts, func(rt *runtime.Runtime) error { return rt.Tick() }))

	if agentA.value != 1 {
		t.Fatalf("agentA.value: got %d, want 1", agentA.value)
	}
	if rts[0].Ticks() != 1 {
		t.Fatalf("Ticks: got %d, want 1", rts[0].Ticks())
	}
}

func TestRunStopsWhenGlobalNextTimeIsInfinity(t *testing.T) {
	const worldSize = 2
	hub := chantransport.NewHub(worldSize)
	rts := []*runtime.Runtime{
		newTestRuntime(syncengine.ModeRequest, 0, hub),
		newTestRuntime(syncengine.ModeRequest, 1, hub),
	}

	ranCounts := make([]int, worldSize)
	errs := make([]error, worldSize)
	var wg sync.WaitGroup
	for i, rt := range rts {
		wg.Add(1)
		go func(i int, rt *runtime.Runtime) {
			defer wg.Done()
			ranCounts[i], errs[i] = rt.Run(0)
		}(i, rt)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", i, err)
		}
		if ranCounts[i] != 1 {
			t.Fatalf("rank %d: ran %d ticks, want 1", i, ranCounts[i])
		}
	}
}

func TestPostUpdateHookRunsEveryTick(t *testing.T) {
	const worldSize = 1
	hub := chantransport.NewHub(worldSize)
	rt := newTestRuntime(syncengine.ModeRequest, 0, hub)

	id := identity.New(0, 0, 0)
	agent := &knowerAgent{id: id, value: 0, handle: rt}
	rt.Directory().Insert(agent)
	rt.AddEvent(0, agent)
	rt.AddEvent(1, agent)

	calls := 0
	rt.SetPostUpdate(func(*runtime.Runtime) { calls++ })

	ran, err := rt.Run(5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != ran {
		t.Fatalf("calls: got %d, want %d (ran)", calls, ran)
	}
	if ran < 1 {
		t.Fatal("expected at least one tick")
	}
}

func TestGlobalNextTimeAlignsAllRanksToMinimum(t *testing.T) {
	const worldSize = 3
	hub := chantransport.NewHub(worldSize)
	rts := make([]*runtime.Runtime, worldSize)
	localTimes := []float64{5, 3, 7}
	for r := 0; r < worldSize; r++ {
		rts[r] = newTestRuntime(syncengine.ModeRequest, r, hub)
		id := identity.New(0, 0, r)
		agent := &knowerAgent{id: id, value: 1, handle: rts[r]}
		rts[r].Directory().Insert(agent)
		rts[r].AddEvent(localTimes[r], agent)
	}

	requireNoErrors(t, runOnAll(rts, func(rt *runtime.Runtime) error { return rt.Tick() }))

	for r, rt := range rts {
		if rt.Time() != 0 {
			t.Fatalf("rank %d: current time before second tick advance: got %v, want 0", r, rt.Time())
		}
	}

	requireNoErrors(t, runOnAll(rts, func(rt *runtime.Runtime) error { return rt.Tick() }))

	for r, rt := range rts {
		if rt.Time() != 3 {
			t.Fatalf("rank %d: got time %v, want 3", r, rt.Time())
		}
	}
}
