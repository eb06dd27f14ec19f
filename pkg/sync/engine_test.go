package sync

import (
	"sync"
	"testing"

	"github.com/mabmrun/mabm/pkg/directory"
	"github.com/mabmrun/mabm/pkg/element"
	"github.com/mabmrun/mabm/pkg/generator"
	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/transport/chantransport"
)

// counterAgent is a minimal Agent whose Serialize exposes a mutable int,
// used to exercise the full three-stage exchange end to end.
type counterAgent struct {
	id        identity.Identity
	value     int
	neighbors []identity.Identity
}

func (a *counterAgent) ID() identity.Identity            { return a.id }
func (a *counterAgent) Update()                           {}
func (a *counterAgent) Serialize() any                    { return a.value }
func (a *counterAgent) PublishRequests()                  {}
func (a *counterAgent) AddNeighbor(id identity.Identity) { a.neighbors = append(a.neighbors, id) }

type counterShadow struct {
	id    identity.Identity
	value int
}

func (s *counterShadow) ID() identity.Identity { return s.id }
func (s *counterShadow) Apply(payload any) {
	s.value = counterValue(payload)
}

func counterAgentFactory(id identity.Identity, _ ...any) element.Agent {
	return &counterAgent{id: id}
}

func counterShadowFactory(id identity.Identity, payload any) element.Shadow {
	return &counterShadow{id: id, value: counterValue(payload)}
}

// counterValue accepts both a native int (as chantransport passes it
// straight through) and a float64 (as a JSON-backed transport would decode
// a marshaled int into), so these fixtures stay honest about what a real
// transport hands to Apply/ShadowFactory.
func counterValue(payload any) int {
	switch v := payload.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// rig bundles the per-rank state needed to drive an Engine in a test.
type rig struct {
	dir   *directory.Directory
	gen   *generator.Generator
	eng   *Engine
	agent *counterAgent
}

func newRig(mode Mode, rank int, hub *chantransport.Hub) *rig {
	dir := directory.New()
	gen := generator.New(rank)
	gen.Register(0, counterAgentFactory, counterShadowFactory)
	eng := New(mode, rank, hub.For(rank), dir, gen, nil)
	return &rig{dir: dir, gen: gen, eng: eng}
}

func runOnAll(rigs []*rig, fn func(r *rig) error) []error {
	errs := make([]error, len(rigs))
	var wg sync.WaitGroup
	for i, r := range rigs {
		wg.Add(1)
		go func(i int, r *rig) {
			defer wg.Done()
			errs[i] = fn(r)
		}(i, r)
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

func TestCounterValueAcceptsJSONDecodedFloat64(t *testing.T) {
	// chantransport hands counterShadow.Apply a native int, but
	// sqltransport/kafkatransport round-trip every payload through JSON,
	// which always decodes a number into float64.
	if v := counterValue(float64(3)); v != 3 {
		t.Fatalf("counterValue(float64(3)) = %d, want 3", v)
	}
	if v := counterValue(3); v != 3 {
		t.Fatalf("counterValue(3) = %d, want 3", v)
	}
}

func TestExchangeRequestModeResolvesRemoteState(t *testing.T) {
	const worldSize = 3
	hub := chantransport.NewHub(worldSize)
	rigs := make([]*rig, worldSize)
	for r := 0; r < worldSize; r++ {
		rigs[r] = newRig(ModeRequest, r, hub)
	}

	owner := identity.New(0, 0, 1)
	rigs[1].dir.Insert(&counterAgent{id: owner, value: 7})
	rigs[0].eng.Request(owner)
	rigs[2].eng.Request(owner)

	requireNoErrors(t, runOnAll(rigs, func(r *rig) error { return r.eng.Exchange() }))

	for _, rank := range []int{0, 2} {
		el, err := rigs[rank].dir.Lookup(owner)
		if err != nil {
			t.Fatalf("rank %d lookup: %v", rank, err)
		}
		shadow, ok := el.(*counterShadow)
		if !ok {
			t.Fatalf("rank %d: expected *counterShadow, got %T", rank, el)
		}
		if shadow.value != 7 {
			t.Fatalf("rank %d: got value %d, want 7", rank, shadow.value)
		}
	}
}

func TestExchangeWatchModeAutoPromotesAndPushesOnChange(t *testing.T) {
	const worldSize = 2
	hub := chantransport.NewHub(worldSize)
	rigs := make([]*rig, worldSize)
	for r := 0; r < worldSize; r++ {
		rigs[r] = newRig(ModeWatch, r, hub)
	}

	owner := identity.New(0, 0, 0)
	ownerAgent := &counterAgent{id: owner, value: 1}
	rigs[0].dir.Insert(ownerAgent)
	rigs[0].eng.AddOutgoingWatch(owner)
	rigs[1].eng.RequestWatch(owner)

	requireNoErrors(t, runOnAll(rigs, func(r *rig) error { return r.eng.Exchange() }))

	el, err := rigs[1].dir.Lookup(owner)
	if err != nil {
		t.Fatalf("rank 1 lookup: %v", err)
	}
	shadow := el.(*counterShadow)
	if shadow.value != 1 {
		t.Fatalf("got %d, want 1", shadow.value)
	}

	ownerAgent.value = 2
	rigs[0].eng.NotifyStateChange(owner)

	requireNoErrors(t, runOnAll(rigs, func(r *rig) error { return r.eng.Exchange() }))

	if shadow.value != 2 {
		t.Fatalf("after push: got %d, want 2", shadow.value)
	}
}

func TestSynchronizeTopologyInstallsOwnedEdgesAndWatches(t *testing.T) {
	const worldSize = 2
	hub := chantransport.NewHub(worldSize)
	rigs := make([]*rig, worldSize)
	for r := 0; r < worldSize; r++ {
		rigs[r] = newRig(ModeWatch, r, hub)
	}

	watcher := identity.New(0, 0, 0)
	watched := identity.New(0, 0, 1)
	watcherAgent := &counterAgent{id: watcher}
	rigs[0].dir.Insert(watcherAgent)
	rigs[1].dir.Insert(&counterAgent{id: watched, value: 5})

	rigs[0].eng.AddEdge(watcher, watched)

	requireNoErrors(t, runOnAll(rigs, func(r *rig) error { return r.eng.SynchronizeTopology() }))

	if len(watcherAgent.neighbors) != 1 || !watcherAgent.neighbors[0].Equal(watched) {
		t.Fatalf("neighbors: got %v", watcherAgent.neighbors)
	}

	rigs[1].eng.AddOutgoingWatch(watched)
	requireNoErrors(t, runOnAll(rigs, func(r *rig) error { return r.eng.Exchange() }))

	el, err := rigs[0].dir.Lookup(watched)
	if err != nil {
		t.Fatalf("rank 0 lookup: %v", err)
	}
	if el.(*counterShadow).value != 5 {
		t.Fatalf("got %d, want 5", el.(*counterShadow).value)
	}
}

func TestGlobalNextTimeReturnsMinimumToEveryRank(t *testing.T) {
	const worldSize = 3
	hub := chantransport.NewHub(worldSize)
	rigs := make([]*rig, worldSize)
	for r := 0; r < worldSize; r++ {
		rigs[r] = newRig(ModeRequest, r, hub)
	}

	locals := []float64{5.0, 1.5, 3.0}
	results := make([]float64, worldSize)
	errs := make([]error, worldSize)
	var wg sync.WaitGroup
	for r := 0; r < worldSize; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			results[r], errs[r] = rigs[r].eng.GlobalNextTime(locals[r])
		}(r)
	}
	wg.Wait()

	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
		if results[r] != 1.5 {
			t.Fatalf("rank %d: got %v, want 1.5", r, results[r])
		}
	}
}
