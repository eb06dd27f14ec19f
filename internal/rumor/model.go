package rumor

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/runtime"
	"github.com/mabmrun/mabm/pkg/topology"
)

// BuildOptions configures Build's population construction, translated
// from rumor_model/model.go's create_agent/build_agents: how many
// Persons this process hosts and what fraction start as knowers.
type BuildOptions struct {
	PerProcess  int
	PKnowledge  float64
	InitialSeed int64
}

// Build constructs PerProcess Persons on rt's process, registers the
// type with rt's Generator, wires each Person's neighbors from adj (as
// produced by pkg/topology.ReadAdjacency), and installs the cross-process
// edges via rt.Engine().AddEdge — mirroring create_agent's request_watch
// calls for foreign neighbors, deferred to the caller's
// SynchronizeTopology call.
//
// adj must be indexed by this process's local agent ordinal (adj[i] is
// agent i's neighbor list); Build does not reread the file itself.
func Build(rt *runtime.Runtime, adj [][]identity.Identity, opts BuildOptions) ([]*Person, error) {
	if opts.PerProcess <= 0 {
		return nil, fmt.Errorf("rumor: PerProcess must be positive, got %d", opts.PerProcess)
	}
	if len(adj) != opts.PerProcess {
		return nil, fmt.Errorf("rumor: adjacency has %d rows, want %d", len(adj), opts.PerProcess)
	}

	gen := rt.Generator()
	gen.Register(Type, AgentFactory, NewPersonShadow)

	rng := rand.New(rand.NewSource(opts.InitialSeed + int64(rt.Rank())))

	people := make([]*Person, 0, opts.PerProcess)
	for i := 0; i < opts.PerProcess; i++ {
		id, err := gen.Mint(Type)
		if err != nil {
			return nil, fmt.Errorf("rumor: mint agent %d: %w", i, err)
		}
		state := 0
		if rng.Float64() < opts.PKnowledge {
			state = 1
		}
		person := NewPerson(id, state, rt, rng)
		rt.Directory().Insert(person)
		people = append(people, person)
	}

	for i, neighbors := range adj {
		watcher := people[i].ID()
		for _, watched := range neighbors {
			if watched.HomeProcess == rt.Rank() {
				people[i].AddNeighbor(watched)
				continue
			}
			rt.Engine().AddEdge(watcher, watched)
		}
	}

	return people, nil
}

// BuildFromAdjacencyFile reads adj with pkg/topology.ReadAdjacency, slices
// out the rows owned by rt's process (rows [rank*perProcess,
// (rank+1)*perProcess)), and calls Build.
func BuildFromAdjacencyFile(rt *runtime.Runtime, adj io.Reader, opts BuildOptions) ([]*Person, error) {
	all, err := topology.ReadAdjacency(adj, opts.PerProcess)
	if err != nil {
		return nil, fmt.Errorf("rumor: %w", err)
	}
	start := rt.Rank() * opts.PerProcess
	end := start + opts.PerProcess
	if end > len(all) {
		return nil, fmt.Errorf("rumor: adjacency file has %d rows, need rows [%d,%d)", len(all), start, end)
	}
	return Build(rt, all[start:end], opts)
}

// Saturation returns the fraction of people who know the rumor, for the
// CLI's end-of-run status output — post_update_model's saturation print,
// local-process-only (cmd/mabmrun reduces across ranks itself since the
// core's Transport is the only cross-process channel available to it).
func Saturation(people []*Person) float64 {
	if len(people) == 0 {
		return 0
	}
	known := 0
	for _, p := range people {
		known += p.State()
	}
	return float64(known) / float64(len(people))
}
