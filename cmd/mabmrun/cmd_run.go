package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/mabmrun/mabm/internal/rumor"
	"github.com/mabmrun/mabm/pkg/config"
	"github.com/mabmrun/mabm/pkg/directory"
	"github.com/mabmrun/mabm/pkg/generator"
	"github.com/mabmrun/mabm/pkg/runtime"
	"github.com/mabmrun/mabm/pkg/scheduler"
	syncengine "github.com/mabmrun/mabm/pkg/sync"
	"github.com/mabmrun/mabm/pkg/topology"
	"github.com/mabmrun/mabm/pkg/transport"
	"github.com/mabmrun/mabm/pkg/transport/chantransport"
	"github.com/mabmrun/mabm/pkg/transport/kafkatransport"
	"github.com/mabmrun/mabm/pkg/transport/sqltransport"
)

func modeFromString(s string) (syncengine.Mode, error) {
	switch s {
	case "request":
		return syncengine.ModeRequest, nil
	case "watch":
		return syncengine.ModeWatch, nil
	default:
		return 0, fmt.Errorf("mabmrun: unknown mode %q", s)
	}
}

func (a *app) cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	ticks := fs.Int("ticks", 20, "maximum number of ticks to run (0 = until global next time is infinite)")
	perProcess := fs.Int("per-process", 4, "number of Persons minted on each process")
	pKnowledge := fs.Float64("p-knowledge", 0.2, "probability a Person starts already knowing the rumor")
	worldSizeOverride := fs.Int("world-size", 0, "for MABM_TRANSPORT=chan only: spawn this many in-process goroutines instead of reading MABM_WORLD_SIZE")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mabmrun: %v\n", err)
		return 1
	}
	runID := resolveRunID(cfg.RunID)

	mode, err := modeFromString(cfg.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mabmrun: %v\n", err)
		return 1
	}

	switch cfg.Transport {
	case "chan":
		worldSize := cfg.WorldSize
		if *worldSizeOverride > 0 {
			worldSize = *worldSizeOverride
		}
		return a.runChan(mode, cfg.Seed, worldSize, *perProcess, *pKnowledge, *ticks)
	case "sqlite":
		return a.runSingleRank(mode, cfg, runID, *perProcess, *pKnowledge, *ticks, func() (transport.Transport, error) {
			return sqltransport.Open(cfg.SQLitePath, cfg.Rank, cfg.WorldSize, sqltransport.WithLogger(a.logger))
		})
	case "kafka":
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		return a.runSingleRank(mode, cfg, runID, *perProcess, *pKnowledge, *ticks, func() (transport.Transport, error) {
			return kafkatransport.Open(brokers, runID, cfg.Rank, cfg.WorldSize)
		})
	default:
		fmt.Fprintf(os.Stderr, "mabmrun: unknown transport %q\n", cfg.Transport)
		return 1
	}
}

// runChan drives a full WorldSize population inside this one OS process,
// goroutine per rank, over a shared chantransport.Hub — the default
// demonstration path.
func (a *app) runChan(mode syncengine.Mode, seed int64, worldSize, perProcess int, pKnowledge float64, ticks int) int {
	total := worldSize * perProcess
	full, err := topology.ReadAdjacency(strings.NewReader(ringAdjacencyText(total)), perProcess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mabmrun: %v\n", err)
		return 1
	}

	hub := chantransport.NewHub(worldSize)
	saturations := make([]float64, worldSize)
	errs := make([]error, worldSize)

	var wg sync.WaitGroup
	for r := 0; r < worldSize; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			rt := buildRuntime(mode, rank, hub.For(rank), seed, a.logger)
			people, err := rumor.Build(rt, full[rank*perProcess:(rank+1)*perProcess], rumor.BuildOptions{
				PerProcess:  perProcess,
				PKnowledge:  pKnowledge,
				InitialSeed: seed,
			})
			if err != nil {
				errs[rank] = err
				return
			}
			if err := rt.SynchronizeTopology(); err != nil {
				errs[rank] = err
				return
			}
			if _, err := rt.Run(ticks); err != nil {
				errs[rank] = err
				return
			}
			saturations[rank] = rumor.Saturation(people)
		}(r)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			fmt.Fprintf(os.Stderr, "mabmrun: rank %d: %v\n", rank, err)
			return 1
		}
	}

	printSaturations(saturations)
	return 0
}

// runSingleRank drives this process's slice of the population against a
// shared out-of-process transport (sqlite or kafka). Cross-process
// neighbor edges aren't wired here: this process has no way to learn the
// adjacency rows another OS process owns without a shared topology file,
// so the single-rank demo runs each process's Persons as a local-only
// ring instead.
func (a *app) runSingleRank(mode syncengine.Mode, cfg *config.Runtime, runID string, perProcess int, pKnowledge float64, ticks int, open func() (transport.Transport, error)) int {
	tr, err := open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mabmrun: %v\n", err)
		return 1
	}
	defer func() {
		if closer, ok := tr.(interface{ Close() error }); ok {
			closer.Close()
		}
	}()

	rt := buildRuntime(mode, cfg.Rank, tr, cfg.Seed, a.logger)
	adj, err := topology.ReadAdjacency(strings.NewReader(ringAdjacencyText(perProcess)), perProcess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mabmrun: %v\n", err)
		return 1
	}
	people, err := rumor.Build(rt, adj, rumor.BuildOptions{PerProcess: perProcess, PKnowledge: pKnowledge, InitialSeed: cfg.Seed})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mabmrun: %v\n", err)
		return 1
	}
	if err := rt.SynchronizeTopology(); err != nil {
		fmt.Fprintf(os.Stderr, "mabmrun: %v\n", err)
		return 1
	}
	if _, err := rt.Run(ticks); err != nil {
		fmt.Fprintf(os.Stderr, "mabmrun: %v\n", err)
		return 1
	}

	fmt.Printf("%s run=%s rank=%d saturation=%.4f\n", color.GreenString("done"), runID, cfg.Rank, rumor.Saturation(people))
	return 0
}

func buildRuntime(mode syncengine.Mode, rank int, tr transport.Transport, seed int64, logger *slog.Logger) *runtime.Runtime {
	dir := directory.New()
	gen := generator.New(rank)
	sched := scheduler.New(rand.New(rand.NewSource(seed + int64(rank))))
	return runtime.New(mode, rank, tr, dir, gen, sched, logger)
}

// ringAdjacencyText is ringAdjacency from cmd_topology.go rendered
// straight to the adjacency-list line format, for feeding back into
// topology.ReadAdjacency without an intermediate file.
func ringAdjacencyText(total int) string {
	var sb strings.Builder
	writeAdjacency(&sb, ringAdjacency(total))
	return sb.String()
}

func printSaturations(saturations []float64) {
	bold := color.New(color.Bold).SprintFunc()
	var total float64
	for rank, s := range saturations {
		fmt.Printf("%s %d %s %.4f\n", bold("rank"), rank, bold("saturation"), s)
		total += s
	}
	fmt.Printf("%s %.4f\n", bold("mean saturation"), total/float64(len(saturations)))
}
