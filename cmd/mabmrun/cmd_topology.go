package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ringAdjacency returns, for each of total agents, the two neighbor
// indices adjacent to it in a ring — a simple, deterministic stand-in
// for the igraph-generated topologies network_generation.py produces
// (generating realistic small-world/scale-free graphs is out of scope
// here; mabmrun only needs something connected to demonstrate the sync
// protocol).
func ringAdjacency(total int) [][]int {
	adj := make([][]int, total)
	for i := 0; i < total; i++ {
		if total == 1 {
			adj[i] = nil
			continue
		}
		next := (i + 1) % total
		prev := (i - 1 + total) % total
		if total == 2 {
			adj[i] = []int{next}
			continue
		}
		adj[i] = []int{next, prev}
	}
	return adj
}

// writeAdjacency renders adj in the adjacency-list line format
// pkg/topology.ReadAdjacency expects: one line per agent, comma-separated
// neighbor indices, empty line for no neighbors.
func writeAdjacency(w *strings.Builder, adj [][]int) {
	for _, row := range adj {
		fields := make([]string, len(row))
		for i, n := range row {
			fields[i] = strconv.Itoa(n)
		}
		w.WriteString(strings.Join(fields, ","))
		w.WriteByte('\n')
	}
}

func (a *app) cmdTopology(args []string) int {
	fs := flag.NewFlagSet("topology", flag.ExitOnError)
	generate := fs.Int("generate", 8, "total number of agents across all processes")
	fs.Parse(args)

	if *generate <= 0 {
		fmt.Fprintln(os.Stderr, "mabmrun: --generate must be positive")
		return 1
	}

	var sb strings.Builder
	writeAdjacency(&sb, ringAdjacency(*generate))
	fmt.Print(sb.String())
	return 0
}
