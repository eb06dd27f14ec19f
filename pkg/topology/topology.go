// Package topology reads the adjacency-list bootstrap file format: line i
// (0-indexed) lists the comma-separated neighbor indices of agent i, with
// an empty line meaning no neighbors. The core itself never reads this
// file — it is consumed by a model builder (see internal/rumor) that
// turns indices into Identities and installs edges via
// sync.Engine.AddEdge.
package topology

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mabmrun/mabm/pkg/identity"
	"github.com/mabmrun/mabm/pkg/mabmerr"
)

// agentType is the fixed type tag assigned to every agent named by an
// adjacency-list index: agent i maps to Identity(type=0, ordinal, home).
const agentType = 0

// indexToIdentity maps a flat agent index to its Identity, matching
// original_source/network_generation.py's index math: ordinal = i mod P,
// home_process = i div P, where P is the per-process population.
func indexToIdentity(index, perProcess int) identity.Identity {
	home := index / perProcess
	ordinal := index % perProcess
	return identity.New(agentType, ordinal, home)
}

// ReadAdjacency parses r into a list indexed by agent index, each entry the
// Identities of that agent's declared neighbors. perProcess must be
// positive; it is the P used in the index math above.
func ReadAdjacency(r io.Reader, perProcess int) ([][]identity.Identity, error) {
	if perProcess <= 0 {
		return nil, fmt.Errorf("topology: perProcess must be positive, got %d: %w", perProcess, mabmerr.ErrConfig)
	}

	var neighbors [][]identity.Identity
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			neighbors = append(neighbors, nil)
			continue
		}
		fields := strings.Split(line, ",")
		row := make([]identity.Identity, 0, len(fields))
		for _, f := range fields {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			idx, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("topology: line %d: %q is not an integer: %w", len(neighbors), f, mabmerr.ErrMalformedID)
			}
			row = append(row, indexToIdentity(idx, perProcess))
		}
		neighbors = append(neighbors, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("topology: read: %w", err)
	}
	return neighbors, nil
}
