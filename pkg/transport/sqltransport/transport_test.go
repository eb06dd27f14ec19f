package sqltransport

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestTransports(t *testing.T, n int) []*Transport {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "collective.db")
	cfg := Config{PollInterval: time.Millisecond, PollTimeout: 5 * time.Second, KeepRounds: 1}

	transports := make([]*Transport, n)
	for rank := 0; rank < n; rank++ {
		tr, err := Open(dbPath, rank, n, WithConfig(cfg))
		if err != nil {
			t.Fatalf("Open rank %d: %v", rank, err)
		}
		t.Cleanup(func() { tr.Close() })
		transports[rank] = tr
	}
	return transports
}

func TestGatherToRootAcrossProcesses(t *testing.T) {
	const n = 3
	transports := openTestTransports(t, n)
	results := make([][]any, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for rank := 0; rank < n; rank++ {
		rank := rank
		go func() {
			defer wg.Done()
			got, err := transports[rank].GatherToRoot(rank * 10)
			if err != nil {
				t.Errorf("rank %d: GatherToRoot: %v", rank, err)
			}
			results[rank] = got
		}()
	}
	wg.Wait()

	if len(results[0]) != n {
		t.Fatalf("root result length: got %d, want %d", len(results[0]), n)
	}
	for rank := 0; rank < n; rank++ {
		want := float64(rank * 10)
		if results[0][rank].(float64) != want {
			t.Fatalf("root result[%d]: got %v, want %v", rank, results[0][rank], want)
		}
	}
	if results[1] != nil || results[2] != nil {
		t.Fatal("non-root ranks should receive nil from GatherToRoot")
	}
}

func TestBroadcastFromRootAcrossProcesses(t *testing.T) {
	const n = 3
	transports := openTestTransports(t, n)
	results := make([]any, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for rank := 0; rank < n; rank++ {
		rank := rank
		go func() {
			defer wg.Done()
			var arg any
			if rank == 0 {
				arg = map[string]any{"tax": 0.5}
			}
			got, err := transports[rank].BroadcastFromRoot(arg)
			if err != nil {
				t.Errorf("rank %d: BroadcastFromRoot: %v", rank, err)
			}
			results[rank] = got
		}()
	}
	wg.Wait()

	for rank := 0; rank < n; rank++ {
		m, ok := results[rank].(map[string]any)
		if !ok || m["tax"] != 0.5 {
			t.Fatalf("rank %d: got %v, want tax=0.5", rank, results[rank])
		}
	}
}

func TestReduceMinToRootAcrossProcesses(t *testing.T) {
	const n = 4
	transports := openTestTransports(t, n)
	values := []float64{8.0, 2.0, 6.0, 2.0}
	results := make([]float64, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for rank := 0; rank < n; rank++ {
		rank := rank
		go func() {
			defer wg.Done()
			got, err := transports[rank].ReduceMinToRoot(values[rank])
			if err != nil {
				t.Errorf("rank %d: ReduceMinToRoot: %v", rank, err)
			}
			results[rank] = got
		}()
	}
	wg.Wait()

	for rank := 0; rank < n; rank++ {
		if results[rank] != 2.0 {
			t.Fatalf("rank %d: got %v, want 2.0", rank, results[rank])
		}
	}
}

func TestSequentialRoundsPruneOldRows(t *testing.T) {
	const n = 2
	transports := openTestTransports(t, n)

	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		wg.Add(n)
		for rank := 0; rank < n; rank++ {
			rank := rank
			go func() {
				defer wg.Done()
				if _, err := transports[rank].GatherToRoot(round); err != nil {
					t.Errorf("round %d rank %d: %v", round, rank, err)
				}
			}()
		}
		wg.Wait()
	}

	n0, err := transports[0].s.gatherRowCount(gatherKind, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n0 != 0 {
		t.Fatalf("expected round 0 rows pruned after 5 rounds, got count %d", n0)
	}
}

func TestSingleRankRankAndWorldSize(t *testing.T) {
	transports := openTestTransports(t, 1)
	tr := transports[0]
	if tr.Rank() != 0 {
		t.Fatalf("Rank: got %d, want 0", tr.Rank())
	}
	if tr.WorldSize() != 1 {
		t.Fatalf("WorldSize: got %d, want 1", tr.WorldSize())
	}
	got, err := tr.GatherToRoot("solo")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "solo" {
		t.Fatalf("single-rank gather: got %v", got)
	}
}
