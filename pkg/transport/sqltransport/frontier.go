// frontier.go adapts clockmail's pkg/frontier Naiad-style progress
// tracking: instead of deciding when an agent can safely finalize output,
// it decides when a collective's old round rows are safe to delete. A
// pointstamp here is a rank's most recently completed round for one
// collective kind; the frontier is the minimum across all of them, and
// anything strictly below it can never be queried again.
package sqltransport

// pointstamp is one rank's progress marker for a collective kind.
type pointstamp struct {
	rank  int
	round int
}

// frontier returns the minimum round across active, the rounds still
// reachable by at least one rank. An empty active set has no frontier to
// report and nothing is pruned.
func frontier(active []pointstamp) (int, bool) {
	if len(active) == 0 {
		return 0, false
	}
	min := active[0].round
	for _, p := range active[1:] {
		if p.round < min {
			min = p.round
		}
	}
	return min, true
}
