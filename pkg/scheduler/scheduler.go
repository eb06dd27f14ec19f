// Package scheduler implements the time-indexed bag of pending events: a
// mapping from simulated time to the elements due to fire there, fired in
// a freshly shuffled order so that model code cannot depend on insertion
// order within a tick.
package scheduler

import (
	"math/rand"
	"sort"

	"github.com/mabmrun/mabm/pkg/element"
)

// Time is the scheduler's simulated-time scalar. The scheduler itself is
// agnostic to whether callers treat it as an integer tick count or a real
// value; float64 covers both.
type Time = float64

// Infinity is the "no events pending" sentinel returned by NextTime.
const Infinity = Time(1<<63 - 1)

// Scheduler holds the per-process bag of pending events and the
// process-local PRNG used to shuffle each tick's firing order.
//
// Not goroutine-safe: agent updates on one process are strictly
// single-threaded, so no locking is needed here.
type Scheduler struct {
	buckets map[Time][]element.Agent
	rng     *rand.Rand
}

// New returns a Scheduler whose shuffle order is driven by rng. Callers
// seed rng deterministically from (rank, userSeed) to get reproducible
// runs.
func New(rng *rand.Rand) *Scheduler {
	return &Scheduler{buckets: make(map[Time][]element.Agent), rng: rng}
}

// AddEvent appends e to the bucket for time, creating the bucket if
// necessary.
func (s *Scheduler) AddEvent(time Time, e element.Agent) {
	s.buckets[time] = append(s.buckets[time], e)
}

// NextTime returns the minimum pending bucket key, or Infinity if no
// events are scheduled.
func (s *Scheduler) NextTime() Time {
	if len(s.buckets) == 0 {
		return Infinity
	}
	min := Infinity
	for t := range s.buckets {
		if t < min {
			min = t
		}
	}
	return min
}

// Fire shuffles the bucket at time uniformly at random and invokes
// Update() on each element in the shuffled order, then drops the bucket.
// It is a no-op if no bucket exists at time.
func (s *Scheduler) Fire(time Time) {
	bucket, ok := s.buckets[time]
	if !ok {
		return
	}
	s.rng.Shuffle(len(bucket), func(i, j int) { bucket[i], bucket[j] = bucket[j], bucket[i] })
	for _, e := range bucket {
		e.Update()
	}
	delete(s.buckets, time)
}

// CollectRequests invokes PublishRequests on every element in the bucket
// at time, without disturbing firing order or removing the bucket — this
// runs in request mode, before Fire, so agents about to update can name
// the remote ids they will read this tick.
func (s *Scheduler) CollectRequests(time Time) {
	bucket, ok := s.buckets[time]
	if !ok {
		return
	}
	for _, e := range bucket {
		e.PublishRequests()
	}
}

// PendingTimes returns the currently scheduled bucket keys in ascending
// order. Exposed for diagnostics and tests; not part of the tick
// protocol.
func (s *Scheduler) PendingTimes() []Time {
	times := make([]Time, 0, len(s.buckets))
	for t := range s.buckets {
		times = append(times, t)
	}
	sort.Float64s(times)
	return times
}
