package dispatch

import (
	"hash/fnv"
	"sync/atomic"
)

// atomic64 is a small wrapper so Hub's counters read clearly as
// monotonic totals rather than bare int64 fields callers might
// mutate directly.
type atomic64 struct{ v int64 }

func (a *atomic64) Add(delta int64) { atomic.AddInt64(&a.v, delta) }
func (a *atomic64) Load() int64     { return atomic.LoadInt64(&a.v) }

// hashSessionID distributes sessions across shards by ID.
func hashSessionID(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}
