package cache

import (
	"fmt"
	"math/rand/v2"
)

// replacer keeps the per-set victim selection state.
type replacer interface {
	// victim picks the way to refill in set. valid reports line validity
	// per way.
	victim(set uint32, valid func(way uint32) bool) uint32
	// accessed records an access to way. fresh is true when the line was
	// just filled.
	accessed(set, way uint32, fresh bool)
	// kicked records the eviction of way.
	kicked(set, way uint32)
	reset()
}

func newReplacer(cfg Config, rng *rand.Rand) replacer {
	switch cfg.Replacement {
	case ReplacementRandom:
		return &randomReplacer{ways: cfg.Associativity, rng: rng}
	case ReplacementLRU:
		r := &lruReplacer{order: make([][]uint32, cfg.Sets)}
		for i := range r.order {
			r.order[i] = make([]uint32, cfg.Associativity)
		}
		r.reset()
		return r
	case ReplacementLFU:
		r := &lfuReplacer{counts: make([][]uint64, cfg.Sets)}
		for i := range r.counts {
			r.counts[i] = make([]uint64, cfg.Associativity)
		}
		return r
	default:
		panic(fmt.Sprintf("cache: unimplemented replacement policy %v", cfg.Replacement))
	}
}

type randomReplacer struct {
	ways uint32
	rng  *rand.Rand
}

func (r *randomReplacer) victim(uint32, func(uint32) bool) uint32 {
	return r.rng.Uint32N(r.ways)
}

func (r *randomReplacer) accessed(uint32, uint32, bool) {}
func (r *randomReplacer) kicked(uint32, uint32)         {}
func (r *randomReplacer) reset()                        {}

// lruReplacer keeps ways ordered from least to most recently used.
type lruReplacer struct {
	order [][]uint32
}

func (r *lruReplacer) victim(set uint32, _ func(uint32) bool) uint32 {
	return r.order[set][0]
}

func (r *lruReplacer) accessed(set, way uint32, _ bool) {
	o := r.order[set]
	i := r.position(o, way)
	copy(o[i:], o[i+1:])
	o[len(o)-1] = way
}

func (r *lruReplacer) kicked(set, way uint32) {
	o := r.order[set]
	i := r.position(o, way)
	copy(o[1:i+1], o[:i])
	o[0] = way
}

func (r *lruReplacer) position(o []uint32, way uint32) int {
	for i, w := range o {
		if w == way {
			return i
		}
	}
	panic(fmt.Sprintf("cache: LRU lost way %d", way))
}

func (r *lruReplacer) reset() {
	for _, o := range r.order {
		for i := range o {
			o[i] = uint32(i)
		}
	}
}

// lfuReplacer counts accesses per way since the last fill.
type lfuReplacer struct {
	counts [][]uint64
}

func (r *lfuReplacer) victim(set uint32, valid func(uint32) bool) uint32 {
	c := r.counts[set]
	best := uint32(0)
	for i := range c {
		way := uint32(i)
		if !valid(way) {
			return way
		}
		if c[way] < c[best] {
			best = way
		}
	}
	return best
}

func (r *lfuReplacer) accessed(set, way uint32, fresh bool) {
	if fresh {
		r.counts[set][way] = 0
		return
	}
	r.counts[set][way]++
}

func (r *lfuReplacer) kicked(set, way uint32) {
	r.counts[set][way] = 0
}

func (r *lfuReplacer) reset() {
	for _, c := range r.counts {
		clear(c)
	}
}
