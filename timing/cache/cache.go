// Package cache emulates a set-associative cache in front of a
// FrontendMemory.
//
// Lines are addressed by word index: the byte address shifted right by two
// is split into tag, row (set) and column (word inside the line). The cache
// counts hits, misses and backing store transfers and derives stall cycles,
// speed improvement and hit rate from them using a latency.Model.
package cache

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/go-logr/logr"

	"github.com/sarchlab/memsim/mem"
	"github.com/sarchlab/memsim/timing/latency"
)

// Addresses in [UncachedStart, UncachedLast] are memory mapped I/O and
// always bypass the cache.
var (
	UncachedStart = mem.NewAddress(0xf0000000)
	UncachedLast  = mem.NewAddress(0xffffffff)
)

// Backing is the next level of the hierarchy.
type Backing interface {
	mem.FrontendMemory
	Endian() mem.Endian
}

// Location is the position of a word inside the cache.
type Location struct {
	Tag uint64
	Row uint32
	Col uint32
}

type line struct {
	valid bool
	dirty bool
	tag   uint64
	data  []uint32
}

type counters struct {
	hitReads    uint64
	hitWrites   uint64
	missReads   uint64
	missWrites  uint64
	memReads    uint64
	memWrites   uint64
	burstReads  uint64
	burstWrites uint64
}

// Statistics is a snapshot of the cache counters and derived metrics.
type Statistics struct {
	HitReads    uint64
	HitWrites   uint64
	MissReads   uint64
	MissWrites  uint64
	MemReads    uint64
	MemWrites   uint64
	BurstReads  uint64
	BurstWrites uint64

	StallCycles      uint64
	SpeedImprovement float64
	HitRate          float64
}

// Hits returns the total number of hits.
func (s Statistics) Hits() uint64 {
	return s.HitReads + s.HitWrites
}

// Misses returns the total number of misses.
func (s Statistics) Misses() uint64 {
	return s.MissReads + s.MissWrites
}

// Cache is a FrontendMemory emulating a set-associative cache.
type Cache struct {
	mem.Frontend

	config  Config
	model   *latency.Model
	backing Backing

	// lines is indexed [way][set]. It stays nil for a disabled cache.
	lines [][]line
	repl  replacer
	rng   *rand.Rand

	counts        counters
	changeCounter uint64

	listeners []Listener
	log       logr.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used to report evictions.
func WithLogger(log logr.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// WithRandSeed seeds the generator of the random replacement policy.
func WithRandSeed(seed uint64) Option {
	return func(c *Cache) {
		c.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithRand sets the generator of the random replacement policy.
func WithRand(rng *rand.Rand) Option {
	return func(c *Cache) {
		c.rng = rng
	}
}

// New creates a cache in front of backing. Penalties may be nil for the
// default single cycle costs.
func New(backing Backing, cfg Config, penalties *latency.Penalties, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if penalties == nil {
		penalties = latency.DefaultPenalties()
	}
	if err := penalties.Validate(); err != nil {
		return nil, fmt.Errorf("invalid access penalties: %w", err)
	}

	c := &Cache{
		config:  cfg,
		model:   latency.NewModelWithPenalties(penalties.Clone()),
		backing: backing,
		log:     logr.Discard(),
	}
	c.Frontend = mem.NewFrontend(c, backing.Endian())

	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(0, 0))
	}

	if !cfg.Enabled {
		return c, nil
	}

	c.lines = make([][]line, cfg.Associativity)
	for way := range c.lines {
		c.lines[way] = make([]line, cfg.Sets)
		for set := range c.lines[way] {
			c.lines[way][set].data = make([]uint32, cfg.Blocks)
		}
	}
	c.repl = newReplacer(cfg, c.rng)

	c.log.V(1).Info("cache created", "config", cfg.String())

	return c, nil
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Penalties returns the access penalties used for the statistics.
func (c *Cache) Penalties() *latency.Penalties {
	return c.model.Penalties()
}

// Backing returns the next level of the hierarchy.
func (c *Cache) Backing() Backing {
	return c.backing
}

// Locate splits addr into tag, row and column.
func (c *Cache) Locate(addr mem.Address) Location {
	idx := addr.ByteIndex()
	setSize := uint64(c.config.Blocks) * uint64(c.config.Sets)
	rem := idx % setSize
	return Location{
		Tag: idx / setSize,
		Row: uint32(rem / uint64(c.config.Blocks)),
		Col: uint32(rem % uint64(c.config.Blocks)),
	}
}

// BaseAddress returns the address of the first word of the line holding tag
// in row.
func (c *Cache) BaseAddress(tag uint64, row uint32) mem.Address {
	blocks := uint64(c.config.Blocks)
	return mem.NewAddress((tag*blocks*uint64(c.config.Sets) + uint64(row)*blocks) << 2)
}

func (c *Cache) bypass(addr mem.Address) bool {
	return !c.config.Enabled || addr.InRange(UncachedStart, UncachedLast)
}

// find returns the way holding loc.
func (c *Cache) find(loc Location) (uint32, bool) {
	for way := range c.lines {
		ln := &c.lines[way][loc.Row]
		if ln.valid && ln.tag == loc.Tag {
			return uint32(way), true
		}
	}
	return 0, false
}

// ReadWord reads through the cache. A debug read is served from a matching
// line or from the backing store and changes nothing.
func (c *Cache) ReadWord(addr mem.Address, debug bool) uint32 {
	if c.bypass(addr) {
		if debug {
			return c.backing.ReadWord(addr, true)
		}
		c.counts.memReads++
		c.emitReads()
		c.emitStatistics()
		return c.backing.ReadWord(addr, false)
	}

	if debug {
		loc := c.Locate(addr)
		if way, ok := c.find(loc); ok {
			return c.lines[way][loc.Row].data[loc.Col]
		}
		return c.backing.ReadWord(addr, true)
	}

	v, _ := c.access(addr, false, 0)
	return v
}

// WriteWord writes through the cache according to the write policy.
func (c *Cache) WriteWord(addr mem.Address, value uint32) bool {
	if c.bypass(addr) {
		return c.forwardWrite(addr, value)
	}

	_, changed := c.access(addr, true, value)
	if c.config.Write != WriteBack {
		return c.forwardWrite(addr, value)
	}
	return changed
}

func (c *Cache) forwardWrite(addr mem.Address, value uint32) bool {
	c.counts.memWrites++
	c.emitWrites()
	c.emitStatistics()
	return c.backing.WriteWord(addr, value)
}

func (c *Cache) access(addr mem.Address, write bool, value uint32) (uint32, bool) {
	loc := c.Locate(addr)

	way, found := c.find(loc)
	if !found {
		if write && c.config.Write == WriteThroughNoAlloc {
			c.counts.missWrites++
			c.emitMisses()
			c.emitStatistics()
			return 0, false
		}

		way = c.repl.victim(loc.Row, func(w uint32) bool {
			return c.lines[w][loc.Row].valid
		})
		if way >= c.config.Associativity {
			panic(fmt.Sprintf("cache: victim way %d out of range", way))
		}
	}

	ln := &c.lines[way][loc.Row]
	if ln.valid && ln.tag != loc.Tag {
		c.kick(way, loc.Row)
		c.changeCounter++
	}

	fresh := !ln.valid
	if fresh {
		if write {
			c.counts.missWrites++
		} else {
			c.counts.missReads++
		}
		c.emitMisses()
		c.fill(ln, loc)
		c.emitReads()
		c.emitStatistics()
	} else {
		if write {
			c.counts.hitWrites++
		} else {
			c.counts.hitReads++
		}
		c.emitHits()
		c.emitStatistics()
	}

	c.repl.accessed(loc.Row, way, fresh)

	ln.valid = true
	ln.dirty = ln.dirty || write
	ln.tag = loc.Tag

	data := ln.data[loc.Col]
	changed := false
	if write {
		changed = data != value
		ln.data[loc.Col] = value
	}

	c.emitLine(LineUpdate{
		Way:   way,
		Set:   loc.Row,
		Col:   loc.Col,
		Valid: ln.valid,
		Dirty: ln.dirty,
		Tag:   ln.tag,
		Data:  slices.Clone(ln.data),
		Write: write,
	})

	if changed {
		c.changeCounter++
	}
	return data, changed
}

// fill loads a whole line as one burst.
func (c *Cache) fill(ln *line, loc Location) {
	base := c.BaseAddress(loc.Tag, loc.Row)
	for i := range ln.data {
		ln.data[i] = c.backing.ReadWord(base.Add(uint64(i)*4), false)
		c.changeCounter++
	}
	blocks := uint64(c.config.Blocks)
	c.counts.memReads += blocks
	c.counts.burstReads += blocks - 1
}

// kick evicts a line, writing it back as one burst when it is dirty under
// write-back.
func (c *Cache) kick(way, row uint32) {
	ln := &c.lines[way][row]
	if ln.dirty && c.config.Write == WriteBack {
		base := c.BaseAddress(ln.tag, row)
		for i, w := range ln.data {
			c.backing.WriteWord(base.Add(uint64(i)*4), w)
		}
		blocks := uint64(c.config.Blocks)
		c.counts.memWrites += blocks
		c.counts.burstWrites += blocks - 1
		c.emitWrites()

		c.log.V(2).Info("dirty line written back", "way", way, "set", row, "base", base.String())
	}

	ln.valid = false
	ln.dirty = false
	c.repl.kicked(row, way)
}

// Flush evicts every valid line, writing back dirty ones.
func (c *Cache) Flush() {
	if !c.config.Enabled {
		return
	}

	for way := c.config.Associativity; way > 0; {
		way--
		for set := uint32(0); set < c.config.Sets; set++ {
			if !c.lines[way][set].valid {
				continue
			}
			c.kick(way, set)
			c.emitLine(LineUpdate{Way: way, Set: set})
		}
	}
	c.changeCounter++
	c.emitStatistics()
}

// Sync flushes the cache.
func (c *Cache) Sync() {
	c.Flush()
}

// Reset invalidates every line without write-back and clears the counters.
func (c *Cache) Reset() {
	for way := range c.lines {
		for set := range c.lines[way] {
			c.lines[way][set].valid = false
			c.lines[way][set].dirty = false
		}
	}
	if c.repl != nil {
		c.repl.reset()
	}

	c.counts = counters{}
	c.changeCounter++

	c.emitHits()
	c.emitMisses()
	c.emitReads()
	c.emitWrites()
	c.emitStatistics()

	for way := range c.lines {
		for set := range c.lines[way] {
			c.emitLine(LineUpdate{Way: uint32(way), Set: uint32(set)})
		}
	}
}

// LocationStatus reports cached addresses, adding dirty under write-back.
// Other addresses are answered by the backing store.
func (c *Cache) LocationStatus(addr mem.Address) mem.LocationStatus {
	if c.config.Enabled {
		loc := c.Locate(addr)
		if way, ok := c.find(loc); ok {
			if c.lines[way][loc.Row].dirty && c.config.Write == WriteBack {
				return mem.LocationCached | mem.LocationDirty
			}
			return mem.LocationCached
		}
	}
	return c.backing.LocationStatus(addr)
}

// ChangeCounter combines the cache and backing store counters.
func (c *Cache) ChangeCounter() uint64 {
	return c.changeCounter + c.backing.ChangeCounter()
}

// Line returns a snapshot of a cache line. A disabled cache has no lines
// and reports a neutral update.
func (c *Cache) Line(way, set uint32) LineUpdate {
	if !c.config.Enabled {
		return LineUpdate{Way: way, Set: set}
	}
	ln := &c.lines[way][set]
	return LineUpdate{
		Way:   way,
		Set:   set,
		Valid: ln.valid,
		Dirty: ln.dirty,
		Tag:   ln.tag,
		Data:  slices.Clone(ln.data),
	}
}

// HitCount returns read and write hits.
func (c *Cache) HitCount() uint64 {
	return c.counts.hitReads + c.counts.hitWrites
}

// MissCount returns read and write misses.
func (c *Cache) MissCount() uint64 {
	return c.counts.missReads + c.counts.missWrites
}

// ReadCount returns the words read from the backing store.
func (c *Cache) ReadCount() uint64 {
	return c.counts.memReads
}

// WriteCount returns the words written to the backing store.
func (c *Cache) WriteCount() uint64 {
	return c.counts.memWrites
}

func (c *Cache) transfers() latency.Counts {
	return latency.Counts{
		Reads:       c.counts.memReads,
		Writes:      c.counts.memWrites,
		BurstReads:  c.counts.burstReads,
		BurstWrites: c.counts.burstWrites,
	}
}

// StallCycles returns the cycles spent waiting for the backing store.
func (c *Cache) StallCycles() uint64 {
	return c.model.StallCycles(c.transfers())
}

// StallTime returns StallCycles in seconds at the configured clock.
func (c *Cache) StallTime() float64 {
	return c.model.Seconds(c.StallCycles())
}

// SpeedImprovement compares the time the accesses would take without the
// cache with the lookup and transfer time spent, in percent. It is 100
// before the first access.
func (c *Cache) SpeedImprovement() float64 {
	n := c.counts
	if n.hitReads+n.hitWrites+n.missReads+n.missWrites == 0 {
		return 100
	}

	lookup := n.hitReads + n.missReads
	if c.config.Write == WriteBack {
		lookup += n.hitWrites + n.missWrites
	}
	spent := lookup + c.model.AccessTime(c.transfers())
	uncached := c.model.UncachedTime(n.hitReads+n.missReads, n.hitWrites+n.missWrites)

	return float64(uncached) / float64(spent) * 100
}

// HitRate returns hits over all accesses in percent, 0 before the first
// access.
func (c *Cache) HitRate() float64 {
	total := c.HitCount() + c.MissCount()
	if total == 0 {
		return 0
	}
	return float64(c.HitCount()) / float64(total) * 100
}

// Stats returns a snapshot of the counters and derived metrics.
func (c *Cache) Stats() Statistics {
	n := c.counts
	return Statistics{
		HitReads:         n.hitReads,
		HitWrites:        n.hitWrites,
		MissReads:        n.missReads,
		MissWrites:       n.missWrites,
		MemReads:         n.memReads,
		MemWrites:        n.memWrites,
		BurstReads:       n.burstReads,
		BurstWrites:      n.burstWrites,
		StallCycles:      c.StallCycles(),
		SpeedImprovement: c.SpeedImprovement(),
		HitRate:          c.HitRate(),
	}
}
