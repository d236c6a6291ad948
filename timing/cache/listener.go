package cache

// LineUpdate describes the state of a line after it changed. Reset and
// Flush report one neutral update per line.
type LineUpdate struct {
	Way   uint32
	Set   uint32
	Col   uint32
	Valid bool
	Dirty bool
	Tag   uint64
	// Data is a copy of the line words, nil for neutral updates.
	Data  []uint32
	Write bool
}

// Listener receives cache events synchronously, before the mutating call
// returns. A filled miss emits MissUpdate, MemoryReadsUpdate,
// StatisticsUpdate and CacheUpdate in that order.
type Listener interface {
	HitUpdate(hits uint64)
	MissUpdate(misses uint64)
	MemoryReadsUpdate(reads uint64)
	MemoryWritesUpdate(writes uint64)
	CacheUpdate(u LineUpdate)
	StatisticsUpdate(stallCycles uint64, speedImprovement, hitRate float64)
}

// NopListener ignores every event. Embed it to implement part of Listener.
type NopListener struct{}

func (NopListener) HitUpdate(uint64)                          {}
func (NopListener) MissUpdate(uint64)                         {}
func (NopListener) MemoryReadsUpdate(uint64)                  {}
func (NopListener) MemoryWritesUpdate(uint64)                 {}
func (NopListener) CacheUpdate(LineUpdate)                    {}
func (NopListener) StatisticsUpdate(uint64, float64, float64) {}

// Subscribe registers l and returns a function removing it.
func (c *Cache) Subscribe(l Listener) (cancel func()) {
	c.listeners = append(c.listeners, l)
	idx := len(c.listeners) - 1
	return func() {
		c.listeners[idx] = nil
	}
}

func (c *Cache) emit(fn func(Listener)) {
	for _, l := range c.listeners {
		if l != nil {
			fn(l)
		}
	}
}

func (c *Cache) emitHits() {
	hits := c.HitCount()
	c.emit(func(l Listener) { l.HitUpdate(hits) })
}

func (c *Cache) emitMisses() {
	misses := c.MissCount()
	c.emit(func(l Listener) { l.MissUpdate(misses) })
}

func (c *Cache) emitReads() {
	reads := c.counts.memReads
	c.emit(func(l Listener) { l.MemoryReadsUpdate(reads) })
}

func (c *Cache) emitWrites() {
	writes := c.counts.memWrites
	c.emit(func(l Listener) { l.MemoryWritesUpdate(writes) })
}

func (c *Cache) emitLine(u LineUpdate) {
	c.emit(func(l Listener) { l.CacheUpdate(u) })
}

func (c *Cache) emitStatistics() {
	stall := c.StallCycles()
	speed := c.SpeedImprovement()
	rate := c.HitRate()
	c.emit(func(l Listener) { l.StatisticsUpdate(stall, speed, rate) })
}
