// Package latency provides the backing store cost model used to derive
// cache statistics.
//
// The penalties can be configured via Penalties and loaded from JSON.
package latency

import "github.com/sarchlab/akita/v4/sim"

// Counts are the backing store transfers performed by a cache. Burst counts
// are the part of a multi-word transfer paying only the burst penalty.
type Counts struct {
	Reads       uint64
	Writes      uint64
	BurstReads  uint64
	BurstWrites uint64
}

// Model evaluates transfer counts against a set of penalties.
type Model struct {
	penalties *Penalties
}

// NewModel creates a model with default penalties.
func NewModel() *Model {
	return &Model{penalties: DefaultPenalties()}
}

// NewModelWithPenalties creates a model with custom penalties.
func NewModelWithPenalties(p *Penalties) *Model {
	return &Model{penalties: p}
}

// Penalties returns the penalties of the model.
func (m *Model) Penalties() *Penalties {
	return m.penalties
}

// burstCredit is the number of cycles saved by burst transfers.
func (m *Model) burstCredit(c Counts) uint64 {
	p := m.penalties
	if p.Burst == 0 {
		return 0
	}
	return c.BurstReads*(p.Read-p.Burst) + c.BurstWrites*(p.Write-p.Burst)
}

// StallCycles returns the cycles spent waiting on the backing store beyond
// the first cycle of every access.
func (m *Model) StallCycles(c Counts) uint64 {
	p := m.penalties
	stall := c.Reads*(p.Read-1) + c.Writes*(p.Write-1)
	return stall - m.burstCredit(c)
}

// AccessTime returns the cycles spent on backing store transfers.
func (m *Model) AccessTime(c Counts) uint64 {
	p := m.penalties
	return c.Reads*p.Read + c.Writes*p.Write - m.burstCredit(c)
}

// UncachedTime returns the cycles the given reads and writes would take
// without any cache.
func (m *Model) UncachedTime(reads, writes uint64) uint64 {
	return reads*m.penalties.Read + writes*m.penalties.Write
}

// Seconds converts cycles into time at the configured clock.
func (m *Model) Seconds(cycles uint64) float64 {
	return float64(cycles) / float64(m.penalties.Frequency)
}

// Frequency returns the configured clock.
func (m *Model) Frequency() sim.Freq {
	return m.penalties.Frequency
}
