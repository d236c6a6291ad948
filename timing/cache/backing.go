package cache

import "github.com/sarchlab/memsim/mem"

// MemoryBacking exposes a single BackendMemory mapped at address zero as a
// cache Backing.
type MemoryBacking struct {
	mem.Frontend

	device        mem.BackendMemory
	changeCounter uint64
}

// NewMemoryBacking creates a new MemoryBacking adapter.
func NewMemoryBacking(device mem.BackendMemory) *MemoryBacking {
	m := &MemoryBacking{device: device}
	m.Frontend = mem.NewFrontend(m, device.Endian())
	return m
}

// ReadWord fetches the word containing addr from the device.
func (m *MemoryBacking) ReadWord(addr mem.Address, debug bool) uint32 {
	offset := mem.Offset(addr.And(^uint64(3)).Raw())
	return uint32(m.device.Read(offset, mem.SizeWord, debug))
}

// WriteWord stores the word containing addr in the device.
func (m *MemoryBacking) WriteWord(addr mem.Address, value uint32) bool {
	offset := mem.Offset(addr.And(^uint64(3)).Raw())
	changed := m.device.Write(offset, mem.SizeWord, uint64(value))
	if changed {
		m.changeCounter++
	}
	return changed
}

// LocationStatus asks the device.
func (m *MemoryBacking) LocationStatus(addr mem.Address) mem.LocationStatus {
	return m.device.LocationStatus(mem.Offset(addr.Raw()))
}

// ChangeCounter counts the writes that changed the device.
func (m *MemoryBacking) ChangeCounter() uint64 {
	return m.changeCounter
}
