// Package mmu routes a flat physical address space to backend devices.
//
// The MMU does not translate pages. Every device owns one contiguous,
// inclusive address range; accesses are forwarded with the range start
// subtracted so devices only see local offsets.
package mmu

import (
	"errors"
	"io"
	"sort"

	"github.com/go-logr/logr"

	"github.com/sarchlab/memsim/mem"
)

// Range is a device mapped at [Start, Last].
type Range struct {
	Start  mem.Address
	Last   mem.Address
	Device mem.BackendMemory
	// Owned devices are closed when the range is removed.
	Owned bool
	// Accesses counts the regular reads and writes routed to the device.
	Accesses uint64

	cancel func()
}

// Contains reports whether addr falls inside the range.
func (r *Range) Contains(addr mem.Address) bool {
	return addr.InRange(r.Start, r.Last)
}

func (r *Range) overlaps(start, last mem.Address) bool {
	return !(last.Less(r.Start) || r.Last.Less(start))
}

// ValidBounds reports whether [start, last] is a non-empty run of whole
// words inside the 32-bit address space.
func ValidBounds(start, last mem.Address) bool {
	return !last.Less(start) &&
		!mem.MaxAddress.Less(last) &&
		start.Raw()&3 == 0 &&
		last.Raw()&3 == 3
}

// ExternalChangeFunc receives device side changes translated to global
// addresses. start and last are inclusive.
type ExternalChangeFunc func(dev mem.BackendMemory, start, last mem.Address, external bool)

// MMU is a FrontendMemory multiplexing address ranges across devices.
type MMU struct {
	mem.Frontend

	ranges   []*Range
	byDevice map[mem.BackendMemory]*Range

	changeCounter uint64
	unmapped      uint64

	listeners []ExternalChangeFunc
	log       logr.Logger
}

// Option configures an MMU.
type Option func(*MMU)

// WithLogger sets the logger used to report unmapped accesses.
func WithLogger(log logr.Logger) Option {
	return func(m *MMU) {
		m.log = log
	}
}

// New creates an MMU with no ranges for a machine of the given byte order.
func New(endian mem.Endian, opts ...Option) *MMU {
	m := &MMU{
		byDevice: make(map[mem.BackendMemory]*Range),
		log:      logr.Discard(),
	}
	m.Frontend = mem.NewFrontend(m, endian)

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// InsertRange maps dev at [start, last]. Ranges cover whole words inside
// the 32-bit address space: start must be word aligned and last must be the
// final byte of a word. It fails without changing anything if the bounds
// are invalid, the range overlaps an existing range or dev is already
// mapped. With takeOwnership the device is closed when the range goes away.
func (m *MMU) InsertRange(dev mem.BackendMemory, start, last mem.Address, takeOwnership bool) bool {
	if !ValidBounds(start, last) {
		m.log.V(1).Info("invalid range bounds", "start", start.String(), "last", last.String())
		return false
	}
	if _, ok := m.byDevice[dev]; ok {
		return false
	}

	i := m.search(start)
	if i > 0 && m.ranges[i-1].overlaps(start, last) {
		return false
	}
	if i < len(m.ranges) && m.ranges[i].overlaps(start, last) {
		return false
	}

	if dev.Endian() != m.Endian() {
		m.log.Info("device byte order differs from the machine",
			"start", start.String(), "device", dev.Endian().String(), "machine", m.Endian().String())
	}

	r := &Range{Start: start, Last: last, Device: dev, Owned: takeOwnership}
	if n, ok := dev.(mem.ChangeNotifier); ok {
		r.cancel = n.OnExternalChange(m.backendChanged)
	}

	m.ranges = append(m.ranges, nil)
	copy(m.ranges[i+1:], m.ranges[i:])
	m.ranges[i] = r
	m.byDevice[dev] = r
	m.changeCounter++

	m.log.V(1).Info("range inserted", "start", start.String(), "last", last.String())

	return true
}

// RemoveRange unmaps dev. It reports false if dev is not mapped.
func (m *MMU) RemoveRange(dev mem.BackendMemory) bool {
	r, ok := m.byDevice[dev]
	if !ok {
		return false
	}

	for i, x := range m.ranges {
		if x == r {
			m.ranges = append(m.ranges[:i], m.ranges[i+1:]...)
			break
		}
	}
	delete(m.byDevice, dev)
	m.release(r)
	m.changeCounter++

	return true
}

// CleanRange removes every range lying completely inside [start, last].
func (m *MMU) CleanRange(start, last mem.Address) {
	var victims []*Range
	for _, r := range m.ranges {
		if r.Start.InRange(start, last) && r.Last.InRange(start, last) {
			victims = append(victims, r)
		}
	}
	for _, r := range victims {
		m.RemoveRange(r.Device)
	}
}

// Close removes every range, closing owned devices.
func (m *MMU) Close() error {
	var errs []error
	for _, r := range m.ranges {
		delete(m.byDevice, r.Device)
		errs = append(errs, m.release(r))
	}
	m.ranges = nil
	m.changeCounter++
	return errors.Join(errs...)
}

func (m *MMU) release(r *Range) error {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if !r.Owned {
		return nil
	}
	if c, ok := r.Device.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// search returns the index of the first range starting above addr.
func (m *MMU) search(addr mem.Address) int {
	return sort.Search(len(m.ranges), func(i int) bool {
		return addr.Less(m.ranges[i].Start)
	})
}

// FindRange returns the range holding addr, or nil if addr is unmapped.
func (m *MMU) FindRange(addr mem.Address) *Range {
	i := m.search(addr)
	if i == 0 {
		return nil
	}
	r := m.ranges[i-1]
	if !r.Contains(addr) {
		return nil
	}
	return r
}

// Ranges returns the mapped ranges ordered by start address.
func (m *MMU) Ranges() []*Range {
	return append([]*Range(nil), m.ranges...)
}

// ReadWord forwards the read to the owning device. Unmapped reads return
// zero.
func (m *MMU) ReadWord(addr mem.Address, debug bool) uint32 {
	addr = addr.And(^uint64(3))
	r := m.FindRange(addr)
	if r == nil {
		if !debug {
			m.unmapped++
			m.log.V(1).Info("read from unmapped address", "addr", addr.String())
		}
		return 0
	}

	if !debug {
		r.Accesses++
	}
	return uint32(r.Device.Read(mem.Offset(addr.Distance(r.Start)), mem.SizeWord, debug))
}

// WriteWord forwards the write to the owning device. Unmapped writes are
// ignored.
func (m *MMU) WriteWord(addr mem.Address, value uint32) bool {
	addr = addr.And(^uint64(3))
	r := m.FindRange(addr)
	if r == nil {
		m.unmapped++
		m.log.V(1).Info("write to unmapped address", "addr", addr.String(), "value", value)
		return false
	}

	r.Accesses++
	changed := r.Device.Write(mem.Offset(addr.Distance(r.Start)), mem.SizeWord, uint64(value))
	if changed {
		m.changeCounter++
	}
	return changed
}

// LocationStatus asks the owning device; unmapped addresses are illegal.
func (m *MMU) LocationStatus(addr mem.Address) mem.LocationStatus {
	r := m.FindRange(addr)
	if r == nil {
		return mem.LocationIllegal
	}
	return r.Device.LocationStatus(mem.Offset(addr.Distance(r.Start)))
}

// ChangeCounter increases on content changes, range changes and device
// notifications.
func (m *MMU) ChangeCounter() uint64 {
	return m.changeCounter
}

// UnmappedAccesses counts regular accesses that hit no range.
func (m *MMU) UnmappedAccesses() uint64 {
	return m.unmapped
}

// OnExternalChange registers fn for device changes and returns a function
// removing it.
func (m *MMU) OnExternalChange(fn ExternalChangeFunc) (cancel func()) {
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	return func() {
		m.listeners[idx] = nil
	}
}

func (m *MMU) backendChanged(dev mem.BackendMemory, start, last mem.Offset, external bool) {
	r, ok := m.byDevice[dev]
	if !ok {
		return
	}

	m.changeCounter++
	gStart := r.Start.Add(uint64(start))
	gLast := r.Start.Add(uint64(last))
	for _, fn := range m.listeners {
		if fn != nil {
			fn(dev, gStart, gLast, external)
		}
	}
}
