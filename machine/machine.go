// Package machine assembles the memory hierarchy of a simulated computer:
// the main memory, the devices mapped by the MMU and the instruction and
// data caches in front of it.
package machine

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"

	"github.com/sarchlab/memsim/emu"
	"github.com/sarchlab/memsim/loader"
	"github.com/sarchlab/memsim/mem"
	"github.com/sarchlab/memsim/mmu"
	"github.com/sarchlab/memsim/timing/cache"
)

// Machine owns the memory hierarchy.
type Machine struct {
	config *Config

	memory  *emu.Memory
	mmu     *mmu.MMU
	icache  *cache.Cache
	dcache  *cache.Cache
	devices map[string]mem.BackendMemory

	log logr.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger passed down to the MMU and the caches.
func WithLogger(log logr.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// New builds the machine described by cfg.
func New(cfg *Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid machine config: %w", err)
	}

	m := &Machine{
		config:  cfg.Clone(),
		devices: make(map[string]mem.BackendMemory),
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.memory = emu.NewMemory(cfg.Endian)
	m.mmu = mmu.New(cfg.Endian, mmu.WithLogger(m.log.WithName("mmu")))

	for _, r := range m.config.Ranges {
		dev, owned, err := m.device(r)
		if err != nil {
			_ = m.mmu.Close()
			return nil, err
		}
		if !m.mmu.InsertRange(dev, r.Start, r.Last, owned) {
			_ = m.mmu.Close()
			return nil, fmt.Errorf("range %q: %w", r.Name, ErrOverlappingRange)
		}
		m.devices[r.Name] = dev
		m.log.V(1).Info("range mapped", "name", r.Name, "kind", string(r.Kind),
			"start", r.Start.String(), "last", r.Last.String())
	}

	var err error
	m.icache, err = cache.New(m.mmu, m.config.ICache, m.config.Penalties,
		cache.WithLogger(m.log.WithName("icache")), cache.WithRandSeed(m.config.Seed))
	if err != nil {
		_ = m.mmu.Close()
		return nil, fmt.Errorf("icache: %w", err)
	}
	m.dcache, err = cache.New(m.mmu, m.config.DCache, m.config.Penalties,
		cache.WithLogger(m.log.WithName("dcache")), cache.WithRandSeed(m.config.Seed+1))
	if err != nil {
		_ = m.mmu.Close()
		return nil, fmt.Errorf("dcache: %w", err)
	}

	return m, nil
}

func (m *Machine) device(r RangeConfig) (mem.BackendMemory, bool, error) {
	switch r.Kind {
	case KindRAM:
		return m.memory, false, nil
	case KindStorage:
		return emu.NewStorageDevice(r.Size(), m.config.Endian), true, nil
	case KindROM:
		image, err := os.ReadFile(r.Image)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read rom image for %q: %w", r.Name, err)
		}
		if uint64(len(image)) > r.Size() {
			return nil, false, fmt.Errorf("rom image for %q is larger than its range", r.Name)
		}
		padded := make([]byte, r.Size())
		copy(padded, image)
		dev, err := emu.NewROMDevice(padded, m.config.Endian)
		if err != nil {
			return nil, false, fmt.Errorf("rom %q: %w", r.Name, err)
		}
		return dev, true, nil
	case KindPeripheral:
		return emu.NewSimplePeripheral(r.Size(), m.config.Endian), true, nil
	default:
		return nil, false, fmt.Errorf("range %q has unknown kind %q", r.Name, r.Kind)
	}
}

// Config returns the configuration the machine was built from.
func (m *Machine) Config() *Config {
	return m.config
}

// Memory returns the main memory.
func (m *Machine) Memory() *emu.Memory {
	return m.memory
}

// MMU returns the device multiplexer.
func (m *Machine) MMU() *mmu.MMU {
	return m.mmu
}

// ICache returns the program port cache.
func (m *Machine) ICache() *cache.Cache {
	return m.icache
}

// DCache returns the data port cache.
func (m *Machine) DCache() *cache.Cache {
	return m.dcache
}

// ProgramPort is the memory instruction fetches go through.
func (m *Machine) ProgramPort() mem.Accessor {
	return m.icache
}

// DataPort is the memory loads and stores go through.
func (m *Machine) DataPort() mem.Accessor {
	return m.dcache
}

// Device returns the device mapped under name.
func (m *Machine) Device(name string) (mem.BackendMemory, bool) {
	d, ok := m.devices[name]
	return d, ok
}

// LoadProgram writes prog into the main memory, bypassing the caches, and
// resets the caches so they do not hold stale lines.
func (m *Machine) LoadProgram(prog *loader.Program) error {
	if prog.Endian != m.config.Endian {
		return fmt.Errorf("program is %s endian but the machine is %s endian",
			prog.Endian, m.config.Endian)
	}

	ram := m.ramRange()
	for _, seg := range prog.Segments {
		size := max(seg.MemSize, uint64(len(seg.Data)))
		if size == 0 {
			continue
		}
		last := mem.NewAddress(seg.VirtAddr + size - 1)
		if !mem.NewAddress(seg.VirtAddr).InRange(ram.Start, ram.Last) || !last.InRange(ram.Start, ram.Last) {
			return fmt.Errorf("segment at 0x%x is outside the ram range %q", seg.VirtAddr, ram.Name)
		}
	}

	if err := prog.ToMemory(m.memory); err != nil {
		return fmt.Errorf("failed to load program: %w", err)
	}

	m.icache.Reset()
	m.dcache.Reset()

	m.log.Info("program loaded", "entry", fmt.Sprintf("0x%08x", prog.EntryPoint),
		"segments", len(prog.Segments))

	return nil
}

func (m *Machine) ramRange() RangeConfig {
	for _, r := range m.config.Ranges {
		if r.Kind == KindRAM {
			return r
		}
	}
	panic("machine: no ram range")
}

// Sync writes back both caches.
func (m *Machine) Sync() {
	m.icache.Sync()
	m.dcache.Sync()
}

// Reset invalidates both caches and clears their statistics.
func (m *Machine) Reset() {
	m.icache.Reset()
	m.dcache.Reset()
}

// Close unmaps every device.
func (m *Machine) Close() error {
	m.Sync()
	return m.mmu.Close()
}
