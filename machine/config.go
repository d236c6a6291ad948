package machine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/sarchlab/memsim/mem"
	"github.com/sarchlab/memsim/mmu"
	"github.com/sarchlab/memsim/timing/cache"
	"github.com/sarchlab/memsim/timing/latency"
)

// ErrOverlappingRange is returned when two device ranges share an address.
var ErrOverlappingRange = errors.New("overlapping address range")

// RangeKind selects the device backing an address range.
type RangeKind string

// Range kinds.
const (
	// KindRAM maps the main sparse memory. Exactly one RAM range exists
	// and it starts at address zero.
	KindRAM RangeKind = "ram"
	// KindStorage maps a fixed capacity RAM device.
	KindStorage RangeKind = "storage"
	// KindROM maps a read only device initialized from Image.
	KindROM RangeKind = "rom"
	// KindPeripheral maps a bank of registers.
	KindPeripheral RangeKind = "peripheral"
)

// RangeConfig describes one device mapping.
type RangeConfig struct {
	Name  string      `json:"name"`
	Kind  RangeKind   `json:"kind"`
	Start mem.Address `json:"start"`
	Last  mem.Address `json:"last"`
	// Image is the file loaded into a ROM.
	Image string `json:"image,omitempty"`
}

// Size returns the number of bytes covered by the range.
func (r RangeConfig) Size() uint64 {
	return r.Last.Distance(r.Start) + 1
}

// Config holds the machine layout.
type Config struct {
	// Endian is the simulated byte order. Default: big endian.
	Endian mem.Endian `json:"endian"`

	// Ranges lists the mapped devices.
	Ranges []RangeConfig `json:"ranges"`

	// ICache configures the program port cache.
	ICache cache.Config `json:"icache"`

	// DCache configures the data port cache.
	DCache cache.Config `json:"dcache"`

	// Penalties are the backing store costs used by both caches.
	Penalties *latency.Penalties `json:"penalties"`

	// Seed initializes random replacement. Default: 0.
	Seed uint64 `json:"seed"`
}

// DefaultConfig returns a big endian machine with RAM below the uncached
// window, a serial port style peripheral inside it and small caches.
func DefaultConfig() *Config {
	return &Config{
		Endian: mem.BigEndian,
		Ranges: []RangeConfig{
			{
				Name:  "memory",
				Kind:  KindRAM,
				Start: mem.NewAddress(0x00000000),
				Last:  mem.NewAddress(0xefffffff),
			},
			{
				Name:  "serial",
				Kind:  KindPeripheral,
				Start: mem.NewAddress(0xffffc000),
				Last:  mem.NewAddress(0xffffc03f),
			},
		},
		ICache:    cache.DefaultConfig(),
		DCache:    cache.DefaultConfig(),
		Penalties: latency.DefaultPenalties(),
	}
}

// LoadConfig loads a machine configuration from a JSON file. Fields
// missing from the file keep their default value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read machine config file: %w", err)
	}

	config := DefaultConfig()
	ranges := config.Ranges
	config.Ranges = nil
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse machine config: %w", err)
	}
	if config.Ranges == nil {
		config.Ranges = ranges
	}

	return config, nil
}

// SaveConfig writes the configuration to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize machine config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write machine config file: %w", err)
	}

	return nil
}

// Validate checks the caches, penalties and range layout.
func (c *Config) Validate() error {
	if err := c.ICache.Validate(); err != nil {
		return fmt.Errorf("icache: %w", err)
	}
	if err := c.DCache.Validate(); err != nil {
		return fmt.Errorf("dcache: %w", err)
	}
	if c.Penalties == nil {
		return fmt.Errorf("penalties must be set")
	}
	if err := c.Penalties.Validate(); err != nil {
		return fmt.Errorf("penalties: %w", err)
	}

	ram := 0
	names := make(map[string]bool)
	for _, r := range c.Ranges {
		if r.Name == "" {
			return fmt.Errorf("range at %s has no name", r.Start)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate range name %q", r.Name)
		}
		names[r.Name] = true

		if r.Last.Less(r.Start) {
			return fmt.Errorf("range %q ends before it starts", r.Name)
		}
		if !mmu.ValidBounds(r.Start, r.Last) {
			return fmt.Errorf("range %q must cover whole words up to %s", r.Name, mem.MaxAddress)
		}

		switch r.Kind {
		case KindRAM:
			ram++
			if !r.Start.IsNull() {
				return fmt.Errorf("ram range %q must start at 0", r.Name)
			}
		case KindROM:
			if r.Image == "" {
				return fmt.Errorf("rom range %q has no image", r.Name)
			}
		case KindStorage, KindPeripheral:
		default:
			return fmt.Errorf("range %q has unknown kind %q", r.Name, r.Kind)
		}
	}
	if ram != 1 {
		return fmt.Errorf("exactly one ram range is required, got %d", ram)
	}

	sorted := append([]RangeConfig(nil), c.Ranges...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Less(sorted[j].Start)
	})
	for i := 1; i < len(sorted); i++ {
		if !sorted[i-1].Last.Less(sorted[i].Start) {
			return fmt.Errorf("%q and %q: %w", sorted[i-1].Name, sorted[i].Name, ErrOverlappingRange)
		}
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Ranges = append([]RangeConfig(nil), c.Ranges...)
	if c.Penalties != nil {
		clone.Penalties = c.Penalties.Clone()
	}
	return &clone
}
