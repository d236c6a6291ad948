package latency

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/akita/v4/sim"
)

// Penalties holds the cost of backing store accesses seen by a cache.
type Penalties struct {
	// Read is the number of cycles a single backing store read takes.
	// Default: 1 cycle.
	Read uint64 `json:"read"`

	// Write is the number of cycles a single backing store write takes.
	// Default: 1 cycle.
	Write uint64 `json:"write"`

	// Burst is the cost of every word after the first one in a multi-word
	// transfer. Zero disables burst accounting. Default: 0.
	Burst uint64 `json:"burst"`

	// Frequency is the core clock used to convert cycles into time.
	// Default: 1 GHz.
	Frequency sim.Freq `json:"frequency"`
}

// DefaultPenalties returns single cycle penalties without burst support.
func DefaultPenalties() *Penalties {
	return &Penalties{
		Read:      1,
		Write:     1,
		Burst:     0,
		Frequency: 1 * sim.GHz,
	}
}

// LoadConfig loads Penalties from a JSON file. Fields missing from the file
// keep their default value.
func LoadConfig(path string) (*Penalties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read penalty config file: %w", err)
	}

	config := DefaultPenalties()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse penalty config: %w", err)
	}

	return config, nil
}

// SaveConfig writes Penalties to a JSON file.
func (p *Penalties) SaveConfig(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize penalty config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write penalty config file: %w", err)
	}

	return nil
}

// Validate checks that the penalties describe a realizable memory.
func (p *Penalties) Validate() error {
	if p.Read == 0 {
		return fmt.Errorf("read penalty must be > 0")
	}
	if p.Write == 0 {
		return fmt.Errorf("write penalty must be > 0")
	}
	if p.Burst > p.Read || p.Burst > p.Write {
		return fmt.Errorf("burst penalty must not exceed the read and write penalties")
	}
	if p.Frequency <= 0 {
		return fmt.Errorf("frequency must be > 0")
	}
	return nil
}

// Clone returns a copy of the Penalties.
func (p *Penalties) Clone() *Penalties {
	c := *p
	return &c
}
