package cache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReplacementPolicy selects the victim way on a miss.
type ReplacementPolicy int

// Replacement policies.
const (
	ReplacementRandom ReplacementPolicy = iota
	ReplacementLRU
	ReplacementLFU
)

var replacementNames = map[ReplacementPolicy]string{
	ReplacementRandom: "RAND",
	ReplacementLRU:    "LRU",
	ReplacementLFU:    "LFU",
}

func (p ReplacementPolicy) String() string {
	if s, ok := replacementNames[p]; ok {
		return s
	}
	return fmt.Sprintf("ReplacementPolicy(%d)", int(p))
}

// MarshalText encodes the policy by name.
func (p ReplacementPolicy) MarshalText() ([]byte, error) {
	s, ok := replacementNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown replacement policy %d", int(p))
	}
	return []byte(s), nil
}

// UnmarshalText accepts RAND, LRU and LFU in any case.
func (p *ReplacementPolicy) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for k, v := range replacementNames {
		if v == name {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("unknown replacement policy %q", string(text))
}

// WritePolicy selects how writes reach the backing store.
type WritePolicy int

// Write policies.
const (
	WriteThrough WritePolicy = iota
	WriteThroughNoAlloc
	WriteBack
)

var writeNames = map[WritePolicy]string{
	WriteThrough:        "WRITE_THROUGH",
	WriteThroughNoAlloc: "WRITE_THROUGH_NO_ALLOC",
	WriteBack:           "WRITE_BACK",
}

func (p WritePolicy) String() string {
	if s, ok := writeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("WritePolicy(%d)", int(p))
}

// MarshalText encodes the policy by name.
func (p WritePolicy) MarshalText() ([]byte, error) {
	s, ok := writeNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown write policy %d", int(p))
	}
	return []byte(s), nil
}

// UnmarshalText accepts the policy names in any case.
func (p *WritePolicy) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for k, v := range writeNames {
		if v == name {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("unknown write policy %q", string(text))
}

// Config holds the cache geometry and policies.
type Config struct {
	// Enabled turns the cache on. A disabled cache forwards every access.
	Enabled bool `json:"enabled"`
	// Associativity is the number of ways per set.
	Associativity uint32 `json:"associativity"`
	// Sets is the number of rows.
	Sets uint32 `json:"sets"`
	// Blocks is the number of words per line.
	Blocks      uint32            `json:"blocks"`
	Replacement ReplacementPolicy `json:"replacement"`
	Write       WritePolicy       `json:"write"`
}

// DefaultConfig returns a small 1-way, 1-set, 1-block LRU write-back cache.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Associativity: 1,
		Sets:          1,
		Blocks:        1,
		Replacement:   ReplacementLRU,
		Write:         WriteBack,
	}
}

// DisabledConfig returns DefaultConfig with the cache turned off.
func DisabledConfig() Config {
	c := DefaultConfig()
	c.Enabled = false
	return c
}

// Validate checks the geometry of an enabled cache.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Associativity == 0 {
		return fmt.Errorf("associativity must be > 0")
	}
	if c.Sets == 0 {
		return fmt.Errorf("sets must be > 0")
	}
	if c.Blocks == 0 {
		return fmt.Errorf("blocks must be > 0")
	}
	if _, ok := replacementNames[c.Replacement]; !ok {
		return fmt.Errorf("unknown replacement policy %d", int(c.Replacement))
	}
	if _, ok := writeNames[c.Write]; !ok {
		return fmt.Errorf("unknown write policy %d", int(c.Write))
	}
	if uint64(c.Sets)*uint64(c.Blocks) > 1<<30 {
		return fmt.Errorf("%d sets of %d blocks exceed the address space", c.Sets, c.Blocks)
	}
	return nil
}

// Size returns the data capacity in bytes.
func (c Config) Size() uint64 {
	return uint64(c.Associativity) * uint64(c.Sets) * uint64(c.Blocks) * 4
}

// String describes the cache in one line.
func (c Config) String() string {
	if !c.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("%d-way %d sets %d blocks %s %s",
		c.Associativity, c.Sets, c.Blocks, c.Replacement, c.Write)
}

// ParseConfig decodes a JSON cache configuration on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	c := DefaultConfig()
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse cache config: %w", err)
	}
	return c, c.Validate()
}
