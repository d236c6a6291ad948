// Package mem defines the address type and the access interfaces shared by
// every level of the simulated memory hierarchy.
package mem

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a location in the simulated address space. It is a value type;
// every operation returns a new Address.
type Address struct {
	raw uint64
}

// NullAddress is the zero address.
var NullAddress = Address{}

// MaxAddress is the last byte of the 32-bit simulated address space.
var MaxAddress = Address{raw: 0xffffffff}

// NewAddress wraps a raw address value.
func NewAddress(raw uint64) Address {
	return Address{raw: raw}
}

// Raw returns the wrapped value.
func (a Address) Raw() uint64 {
	return a.raw
}

// ByteIndex returns the index of the addressed word unit, used when the
// address is decomposed into cache row, column and tag.
func (a Address) ByteIndex() uint64 {
	return a.raw >> 2
}

// IsNull reports whether a is the null address.
func (a Address) IsNull() bool {
	return a.raw == 0
}

// Add returns a + offset.
func (a Address) Add(offset uint64) Address {
	return Address{raw: a.raw + offset}
}

// Sub returns a - offset.
func (a Address) Sub(offset uint64) Address {
	return Address{raw: a.raw - offset}
}

// Distance returns the raw distance a - other.
func (a Address) Distance(other Address) uint64 {
	return a.raw - other.raw
}

// And returns a & mask.
func (a Address) And(mask uint64) Address {
	return Address{raw: a.raw & mask}
}

// Or returns a | mask.
func (a Address) Or(mask uint64) Address {
	return Address{raw: a.raw | mask}
}

// Xor returns a ^ mask.
func (a Address) Xor(mask uint64) Address {
	return Address{raw: a.raw ^ mask}
}

// Shl returns a << n.
func (a Address) Shl(n uint) Address {
	return Address{raw: a.raw << n}
}

// Shr returns a >> n.
func (a Address) Shr(n uint) Address {
	return Address{raw: a.raw >> n}
}

// Less reports whether a is below other.
func (a Address) Less(other Address) bool {
	return a.raw < other.raw
}

// InRange reports whether start <= a <= last.
func (a Address) InRange(start, last Address) bool {
	return a.raw >= start.raw && a.raw <= last.raw
}

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", a.raw)
}

// MarshalText encodes the address as a hex string.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts decimal, 0x-prefixed hex, 0o octal and 0b binary.
func (a *Address) UnmarshalText(text []byte) error {
	raw, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = raw
	return nil
}

// ParseAddress parses s with the Go integer literal prefixes.
func ParseAddress(s string) (Address, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), 0, 64)
	if err != nil {
		return NullAddress, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return NewAddress(v), nil
}
