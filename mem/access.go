package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMemoryControl is returned by ReadCtl and WriteCtl when the access
// control code is not one of the defined AccessControl values.
var ErrUnknownMemoryControl = errors.New("unknown memory access control")

// AccessSize is the width of a single backend access.
type AccessSize uint8

const (
	// SizeByte is an 8-bit access.
	SizeByte AccessSize = 1
	// SizeHalf is a 16-bit access.
	SizeHalf AccessSize = 2
	// SizeWord is a 32-bit access.
	SizeWord AccessSize = 4
	// SizeDouble is a 64-bit access.
	SizeDouble AccessSize = 8
)

// Bytes returns the access width in bytes.
func (s AccessSize) Bytes() uint64 {
	return uint64(s)
}

// Mask returns a mask covering the access width.
func (s AccessSize) Mask() uint64 {
	if s >= SizeDouble {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * uint64(s))) - 1
}

// AccessControl selects size and signedness of a ReadCtl/WriteCtl access.
type AccessControl uint8

// Access control codes. Reads with a signed code sign extend the result to
// 64 bits, unsigned codes zero extend it.
const (
	AcNone AccessControl = iota
	AcI8
	AcU8
	AcI16
	AcU16
	AcI32
	AcU32
	AcI64
	AcU64
)

var accessControlNames = [...]string{
	AcNone: "none",
	AcI8:   "i8",
	AcU8:   "u8",
	AcI16:  "i16",
	AcU16:  "u16",
	AcI32:  "i32",
	AcU32:  "u32",
	AcI64:  "i64",
	AcU64:  "u64",
}

func (c AccessControl) String() string {
	if int(c) < len(accessControlNames) {
		return accessControlNames[c]
	}
	return fmt.Sprintf("ctl(%d)", uint8(c))
}

// ParseAccessControl converts a name such as "u16" into its code.
func ParseAccessControl(name string) (AccessControl, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range accessControlNames {
		if n == name {
			return AccessControl(i), nil
		}
	}
	return AcNone, fmt.Errorf("%w: %q", ErrUnknownMemoryControl, name)
}

// LocationStatus describes how an address is currently backed. Values are
// bit flags and may be combined.
type LocationStatus uint8

const (
	// LocationNone is a normal read/write location.
	LocationNone LocationStatus = 0
	// LocationCached means the location is held in a valid cache line.
	LocationCached LocationStatus = 1 << (iota - 1)
	// LocationDirty means the cache line holding the location is dirty.
	LocationDirty
	// LocationReadOnly is a read only hardware register.
	LocationReadOnly
	// LocationIllegal is not backed by any device. Writes are ignored and
	// reads return zero.
	LocationIllegal
)

// Has reports whether every flag in f is set.
func (s LocationStatus) Has(f LocationStatus) bool {
	return s&f == f
}

func (s LocationStatus) String() string {
	if s == LocationNone {
		return "none"
	}
	var parts []string
	if s.Has(LocationCached) {
		parts = append(parts, "cached")
	}
	if s.Has(LocationDirty) {
		parts = append(parts, "dirty")
	}
	if s.Has(LocationReadOnly) {
		parts = append(parts, "read-only")
	}
	if s.Has(LocationIllegal) {
		parts = append(parts, "illegal")
	}
	return strings.Join(parts, "|")
}

// Endian is the byte order of a simulated machine.
type Endian uint8

const (
	// BigEndian stores the most significant byte at the lowest address.
	BigEndian Endian = iota
	// LittleEndian stores the least significant byte at the lowest address.
	LittleEndian
)

// NativeEndian is the byte order of the host running the simulator.
var NativeEndian = detectNativeEndian()

func detectNativeEndian() Endian {
	var buf [2]byte
	binary.NativeEndian.PutUint16(buf[:], 1)
	if buf[0] == 1 {
		return LittleEndian
	}
	return BigEndian
}

// ByteOrder returns the encoding/binary order matching e.
func (e Endian) ByteOrder() binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (e Endian) String() string {
	if e == LittleEndian {
		return "little"
	}
	return "big"
}

// MarshalText encodes the byte order as "big" or "little".
func (e Endian) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes "big" or "little".
func (e *Endian) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "big", "be":
		*e = BigEndian
	case "little", "le":
		*e = LittleEndian
	default:
		return fmt.Errorf("unknown endianness %q", string(text))
	}
	return nil
}

// Convert reorders the low size bytes of value from one byte order to the
// other. Values whose bytes are laid out in host memory are converted with
// from set to NativeEndian.
func Convert(value uint64, size AccessSize, from, to Endian) uint64 {
	value &= size.Mask()
	if from == to {
		return value
	}
	var out uint64
	for i := uint64(0); i < size.Bytes(); i++ {
		out = out<<8 | (value>>(8*i))&0xff
	}
	return out
}
