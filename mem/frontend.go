package mem

import (
	"encoding/binary"
	"fmt"
)

// WordMemory is the single access primitive of a frontend. Addresses are
// byte addresses; the low two bits are ignored. Words are numeric values in
// the simulated byte order.
type WordMemory interface {
	// ReadWord returns the word containing addr. A debug read has no
	// observable side effect.
	ReadWord(addr Address, debug bool) uint32

	// WriteWord stores the word containing addr and reports whether the
	// stored value changed.
	WriteWord(addr Address, value uint32) bool
}

// FrontendMemory is the memory seen by the CPU, a cache or an MMU.
type FrontendMemory interface {
	WordMemory

	// LocationStatus reports how addr is currently backed.
	LocationStatus(addr Address) LocationStatus

	// Sync pushes any deferred state to the backing store.
	Sync()

	// ChangeCounter increases every time a previously observed view of the
	// memory may have become stale.
	ChangeCounter() uint64
}

// Accessor is a FrontendMemory with the typed access helpers.
type Accessor interface {
	FrontendMemory

	ReadU8(addr Address, debug bool) uint8
	ReadU16(addr Address, debug bool) uint16
	ReadU32(addr Address, debug bool) uint32
	ReadU64(addr Address, debug bool) uint64

	WriteU8(addr Address, value uint8) bool
	WriteU16(addr Address, value uint16) bool
	WriteU32(addr Address, value uint32) bool
	WriteU64(addr Address, value uint64) bool

	ReadCtl(ctl AccessControl, addr Address, debug bool) (uint64, error)
	WriteCtl(ctl AccessControl, addr Address, value uint64) (bool, error)
}

// Frontend implements the typed helpers of Accessor on top of a WordMemory.
// Frontend implementations embed it and pass themselves as the word source.
type Frontend struct {
	words  WordMemory
	endian Endian
}

// NewFrontend creates the typed helpers for words in the given simulated
// byte order.
func NewFrontend(words WordMemory, endian Endian) Frontend {
	return Frontend{words: words, endian: endian}
}

// Endian returns the simulated byte order.
func (f *Frontend) Endian() Endian {
	return f.endian
}

// LocationStatus is LocationNone unless the embedding type overrides it.
func (f *Frontend) LocationStatus(Address) LocationStatus {
	return LocationNone
}

// Sync does nothing unless the embedding type overrides it.
func (f *Frontend) Sync() {}

// ReadU8 reads one byte.
func (f *Frontend) ReadU8(addr Address, debug bool) uint8 {
	return uint8(f.load(addr, SizeByte, debug))
}

// ReadU16 reads a half word.
func (f *Frontend) ReadU16(addr Address, debug bool) uint16 {
	return uint16(f.load(addr, SizeHalf, debug))
}

// ReadU32 reads a word.
func (f *Frontend) ReadU32(addr Address, debug bool) uint32 {
	return uint32(f.load(addr, SizeWord, debug))
}

// ReadU64 reads a double word.
func (f *Frontend) ReadU64(addr Address, debug bool) uint64 {
	return f.load(addr, SizeDouble, debug)
}

// WriteU8 writes one byte.
func (f *Frontend) WriteU8(addr Address, value uint8) bool {
	return f.store(addr, SizeByte, uint64(value))
}

// WriteU16 writes a half word.
func (f *Frontend) WriteU16(addr Address, value uint16) bool {
	return f.store(addr, SizeHalf, uint64(value))
}

// WriteU32 writes a word.
func (f *Frontend) WriteU32(addr Address, value uint32) bool {
	return f.store(addr, SizeWord, uint64(value))
}

// WriteU64 writes a double word.
func (f *Frontend) WriteU64(addr Address, value uint64) bool {
	return f.store(addr, SizeDouble, value)
}

// ReadCtl reads with the size and extension selected by ctl. AcNone reads
// nothing and returns zero.
func (f *Frontend) ReadCtl(ctl AccessControl, addr Address, debug bool) (uint64, error) {
	switch ctl {
	case AcNone:
		return 0, nil
	case AcI8:
		return uint64(int64(int8(f.ReadU8(addr, debug)))), nil
	case AcU8:
		return uint64(f.ReadU8(addr, debug)), nil
	case AcI16:
		return uint64(int64(int16(f.ReadU16(addr, debug)))), nil
	case AcU16:
		return uint64(f.ReadU16(addr, debug)), nil
	case AcI32:
		return uint64(int64(int32(f.ReadU32(addr, debug)))), nil
	case AcU32:
		return uint64(f.ReadU32(addr, debug)), nil
	case AcI64, AcU64:
		return f.ReadU64(addr, debug), nil
	default:
		return 0, fmt.Errorf("read at %s: %w: %d", addr, ErrUnknownMemoryControl, uint8(ctl))
	}
}

// WriteCtl writes the low bytes of value selected by ctl.
func (f *Frontend) WriteCtl(ctl AccessControl, addr Address, value uint64) (bool, error) {
	switch ctl {
	case AcNone:
		return false, nil
	case AcI8, AcU8:
		return f.WriteU8(addr, uint8(value)), nil
	case AcI16, AcU16:
		return f.WriteU16(addr, uint16(value)), nil
	case AcI32, AcU32:
		return f.WriteU32(addr, uint32(value)), nil
	case AcI64, AcU64:
		return f.WriteU64(addr, value), nil
	default:
		return false, fmt.Errorf("write at %s: %w: %d", addr, ErrUnknownMemoryControl, uint8(ctl))
	}
}

// span returns the first word address and the number of words covering
// size bytes at addr.
func span(addr Address, size AccessSize) (Address, int) {
	first := addr.And(^uint64(3))
	end := addr.Raw() + size.Bytes()
	return first, int((end - first.Raw() + 3) / 4)
}

// toBytes lays out a simulated word in host memory order.
func (f *Frontend) toBytes(dst []byte, word uint32) {
	binary.NativeEndian.PutUint32(dst, uint32(Convert(uint64(word), SizeWord, f.endian, NativeEndian)))
}

func (f *Frontend) fromBytes(src []byte) uint32 {
	return uint32(Convert(uint64(binary.NativeEndian.Uint32(src)), SizeWord, NativeEndian, f.endian))
}

func (f *Frontend) load(addr Address, size AccessSize, debug bool) uint64 {
	if size == SizeWord && addr.Raw()&3 == 0 {
		return uint64(f.words.ReadWord(addr, debug))
	}

	first, n := span(addr, size)
	var buf [16]byte
	for i := 0; i < n; i++ {
		f.toBytes(buf[4*i:], f.words.ReadWord(first.Add(uint64(4*i)), debug))
	}

	off := addr.Distance(first)
	var raw uint64
	switch size {
	case SizeByte:
		raw = uint64(buf[off])
	case SizeHalf:
		raw = uint64(binary.NativeEndian.Uint16(buf[off:]))
	case SizeWord:
		raw = uint64(binary.NativeEndian.Uint32(buf[off:]))
	default:
		raw = binary.NativeEndian.Uint64(buf[off:])
	}
	return Convert(raw, size, NativeEndian, f.endian)
}

func (f *Frontend) store(addr Address, size AccessSize, value uint64) bool {
	if size == SizeWord && addr.Raw()&3 == 0 {
		return f.words.WriteWord(addr, uint32(value))
	}

	first, n := span(addr, size)
	off := addr.Distance(first)
	whole := off == 0 && size.Bytes() == uint64(4*n)

	var buf [16]byte
	if !whole {
		// Bytes outside of the written range keep their current value.
		for i := 0; i < n; i++ {
			f.toBytes(buf[4*i:], f.words.ReadWord(first.Add(uint64(4*i)), true))
		}
	}

	raw := Convert(value, size, f.endian, NativeEndian)
	switch size {
	case SizeByte:
		buf[off] = uint8(raw)
	case SizeHalf:
		binary.NativeEndian.PutUint16(buf[off:], uint16(raw))
	case SizeWord:
		binary.NativeEndian.PutUint32(buf[off:], uint32(raw))
	default:
		binary.NativeEndian.PutUint64(buf[off:], raw)
	}

	changed := false
	for i := 0; i < n; i++ {
		if f.words.WriteWord(first.Add(uint64(4*i)), f.fromBytes(buf[4*i:])) {
			changed = true
		}
	}
	return changed
}
