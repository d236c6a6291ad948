package emu

import "github.com/sarchlab/memsim/mem"

// SimplePeripheral is a small bank of word registers with host callbacks.
// Regular reads and writes invoke the callbacks; debug reads do not.
type SimplePeripheral struct {
	mem.NotifierList

	endian mem.Endian
	regs   []uint32

	// OnWrite is called after a regular write with the register offset and
	// the new register value.
	OnWrite func(offset mem.Offset, value uint32)

	// OnRead may replace the value returned by a regular read of the
	// register at offset.
	OnRead func(offset mem.Offset, value *uint32)
}

// NewSimplePeripheral creates a peripheral with size bytes of registers.
func NewSimplePeripheral(size uint64, endian mem.Endian) *SimplePeripheral {
	return &SimplePeripheral{
		endian: endian,
		regs:   make([]uint32, (size+3)/4),
	}
}

// Endian returns the simulated byte order.
func (p *SimplePeripheral) Endian() mem.Endian {
	return p.endian
}

// Size returns the register window in bytes.
func (p *SimplePeripheral) Size() uint64 {
	return uint64(len(p.regs)) * 4
}

// LocationStatus reports offsets past the register window as illegal.
func (p *SimplePeripheral) LocationStatus(offset mem.Offset) mem.LocationStatus {
	if uint64(offset) >= p.Size() {
		return mem.LocationIllegal
	}
	return mem.LocationNone
}

// Read returns register content. Sub-word reads select bytes of the
// register in the simulated byte order.
func (p *SimplePeripheral) Read(offset mem.Offset, size mem.AccessSize, debug bool) uint64 {
	if uint64(offset)+size.Bytes() > p.Size() {
		return 0
	}

	var buf [8]byte
	for i := uint64(0); i < size.Bytes(); i += 4 - (uint64(offset)+i)&3 {
		o := offset + mem.Offset(i)
		reg := p.regs[o>>2]
		if !debug && p.OnRead != nil {
			p.OnRead(o&^3, &reg)
		}

		var word [4]byte
		p.endian.ByteOrder().PutUint32(word[:], reg)
		copy(buf[i:size.Bytes()], word[o&3:])
	}
	return decode(buf[:size], p.endian)
}

// Write updates the registers covered by the access.
func (p *SimplePeripheral) Write(offset mem.Offset, size mem.AccessSize, value uint64) bool {
	if uint64(offset)+size.Bytes() > p.Size() {
		return false
	}

	var buf [8]byte
	encode(buf[:size], value, p.endian)

	changed := false
	for i := uint64(0); i < size.Bytes(); i += 4 - (uint64(offset)+i)&3 {
		o := offset + mem.Offset(i)
		var word [4]byte
		p.endian.ByteOrder().PutUint32(word[:], p.regs[o>>2])
		copy(word[o&3:], buf[i:size.Bytes()])

		v := p.endian.ByteOrder().Uint32(word[:])
		if v != p.regs[o>>2] {
			changed = true
		}
		p.regs[o>>2] = v
		if p.OnWrite != nil {
			p.OnWrite(o&^3, v)
		}
	}
	return changed
}

// Set changes a register from the host side and notifies the subscribers
// about the out-of-band change.
func (p *SimplePeripheral) Set(offset mem.Offset, value uint32) {
	if uint64(offset)+4 > p.Size() {
		return
	}
	p.regs[offset>>2] = value
	aligned := offset &^ 3
	p.Notify(p, aligned, aligned+3, true)
}
