// Package loader reads ELF program images and places them into simulated
// memory.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sarchlab/memsim/emu"
	"github.com/sarchlab/memsim/mem"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// AddressSpace is the size of the simulated physical address space.
const AddressSpace = uint64(1) << 32

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded ELF program.
type Program struct {
	// EntryPoint is the address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// Endian is the byte order of the image.
	Endian mem.Endian
	// Machine is the architecture the image was built for.
	Machine elf.Machine
	// Class is the ELF word size.
	Class elf.Class
}

type options struct {
	machine elf.Machine
}

// Option restricts what Load accepts.
type Option func(*options)

// WithMachine rejects images built for another architecture.
func WithMachine(m elf.Machine) Option {
	return func(o *options) {
		o.machine = m
	}
}

// Load parses an ELF binary and returns its loadable segments.
func Load(path string, opts ...Option) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return fromFile(f, opts...)
}

// LoadReader parses an ELF image from r.
func LoadReader(r io.ReaderAt, opts ...Option) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF image: %w", err)
	}
	defer func() { _ = f.Close() }()

	return fromFile(f, opts...)
}

func fromFile(f *elf.File, opts ...Option) (*Program, error) {
	o := options{machine: elf.EM_NONE}
	for _, opt := range opts {
		opt(&o)
	}

	if f.Class != elf.ELFCLASS32 && f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("unsupported ELF class %v", f.Class)
	}

	if o.machine != elf.EM_NONE && f.Machine != o.machine {
		return nil, fmt.Errorf("not a %v ELF file (machine type: %v)", o.machine, f.Machine)
	}

	prog := &Program{
		EntryPoint: f.Entry,
		Machine:    f.Machine,
		Class:      f.Class,
		Endian:     mem.LittleEndian,
	}
	if f.Data == elf.ELFDATA2MSB {
		prog.Endian = mem.BigEndian
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	return prog, nil
}

// End returns the first address above every loaded segment.
func (p *Program) End() uint64 {
	var end uint64
	for _, seg := range p.Segments {
		size := max(seg.MemSize, uint64(len(seg.Data)))
		end = max(end, seg.VirtAddr+size)
	}
	return end
}

// ToMemory writes every segment into m, zero filling the part of a segment
// not present in the file. It writes directly to the store, bypassing any
// cache.
func (p *Program) ToMemory(m *emu.Memory) error {
	for _, seg := range p.Segments {
		size := max(seg.MemSize, uint64(len(seg.Data)))
		if seg.VirtAddr >= AddressSpace || size > AddressSpace-seg.VirtAddr {
			return fmt.Errorf("segment at 0x%x of %d bytes exceeds the address space",
				seg.VirtAddr, size)
		}

		m.WriteBytes(mem.Offset(seg.VirtAddr), seg.Data)

		bss := size - uint64(len(seg.Data))
		if bss > 0 {
			m.WriteBytes(mem.Offset(seg.VirtAddr+uint64(len(seg.Data))), make([]byte, bss))
		}
	}
	return nil
}
