package loader_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/emu"
	"github.com/sarchlab/memsim/loader"
	"github.com/sarchlab/memsim/mem"
)

type testSegment struct {
	ptype   uint32
	flags   uint32
	vaddr   uint64
	data    []byte
	memSize uint64
}

// buildELF assembles a minimal executable with one program header per
// segment and the segment contents placed right after the headers.
func buildELF(class elf.Class, order binary.ByteOrder, machine elf.Machine, entry uint64, segs []testSegment) []byte {
	is64 := class == elf.ELFCLASS64
	ehsize, phentsize := 52, 32
	if is64 {
		ehsize, phentsize = 64, 56
	}

	hdr := make([]byte, ehsize)
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = byte(class)
	hdr[5] = byte(elf.ELFDATA2LSB)
	if order == binary.BigEndian {
		hdr[5] = byte(elf.ELFDATA2MSB)
	}
	hdr[6] = 1
	order.PutUint16(hdr[16:18], uint16(elf.ET_EXEC))
	order.PutUint16(hdr[18:20], uint16(machine))
	order.PutUint32(hdr[20:24], 1)

	if is64 {
		order.PutUint64(hdr[24:32], entry)
		order.PutUint64(hdr[32:40], uint64(ehsize))
		order.PutUint16(hdr[52:54], uint16(ehsize))
		order.PutUint16(hdr[54:56], uint16(phentsize))
		order.PutUint16(hdr[56:58], uint16(len(segs)))
		order.PutUint16(hdr[58:60], 64)
	} else {
		order.PutUint32(hdr[24:28], uint32(entry))
		order.PutUint32(hdr[28:32], uint32(ehsize))
		order.PutUint16(hdr[40:42], uint16(ehsize))
		order.PutUint16(hdr[42:44], uint16(phentsize))
		order.PutUint16(hdr[44:46], uint16(len(segs)))
		order.PutUint16(hdr[46:48], 40)
	}

	var out bytes.Buffer
	out.Write(hdr)

	offset := uint64(ehsize + phentsize*len(segs))
	for _, s := range segs {
		ph := make([]byte, phentsize)
		if is64 {
			order.PutUint32(ph[0:4], s.ptype)
			order.PutUint32(ph[4:8], s.flags)
			order.PutUint64(ph[8:16], offset)
			order.PutUint64(ph[16:24], s.vaddr)
			order.PutUint64(ph[24:32], s.vaddr)
			order.PutUint64(ph[32:40], uint64(len(s.data)))
			order.PutUint64(ph[40:48], s.memSize)
			order.PutUint64(ph[48:56], 0x1000)
		} else {
			order.PutUint32(ph[0:4], s.ptype)
			order.PutUint32(ph[4:8], uint32(offset))
			order.PutUint32(ph[8:12], uint32(s.vaddr))
			order.PutUint32(ph[12:16], uint32(s.vaddr))
			order.PutUint32(ph[16:20], uint32(len(s.data)))
			order.PutUint32(ph[20:24], uint32(s.memSize))
			order.PutUint32(ph[24:28], s.flags)
			order.PutUint32(ph[28:32], 0x1000)
		}
		out.Write(ph)
		offset += uint64(len(s.data))
	}
	for _, s := range segs {
		out.Write(s.data)
	}
	return out.Bytes()
}

var _ = Describe("ELF Loader", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "elf-loader-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	write := func(name string, image []byte) string {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, image, 0644)).To(Succeed())
		return path
	}

	code := []byte{0x24, 0x02, 0x00, 0x2a, 0x03, 0xe0, 0x00, 0x08}

	Describe("Load", func() {
		Context("with a big endian ELF32 image", func() {
			var path string

			BeforeEach(func() {
				path = write("mips.elf", buildELF(elf.ELFCLASS32, binary.BigEndian, elf.EM_MIPS, 0x400010,
					[]testSegment{{ptype: uint32(elf.PT_LOAD), flags: 0x5, vaddr: 0x400000, data: code, memSize: 8}}))
			})

			It("should report the image properties", func() {
				prog, err := loader.Load(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint64(0x400010)))
				Expect(prog.Endian).To(Equal(mem.BigEndian))
				Expect(prog.Machine).To(Equal(elf.EM_MIPS))
				Expect(prog.Class).To(Equal(elf.ELFCLASS32))
			})

			It("should read the segment contents and flags", func() {
				prog, err := loader.Load(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))

				seg := prog.Segments[0]
				Expect(seg.VirtAddr).To(Equal(uint64(0x400000)))
				Expect(seg.Data).To(Equal(code))
				Expect(seg.Flags & loader.SegmentFlagExecute).NotTo(BeZero())
				Expect(seg.Flags & loader.SegmentFlagWrite).To(BeZero())
			})

			It("should accept the expected machine", func() {
				_, err := loader.Load(path, loader.WithMachine(elf.EM_MIPS))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should reject another machine", func() {
				_, err := loader.Load(path, loader.WithMachine(elf.EM_RISCV))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("not a EM_RISCV"))
			})
		})

		Context("with a little endian ELF64 image", func() {
			It("should load every PT_LOAD segment", func() {
				data := []byte{1, 2, 3, 4}
				path := write("multi.elf", buildELF(elf.ELFCLASS64, binary.LittleEndian, elf.EM_AARCH64, 0x1000,
					[]testSegment{
						{ptype: uint32(elf.PT_LOAD), flags: 0x5, vaddr: 0x1000, data: code, memSize: 8},
						{ptype: uint32(elf.PT_NOTE), flags: 0x4},
						{ptype: uint32(elf.PT_LOAD), flags: 0x6, vaddr: 0x8000, data: data, memSize: 4},
					}))

				prog, err := loader.Load(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Endian).To(Equal(mem.LittleEndian))
				Expect(prog.Segments).To(HaveLen(2))
				Expect(prog.Segments[1].Data).To(Equal(data))
				Expect(prog.Segments[1].Flags & loader.SegmentFlagWrite).NotTo(BeZero())
				Expect(prog.End()).To(Equal(uint64(0x8004)))
			})
		})

		Context("with an image in memory", func() {
			It("should parse it from a reader", func() {
				image := buildELF(elf.ELFCLASS32, binary.LittleEndian, elf.EM_MIPS, 0,
					[]testSegment{{ptype: uint32(elf.PT_LOAD), flags: 0x4, vaddr: 0x10, data: code, memSize: 8}})

				prog, err := loader.LoadReader(bytes.NewReader(image))
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))
			})
		})

		Context("with an invalid file", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load("/nonexistent/path/to/file.elf")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to open"))
			})

			It("should return error for non-ELF file", func() {
				path := write("not-elf.bin", []byte("not an elf file"))
				_, err := loader.Load(path)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ELF"))
			})

			It("should return error for empty file", func() {
				path := write("empty.elf", []byte{})
				_, err := loader.Load(path)
				Expect(err).To(HaveOccurred())
			})
		})

		It("should return no segments for an image without PT_LOAD", func() {
			path := write("no-load.elf", buildELF(elf.ELFCLASS32, binary.BigEndian, elf.EM_MIPS, 0x400000,
				[]testSegment{{ptype: uint32(elf.PT_NOTE), flags: 0x4}}))

			prog, err := loader.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(BeEmpty())
			Expect(prog.EntryPoint).To(Equal(uint64(0x400000)))
			Expect(prog.End()).To(BeZero())
		})
	})

	Describe("ToMemory", func() {
		It("should write the segments and zero fill BSS", func() {
			data := []byte{0xde, 0xad, 0xbe, 0xef}
			path := write("bss.elf", buildELF(elf.ELFCLASS32, binary.BigEndian, elf.EM_MIPS, 0x400000,
				[]testSegment{{ptype: uint32(elf.PT_LOAD), flags: 0x6, vaddr: 0x600000, data: data, memSize: 16}}))

			prog, err := loader.Load(path)
			Expect(err).NotTo(HaveOccurred())

			memory := emu.NewMemory(prog.Endian)
			memory.Write(mem.Offset(0x600008), mem.SizeWord, 0x12345678)

			Expect(prog.ToMemory(memory)).To(Succeed())
			Expect(memory.Read(mem.Offset(0x600000), mem.SizeWord, true)).To(Equal(uint64(0xdeadbeef)))
			Expect(memory.Read(mem.Offset(0x600008), mem.SizeWord, true)).To(BeZero())
		})

		It("should reject segments outside the address space", func() {
			prog := &loader.Program{Segments: []loader.Segment{
				{VirtAddr: 0xffff_fffe, Data: []byte{1, 2, 3, 4}, MemSize: 4},
			}}
			Expect(prog.ToMemory(emu.NewMemory(mem.LittleEndian))).NotTo(Succeed())
		})
	})
})
