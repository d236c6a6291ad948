package emu_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/emu"
	"github.com/sarchlab/memsim/mem"
)

var _ = Describe("Memory", func() {
	var memory *emu.Memory

	BeforeEach(func() {
		memory = emu.NewMemory(mem.BigEndian)
	})

	Describe("lazy allocation", func() {
		It("should read zero without allocating", func() {
			Expect(memory.Read(0x12345678, mem.SizeWord, false)).To(Equal(uint64(0)))
			Expect(memory.Read(0xfffffffc, mem.SizeDouble, false)).To(Equal(uint64(0)))
			Expect(memory.AllocatedSections()).To(Equal(0))
		})

		It("should allocate one section per written region", func() {
			memory.Write(0x0, mem.SizeWord, 1)
			memory.Write(0x4, mem.SizeWord, 2)
			Expect(memory.AllocatedSections()).To(Equal(1))

			memory.Write(0x80000000, mem.SizeWord, 3)
			Expect(memory.AllocatedSections()).To(Equal(2))
		})

		It("should address the whole 32-bit space", func() {
			memory.Write(0xfffffffc, mem.SizeWord, 0xcafebabe)
			memory.Write(0x0, mem.SizeWord, 0x11111111)

			Expect(memory.Read(0xfffffffc, mem.SizeWord, false)).To(Equal(uint64(0xcafebabe)))
			Expect(memory.Read(0x0, mem.SizeWord, false)).To(Equal(uint64(0x11111111)))
		})

		It("should not alias offsets past the 32-bit space onto low memory", func() {
			memory.Write(0x10, mem.SizeWord, 0x11111111)

			Expect(memory.Write(0x1_0000_0010, mem.SizeWord, 0x22222222)).To(BeFalse())
			Expect(memory.Write(0x1_0000_0011, mem.SizeByte, 0x33)).To(BeFalse())

			Expect(memory.Read(0x10, mem.SizeWord, false)).To(Equal(uint64(0x11111111)))
			Expect(memory.Read(0x1_0000_0010, mem.SizeWord, false)).To(BeZero())
			Expect(memory.LocationStatus(0x1_0000_0010)).To(Equal(mem.LocationIllegal))
			Expect(memory.LocationStatus(0xfffffffc)).To(Equal(mem.LocationNone))
			Expect(memory.AllocatedSections()).To(Equal(1))
		})
	})

	Describe("typed access", func() {
		It("should store words in big endian order", func() {
			memory.Write(0x100, mem.SizeWord, 0x11223344)

			Expect(memory.Read(0x100, mem.SizeByte, false)).To(Equal(uint64(0x11)))
			Expect(memory.Read(0x102, mem.SizeHalf, false)).To(Equal(uint64(0x3344)))
		})

		It("should store words in little endian order", func() {
			le := emu.NewMemory(mem.LittleEndian)
			le.Write(0x100, mem.SizeWord, 0x11223344)

			Expect(le.Read(0x100, mem.SizeByte, false)).To(Equal(uint64(0x44)))
			Expect(le.Read(0x102, mem.SizeHalf, false)).To(Equal(uint64(0x1122)))
		})

		It("should handle double words across sections", func() {
			addr := mem.Offset(emu.SectionWords*4 - 4)
			memory.Write(addr, mem.SizeDouble, 0x0102030405060708)

			Expect(memory.AllocatedSections()).To(Equal(2))
			Expect(memory.Read(addr, mem.SizeDouble, false)).To(Equal(uint64(0x0102030405060708)))
			Expect(memory.Read(addr+4, mem.SizeWord, false)).To(Equal(uint64(0x05060708)))
		})

		It("should report whether a write changed content", func() {
			Expect(memory.Write(0x10, mem.SizeWord, 5)).To(BeTrue())
			Expect(memory.Write(0x10, mem.SizeWord, 5)).To(BeFalse())
			Expect(memory.Write(0x13, mem.SizeByte, 5)).To(BeFalse())
			Expect(memory.Write(0x13, mem.SizeByte, 6)).To(BeTrue())
		})
	})

	Describe("counters", func() {
		It("should bump the change counter only on changes", func() {
			before := memory.ChangeCounter()
			memory.Write(0x10, mem.SizeWord, 5)
			after := memory.ChangeCounter()
			memory.Write(0x10, mem.SizeWord, 5)

			Expect(after).To(BeNumerically(">", before))
			Expect(memory.ChangeCounter()).To(Equal(after))
			Expect(memory.WriteCounter()).To(Equal(uint64(2)))
		})
	})

	Describe("bulk access", func() {
		It("should round trip byte slices", func() {
			data := []byte{1, 2, 3, 4, 5, 6, 7}
			Expect(memory.WriteBytes(0x401, data)).To(BeTrue())

			out := make([]byte, len(data))
			memory.ReadBytes(0x401, out)
			Expect(out).To(Equal(data))
			Expect(memory.Read(0x400, mem.SizeWord, false)).To(Equal(uint64(0x00010203)))
		})
	})

	Describe("copy, equality and reset", func() {
		It("should deep copy", func() {
			memory.Write(0x100, mem.SizeWord, 42)
			c := memory.Clone()
			Expect(c.Equal(memory)).To(BeTrue())

			c.Write(0x100, mem.SizeWord, 43)
			Expect(memory.Read(0x100, mem.SizeWord, false)).To(Equal(uint64(42)))
			Expect(c.Equal(memory)).To(BeFalse())
		})

		It("should compare allocation structure literally", func() {
			other := emu.NewMemory(mem.BigEndian)
			Expect(other.Equal(memory)).To(BeTrue())

			// Writing zero allocates a section holding the same logical
			// content as unallocated memory.
			other.Write(0x100, mem.SizeWord, 0)
			Expect(other.Read(0x100, mem.SizeWord, false)).To(Equal(uint64(0)))
			Expect(other.Equal(memory)).To(BeFalse())
			Expect(memory.Equal(other)).To(BeFalse())
		})

		It("should treat different byte orders as different", func() {
			Expect(emu.NewMemory(mem.LittleEndian).Equal(memory)).To(BeFalse())
		})

		It("should discard everything on reset", func() {
			memory.Write(0x100, mem.SizeWord, 42)
			memory.Reset()

			Expect(memory.AllocatedSections()).To(Equal(0))
			Expect(memory.Read(0x100, mem.SizeWord, false)).To(Equal(uint64(0)))
			Expect(memory.Equal(emu.NewMemory(mem.BigEndian))).To(BeTrue())
		})

		It("should reset from another memory", func() {
			src := emu.NewMemory(mem.BigEndian)
			src.Write(0x2000, mem.SizeWord, 7)

			memory.Write(0x100, mem.SizeWord, 42)
			memory.ResetFrom(src)

			Expect(memory.Equal(src)).To(BeTrue())
			src.Write(0x2000, mem.SizeWord, 8)
			Expect(memory.Read(0x2000, mem.SizeWord, false)).To(Equal(uint64(7)))
		})
	})

	Describe("structure dump", func() {
		It("should list allocated sections by address", func() {
			memory.Write(0x80000000, mem.SizeWord, 2)
			memory.Write(0x400, mem.SizeWord, 1)

			views := memory.Sections()
			Expect(views).To(HaveLen(2))
			Expect(views[0].Base).To(Equal(uint64(0x400)))
			Expect(views[0].Words[0]).To(Equal(uint32(1)))
			Expect(views[1].Base).To(Equal(uint64(0x80000000)))
		})

		It("should render a graph", func() {
			memory.Write(0x400, mem.SizeWord, 1)

			var buf bytes.Buffer
			memory.DumpStructure(&buf)
			Expect(buf.String()).To(ContainSubstring("digraph"))
		})
	})
})
