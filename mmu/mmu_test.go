package mmu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/emu"
	"github.com/sarchlab/memsim/mem"
	"github.com/sarchlab/memsim/mmu"
)

// closingDevice records whether the MMU closed it.
type closingDevice struct {
	*emu.StorageDevice
	closed bool
}

func (d *closingDevice) Close() error {
	d.closed = true
	return nil
}

func addr(raw uint64) mem.Address {
	return mem.NewAddress(raw)
}

var _ = Describe("MMU", func() {
	var (
		m    *mmu.MMU
		low  *emu.Memory
		high *emu.Memory
	)

	BeforeEach(func() {
		m = mmu.New(mem.BigEndian, mmu.WithLogger(GinkgoLogr))
		low = emu.NewMemory(mem.BigEndian)
		high = emu.NewMemory(mem.BigEndian)
	})

	Describe("range insertion", func() {
		It("should reject overlapping ranges and keep the originals routable", func() {
			Expect(m.InsertRange(low, addr(0x00), addr(0x0f), false)).To(BeTrue())
			Expect(m.InsertRange(high, addr(0x10), addr(0x1f), false)).To(BeTrue())

			third := emu.NewMemory(mem.BigEndian)
			Expect(m.InsertRange(third, addr(0x08), addr(0x1b), false)).To(BeFalse())

			Expect(m.Ranges()).To(HaveLen(2))
			Expect(m.FindRange(addr(0x08)).Device).To(BeIdenticalTo(low))
			Expect(m.FindRange(addr(0x18)).Device).To(BeIdenticalTo(high))

			m.WriteWord(addr(0x04), 0x11111111)
			m.WriteWord(addr(0x14), 0x22222222)
			Expect(low.Read(0x4, mem.SizeWord, false)).To(Equal(uint64(0x11111111)))
			Expect(high.Read(0x4, mem.SizeWord, false)).To(Equal(uint64(0x22222222)))
		})

		DescribeTable("overlap detection against [0x100, 0x1ff]",
			func(start, last uint64, ok bool) {
				Expect(m.InsertRange(low, addr(0x100), addr(0x1ff), false)).To(BeTrue())
				Expect(m.InsertRange(high, addr(start), addr(last), false)).To(Equal(ok))
			},
			Entry("below", uint64(0x0), uint64(0xff), true),
			Entry("above", uint64(0x200), uint64(0x2ff), true),
			Entry("touching the start", uint64(0x0), uint64(0x103), false),
			Entry("touching the end", uint64(0x1fc), uint64(0x2ff), false),
			Entry("inside", uint64(0x180), uint64(0x18f), false),
			Entry("covering", uint64(0x0), uint64(0xfff), false),
			Entry("empty", uint64(0x300), uint64(0x2ff), false),
		)

		DescribeTable("should only map whole words of the 32-bit space",
			func(start, last uint64, ok bool) {
				Expect(mmu.ValidBounds(addr(start), addr(last))).To(Equal(ok))
				Expect(m.InsertRange(low, addr(start), addr(last), false)).To(Equal(ok))
			},
			Entry("aligned", uint64(0x1000), uint64(0x10ff), true),
			Entry("single word", uint64(0x1000), uint64(0x1003), true),
			Entry("top of the space", uint64(0xffffff00), uint64(0xffffffff), true),
			Entry("unaligned start", uint64(0x1002), uint64(0x1101), false),
			Entry("partial last word", uint64(0x1000), uint64(0x1101), false),
			Entry("past 4 GiB", uint64(0x0), uint64(0x1_0000_0fff), false),
			Entry("fully above 4 GiB", uint64(0x1_0000_0000), uint64(0x1_0000_0fff), false),
		)

		It("should route a rejected unaligned range nowhere", func() {
			dev := emu.NewStorageDevice(0x100, mem.BigEndian)
			Expect(m.InsertRange(dev, addr(0x1002), addr(0x1101), false)).To(BeFalse())

			Expect(m.LocationStatus(addr(0x1002))).To(Equal(mem.LocationIllegal))
			Expect(m.WriteU32(addr(0x1002), 0xdeadbeef)).To(BeFalse())
			Expect(m.UnmappedAccesses()).To(Equal(uint64(2)))
		})

		It("should not map one device twice", func() {
			Expect(m.InsertRange(low, addr(0x0), addr(0xff), false)).To(BeTrue())
			Expect(m.InsertRange(low, addr(0x100), addr(0x1ff), false)).To(BeFalse())
		})
	})

	Describe("routing", func() {
		BeforeEach(func() {
			Expect(m.InsertRange(low, addr(0x0), addr(0xffff), false)).To(BeTrue())
			Expect(m.InsertRange(high, addr(0x80000000), addr(0x8000ffff), false)).To(BeTrue())
		})

		It("should translate addresses to device offsets", func() {
			Expect(m.WriteWord(addr(0x80000010), 0xabcdef01)).To(BeTrue())
			Expect(high.Read(0x10, mem.SizeWord, false)).To(Equal(uint64(0xabcdef01)))
			Expect(m.ReadWord(addr(0x80000010), false)).To(Equal(uint32(0xabcdef01)))
		})

		It("should provide typed access through the frontend helpers", func() {
			m.WriteU16(addr(0x102), 0xbeef)
			Expect(m.ReadU32(addr(0x100), false)).To(Equal(uint32(0x0000beef)))
			Expect(m.ReadU8(addr(0x103), false)).To(Equal(uint8(0xef)))
		})

		It("should count regular accesses per range", func() {
			m.ReadWord(addr(0x0), false)
			m.WriteWord(addr(0x4), 1)
			m.ReadWord(addr(0x0), true)

			Expect(m.FindRange(addr(0x0)).Accesses).To(Equal(uint64(2)))
		})

		It("should ignore unmapped accesses", func() {
			Expect(m.WriteWord(addr(0x40000000), 1)).To(BeFalse())
			Expect(m.ReadWord(addr(0x40000000), false)).To(Equal(uint32(0)))
			Expect(m.LocationStatus(addr(0x40000000))).To(Equal(mem.LocationIllegal))
			Expect(m.UnmappedAccesses()).To(Equal(uint64(2)))
		})

		It("should not count unmapped debug reads", func() {
			m.ReadWord(addr(0x40000000), true)
			Expect(m.UnmappedAccesses()).To(Equal(uint64(0)))
		})

		It("should bump the change counter on changed writes only", func() {
			before := m.ChangeCounter()
			m.WriteWord(addr(0x0), 7)
			mid := m.ChangeCounter()
			m.WriteWord(addr(0x0), 7)

			Expect(mid).To(Equal(before + 1))
			Expect(m.ChangeCounter()).To(Equal(mid))
		})
	})

	Describe("removal", func() {
		It("should unmap by device", func() {
			m.InsertRange(low, addr(0x0), addr(0xff), false)
			Expect(m.RemoveRange(low)).To(BeTrue())
			Expect(m.RemoveRange(low)).To(BeFalse())
			Expect(m.FindRange(addr(0x10))).To(BeNil())
		})

		It("should close owned devices only", func() {
			owned := &closingDevice{StorageDevice: emu.NewStorageDevice(256, mem.BigEndian)}
			borrowed := &closingDevice{StorageDevice: emu.NewStorageDevice(256, mem.BigEndian)}
			m.InsertRange(owned, addr(0x0), addr(0xff), true)
			m.InsertRange(borrowed, addr(0x100), addr(0x1ff), false)

			m.RemoveRange(owned)
			Expect(owned.closed).To(BeTrue())

			Expect(m.Close()).To(Succeed())
			Expect(borrowed.closed).To(BeFalse())
			Expect(m.Ranges()).To(BeEmpty())
		})

		It("should clean ranges inside a window", func() {
			a := emu.NewMemory(mem.BigEndian)
			b := emu.NewMemory(mem.BigEndian)
			c := emu.NewMemory(mem.BigEndian)
			m.InsertRange(a, addr(0x000), addr(0x0ff), false)
			m.InsertRange(b, addr(0x100), addr(0x1ff), false)
			m.InsertRange(c, addr(0x200), addr(0x2ff), false)

			m.CleanRange(addr(0x000), addr(0x27f))

			Expect(m.Ranges()).To(HaveLen(1))
			Expect(m.Ranges()[0].Device).To(BeIdenticalTo(c))
		})
	})

	Describe("location status", func() {
		It("should ask the owning device with a local offset", func() {
			dev := emu.NewStorageDevice(0x10, mem.BigEndian)
			m.InsertRange(dev, addr(0x1000), addr(0x1fff), false)

			Expect(m.LocationStatus(addr(0x1004))).To(Equal(mem.LocationNone))
			Expect(m.LocationStatus(addr(0x1010))).To(Equal(mem.LocationIllegal))
		})
	})

	Describe("external changes", func() {
		It("should re-address device notifications", func() {
			p := emu.NewSimplePeripheral(0x20, mem.BigEndian)
			m.InsertRange(p, addr(0xffffc000), addr(0xffffc01f), false)

			var start, last mem.Address
			var external bool
			var device mem.BackendMemory
			m.OnExternalChange(func(dev mem.BackendMemory, s, l mem.Address, ext bool) {
				device, start, last, external = dev, s, l, ext
			})

			before := m.ChangeCounter()
			p.Set(0x8, 0x1234)

			Expect(device).To(BeIdenticalTo(p))
			Expect(start).To(Equal(addr(0xffffc008)))
			Expect(last).To(Equal(addr(0xffffc00b)))
			Expect(external).To(BeTrue())
			Expect(m.ChangeCounter()).To(BeNumerically(">", before))
			Expect(m.ReadWord(addr(0xffffc008), true)).To(Equal(uint32(0x1234)))
		})

		It("should stop listening once the device is removed", func() {
			p := emu.NewSimplePeripheral(0x20, mem.BigEndian)
			m.InsertRange(p, addr(0x0), addr(0x1f), false)

			calls := 0
			m.OnExternalChange(func(mem.BackendMemory, mem.Address, mem.Address, bool) {
				calls++
			})

			m.RemoveRange(p)
			p.Set(0x0, 1)
			Expect(calls).To(Equal(0))
		})
	})
})
