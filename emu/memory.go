package emu

import (
	"io"

	"github.com/bradleyjkemp/memviz"

	"github.com/sarchlab/memsim/mem"
)

// Geometry of the sparse tree. A 32-bit byte address holds a 30-bit word
// index: the low SectionBits select the word inside a section and the rest
// is split evenly between the internal tree levels.
const (
	SectionBits  = 8
	SectionWords = 1 << SectionBits

	treeBits  = 11
	treeWidth = 1 << treeBits
	treeDepth = 2

	wordIndexMask = 1<<(SectionBits+treeBits*treeDepth) - 1
)

// treeNode holds child indices. At the last level they index
// Memory.sections, otherwise Memory.nodes. Zero means unallocated.
type treeNode struct {
	children []uint32
}

// Memory is the sparse main memory. Sections are allocated the first time an
// address inside them is written; reading unallocated memory returns zero
// and allocates nothing.
//
// Nodes and sections live in two arenas addressed by index. nodes[0] is the
// root and sections[0] is a placeholder, so index zero never names a child.
type Memory struct {
	endian   mem.Endian
	nodes    []treeNode
	sections []*MemorySection

	changeCounter uint64
	writeCounter  uint64
}

// NewMemory creates an empty memory serving a machine of the given byte
// order.
func NewMemory(endian mem.Endian) *Memory {
	m := &Memory{endian: endian}
	m.Reset()
	return m
}

// Reset discards the whole tree.
func (m *Memory) Reset() {
	m.nodes = []treeNode{{children: make([]uint32, treeWidth)}}
	m.sections = []*MemorySection{nil}
	m.changeCounter++
}

// ResetFrom replaces the content with a deep copy of other.
func (m *Memory) ResetFrom(other *Memory) {
	c := other.Clone()
	m.endian = c.endian
	m.nodes = c.nodes
	m.sections = c.sections
	m.changeCounter++
}

// Clone returns a deep copy sharing no storage with m.
func (m *Memory) Clone() *Memory {
	c := &Memory{
		endian:   m.endian,
		nodes:    make([]treeNode, len(m.nodes)),
		sections: make([]*MemorySection, len(m.sections)),
	}
	for i, n := range m.nodes {
		c.nodes[i].children = append([]uint32(nil), n.children...)
	}
	for i := 1; i < len(m.sections); i++ {
		c.sections[i] = m.sections[i].Clone()
	}
	return c
}

// Equal compares the two trees node by node. Memories with identical
// content but a different set of allocated sections are not equal: a
// section allocated by writing zeros does not match an unallocated one.
func (m *Memory) Equal(other *Memory) bool {
	if m.endian != other.endian {
		return false
	}
	return m.equalNode(0, other, 0, 0)
}

func (m *Memory) equalNode(a uint32, other *Memory, b uint32, level int) bool {
	ac := m.nodes[a].children
	bc := other.nodes[b].children
	for i := range ac {
		x, y := ac[i], bc[i]
		if x == 0 || y == 0 {
			if x != y {
				return false
			}
			continue
		}

		if level == treeDepth-1 {
			if !m.sections[x].Equal(other.sections[y]) {
				return false
			}
		} else if !m.equalNode(x, other, y, level+1) {
			return false
		}
	}
	return true
}

// Endian returns the simulated byte order.
func (m *Memory) Endian() mem.Endian {
	return m.endian
}

// ChangeCounter increases on every write that changes content and on reset.
func (m *Memory) ChangeCounter() uint64 {
	return m.changeCounter
}

// WriteCounter counts every write, changed or not.
func (m *Memory) WriteCounter() uint64 {
	return m.writeCounter
}

// AllocatedSections returns the number of sections in the tree.
func (m *Memory) AllocatedSections() int {
	return len(m.sections) - 1
}

// LocationStatus is LocationNone inside the 32-bit address space and
// LocationIllegal past it.
func (m *Memory) LocationStatus(offset mem.Offset) mem.LocationStatus {
	if !inSpace(offset) {
		return mem.LocationIllegal
	}
	return mem.LocationNone
}

func inSpace(offset mem.Offset) bool {
	return uint64(offset) <= mem.MaxAddress.Raw()
}

// section walks the tree to the section holding offset. With create set the
// missing nodes are allocated, otherwise nil is returned for unallocated
// memory. Offsets past the address space never have a section.
func (m *Memory) section(offset mem.Offset, create bool) (*MemorySection, int) {
	if !inSpace(offset) {
		return nil, 0
	}
	word := (uint64(offset) >> 2) & wordIndexMask
	col := int(word & (SectionWords - 1))

	node := uint32(0)
	for level := 0; level < treeDepth; level++ {
		shift := SectionBits + treeBits*(treeDepth-1-level)
		slot := (word >> shift) & (treeWidth - 1)
		child := m.nodes[node].children[slot]

		if child == 0 {
			if !create {
				return nil, col
			}
			if level == treeDepth-1 {
				m.sections = append(m.sections, NewMemorySection(SectionWords))
				child = uint32(len(m.sections) - 1)
			} else {
				m.nodes = append(m.nodes, treeNode{children: make([]uint32, treeWidth)})
				child = uint32(len(m.nodes) - 1)
			}
			m.nodes[node].children[slot] = child
		}

		if level == treeDepth-1 {
			return m.sections[child], col
		}
		node = child
	}

	panic("memory tree walked past its depth")
}

func (m *Memory) readWord(offset mem.Offset) uint32 {
	s, col := m.section(offset, false)
	if s == nil {
		return 0
	}
	return s.ReadWord(col)
}

func (m *Memory) writeWord(offset mem.Offset, v uint32) bool {
	s, col := m.section(offset, true)
	if s == nil {
		return false
	}
	return s.WriteWord(col, v)
}

// byteShift is the position of byte i (0..3) of a word in the simulated
// byte order.
func (m *Memory) byteShift(i uint64) uint {
	if m.endian == mem.LittleEndian {
		return uint(8 * i)
	}
	return uint(8 * (3 - i))
}

// Read returns size bytes at offset in the simulated byte order.
func (m *Memory) Read(offset mem.Offset, size mem.AccessSize, _ bool) uint64 {
	if size == mem.SizeWord && offset&3 == 0 {
		return uint64(m.readWord(offset))
	}

	var buf [8]byte
	m.ReadBytes(offset, buf[:size])
	return decode(buf[:size], m.endian)
}

// Write stores the low size bytes of value at offset.
func (m *Memory) Write(offset mem.Offset, size mem.AccessSize, value uint64) bool {
	if size == mem.SizeWord && offset&3 == 0 {
		m.writeCounter++
		changed := m.writeWord(offset, uint32(value))
		if changed {
			m.changeCounter++
		}
		return changed
	}

	var buf [8]byte
	encode(buf[:size], value, m.endian)
	return m.WriteBytes(offset, buf[:size])
}

// ReadBytes copies memory starting at offset into dst.
func (m *Memory) ReadBytes(offset mem.Offset, dst []byte) {
	for i := range dst {
		o := offset + mem.Offset(i)
		w := m.readWord(o &^ 3)
		dst[i] = uint8(w >> m.byteShift(uint64(o&3)))
	}
}

// WriteBytes copies src into memory starting at offset. It is the bulk
// path used to materialize program images.
func (m *Memory) WriteBytes(offset mem.Offset, src []byte) bool {
	m.writeCounter++
	changed := false
	for i, b := range src {
		o := offset + mem.Offset(i)
		shift := m.byteShift(uint64(o & 3))
		s, col := m.section(o&^3, true)
		if s == nil {
			continue
		}
		w := s.ReadWord(col)
		w = w&^(0xff<<shift) | uint32(b)<<shift
		if s.WriteWord(col, w) {
			changed = true
		}
	}
	if changed {
		m.changeCounter++
	}
	return changed
}

// SectionView is one allocated section as shown by DumpStructure.
type SectionView struct {
	Base  uint64
	Words []uint32
}

// Sections returns the allocated sections ordered by address.
func (m *Memory) Sections() []SectionView {
	var views []SectionView
	m.collect(0, 0, 0, &views)
	return views
}

func (m *Memory) collect(node uint32, level int, prefix uint64, views *[]SectionView) {
	for slot, child := range m.nodes[node].children {
		if child == 0 {
			continue
		}
		p := prefix<<treeBits | uint64(slot)
		if level == treeDepth-1 {
			*views = append(*views, SectionView{
				Base:  p << (SectionBits + 2),
				Words: m.sections[child].Data(),
			})
			continue
		}
		m.collect(child, level+1, p, views)
	}
}

// DumpStructure writes a graphviz rendering of the allocated sections.
func (m *Memory) DumpStructure(w io.Writer) {
	views := m.Sections()
	memviz.Map(w, &views)
}

func decode(b []byte, e mem.Endian) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(e.ByteOrder().Uint16(b))
	case 4:
		return uint64(e.ByteOrder().Uint32(b))
	default:
		return e.ByteOrder().Uint64(b)
	}
}

func encode(b []byte, v uint64, e mem.Endian) {
	switch len(b) {
	case 1:
		b[0] = uint8(v)
	case 2:
		e.ByteOrder().PutUint16(b, uint16(v))
	case 4:
		e.ByteOrder().PutUint32(b, uint32(v))
	default:
		e.ByteOrder().PutUint64(b, v)
	}
}
