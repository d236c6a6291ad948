// Package emu provides the functional backing store of the simulated
// machine: the sparse main memory and simple memory mapped devices.
package emu

// MemorySection is a fixed length run of words, the unit in which main
// memory is allocated.
type MemorySection struct {
	words []uint32
}

// NewMemorySection creates a zero filled section of length words.
func NewMemorySection(length int) *MemorySection {
	return &MemorySection{words: make([]uint32, length)}
}

// Len returns the number of words in the section.
func (s *MemorySection) Len() int {
	return len(s.words)
}

// Data returns the backing words. Callers must not modify the slice.
func (s *MemorySection) Data() []uint32 {
	return s.words
}

// ReadWord returns the word at index i.
func (s *MemorySection) ReadWord(i int) uint32 {
	return s.words[i]
}

// WriteWord stores v at index i and reports whether the word changed.
func (s *MemorySection) WriteWord(i int, v uint32) bool {
	changed := s.words[i] != v
	s.words[i] = v
	return changed
}

// Clone returns a section owning a copy of the words.
func (s *MemorySection) Clone() *MemorySection {
	c := &MemorySection{words: make([]uint32, len(s.words))}
	copy(c.words, s.words)
	return c
}

// Equal compares length and content.
func (s *MemorySection) Equal(other *MemorySection) bool {
	if len(s.words) != len(other.words) {
		return false
	}
	for i, w := range s.words {
		if other.words[i] != w {
			return false
		}
	}
	return true
}
