package mem

// Offset is a device local byte offset.
type Offset uint64

// BackendMemory is a device mapped into the address space, either main
// memory or a peripheral.
//
// Values crossing the interface are the numeric values the simulated machine
// sees; a device stores them in its own simulated byte order. A debug read
// must not trigger any device side effect.
type BackendMemory interface {
	// Write stores the low size bytes of value at offset and reports whether
	// the stored content changed.
	Write(offset Offset, size AccessSize, value uint64) bool

	// Read returns size bytes at offset, zero extended.
	Read(offset Offset, size AccessSize, debug bool) uint64

	// LocationStatus reports LocationNone, LocationReadOnly or
	// LocationIllegal for the given offset.
	LocationStatus(offset Offset) LocationStatus

	// Endian is the byte order of the simulated machine the device serves.
	Endian() Endian
}

// ExternalChangeFunc receives notifications about a device changing its
// content on its own. start and last are inclusive device offsets.
type ExternalChangeFunc func(dev BackendMemory, start, last Offset, external bool)

// ChangeNotifier is implemented by devices that can change outside of the
// regular write path, for example a peripheral updated by the host.
type ChangeNotifier interface {
	// OnExternalChange registers fn and returns a function removing it.
	OnExternalChange(fn ExternalChangeFunc) (cancel func())
}

// NotifierList is an embeddable helper implementing ChangeNotifier.
type NotifierList struct {
	nextID    int
	callbacks map[int]ExternalChangeFunc
	order     []int
}

// OnExternalChange registers fn.
func (l *NotifierList) OnExternalChange(fn ExternalChangeFunc) func() {
	if l.callbacks == nil {
		l.callbacks = make(map[int]ExternalChangeFunc)
	}
	id := l.nextID
	l.nextID++
	l.callbacks[id] = fn
	l.order = append(l.order, id)

	return func() {
		delete(l.callbacks, id)
		for i, o := range l.order {
			if o == id {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
}

// Notify calls every registered callback in registration order.
func (l *NotifierList) Notify(dev BackendMemory, start, last Offset, external bool) {
	ids := append([]int(nil), l.order...)
	for _, id := range ids {
		if fn, ok := l.callbacks[id]; ok {
			fn(dev, start, last, external)
		}
	}
}
