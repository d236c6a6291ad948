package emu

import (
	"bytes"
	"fmt"

	akitamem "github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/memsim/mem"
)

// StorageDevice is a fixed capacity RAM device, such as a frame buffer,
// backed by an Akita storage.
type StorageDevice struct {
	endian   mem.Endian
	storage  *akitamem.Storage
	capacity uint64
	readOnly bool
}

// NewStorageDevice creates a device of capacity bytes.
func NewStorageDevice(capacity uint64, endian mem.Endian) *StorageDevice {
	return &StorageDevice{
		endian:   endian,
		storage:  akitamem.NewStorage(capacity),
		capacity: capacity,
	}
}

// NewROMDevice creates a read only device initialized with image.
func NewROMDevice(image []byte, endian mem.Endian) (*StorageDevice, error) {
	d := NewStorageDevice(uint64(len(image)), endian)
	if err := d.Load(0, image); err != nil {
		return nil, err
	}
	d.readOnly = true
	return d, nil
}

// Endian returns the simulated byte order.
func (d *StorageDevice) Endian() mem.Endian {
	return d.endian
}

// Capacity returns the device size in bytes.
func (d *StorageDevice) Capacity() uint64 {
	return d.capacity
}

// Load copies data into the device regardless of its read only flag.
func (d *StorageDevice) Load(offset mem.Offset, data []byte) error {
	if uint64(offset)+uint64(len(data)) > d.capacity {
		return fmt.Errorf("image of %d bytes at 0x%x exceeds device capacity 0x%x",
			len(data), uint64(offset), d.capacity)
	}
	if err := d.storage.Write(uint64(offset), data); err != nil {
		return fmt.Errorf("failed to load device image: %w", err)
	}
	return nil
}

// LocationStatus reports offsets past the capacity as illegal.
func (d *StorageDevice) LocationStatus(offset mem.Offset) mem.LocationStatus {
	if uint64(offset) >= d.capacity {
		return mem.LocationIllegal
	}
	if d.readOnly {
		return mem.LocationReadOnly
	}
	return mem.LocationNone
}

// Read returns size bytes at offset; out of range reads return zero.
func (d *StorageDevice) Read(offset mem.Offset, size mem.AccessSize, _ bool) uint64 {
	if uint64(offset)+size.Bytes() > d.capacity {
		return 0
	}
	data, err := d.storage.Read(uint64(offset), size.Bytes())
	if err != nil {
		return 0
	}
	return decode(data, d.endian)
}

// Write stores the low size bytes of value. Writes to a read only device
// or past the capacity are ignored.
func (d *StorageDevice) Write(offset mem.Offset, size mem.AccessSize, value uint64) bool {
	if d.readOnly || uint64(offset)+size.Bytes() > d.capacity {
		return false
	}

	old, err := d.storage.Read(uint64(offset), size.Bytes())
	if err != nil {
		return false
	}

	data := make([]byte, size)
	encode(data, value, d.endian)
	if bytes.Equal(old, data) {
		return false
	}
	return d.storage.Write(uint64(offset), data) == nil
}
