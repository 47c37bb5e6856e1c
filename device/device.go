// Package device mirrors field buffers into accelerator memory through the
// OCCA runtime. The host buffer stays authoritative: nothing is copied
// implicitly, callers push before launching device work on a field and
// pull before touching its values on the host again.
package device

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"

	"github.com/structgrid/structgrid/field"
)

// NewDevice creates an OCCA device, preferring parallel backends and
// falling back to Serial.
func NewDevice() (*gocca.OCCADevice, error) {
	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}
	for _, props := range backends {
		dev, err := gocca.NewDevice(props)
		if err == nil {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no OCCA backend available")
}

// Mirror is the accelerator-resident copy of one field's buffer.
type Mirror struct {
	field *field.Field
	mem   *gocca.OCCAMemory
	bytes int64
}

// NewMirror allocates device memory sized for the field and uploads the
// current host contents.
func NewMirror(dev *gocca.OCCADevice, f *field.Field) *Mirror {
	data := f.Data()
	bytes := int64(len(data) * 8)
	mem := dev.Malloc(bytes, unsafe.Pointer(&data[0]), nil)
	return &Mirror{field: f, mem: mem, bytes: bytes}
}

// Memory returns the device allocation, for binding to kernels.
func (m *Mirror) Memory() *gocca.OCCAMemory { return m.mem }

// Push uploads the host buffer to the device, overwriting the mirror.
func (m *Mirror) Push() {
	data := m.field.Data()
	m.mem.CopyFrom(unsafe.Pointer(&data[0]), m.bytes)
}

// Pull downloads the mirror into the host buffer, overwriting it.
func (m *Mirror) Pull() {
	data := m.field.Data()
	m.mem.CopyTo(unsafe.Pointer(&data[0]), m.bytes)
}

// Free releases the device allocation. The mirror must not be used after.
func (m *Mirror) Free() {
	m.mem.Free()
}
