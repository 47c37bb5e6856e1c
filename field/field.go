// Package field provides multi-component grid-resident buffers over a
// cart.Domain, and the halo exchange that keeps their ghost rinds
// consistent with neighbouring ranks.
package field

import (
	"fmt"

	"github.com/structgrid/structgrid/cart"
)

// Options configures a field.
type Options struct {
	Ndata  int    // components per site (defaulted to 1)
	Nhcomm int    // communicated halo width (defaulted to the domain halo)
	Name   string // label used in diagnostics
}

// Field is a multi-component array addressed over all storage sites
// (interior plus halo) of a domain. The field owns its buffer; the domain
// is shared by reference. Components of one site are stored contiguously.
type Field struct {
	domain *cart.Domain
	ndata  int
	nhcomm int
	name   string
	data   []float64
}

// New allocates a field on the domain. The communicated halo width must
// not exceed the domain's halo width.
func New(d *cart.Domain, opts Options) (*Field, error) {
	if opts.Ndata == 0 {
		opts.Ndata = 1
	}
	if opts.Ndata < 1 {
		return nil, fmt.Errorf("field %q: ndata must be positive, got %d", opts.Name, opts.Ndata)
	}
	if opts.Nhcomm == 0 {
		opts.Nhcomm = d.Nhalo()
	}
	if opts.Nhcomm < 1 || opts.Nhcomm > d.Nhalo() {
		return nil, fmt.Errorf("field %q: communicated halo %d outside [1,%d]",
			opts.Name, opts.Nhcomm, d.Nhalo())
	}
	return &Field{
		domain: d,
		ndata:  opts.Ndata,
		nhcomm: opts.Nhcomm,
		name:   opts.Name,
		data:   make([]float64, opts.Ndata*d.Nsites()),
	}, nil
}

// Domain returns the domain the field is defined on.
func (f *Field) Domain() *cart.Domain { return f.domain }

// Ndata returns the number of components per site.
func (f *Field) Ndata() int { return f.ndata }

// Nhcomm returns the communicated halo width.
func (f *Field) Nhcomm() int { return f.nhcomm }

// Name returns the field's label.
func (f *Field) Name() string { return f.name }

// Data exposes the raw buffer for hot loops and device mirroring. The
// layout is data[ndata*index+n] for component n at linear address index.
func (f *Field) Data() []float64 { return f.data }

// Value returns component n at linear address index.
func (f *Field) Value(index, n int) float64 {
	return f.data[f.ndata*index+n]
}

// SetValue stores component n at linear address index.
func (f *Field) SetValue(index, n int, v float64) {
	f.data[f.ndata*index+n] = v
}

// Scalar returns the single component of a one-component field.
func (f *Field) Scalar(index int) float64 {
	return f.data[f.ndata*index]
}

// SetScalar stores the single component of a one-component field.
func (f *Field) SetScalar(index int, v float64) {
	f.data[f.ndata*index] = v
}
