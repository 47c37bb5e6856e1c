package field

import (
	"fmt"

	"github.com/structgrid/structgrid/cart"
)

// slab is a rectangular block of sites given by inclusive 1-based local
// coordinate ranges, the unit of halo packing.
type slab struct {
	lo, hi [3]int
	count  int // doubles per transfer, components included
}

// sites returns the number of grid sites in the slab.
func (s slab) sites() int {
	n := 1
	for a := 0; a < 3; a++ {
		n *= s.hi[a] - s.lo[a] + 1
	}
	return n
}

// Halo is a reusable exchange plan bound to one field. It precomputes the
// boundary slab geometry for every axis and direction; Exchange then only
// packs, transfers and unpacks. A plan must not be used concurrently with
// itself, and all ranks must call Exchange at the same point in their
// control flow or the group deadlocks.
//
// Axes are processed strictly in X, Y, Z order. The slabs for an axis span
// the full storage extent (ghosts included) of axes already exchanged, so
// edge and corner ghost sites pick up correct data from the preceding axis.
type Halo struct {
	field *Field
	tag   int

	// Per axis and phase. Phase 0 moves data forward along the axis
	// (send the high boundary, fill the low ghost); phase 1 moves it
	// backward (send the low boundary, fill the high ghost).
	send [3][2]slab
	recv [3][2]slab
	sbuf [3][2][]float64
	rbuf [3][2][]float64
}

// NewHalo builds the exchange plan for a field using its communicated
// halo width.
func NewHalo(f *Field) (*Halo, error) {
	d := f.Domain()
	nlocal := d.Nlocal()
	nh := f.Nhcomm()

	h := &Halo{
		field: f,
		tag:   d.Comm().TagBlock(6),
	}

	for a := 0; a < 3; a++ {
		var lo, hi [3]int
		for b := 0; b < 3; b++ {
			switch {
			case b < a: // already exchanged: include ghosts
				lo[b], hi[b] = 1-nh, nlocal[b]+nh
			case b > a: // not yet exchanged: interior only
				lo[b], hi[b] = 1, nlocal[b]
			}
		}

		// Phase 0: high boundary out, low ghost in.
		h.send[a][0] = h.axisSlab(lo, hi, a, nlocal[a]-nh+1, nlocal[a])
		h.recv[a][0] = h.axisSlab(lo, hi, a, 1-nh, 0)
		// Phase 1: low boundary out, high ghost in.
		h.send[a][1] = h.axisSlab(lo, hi, a, 1, nh)
		h.recv[a][1] = h.axisSlab(lo, hi, a, nlocal[a]+1, nlocal[a]+nh)

		for p := 0; p < 2; p++ {
			if h.send[a][p].count != h.recv[a][p].count {
				return nil, fmt.Errorf("halo plan %q axis %d: slab size mismatch", f.Name(), a)
			}
			h.sbuf[a][p] = make([]float64, h.send[a][p].count)
			h.rbuf[a][p] = make([]float64, h.recv[a][p].count)
		}
	}
	return h, nil
}

// axisSlab specializes the perpendicular ranges lo/hi to [alo,ahi] on axis a.
func (h *Halo) axisSlab(lo, hi [3]int, a, alo, ahi int) slab {
	lo[a], hi[a] = alo, ahi
	s := slab{lo: lo, hi: hi}
	s.count = s.sites() * h.field.Ndata()
	return s
}

// Exchange refreshes the ghost rind of the bound field from the current
// interior values of the neighbouring ranks. After it returns, every ghost
// site within the communicated width equals the owning neighbour's interior
// value, mapped through the periodic or non-periodic boundary rule. Ghosts
// beyond a non-periodic edge are left untouched.
func (h *Halo) Exchange() error {
	d := h.field.Domain()
	c := d.Comm()
	self := c.Rank()

	for a := 0; a < 3; a++ {
		for p := 0; p < 2; p++ {
			// Data moves forward along the axis in phase 0, backward in
			// phase 1: destination and source swap between phases.
			dst := d.Neighbor(a, cart.Forward)
			src := d.Neighbor(a, cart.Backward)
			if p == 1 {
				dst, src = src, dst
			}
			tag := h.tag + 2*a + p

			if dst == self && src == self {
				// Single periodic process on this axis: a local copy, at
				// the same point in the axis order as a real transfer.
				h.pack(h.send[a][p], h.sbuf[a][p])
				h.unpack(h.recv[a][p], h.sbuf[a][p])
				continue
			}

			switch {
			case dst != cart.NoNeighbor && src != cart.NoNeighbor:
				h.pack(h.send[a][p], h.sbuf[a][p])
				if err := c.SendRecv(dst, h.sbuf[a][p], src, h.rbuf[a][p], tag); err != nil {
					return fmt.Errorf("halo %q axis %d: %w", h.field.Name(), a, err)
				}
				h.unpack(h.recv[a][p], h.rbuf[a][p])
			case dst != cart.NoNeighbor:
				h.pack(h.send[a][p], h.sbuf[a][p])
				if err := c.Send(dst, tag, h.sbuf[a][p]); err != nil {
					return fmt.Errorf("halo %q axis %d: %w", h.field.Name(), a, err)
				}
			case src != cart.NoNeighbor:
				if err := c.Recv(src, tag, h.rbuf[a][p]); err != nil {
					return fmt.Errorf("halo %q axis %d: %w", h.field.Name(), a, err)
				}
				h.unpack(h.recv[a][p], h.rbuf[a][p])
			}
		}
	}
	return nil
}

// pack gathers the slab into buf in deterministic site order.
func (h *Halo) pack(s slab, buf []float64) {
	f := h.field
	d := f.Domain()
	nf := f.Ndata()
	m := 0
	for ic := s.lo[0]; ic <= s.hi[0]; ic++ {
		for jc := s.lo[1]; jc <= s.hi[1]; jc++ {
			for kc := s.lo[2]; kc <= s.hi[2]; kc++ {
				base := nf * d.Index(ic, jc, kc)
				copy(buf[m:m+nf], f.data[base:base+nf])
				m += nf
			}
		}
	}
}

// unpack scatters buf into the slab, mirroring pack's site order.
func (h *Halo) unpack(s slab, buf []float64) {
	f := h.field
	d := f.Domain()
	nf := f.Ndata()
	m := 0
	for ic := s.lo[0]; ic <= s.hi[0]; ic++ {
		for jc := s.lo[1]; jc <= s.hi[1]; jc++ {
			for kc := s.lo[2]; kc <= s.hi[2]; kc++ {
				base := nf * d.Index(ic, jc, kc)
				copy(f.data[base:base+nf], buf[m:m+nf])
				m += nf
			}
		}
	}
}
