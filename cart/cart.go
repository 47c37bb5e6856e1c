// Package cart implements the Cartesian domain decomposition for a 3-D
// structured grid distributed over a process group. Each rank owns a
// rectangular subdomain surrounded by a halo rind of ghost sites mirroring
// neighbouring subdomains.
//
// Local coordinates are 1-based on the interior: interior sites run
// 1..nlocal per axis, ghost sites occupy 1-nhalo..0 and nlocal+1..nlocal+nhalo.
// The linear storage address for a site is defined by the axis strides, with
// the Z axis fastest.
package cart

import (
	"fmt"

	"github.com/structgrid/structgrid/comm"
)

// Cartesian axes.
const (
	X = iota
	Y
	Z
)

// Directions along an axis.
const (
	Forward = iota
	Backward
)

// NoNeighbor is the rank sentinel returned at a non-periodic domain edge.
const NoNeighbor = -1

// Options configures a domain decomposition. All ranks must supply
// identical options.
type Options struct {
	Ntotal   [3]int  // global extents, all positive
	ProcGrid [3]int  // requested process grid; zero entries are derived
	Periodic [3]bool // per-axis periodic boundaries
	Nhalo    int     // halo width, at least 1 (defaulted to 1 if zero)
}

// Domain describes one rank's share of the decomposed grid. It is immutable
// after construction and shared by reference with fields and solvers.
type Domain struct {
	comm *comm.Comm

	ntotal   [3]int
	cartsz   [3]int
	periodic [3]bool
	nhalo    int

	nlocal  [3]int
	offset  [3]int
	coords  [3]int
	nall    [3]int
	strides [3]int
	nsites  int

	neighbors [3][2]int
}

// New validates the decomposition and builds this rank's domain descriptor.
// Validation is a pure function of the options and the group size, so a
// configuration error is reported identically on every rank.
func New(c *comm.Comm, opts Options) (*Domain, error) {
	if opts.Nhalo == 0 {
		opts.Nhalo = 1
	}
	if opts.Nhalo < 0 {
		return nil, fmt.Errorf("halo width must be at least 1, got %d", opts.Nhalo)
	}
	for a := 0; a < 3; a++ {
		if opts.Ntotal[a] < 1 {
			return nil, fmt.Errorf("axis %d: global extent must be positive, got %d", a, opts.Ntotal[a])
		}
	}

	grid, err := BalancedDims(c.Size(), opts.ProcGrid)
	if err != nil {
		return nil, err
	}
	if grid[X]*grid[Y]*grid[Z] != c.Size() {
		return nil, fmt.Errorf("process grid %v does not multiply to group size %d", grid, c.Size())
	}
	for a := 0; a < 3; a++ {
		if opts.Ntotal[a]%grid[a] != 0 {
			return nil, fmt.Errorf("axis %d: extent %d not divisible by process grid %d",
				a, opts.Ntotal[a], grid[a])
		}
	}

	d := &Domain{
		comm:     c,
		ntotal:   opts.Ntotal,
		cartsz:   grid,
		periodic: opts.Periodic,
		nhalo:    opts.Nhalo,
	}

	// Row-major rank ordering over the process grid, Z fastest.
	rank := c.Rank()
	d.coords[X] = rank / (grid[Y] * grid[Z])
	d.coords[Y] = (rank / grid[Z]) % grid[Y]
	d.coords[Z] = rank % grid[Z]

	for a := 0; a < 3; a++ {
		d.nlocal[a] = d.ntotal[a] / grid[a]
		d.offset[a] = d.coords[a] * d.nlocal[a]
		d.nall[a] = d.nlocal[a] + 2*d.nhalo
	}
	d.strides[Z] = 1
	d.strides[Y] = d.nall[Z]
	d.strides[X] = d.nall[Y] * d.nall[Z]
	d.nsites = d.nall[X] * d.nall[Y] * d.nall[Z]

	for a := 0; a < 3; a++ {
		d.neighbors[a][Forward] = d.neighborRank(a, +1)
		d.neighbors[a][Backward] = d.neighborRank(a, -1)
	}

	return d, nil
}

// neighborRank resolves the rank one step along axis a, wrapping on
// periodic axes and returning NoNeighbor past a non-periodic edge.
func (d *Domain) neighborRank(a, step int) int {
	c := d.coords
	c[a] += step
	if c[a] < 0 || c[a] >= d.cartsz[a] {
		if !d.periodic[a] {
			return NoNeighbor
		}
		c[a] = (c[a] + d.cartsz[a]) % d.cartsz[a]
	}
	return c[X]*d.cartsz[Y]*d.cartsz[Z] + c[Y]*d.cartsz[Z] + c[Z]
}

// Comm returns the communicator the domain was built on.
func (d *Domain) Comm() *comm.Comm { return d.comm }

// Rank returns this rank's identifier in the process group.
func (d *Domain) Rank() int { return d.comm.Rank() }

// Ntotal returns the global extents.
func (d *Domain) Ntotal() [3]int { return d.ntotal }

// Ltot returns the global extents as lengths.
func (d *Domain) Ltot() [3]float64 {
	return [3]float64{float64(d.ntotal[X]), float64(d.ntotal[Y]), float64(d.ntotal[Z])}
}

// Nlocal returns this rank's interior extents.
func (d *Domain) Nlocal() [3]int { return d.nlocal }

// Offset returns the global index of this rank's first interior site per
// axis, i.e. local site (1,1,1) is global (offset+1 per axis, 1-based).
func (d *Domain) Offset() [3]int { return d.offset }

// Nall returns the storage extents per axis, interior plus both halos.
func (d *Domain) Nall() [3]int { return d.nall }

// Nsites returns the total number of storage sites.
func (d *Domain) Nsites() int { return d.nsites }

// Nhalo returns the halo width.
func (d *Domain) Nhalo() int { return d.nhalo }

// Cartsz returns the process-grid extents.
func (d *Domain) Cartsz() [3]int { return d.cartsz }

// Coords returns this rank's process-grid coordinates.
func (d *Domain) Coords() [3]int { return d.coords }

// Periodic reports the per-axis periodicity flags.
func (d *Domain) Periodic() [3]bool { return d.periodic }

// Strides returns the memory strides (xs, ys, zs) of the linear addressing.
func (d *Domain) Strides() (xs, ys, zs int) {
	return d.strides[X], d.strides[Y], d.strides[Z]
}

// Index maps 1-based local coordinates (halo included) to the linear
// storage address.
func (d *Domain) Index(ic, jc, kc int) int {
	return d.strides[X]*(d.nhalo+ic-1) +
		d.strides[Y]*(d.nhalo+jc-1) +
		(d.nhalo + kc - 1)
}

// IndexToCoords inverts Index, recovering the 1-based local coordinates.
func (d *Domain) IndexToCoords(index int) (ic, jc, kc int) {
	ic = index/d.strides[X] - d.nhalo + 1
	jc = (index%d.strides[X])/d.strides[Y] - d.nhalo + 1
	kc = index%d.strides[Y] - d.nhalo + 1
	return ic, jc, kc
}

// Neighbor returns the adjacent rank along the axis in the given direction
// (Forward or Backward), NoNeighbor at a non-periodic edge. On a periodic
// axis decomposed over a single process the rank is its own neighbour.
func (d *Domain) Neighbor(axis, dir int) int {
	return d.neighbors[axis][dir]
}

// MinimumImage returns the displacement r2 - r1 with the periodic
// minimum-image convention applied on periodic axes.
func (d *Domain) MinimumImage(r1, r2 [3]float64) [3]float64 {
	var r12 [3]float64
	ltot := d.Ltot()
	for a := 0; a < 3; a++ {
		r12[a] = r2[a] - r1[a]
		if d.periodic[a] {
			if r12[a] > 0.5*ltot[a] {
				r12[a] -= ltot[a]
			}
			if r12[a] < -0.5*ltot[a] {
				r12[a] += ltot[a]
			}
		}
	}
	return r12
}

// BalancedDims completes a process-grid factorization of size. Positive
// entries of request are kept as given; zero entries are derived so the
// grid multiplies to size, keeping the derived extents as balanced as
// possible. It fails if the fixed entries do not divide size.
func BalancedDims(size int, request [3]int) ([3]int, error) {
	dims := request
	fixed := 1
	free := 0
	for a := 0; a < 3; a++ {
		if dims[a] < 0 {
			return dims, fmt.Errorf("axis %d: negative process grid entry %d", a, dims[a])
		}
		if dims[a] > 0 {
			fixed *= dims[a]
		} else {
			free++
		}
	}
	if size%fixed != 0 {
		return dims, fmt.Errorf("fixed process grid entries %v do not divide group size %d",
			request, size)
	}
	if free == 0 {
		return dims, nil
	}

	// Distribute the prime factors of the remainder over the free axes,
	// largest factors first onto the currently smallest axis.
	rem := size / fixed
	factors := primeFactors(rem)
	part := make([]int, free)
	for i := range part {
		part[i] = 1
	}
	for i := len(factors) - 1; i >= 0; i-- {
		smallest := 0
		for j := 1; j < free; j++ {
			if part[j] < part[smallest] {
				smallest = j
			}
		}
		part[smallest] *= factors[i]
	}
	// Non-increasing across the free axes, in axis order.
	for i := 0; i < free; i++ {
		for j := i + 1; j < free; j++ {
			if part[j] > part[i] {
				part[i], part[j] = part[j], part[i]
			}
		}
	}
	i := 0
	for a := 0; a < 3; a++ {
		if dims[a] == 0 {
			dims[a] = part[i]
			i++
		}
	}
	return dims, nil
}

// primeFactors returns the prime factorization of n in ascending order.
func primeFactors(n int) []int {
	var f []int
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			f = append(f, p)
			n /= p
		}
	}
	if n > 1 {
		f = append(f, n)
	}
	return f
}

// SiteVolume returns the interior volume of one rank as a float, handy for
// per-site residual normalisation.
func (d *Domain) SiteVolume() float64 {
	return float64(d.nlocal[X]) * float64(d.nlocal[Y]) * float64(d.nlocal[Z])
}

// GlobalVolume returns the global interior volume.
func (d *Domain) GlobalVolume() float64 {
	ltot := d.Ltot()
	return ltot[X] * ltot[Y] * ltot[Z]
}
