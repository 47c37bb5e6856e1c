package cart

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structgrid/structgrid/comm"
)

func TestNewSerial(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		d, err := New(c, Options{
			Ntotal:   [3]int{8, 4, 2},
			Periodic: [3]bool{true, true, true},
			Nhalo:    1,
		})
		require.NoError(t, err)

		assert.Equal(t, [3]int{8, 4, 2}, d.Nlocal())
		assert.Equal(t, [3]int{0, 0, 0}, d.Offset())
		assert.Equal(t, [3]int{10, 6, 4}, d.Nall())
		assert.Equal(t, 10*6*4, d.Nsites())

		xs, ys, zs := d.Strides()
		assert.Equal(t, 6*4, xs)
		assert.Equal(t, 4, ys)
		assert.Equal(t, 1, zs)

		// A single periodic process is its own neighbour on every axis.
		for a := 0; a < 3; a++ {
			assert.Equal(t, 0, d.Neighbor(a, Forward))
			assert.Equal(t, 0, d.Neighbor(a, Backward))
		}
		return nil
	})
	require.NoError(t, err)
}

func TestNewConfigErrors(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		// Not divisible: 7 sites over 2 processes on X.
		_, err := New(c, Options{
			Ntotal:   [3]int{7, 4, 4},
			ProcGrid: [3]int{2, 1, 1},
		})
		assert.Error(t, err)

		// Process grid does not match group size.
		_, err = New(c, Options{
			Ntotal:   [3]int{8, 4, 4},
			ProcGrid: [3]int{3, 1, 1},
		})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestIndexBijective(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		d, err := New(c, Options{Ntotal: [3]int{4, 6, 8}, Nhalo: 2})
		require.NoError(t, err)

		nlocal := d.Nlocal()
		nh := d.Nhalo()
		seen := make(map[int]bool)
		for ic := 1 - nh; ic <= nlocal[X]+nh; ic++ {
			for jc := 1 - nh; jc <= nlocal[Y]+nh; jc++ {
				for kc := 1 - nh; kc <= nlocal[Z]+nh; kc++ {
					index := d.Index(ic, jc, kc)
					require.GreaterOrEqual(t, index, 0)
					require.Less(t, index, d.Nsites())
					require.False(t, seen[index], "duplicate address")
					seen[index] = true

					i2, j2, k2 := d.IndexToCoords(index)
					require.Equal(t, [3]int{ic, jc, kc}, [3]int{i2, j2, k2})
				}
			}
		}
		assert.Equal(t, d.Nsites(), len(seen))
		return nil
	})
	require.NoError(t, err)
}

func TestPartitionCompleteness(t *testing.T) {
	// Union of interior sites, mapped through each rank's offset, must be
	// exactly the global index set with no overlap.
	const size = 8
	ntotal := [3]int{8, 4, 4}

	var mu sync.Mutex
	owned := make(map[[3]int]int)

	err := comm.Run(size, func(c *comm.Comm) error {
		d, err := New(c, Options{
			Ntotal:   ntotal,
			ProcGrid: [3]int{2, 2, 2},
			Periodic: [3]bool{true, true, true},
		})
		if err != nil {
			return err
		}
		nlocal, offset := d.Nlocal(), d.Offset()
		mu.Lock()
		defer mu.Unlock()
		for ic := 1; ic <= nlocal[X]; ic++ {
			for jc := 1; jc <= nlocal[Y]; jc++ {
				for kc := 1; kc <= nlocal[Z]; kc++ {
					g := [3]int{offset[X] + ic, offset[Y] + jc, offset[Z] + kc}
					owned[g]++
				}
			}
		}
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, ntotal[X]*ntotal[Y]*ntotal[Z], len(owned))
	for g, n := range owned {
		require.Equal(t, 1, n, "site %v owned %d times", g, n)
	}
}

func TestNeighborSymmetry(t *testing.T) {
	// A's forward neighbour on axis a must name A as its backward neighbour.
	const size = 12
	var mu sync.Mutex
	fwd := make(map[[2]int]int) // (rank, axis) -> forward neighbour
	bwd := make(map[[2]int]int)

	err := comm.Run(size, func(c *comm.Comm) error {
		d, err := New(c, Options{
			Ntotal:   [3]int{6, 4, 2},
			ProcGrid: [3]int{3, 2, 2},
			Periodic: [3]bool{true, false, true},
		})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		for a := 0; a < 3; a++ {
			fwd[[2]int{c.Rank(), a}] = d.Neighbor(a, Forward)
			bwd[[2]int{c.Rank(), a}] = d.Neighbor(a, Backward)
		}
		return nil
	})
	require.NoError(t, err)

	for key, nbr := range fwd {
		if nbr == NoNeighbor {
			continue
		}
		rank, axis := key[0], key[1]
		assert.Equal(t, rank, bwd[[2]int{nbr, axis}],
			"rank %d axis %d: asymmetric neighbours", rank, axis)
	}
}

func TestNonPeriodicEdges(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		d, err := New(c, Options{
			Ntotal:   [3]int{4, 2, 2},
			ProcGrid: [3]int{2, 1, 1},
			Periodic: [3]bool{false, false, false},
		})
		if err != nil {
			return err
		}
		if d.Coords()[X] == 0 {
			assert.Equal(t, NoNeighbor, d.Neighbor(X, Backward))
			assert.Equal(t, 1, d.Neighbor(X, Forward))
		} else {
			assert.Equal(t, NoNeighbor, d.Neighbor(X, Forward))
			assert.Equal(t, 0, d.Neighbor(X, Backward))
		}
		// Non-periodic single-process axes have no neighbours at all.
		assert.Equal(t, NoNeighbor, d.Neighbor(Y, Forward))
		assert.Equal(t, NoNeighbor, d.Neighbor(Z, Backward))
		return nil
	})
	require.NoError(t, err)
}

func TestMinimumImage(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		d, err := New(c, Options{
			Ntotal:   [3]int{8, 8, 8},
			Periodic: [3]bool{true, true, false},
		})
		require.NoError(t, err)

		r12 := d.MinimumImage([3]float64{7.5, 1.0, 1.0}, [3]float64{0.5, 1.0, 7.5})
		assert.InDelta(t, 1.0, r12[X], 1e-14)  // wraps across the boundary
		assert.InDelta(t, 0.0, r12[Y], 1e-14)  // no separation
		assert.InDelta(t, 6.5, r12[Z], 1e-14)  // non-periodic: no wrap
		return nil
	})
	require.NoError(t, err)
}

func TestBalancedDims(t *testing.T) {
	dims, err := BalancedDims(8, [3]int{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 2}, dims)

	dims, err = BalancedDims(4, [3]int{0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 1}, dims)
	assert.Equal(t, 4, dims[0]*dims[1]*dims[2])

	dims, err = BalancedDims(12, [3]int{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 12, dims[0]*dims[1]*dims[2])
	assert.GreaterOrEqual(t, dims[0], dims[1])
	assert.GreaterOrEqual(t, dims[1], dims[2])

	_, err = BalancedDims(6, [3]int{4, 0, 0})
	assert.Error(t, err)

	dims, err = BalancedDims(6, [3]int{3, 2, 1})
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 1}, dims)
}
