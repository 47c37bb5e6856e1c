package comm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupSize(t *testing.T) {
	g, err := NewGroup(4)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Size())
	assert.Equal(t, 2, g.Rank(2).Rank())

	_, err = NewGroup(0)
	assert.Error(t, err)
}

func TestSendRecvRing(t *testing.T) {
	const size = 4
	err := Run(size, func(c *Comm) error {
		// Pass this rank's id one step around a ring.
		dst := (c.Rank() + 1) % size
		src := (c.Rank() - 1 + size) % size

		send := []float64{float64(c.Rank())}
		recv := make([]float64, 1)
		if err := c.SendRecv(dst, send, src, recv, 0); err != nil {
			return err
		}
		assert.Equal(t, float64(src), recv[0])
		return nil
	})
	require.NoError(t, err)
}

func TestRecvCountMismatch(t *testing.T) {
	err := Run(2, func(c *Comm) error {
		if c.Rank() == 0 {
			return c.Send(1, 7, []float64{1, 2, 3})
		}
		recv := make([]float64, 2)
		return c.Recv(0, 7, recv)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count mismatch")
}

func TestAllreduceSum(t *testing.T) {
	const size = 3
	err := Run(size, func(c *Comm) error {
		vals := []float64{1.0, float64(c.Rank())}
		out, err := c.Allreduce(vals, OpSum)
		if err != nil {
			return err
		}
		assert.InDelta(t, float64(size), out[0], 1e-14)
		assert.InDelta(t, 0.0+1.0+2.0, out[1], 1e-14)
		return nil
	})
	require.NoError(t, err)
}

func TestAllreduceMinMax(t *testing.T) {
	const size = 4
	err := Run(size, func(c *Comm) error {
		v := []float64{float64(c.Rank())}
		lo, err := c.Allreduce(v, OpMin)
		if err != nil {
			return err
		}
		hi, err := c.Allreduce(v, OpMax)
		if err != nil {
			return err
		}
		assert.Equal(t, 0.0, lo[0])
		assert.Equal(t, float64(size-1), hi[0])
		return nil
	})
	require.NoError(t, err)
}

func TestConsecutiveReductions(t *testing.T) {
	// Back-to-back collectives must not bleed into each other.
	const size = 8
	err := Run(size, func(c *Comm) error {
		for i := 0; i < 100; i++ {
			out, err := c.Allreduce([]float64{1}, OpSum)
			if err != nil {
				return err
			}
			assert.Equal(t, float64(size), out[0])
		}
		return nil
	})
	require.NoError(t, err)
}

func TestBarrier(t *testing.T) {
	const size = 4
	counter := make(chan int, size)
	err := Run(size, func(c *Comm) error {
		counter <- c.Rank()
		c.Barrier()
		// All ranks must have deposited before any rank passes the barrier.
		assert.Equal(t, size, len(counter))
		return nil
	})
	require.NoError(t, err)
}

func TestTagBlock(t *testing.T) {
	g, err := NewGroup(2)
	require.NoError(t, err)
	c := g.Rank(0)
	assert.Equal(t, 0, c.TagBlock(6))
	assert.Equal(t, 6, c.TagBlock(2))
	assert.Equal(t, 8, c.TagBlock(1))
}
