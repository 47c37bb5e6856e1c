// Package comm provides the process-group abstraction for SPMD grid
// computations. A Group is a fixed set of cooperating ranks running in one
// process, one goroutine per rank, connected by matched point-to-point
// links and collective reductions.
//
// The calling convention mirrors message-passing practice: every rank must
// execute the same sequence of collective operations, and every send must
// have a matching receive on the destination rank. A count mismatch between
// a matched send and receive is reported as an error and is expected to
// abort the whole run.
package comm

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Op selects the combining operation for a collective reduction.
type Op int

const (
	OpSum Op = iota
	OpMin
	OpMax
)

// message is one point-to-point transfer in flight.
type message struct {
	data []float64
}

// linkKey identifies a directed link: messages from src to dst carrying tag.
type linkKey struct {
	src, dst, tag int
}

// reduction accumulates one in-flight collective across all ranks.
type reduction struct {
	op    Op
	acc   []float64
	count int
	err   error
	done  chan struct{}
}

// Group is a process group of a fixed number of ranks.
type Group struct {
	size  int
	mu    sync.Mutex
	links map[linkKey]chan message
	red   *reduction
	comms []*Comm
}

// NewGroup creates a process group with the given number of ranks.
func NewGroup(size int) (*Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size must be at least 1, got %d", size)
	}
	g := &Group{
		size:  size,
		links: make(map[linkKey]chan message),
	}
	g.comms = make([]*Comm, size)
	for r := 0; r < size; r++ {
		g.comms[r] = &Comm{group: g, rank: r}
	}
	return g, nil
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return g.size }

// Rank returns the communicator handle for rank r.
func (g *Group) Rank(r int) *Comm {
	if r < 0 || r >= g.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0,%d)", r, g.size))
	}
	return g.comms[r]
}

// link returns the channel for a directed (src, dst, tag) triple, creating
// it on first use. Capacity 1 lets a sender complete before the matching
// receive is posted, which a concurrent sendrecv pair relies on.
func (g *Group) link(k linkKey) chan message {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.links[k]
	if !ok {
		ch = make(chan message, 1)
		g.links[k] = ch
	}
	return ch
}

// Run executes fn once per rank, each on its own goroutine, and waits for
// all of them. The first error cancels the run; any rank failing is treated
// as a failure of the whole group.
func Run(size int, fn func(c *Comm) error) error {
	g, err := NewGroup(size)
	if err != nil {
		return err
	}
	eg := new(errgroup.Group)
	for r := 0; r < size; r++ {
		c := g.Rank(r)
		eg.Go(func() error { return fn(c) })
	}
	return eg.Wait()
}

// Comm is one rank's handle on the group.
type Comm struct {
	group   *Group
	rank    int
	nexttag int
}

// Rank returns this rank's identifier in [0, Size).
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the group.
func (c *Comm) Size() int { return c.group.size }

// TagBlock reserves n consecutive tags and returns the first. Ranks build
// communication plans in the same order, so the allocation is deterministic
// and identical across the group.
func (c *Comm) TagBlock(n int) int {
	t := c.nexttag
	c.nexttag += n
	return t
}

// Send delivers buf to rank dst under the given tag. The payload is copied,
// so the caller may reuse buf immediately.
func (c *Comm) Send(dst, tag int, buf []float64) error {
	if dst < 0 || dst >= c.group.size {
		return fmt.Errorf("send from rank %d: destination %d out of range", c.rank, dst)
	}
	data := make([]float64, len(buf))
	copy(data, buf)
	c.group.link(linkKey{src: c.rank, dst: dst, tag: tag}) <- message{data: data}
	return nil
}

// Recv blocks until the matching send from rank src under tag arrives and
// copies the payload into buf. The transfer counts must agree exactly.
func (c *Comm) Recv(src, tag int, buf []float64) error {
	if src < 0 || src >= c.group.size {
		return fmt.Errorf("recv on rank %d: source %d out of range", c.rank, src)
	}
	m := <-c.group.link(linkKey{src: src, dst: c.rank, tag: tag})
	if len(m.data) != len(buf) {
		return fmt.Errorf("recv on rank %d from %d tag %d: count mismatch: sent %d, expected %d",
			c.rank, src, tag, len(m.data), len(buf))
	}
	copy(buf, m.data)
	return nil
}

// SendRecv performs a combined blocking exchange: send goes to dst and recv
// is filled from src, both under the same tag. It returns when both
// transfers have completed.
func (c *Comm) SendRecv(dst int, send []float64, src int, recv []float64, tag int) error {
	errc := make(chan error, 1)
	go func() { errc <- c.Send(dst, tag, send) }()
	if err := c.Recv(src, tag, recv); err != nil {
		<-errc
		return err
	}
	return <-errc
}

// Allreduce combines vals elementwise across all ranks with op and returns
// the combined result to every rank. All ranks must call with the same
// length and the same op; this is a blocking collective.
func (c *Comm) Allreduce(vals []float64, op Op) ([]float64, error) {
	g := c.group
	g.mu.Lock()
	r := g.red
	if r == nil {
		r = &reduction{
			op:   op,
			acc:  make([]float64, len(vals)),
			done: make(chan struct{}),
		}
		switch op {
		case OpMin:
			for i := range r.acc {
				r.acc[i] = math.Inf(1)
			}
		case OpMax:
			for i := range r.acc {
				r.acc[i] = math.Inf(-1)
			}
		}
		g.red = r
	}
	if len(vals) != len(r.acc) && r.err == nil {
		r.err = fmt.Errorf("allreduce on rank %d: count mismatch: %d vs %d",
			c.rank, len(vals), len(r.acc))
	}
	if op != r.op && r.err == nil {
		r.err = fmt.Errorf("allreduce on rank %d: op mismatch", c.rank)
	}
	if r.err == nil {
		switch r.op {
		case OpSum:
			floats.Add(r.acc, vals)
		case OpMin:
			for i, v := range vals {
				r.acc[i] = math.Min(r.acc[i], v)
			}
		case OpMax:
			for i, v := range vals {
				r.acc[i] = math.Max(r.acc[i], v)
			}
		}
	}
	r.count++
	if r.count == g.size {
		g.red = nil
		close(r.done)
	}
	g.mu.Unlock()

	<-r.done
	if r.err != nil {
		return nil, r.err
	}
	out := make([]float64, len(r.acc))
	copy(out, r.acc)
	return out, nil
}

// Barrier blocks until every rank in the group has reached it.
func (c *Comm) Barrier() {
	// A zero-length sum carries no data but still synchronizes.
	if _, err := c.Allreduce(nil, OpSum); err != nil {
		panic(err)
	}
}
