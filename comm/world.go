// Package comm runs SPMD style programs on a fixed number of in-process
// ranks. Each rank is a goroutine, collectives rendezvous through a shared
// barrier and point to point traffic goes through a utils.MailBox.
package comm

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/notargets/femassembler/utils"
)

var (
	ErrCollectiveMismatch = errors.New("ranks entered different collectives")
	ErrRankExited         = errors.New("a rank left the world while others were in a collective")
)

type envelope struct {
	from    int
	payload any
}

type World struct {
	size        int
	bar         *barrier
	mb          *utils.MailBox[envelope]
	slots       []any
	tags        []string
	collectives *atomic.Int64
}

func NewWorld(size int) *World {
	if size < 1 {
		panic(fmt.Sprintf("world size must be positive, have %d", size))
	}
	return &World{
		size:        size,
		bar:         newBarrier(size),
		mb:          utils.NewMailBox[envelope](size),
		slots:       make([]any, size),
		tags:        make([]string, size),
		collectives: atomic.NewInt64(0),
	}
}

// Self returns the communicator of a one rank world
func Self() *Comm {
	return &Comm{world: NewWorld(1), rank: 0}
}

func (w *World) Size() int { return w.size }

// Collectives counts the collectives completed by rank 0
func (w *World) Collectives() int64 { return w.collectives.Load() }

// Run executes fn once per rank, each in its own goroutine, and waits for
// all of them. A panic on a rank is turned into that rank's error. When a
// rank returns while others are blocked in a collective the waiting ranks
// fail with ErrRankExited instead of deadlocking.
func (w *World) Run(fn func(c *Comm) error) (err error) {
	var (
		wg   sync.WaitGroup
		errs = make([]error, w.size)
	)
	w.bar.reset()
	wg.Add(w.size)
	for rank := 0; rank < w.size; rank++ {
		go func(rank int) {
			defer wg.Done()
			defer w.bar.leave()
			defer func() {
				if r := recover(); r != nil {
					errs[rank] = fmt.Errorf("rank %d panicked: %v\n%s", rank, r, debug.Stack())
				}
			}()
			if rErr := fn(&Comm{world: w, rank: rank}); rErr != nil {
				errs[rank] = fmt.Errorf("rank %d: %w", rank, rErr)
			}
		}(rank)
	}
	wg.Wait()
	for _, e := range errs {
		err = multierr.Append(err, e)
	}
	return
}

type Comm struct {
	world *World
	rank  int
}

func (c *Comm) Rank() int     { return c.rank }
func (c *Comm) Size() int     { return c.world.size }
func (c *Comm) World() *World { return c.world }

func (c *Comm) Barrier() error {
	return c.world.bar.wait()
}

// barrier is a reusable rendezvous point for all ranks of a world
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	waiting int
	gen     uint64
	broken  *atomic.Bool
}

func newBarrier(size int) *barrier {
	b := &barrier{size: size, broken: atomic.NewBool(false)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) reset() {
	b.mu.Lock()
	b.waiting = 0
	b.broken.Store(false)
	b.mu.Unlock()
}

func (b *barrier) wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken.Load() {
		return ErrRankExited
	}
	gen := b.gen
	b.waiting++
	if b.waiting == b.size {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return nil
	}
	for gen == b.gen && !b.broken.Load() {
		b.cond.Wait()
	}
	if gen != b.gen {
		return nil
	}
	return ErrRankExited
}

// leave marks the barrier broken once any rank is gone, waking waiters
func (b *barrier) leave() {
	b.mu.Lock()
	b.broken.Store(true)
	b.cond.Broadcast()
	b.mu.Unlock()
}
