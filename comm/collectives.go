package comm

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"
)

// enter publishes this rank's contribution and waits for every rank to do
// the same. All ranks must pass the same tag, a differing tag means some
// rank skipped or reordered a collective.
func (c *Comm) enter(tag string, payload any) error {
	w := c.world
	w.slots[c.rank] = payload
	w.tags[c.rank] = tag
	if err := c.Barrier(); err != nil {
		return fmt.Errorf("%s: %w", tag, err)
	}
	for r, t := range w.tags {
		if t != tag {
			// Every rank sees the same tags, so every rank fails here together
			err := fmt.Errorf("rank %d in %q, rank %d in %q: %w", c.rank, tag, r, t, ErrCollectiveMismatch)
			return multierr.Append(err, c.Barrier())
		}
	}
	return nil
}

// leave waits until every rank has read the shared slots
func (c *Comm) leave(tag string) error {
	if err := c.Barrier(); err != nil {
		return fmt.Errorf("%s: %w", tag, err)
	}
	if c.rank == 0 {
		c.world.collectives.Inc()
	}
	return nil
}

// AllGather returns every rank's value, indexed by rank, on every rank
func AllGather[T any](c *Comm, tag string, value T) (all []T, err error) {
	if c.Size() == 1 {
		c.world.collectives.Inc()
		return []T{value}, nil
	}
	if err = c.enter(tag, value); err != nil {
		return
	}
	all = make([]T, c.Size())
	for r, v := range c.world.slots {
		all[r] = v.(T)
	}
	err = c.leave(tag)
	return
}

// AllReduceSum sums x element-wise across ranks
func AllReduceSum(c *Comm, tag string, x []float64) (sum []float64, err error) {
	var all [][]float64
	if all, err = AllGather(c, tag, x); err != nil {
		return
	}
	sum = make([]float64, len(x))
	for r, xr := range all {
		if len(xr) != len(x) {
			err = fmt.Errorf("%s: rank %d contributed %d values, rank %d has %d", tag, r, len(xr), c.rank, len(x))
			return
		}
		for i, v := range xr {
			sum[i] += v
		}
	}
	return
}

// Exchange sends outgoing[target] to each target rank and returns what the
// other ranks sent to this one, ordered by sending rank so reductions over
// the result are reproducible. Messages to self are included.
func Exchange[T any](c *Comm, tag string, outgoing map[int][]T) (incoming []T, err error) {
	if c.Size() == 1 {
		c.world.collectives.Inc()
		incoming = append(incoming, outgoing[c.rank]...)
		return
	}
	mb := c.world.mb
	for target, msgs := range outgoing {
		if target == c.rank {
			continue
		}
		for _, msg := range msgs {
			mb.Post(c.rank, target, envelope{from: c.rank, payload: msg})
		}
	}
	mb.Deliver(c.rank)
	if err = c.enter(tag, nil); err != nil {
		return
	}
	received := append([]envelope{}, mb.Receive(c.rank)...)
	mb.Clear(c.rank)
	for _, msg := range outgoing[c.rank] {
		received = append(received, envelope{from: c.rank, payload: msg})
	}
	sort.SliceStable(received, func(i, j int) bool { return received[i].from < received[j].from })
	incoming = make([]T, 0, len(received))
	for _, env := range received {
		incoming = append(incoming, env.payload.(T))
	}
	err = c.leave(tag)
	return
}
