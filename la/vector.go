package la

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/femassembler/comm"
)

var ErrMixedInsertMode = errors.New("cannot mix add and insert operations between applies")

type InsertMode uint8

const (
	NotSetValues InsertMode = iota
	AddValues
	InsertValues
)

func (im InsertMode) String() string {
	switch im {
	case AddValues:
		return "add"
	case InsertValues:
		return "insert"
	}
	return "not set"
}

type vecEntry struct {
	I int
	V float64
}

// Vector is a distributed vector, each rank stores its owned range
type Vector struct {
	imap    *IndexMap
	data    []float64
	stash   map[int][]vecEntry // owner rank -> pending values
	mode    InsertMode
	applies int
	name    string
}

func NewVector(name ...string) (R *Vector) {
	R = &Vector{name: "unnamed - hint: pass a variable name to NewVector()"}
	if len(name) != 0 {
		R.name = name[0]
	}
	return
}

func (v *Vector) Empty() bool { return v.imap == nil }

func (v *Vector) Init(imap *IndexMap) error {
	if !v.Empty() {
		return fmt.Errorf("%s: vector is already initialized", v.name)
	}
	v.imap = imap
	v.data = make([]float64, imap.LocalSize())
	v.stash = make(map[int][]vecEntry)
	return nil
}

func (v *Vector) IndexMap() *IndexMap { return v.imap }

func (v *Vector) Size() int { return v.imap.Size() }

// Get returns owned entry i
func (v *Vector) Get(i int) float64 {
	lo, _ := v.imap.LocalRange()
	if !v.imap.Owns(i) {
		panic(fmt.Sprintf("%s: entry %d is not owned by rank %d", v.name, i, v.imap.Comm().Rank()))
	}
	return v.data[i-lo]
}

func (v *Vector) setMode(mode InsertMode) error {
	if v.Empty() {
		return fmt.Errorf("%s: vector is not initialized", v.name)
	}
	if v.mode != NotSetValues && v.mode != mode {
		return fmt.Errorf("%s: pending %s, requested %s: %w", v.name, v.mode, mode, ErrMixedInsertMode)
	}
	v.mode = mode
	return nil
}

func (v *Vector) put(values []float64, indices []int, mode InsertMode) error {
	if err := v.setMode(mode); err != nil {
		return err
	}
	if len(values) != len(indices) {
		return fmt.Errorf("%s: %d values for %d indices", v.name, len(values), len(indices))
	}
	lo, _ := v.imap.LocalRange()
	for n, i := range indices {
		if !v.imap.Owns(i) {
			owner := v.imap.Owner(i)
			v.stash[owner] = append(v.stash[owner], vecEntry{i, values[n]})
			continue
		}
		if mode == AddValues {
			v.data[i-lo] += values[n]
		} else {
			v.data[i-lo] = values[n]
		}
	}
	return nil
}

// AddLocal adds be into the global entries indices
func (v *Vector) AddLocal(be []float64, indices []int) error {
	return v.put(be, indices, AddValues)
}

// SetLocal overwrites the global entries indices
func (v *Vector) SetLocal(values []float64, indices []int) error {
	return v.put(values, indices, InsertValues)
}

// Apply is collective: stashed values are sent to their owners and combined
// with the pending insert mode
func (v *Vector) Apply() (err error) {
	if v.Empty() {
		return fmt.Errorf("%s: vector is not initialized", v.name)
	}
	var (
		c        = v.imap.Comm()
		modes    []InsertMode
		incoming []vecEntry
		lo, _    = v.imap.LocalRange()
		mode     = v.mode
	)
	if modes, err = comm.AllGather(c, "Vector.Apply.mode", v.mode); err != nil {
		return
	}
	for _, m := range modes {
		if m == NotSetValues {
			continue
		}
		if mode != NotSetValues && m != mode {
			return fmt.Errorf("%s: ranks used both %s and %s: %w", v.name, mode, m, ErrMixedInsertMode)
		}
		mode = m
	}
	if incoming, err = comm.Exchange(c, "Vector.Apply", v.stash); err != nil {
		return
	}
	for _, e := range incoming {
		if mode == AddValues {
			v.data[e.I-lo] += e.V
		} else {
			v.data[e.I-lo] = e.V
		}
	}
	v.stash = make(map[int][]vecEntry)
	v.mode = NotSetValues
	v.applies++
	return
}

func (v *Vector) ApplyCount() int { return v.applies }

// Gather is collective and returns the full global vector on every rank
func (v *Vector) Gather() (x []float64, err error) {
	var all [][]float64
	if all, err = comm.AllGather(v.imap.Comm(), "Vector.Gather", v.data); err != nil {
		return
	}
	x = make([]float64, 0, v.imap.Size())
	for _, part := range all {
		x = append(x, part...)
	}
	return
}

// Norm is collective and returns the Euclidean norm
func (v *Vector) Norm() (norm float64, err error) {
	var sum []float64
	if sum, err = comm.AllReduceSum(v.imap.Comm(), "Vector.Norm", []float64{floats.Dot(v.data, v.data)}); err != nil {
		return
	}
	norm = math.Sqrt(sum[0])
	return
}
