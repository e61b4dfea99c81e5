package la

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/femassembler/comm"
)

var (
	ErrInitialized    = errors.New("matrix is already initialized")
	ErrNotInitialized = errors.New("matrix is not initialized")
	ErrNotAssembled   = errors.New("operation requires an assembled matrix, call Apply first")
	ErrNewNonzero     = errors.New("entry is outside the sparsity pattern")
	ErrNestOperation  = errors.New("operation is not defined on a nest matrix, use Block(i, j)")
)

type entry struct {
	I, J int
	V    float64
}

// Matrix is a row distributed sparse matrix, or a nest of such matrices.
// Each rank stores its owned rows in a DOK with local row numbering and
// global column numbering.
type Matrix struct {
	M              *sparse.DOK
	rowMap, colMap *IndexMap
	pattern        *SparsityPattern
	stash          map[int][]entry // owner rank -> pending additions
	nest           *Nest
	assembled      bool
	applies        int
	readOnly       bool
	name           string
}

func NewMatrix(name ...string) (R *Matrix) {
	R = &Matrix{name: "unnamed - hint: pass a variable name to NewMatrix()"}
	if len(name) != 0 {
		R.name = name[0]
	}
	return
}

func (m *Matrix) Name() string { return m.name }

func (m *Matrix) Empty() bool { return m.M == nil && m.nest == nil }

func (m *Matrix) IsNest() bool { return m.nest != nil }

// Init allocates storage for the owned rows described by an assembled pattern
func (m *Matrix) Init(pattern *SparsityPattern) error {
	if !m.Empty() {
		return fmt.Errorf("%s: %w", m.name, ErrInitialized)
	}
	if !pattern.assembled {
		return fmt.Errorf("%s: sparsity pattern must be assembled before use", m.name)
	}
	m.rowMap, m.colMap = pattern.rowMap, pattern.colMap
	m.pattern = pattern
	m.M = sparse.NewDOK(max(m.rowMap.LocalSize(), 1), max(m.colMap.Size(), 1))
	m.stash = make(map[int][]entry)
	return nil
}

// InitNest wraps nr x nc sub-matrices given in row-major order, nil entries
// are zero blocks. The nest takes ownership of the blocks.
func (m *Matrix) InitNest(nr, nc int, blocks []*Matrix) error {
	if !m.Empty() {
		return fmt.Errorf("%s: %w", m.name, ErrInitialized)
	}
	if len(blocks) != nr*nc {
		return fmt.Errorf("%s: nest of %d x %d needs %d blocks, have %d", m.name, nr, nc, nr*nc, len(blocks))
	}
	nest := NewNest(nr, nc)
	for n, blk := range blocks {
		if blk != nil && blk.Empty() {
			return fmt.Errorf("%s: block (%d, %d): %w", m.name, n/nc, n%nc, ErrNotInitialized)
		}
		nest.M[n/nc][n%nc] = blk
	}
	m.nest = nest
	return nil
}

// Block returns a view of sub-matrix (i, j) of a nest, nil for a zero block.
// The nest keeps ownership.
func (m *Matrix) Block(i, j int) *Matrix {
	if m.nest == nil {
		panic(fmt.Sprintf("%s is not a nest matrix", m.name))
	}
	return m.nest.Block(i, j)
}

func (m *Matrix) NestShape() (nr, nc int) {
	if m.nest == nil {
		return 1, 1
	}
	return m.nest.Nr, m.nest.Nc
}

// Dims returns the global dimensions
func (m *Matrix) Dims() (r, c int) {
	switch {
	case m.nest != nil:
		rs, cs, err := m.nest.blockSizes()
		if err != nil {
			panic(err)
		}
		for _, s := range rs {
			r += s
		}
		for _, s := range cs {
			c += s
		}
	case m.M != nil:
		r, c = m.rowMap.Size(), m.colMap.Size()
	}
	return
}

func (m *Matrix) RowMap() *IndexMap { return m.rowMap }
func (m *Matrix) ColMap() *IndexMap { return m.colMap }

func (m *Matrix) SetReadOnly(name ...string) *Matrix {
	if len(name) != 0 {
		m.name = name[0]
	}
	m.readOnly = true
	return m
}

func (m *Matrix) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

func (m *Matrix) checkPlain() error {
	if m.nest != nil {
		return fmt.Errorf("%s: %w", m.name, ErrNestOperation)
	}
	if m.M == nil {
		return fmt.Errorf("%s: %w", m.name, ErrNotInitialized)
	}
	return nil
}

// AddLocal adds the dense block Ae into global rows x cols
func (m *Matrix) AddLocal(Ae mat.Matrix, rows, cols []int) error {
	if err := m.checkPlain(); err != nil {
		return err
	}
	m.checkWritable()
	if r, c := Ae.Dims(); r != len(rows) || c != len(cols) {
		return fmt.Errorf("%s: local block is %d x %d, have %d row and %d column indices", m.name, r, c, len(rows), len(cols))
	}
	m.assembled = false
	lo, _ := m.rowMap.LocalRange()
	for ii, i := range rows {
		owned := m.rowMap.Owns(i)
		var owner int
		if !owned {
			owner = m.rowMap.Owner(i)
		}
		for jj, j := range cols {
			v := Ae.At(ii, jj)
			if v == 0 {
				continue
			}
			if !owned {
				m.stash[owner] = append(m.stash[owner], entry{i, j, v})
				continue
			}
			if m.pattern != nil && !m.pattern.Contains(i, j) {
				return fmt.Errorf("%s: (%d, %d): %w", m.name, i, j, ErrNewNonzero)
			}
			m.M.Set(i-lo, j, m.M.At(i-lo, j)+v)
		}
	}
	return nil
}

// Apply is collective: it ships stashed additions to their owners and marks
// the matrix assembled. For a nest every block is flushed in row-major order
// and the nest counts as applied once.
func (m *Matrix) Apply() (err error) {
	switch {
	case m.nest != nil:
		for i := 0; i < m.nest.Nr; i++ {
			for j := 0; j < m.nest.Nc; j++ {
				if blk := m.nest.M[i][j]; blk != nil {
					if err = blk.flush(); err != nil {
						return fmt.Errorf("%s: block (%d, %d): %w", m.name, i, j, err)
					}
				}
			}
		}
	case m.M != nil:
		if err = m.flush(); err != nil {
			return
		}
	default:
		return fmt.Errorf("%s: %w", m.name, ErrNotInitialized)
	}
	m.assembled = true
	m.applies++
	return
}

func (m *Matrix) flush() (err error) {
	var (
		incoming []entry
		lo, _    = m.rowMap.LocalRange()
	)
	if incoming, err = comm.Exchange(m.rowMap.Comm(), "Matrix.Apply", m.stash); err != nil {
		return
	}
	for _, e := range incoming {
		if m.pattern != nil && !m.pattern.Contains(e.I, e.J) {
			return fmt.Errorf("%s: (%d, %d): %w", m.name, e.I, e.J, ErrNewNonzero)
		}
		m.M.Set(e.I-lo, e.J, m.M.At(e.I-lo, e.J)+e.V)
	}
	m.stash = make(map[int][]entry)
	m.assembled = true
	return
}

// ApplyCount reports how many times Apply completed on this matrix
func (m *Matrix) ApplyCount() int { return m.applies }

// ZeroRows clears the given global rows and writes diag on their diagonal.
// Every rank may pass any rows, each rank only touches those it owns.
func (m *Matrix) ZeroRows(rows []int, diag float64) error {
	if err := m.checkPlain(); err != nil {
		return err
	}
	m.checkWritable()
	if !m.assembled {
		return fmt.Errorf("%s: %w", m.name, ErrNotAssembled)
	}
	lo, _ := m.rowMap.LocalRange()
	for _, i := range rows {
		if !m.rowMap.Owns(i) {
			continue
		}
		for _, j := range m.pattern.RowColumns(i) {
			m.M.Set(i-lo, j, 0)
		}
		if i < m.colMap.Size() {
			m.M.Set(i-lo, i, diag)
		}
	}
	return nil
}

// ToCSR compresses the owned rows
func (m *Matrix) ToCSR() *sparse.CSR {
	if err := m.checkPlain(); err != nil {
		panic(err)
	}
	return m.M.ToCSR()
}

func (m *Matrix) ownedEntries() (entries []entry) {
	lo, _ := m.rowMap.LocalRange()
	m.M.DoNonZero(func(i, j int, v float64) {
		entries = append(entries, entry{i + lo, j, v})
	})
	return
}

// ToDense is collective and returns the full global matrix on every rank
func (m *Matrix) ToDense() (D *mat.Dense, err error) {
	if m.nest != nil {
		return m.nest.ToDense()
	}
	if err = m.checkPlain(); err != nil {
		return
	}
	var all [][]entry
	if all, err = comm.AllGather(m.rowMap.Comm(), "Matrix.ToDense", m.ownedEntries()); err != nil {
		return
	}
	D = mat.NewDense(max(m.rowMap.Size(), 1), max(m.colMap.Size(), 1), nil)
	for _, entries := range all {
		for _, e := range entries {
			D.Set(e.I, e.J, e.V)
		}
	}
	return
}

// SquaredNorm is collective and returns the squared Frobenius norm
func (m *Matrix) SquaredNorm() (norm float64, err error) {
	if m.nest != nil {
		for i := 0; i < m.nest.Nr; i++ {
			for j := 0; j < m.nest.Nc; j++ {
				if blk := m.nest.M[i][j]; blk != nil {
					var bn float64
					if bn, err = blk.SquaredNorm(); err != nil {
						return
					}
					norm += bn
				}
			}
		}
		return
	}
	if err = m.checkPlain(); err != nil {
		return
	}
	var local float64
	for _, e := range m.ownedEntries() {
		local += e.V * e.V
	}
	var sum []float64
	if sum, err = comm.AllReduceSum(m.rowMap.Comm(), "Matrix.SquaredNorm", []float64{local}); err != nil {
		return
	}
	norm = sum[0]
	return
}

// Print is collective, it renders the global matrix
func (m *Matrix) Print() (out string, err error) {
	if m.nest != nil {
		return m.nest.Print()
	}
	var D *mat.Dense
	if D, err = m.ToDense(); err != nil {
		return
	}
	buf := bytes.Buffer{}
	buf.WriteString(fmt.Sprintf("%s = \n", m.name))
	buf.WriteString(fmt.Sprintf("%8.5f", mat.Formatted(D, mat.Squeeze())))
	buf.WriteString("\n")
	return buf.String(), nil
}
