// Package fem assembles bilinear and linear forms over a distributed mesh
// into la matrices and vectors. Dirichlet conditions are enforced by
// eliminating the constrained rows and columns, the removed columns are
// lifted onto the right hand side and the constrained entries of the right
// hand side are then overwritten with their prescribed values.
package fem

import (
	"errors"
	"fmt"
	"log"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/femassembler/la"
)

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrShape          = errors.New("form table is not rectangular")
)

// Assembler holds a table of bilinear forms, one linear form per block row
// and the boundary conditions applied to both. The forms and conditions are
// shared with the caller and never modified.
type Assembler struct {
	a       [][]*Form
	L       []*Form
	bcs     []*DirichletBC
	Verbose bool
}

func NewAssembler(a [][]*Form, L []*Form, bcs []*DirichletBC) (as *Assembler, err error) {
	for i, row := range a {
		if len(row) != len(a[0]) {
			return nil, fmt.Errorf("row %d has %d forms, row 0 has %d: %w", i, len(row), len(a[0]), ErrShape)
		}
		for j, f := range row {
			if f != nil && f.Rank() != 2 {
				return nil, fmt.Errorf("form (%d, %d) has rank %d, want 2: %w", i, j, f.Rank(), ErrRankMismatch)
			}
		}
	}
	if err = checkBlockSpaces(a); err != nil {
		return
	}
	for i, f := range L {
		if f == nil {
			return nil, fmt.Errorf("linear form %d is nil", i)
		}
		if f.Rank() != 1 {
			return nil, fmt.Errorf("linear form %d has rank %d, want 1: %w", i, f.Rank(), ErrRankMismatch)
		}
	}
	for n, bc := range bcs {
		if bc == nil {
			return nil, fmt.Errorf("boundary condition %d is nil", n)
		}
	}
	as = &Assembler{a: a, L: L, bcs: bcs}
	return
}

// checkBlockSpaces requires the forms of one block row to share the test
// index map and the forms of one block column to share the trial index map.
// Every block row and column needs at least one form to size it.
func checkBlockSpaces(a [][]*Form) error {
	if len(a) == 0 {
		return nil
	}
	var (
		rowMaps = make([]*la.IndexMap, len(a))
		colMaps = make([]*la.IndexMap, len(a[0]))
	)
	for i, row := range a {
		for j, f := range row {
			if f == nil {
				continue
			}
			rm := f.FunctionSpace(0).DofMap().IndexMap()
			cm := f.FunctionSpace(1).DofMap().IndexMap()
			if rowMaps[i] != nil && rowMaps[i] != rm {
				return fmt.Errorf("form (%d, %d): test space differs from the rest of block row %d", i, j, i)
			}
			if colMaps[j] != nil && colMaps[j] != cm {
				return fmt.Errorf("form (%d, %d): trial space differs from the rest of block column %d", i, j, j)
			}
			rowMaps[i], colMaps[j] = rm, cm
		}
	}
	for i, m := range rowMaps {
		if m == nil {
			return fmt.Errorf("block row %d has no forms: %w", i, ErrShape)
		}
	}
	for j, m := range colMaps {
		if m == nil {
			return fmt.Errorf("block column %d has no forms: %w", j, ErrShape)
		}
	}
	return nil
}

// Assemble is collective, it assembles A then b
func (as *Assembler) Assemble(A *la.Matrix, b *la.Vector) (err error) {
	if err = as.AssembleMatrix(A); err != nil {
		return
	}
	return as.AssembleVector(b)
}

// AssembleMatrix is collective. A must be empty, it is initialized as a
// plain matrix for a 1x1 form table and as a nest otherwise, with nil blocks
// where the table has no form.
func (as *Assembler) AssembleMatrix(A *la.Matrix) (err error) {
	if !A.Empty() {
		return fmt.Errorf("assembly into an initialized matrix %s: %w", A.Name(), ErrNotImplemented)
	}
	if len(as.a) == 0 || len(as.a[0]) == 0 {
		return fmt.Errorf("no bilinear forms to assemble")
	}
	nr, nc := len(as.a), len(as.a[0])
	if nr == 1 && nc == 1 {
		if as.a[0][0] == nil {
			return fmt.Errorf("no bilinear forms to assemble")
		}
		if err = InitMatrix(A, as.a[0][0]); err != nil {
			return
		}
	} else {
		blocks := make([]*la.Matrix, nr*nc)
		for i := 0; i < nr; i++ {
			for j := 0; j < nc; j++ {
				if as.a[i][j] == nil {
					continue
				}
				blk := la.NewMatrix(fmt.Sprintf("%s[%d:%d]", A.Name(), i, j))
				if err = InitMatrix(blk, as.a[i][j]); err != nil {
					return fmt.Errorf("block (%d, %d): %w", i, j, err)
				}
				blocks[i*nc+j] = blk
			}
		}
		if err = A.InitNest(nr, nc, blocks); err != nil {
			return
		}
	}

	type diagonal struct {
		A    *la.Matrix
		rows []int
	}
	var diagonals []diagonal
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			if as.a[i][j] == nil {
				continue
			}
			target := A
			if A.IsNest() {
				if as.Verbose {
					log.Printf("Assembling into matrix: %d, %d\n", i, j)
				}
				target = A.Block(i, j)
			}
			var (
				bm        BoundaryMap
				identical bool
			)
			if bm, identical, err = as.assembleMatrixForm(target, as.a[i][j]); err != nil {
				return fmt.Errorf("block (%d, %d): %w", i, j, err)
			}
			if identical && len(bm) != 0 {
				rows, _ := bm.Sorted()
				diagonals = append(diagonals, diagonal{target, rows})
			}
		}
	}
	if err = A.Apply(); err != nil {
		return
	}
	for _, d := range diagonals {
		if err = d.A.ZeroRows(d.rows, 1.0); err != nil {
			return
		}
	}
	return
}

// assembleMatrixForm scatters the owned cells of a into A without applying
// it. The returned map is the test space boundary map, identical reports
// whether the test and trial spaces are the same space.
func (as *Assembler) assembleMatrixForm(A *la.Matrix, a *Form) (bm0 BoundaryMap, identical bool, err error) {
	m := a.Mesh()
	if m == nil {
		panic("form has no mesh")
	}
	var (
		V0, V1 = a.FunctionSpace(0), a.FunctionSpace(1)
		bm1    BoundaryMap
	)
	identical = V0 == V1
	if bm0, err = as.collectBoundaryValues(V0); err != nil {
		return
	}
	if identical {
		bm1 = bm0
	} else if bm1, err = as.collectBoundaryValues(V1); err != nil {
		return
	}
	var (
		ctx      = newLocalAssembly(a)
		dm0, dm1 = V0.DofMap(), V1.DofMap()
	)
	for _, cell := range m.Cells() {
		if cell.IsGhost() {
			panic(fmt.Sprintf("ghost cell %d in the owned cell loop", cell.GlobalIndex()))
		}
		ctx.update(cell)
		dofs0, dofs1 := dm0.CellDofs(cell), dm1.CellDofs(cell)
		Ae := ctx.matrix(len(dofs0), len(dofs1))
		for ii, i := range dofs0 {
			if bm0.Has(i) {
				Ae.SetRow(ii, make([]float64, len(dofs1)))
			}
		}
		for jj, j := range dofs1 {
			if bm1.Has(j) {
				Ae.SetCol(jj, make([]float64, len(dofs0)))
			}
		}
		if err = A.AddLocal(Ae, dofs0, dofs1); err != nil {
			return
		}
	}
	return
}

// AssembleVector is collective. An empty b is initialized from the first
// linear form, an initialized b is added to.
func (as *Assembler) AssembleVector(b *la.Vector) (err error) {
	switch {
	case len(as.L) == 0:
		return fmt.Errorf("no linear forms to assemble")
	case len(as.L) > 1:
		return fmt.Errorf("assembly of %d linear forms into one vector: %w", len(as.L), ErrNotImplemented)
	}
	if b.Empty() {
		if err = InitVector(b, as.L[0]); err != nil {
			return
		}
	}
	if err = as.assembleVectorForm(b, as.L[0]); err != nil {
		return
	}
	for i := 0; i < len(as.L) && i < len(as.a); i++ {
		for j, a := range as.a[i] {
			if a == nil {
				continue
			}
			if err = as.applyBC(b, a); err != nil {
				return fmt.Errorf("lifting of form (%d, %d): %w", i, j, err)
			}
		}
	}
	return as.setBC(b, as.L[0])
}

func (as *Assembler) assembleVectorForm(b *la.Vector, L *Form) (err error) {
	m := L.Mesh()
	if m == nil {
		panic("form has no mesh")
	}
	var (
		ctx = newLocalAssembly(L)
		dm  = L.FunctionSpace(0).DofMap()
	)
	for _, cell := range m.Cells() {
		if cell.IsGhost() {
			panic(fmt.Sprintf("ghost cell %d in the owned cell loop", cell.GlobalIndex()))
		}
		ctx.update(cell)
		dofs := dm.CellDofs(cell)
		if err = b.AddLocal(ctx.vector(len(dofs)), dofs); err != nil {
			return
		}
	}
	return b.Apply()
}

// applyBC subtracts the columns of a that belong to constrained trial dofs,
// scaled by their prescribed values, from b
func (as *Assembler) applyBC(b *la.Vector, a *Form) (err error) {
	m := a.Mesh()
	if m == nil {
		panic("form has no mesh")
	}
	var (
		V0, V1    = a.FunctionSpace(0), a.FunctionSpace(1)
		identical = V0 == V1
		bm        BoundaryMap
	)
	if bm, err = as.collectBoundaryValues(V1); err != nil {
		return
	}
	var (
		ctx      = newLocalAssembly(a)
		dm0, dm1 = V0.DofMap(), V1.DofMap()
		g, be    mat.VecDense
	)
	for _, cell := range m.Cells() {
		dofs1 := dm1.CellDofs(cell)
		constrained := false
		for _, j := range dofs1 {
			if bm.Has(j) {
				constrained = true
				break
			}
		}
		if !constrained {
			continue
		}
		ctx.update(cell)
		dofs0 := dm0.CellDofs(cell)
		Ae := ctx.matrix(len(dofs0), len(dofs1))
		if identical {
			for ii, i := range dofs0 {
				if bm.Has(i) {
					Ae.SetRow(ii, make([]float64, len(dofs1)))
				}
			}
		}
		g.Reset()
		g.ReuseAsVec(len(dofs1))
		for jj, j := range dofs1 {
			if v, ok := bm[j]; ok {
				g.SetVec(jj, v)
			}
		}
		be.Reset()
		be.MulVec(Ae, &g)
		be.ScaleVec(-1, &be)
		if err = b.AddLocal(be.RawVector().Data, dofs0); err != nil {
			return
		}
	}
	return b.Apply()
}

// setBC overwrites the constrained entries of b with their values
func (as *Assembler) setBC(b *la.Vector, L *Form) (err error) {
	var bm BoundaryMap
	if bm, err = as.collectBoundaryValues(L.FunctionSpace(0)); err != nil {
		return
	}
	dofs, values := bm.Sorted()
	if err = b.SetLocal(values, dofs); err != nil {
		return
	}
	return b.Apply()
}

// collectBoundaryValues builds the boundary map of every condition on a
// subspace of V. Conditions found per rank are gathered, pointwise
// conditions are already complete and skip the gather.
func (as *Assembler) collectBoundaryValues(V *FunctionSpace) (bm BoundaryMap, err error) {
	bm = make(BoundaryMap)
	size := V.Mesh().Comm().Size()
	for _, bc := range as.bcs {
		if !V.Contains(bc.FunctionSpace()) {
			continue
		}
		bc.GetBoundaryValues(bm)
		if size > 1 && bc.Method() != Pointwise {
			if err = bc.Gather(bm); err != nil {
				return
			}
		}
	}
	return
}
