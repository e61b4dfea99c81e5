package fem

import (
	"fmt"

	"github.com/notargets/femassembler/la"
)

// SparsityPattern is collective, it builds the assembled pattern of a
// bilinear form from the owned cells of every rank
func SparsityPattern(a *Form) (sp *la.SparsityPattern, err error) {
	if a.Rank() != 2 {
		return nil, fmt.Errorf("sparsity pattern of a rank %d form: %w", a.Rank(), ErrRankMismatch)
	}
	var (
		dm0 = a.FunctionSpace(0).DofMap()
		dm1 = a.FunctionSpace(1).DofMap()
	)
	sp = la.NewSparsityPattern(dm0.IndexMap(), dm1.IndexMap())
	for _, cell := range a.Mesh().Cells() {
		sp.Insert(dm0.CellDofs(cell), dm1.CellDofs(cell))
	}
	if err = sp.Assemble(); err != nil {
		return nil, err
	}
	return
}

// InitMatrix is collective, it sizes A for the bilinear form a
func InitMatrix(A *la.Matrix, a *Form) (err error) {
	var sp *la.SparsityPattern
	if sp, err = SparsityPattern(a); err != nil {
		return
	}
	return A.Init(sp)
}

func InitVector(b *la.Vector, L *Form) error {
	if L.Rank() != 1 {
		return fmt.Errorf("vector from a rank %d form: %w", L.Rank(), ErrRankMismatch)
	}
	return b.Init(L.FunctionSpace(0).DofMap().IndexMap())
}
