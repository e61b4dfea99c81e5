package fem

import (
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/femassembler/mesh"
	"github.com/notargets/femassembler/utils"
)

// localAssembly holds the per cell buffers reused across a cell loop
type localAssembly struct {
	form   *Form
	coords *mat.Dense
	A      *utils.DynBuffer[float64]
	w      [][]float64
	data   mesh.CellData
}

func newLocalAssembly(f *Form) *localAssembly {
	return &localAssembly{
		form:   f,
		coords: &mat.Dense{},
		A:      utils.NewDynBuffer[float64](16),
		w:      make([][]float64, len(f.Coefficients())),
	}
}

// update loads the geometry and coefficients of cell
func (lc *localAssembly) update(cell mesh.Cell) {
	gdim := cell.Mesh().Gdim()
	lc.coords.Reset()
	lc.coords.ReuseAs(cell.NumVertices(), gdim)
	cell.GetCoordinateDofs(lc.coords)
	for i, c := range lc.form.Coefficients() {
		lc.w[i] = c.Restrict(cell, lc.w[i][:0])
	}
	lc.data = cell.Data()
}

// tabulate fills a zeroed buffer of size n with the cell tensor
func (lc *localAssembly) tabulate(n int) []float64 {
	lc.A.Reset()
	for i := 0; i < n; i++ {
		lc.A.Add(0)
	}
	A := lc.A.Cells()
	lc.form.Integral().TabulateTensor(A, lc.w, lc.coords, lc.data)
	return A
}

// matrix tabulates the r x c cell matrix, the result shares the buffer
func (lc *localAssembly) matrix(r, c int) *mat.Dense {
	return mat.NewDense(r, c, lc.tabulate(r*c))
}

func (lc *localAssembly) vector(n int) []float64 {
	return lc.tabulate(n)
}
