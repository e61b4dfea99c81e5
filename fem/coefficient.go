package fem

import (
	"fmt"

	"github.com/notargets/femassembler/mesh"
)

// Coefficient supplies per cell data to a cell integral. Restrict appends the
// coefficient values at the cell vertices to w and returns it.
type Coefficient interface {
	Restrict(cell mesh.Cell, w []float64) []float64
}

// Evaluator is a pointwise value, used for boundary values
type Evaluator interface {
	Eval(x []float64) float64
}

type Constant float64

func (c Constant) Eval(x []float64) float64 { return float64(c) }

func (c Constant) Restrict(cell mesh.Cell, w []float64) []float64 {
	for range cell.Vertices() {
		w = append(w, float64(c))
	}
	return w
}

type Expression func(x []float64) float64

func (e Expression) Eval(x []float64) float64 { return e(x) }

func (e Expression) Restrict(cell mesh.Cell, w []float64) []float64 {
	coords := cell.Mesh().Coordinates
	for _, v := range cell.Vertices() {
		w = append(w, e(coords[v]))
	}
	return w
}

// Function is a field on a scalar P1 space given by its global dof values
type Function struct {
	V *FunctionSpace
	X []float64
}

func NewFunction(V *FunctionSpace, X []float64) (*Function, error) {
	if e := V.Element(); e.Family != Lagrange || e.BlockSize != 1 {
		return nil, fmt.Errorf("functions are restricted to vertices, element %s is not a scalar P1", e)
	}
	if len(X) != V.Dim() {
		return nil, fmt.Errorf("function on a space of dimension %d given %d values", V.Dim(), len(X))
	}
	return &Function{V: V, X: X}, nil
}

func (f *Function) Restrict(cell mesh.Cell, w []float64) []float64 {
	for _, dof := range f.V.DofMap().CellDofs(cell) {
		w = append(w, f.X[dof])
	}
	return w
}
