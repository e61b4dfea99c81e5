package fem

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/femassembler/mesh"
)

// CellIntegral computes the element tensor of one cell. A is row-major with
// one row per test dof and one column per trial dof, w holds one restricted
// coefficient per form coefficient, coords holds the vertex coordinates.
type CellIntegral interface {
	Rank() int
	Elements() []FiniteElement
	TabulateTensor(A []float64, w [][]float64, coords *mat.Dense, cell mesh.CellData)
}

// simplexGeometry returns the cell volume and the gradients of the
// barycentric coordinates, one row per vertex
func simplexGeometry(coords *mat.Dense) (vol float64, grad *mat.Dense) {
	nv, gdim := coords.Dims()
	d := nv - 1
	if gdim != d {
		panic(fmt.Sprintf("cell of topological dimension %d embedded in %d dimensions", d, gdim))
	}
	J := mat.NewDense(d, d, nil)
	for a := 0; a < d; a++ {
		for b := 0; b < d; b++ {
			J.Set(a, b, coords.At(b+1, a)-coords.At(0, a))
		}
	}
	var det float64
	switch d {
	case 1:
		det = J.At(0, 0)
	case 2:
		det = J.At(0, 0)*J.At(1, 1) - J.At(0, 1)*J.At(1, 0)
	default:
		// mat.Det goes through LogDet and is not exact
		det = mat.Det(J)
	}
	if det == 0 {
		panic("degenerate cell")
	}
	vol = math.Abs(det)
	for k := 2; k <= d; k++ {
		vol /= float64(k)
	}
	var Jinv mat.Dense
	if err := Jinv.Inverse(J); err != nil {
		panic(err)
	}
	grad = mat.NewDense(nv, d, nil)
	for b := 0; b < d; b++ {
		row := Jinv.RawRowView(b)
		grad.SetRow(b+1, row)
		for a := 0; a < d; a++ {
			grad.Set(0, a, grad.At(0, a)-row[a])
		}
	}
	return
}

// p1Mass is the exact P1 mass matrix entry on a simplex of dimension d
func p1Mass(vol float64, d, i, j int) float64 {
	m := vol / float64((d+1)*(d+2))
	if i == j {
		return 2 * m
	}
	return m
}

// LaplaceP1 is the stiffness matrix, grad(u).grad(v) dx
type LaplaceP1 struct{}

func (LaplaceP1) Rank() int { return 2 }

func (LaplaceP1) Elements() []FiniteElement { return []FiniteElement{P1(), P1()} }

func (LaplaceP1) TabulateTensor(A []float64, w [][]float64, coords *mat.Dense, cell mesh.CellData) {
	vol, grad := simplexGeometry(coords)
	nv, _ := grad.Dims()
	for i := 0; i < nv; i++ {
		for j := 0; j < nv; j++ {
			A[i*nv+j] = vol * floats.Dot(grad.RawRowView(i), grad.RawRowView(j))
		}
	}
}

// VectorLaplaceP1 applies LaplaceP1 to each of BlockSize interleaved
// components
type VectorLaplaceP1 struct {
	BlockSize int
}

func (VectorLaplaceP1) Rank() int { return 2 }

func (vl VectorLaplaceP1) Elements() []FiniteElement {
	return []FiniteElement{P1(vl.BlockSize), P1(vl.BlockSize)}
}

func (vl VectorLaplaceP1) TabulateTensor(A []float64, w [][]float64, coords *mat.Dense, cell mesh.CellData) {
	var (
		nv, _ = coords.Dims()
		bs    = vl.BlockSize
		n     = nv * bs
		K     = make([]float64, nv*nv)
	)
	LaplaceP1{}.TabulateTensor(K, w, coords, cell)
	for i := range A[:n*n] {
		A[i] = 0
	}
	for u := 0; u < nv; u++ {
		for v := 0; v < nv; v++ {
			for c := 0; c < bs; c++ {
				A[(u*bs+c)*n+v*bs+c] = K[u*nv+v]
			}
		}
	}
}

// MassP1 is u*v dx
type MassP1 struct{}

func (MassP1) Rank() int { return 2 }

func (MassP1) Elements() []FiniteElement { return []FiniteElement{P1(), P1()} }

func (MassP1) TabulateTensor(A []float64, w [][]float64, coords *mat.Dense, cell mesh.CellData) {
	vol, _ := simplexGeometry(coords)
	nv, _ := coords.Dims()
	for i := 0; i < nv; i++ {
		for j := 0; j < nv; j++ {
			A[i*nv+j] = p1Mass(vol, nv-1, i, j)
		}
	}
}

// SourceP1 is f*v dx with f interpolated at the vertices, the single
// coefficient of the form
type SourceP1 struct{}

func (SourceP1) Rank() int { return 1 }

func (SourceP1) Elements() []FiniteElement { return []FiniteElement{P1()} }

func (SourceP1) TabulateTensor(b []float64, w [][]float64, coords *mat.Dense, cell mesh.CellData) {
	vol, _ := simplexGeometry(coords)
	nv, _ := coords.Dims()
	f := w[0]
	for i := 0; i < nv; i++ {
		b[i] = 0
		for j := 0; j < nv; j++ {
			b[i] += p1Mass(vol, nv-1, i, j) * f[j]
		}
	}
}

// MassP0 is p*q dx on piecewise constants
type MassP0 struct{}

func (MassP0) Rank() int { return 2 }

func (MassP0) Elements() []FiniteElement { return []FiniteElement{DG0(), DG0()} }

func (MassP0) TabulateTensor(A []float64, w [][]float64, coords *mat.Dense, cell mesh.CellData) {
	A[0], _ = simplexGeometry(coords)
}

// CouplingP1P0 is p*v dx, P1 test and DG0 trial
type CouplingP1P0 struct{}

func (CouplingP1P0) Rank() int { return 2 }

func (CouplingP1P0) Elements() []FiniteElement { return []FiniteElement{P1(), DG0()} }

func (CouplingP1P0) TabulateTensor(A []float64, w [][]float64, coords *mat.Dense, cell mesh.CellData) {
	vol, _ := simplexGeometry(coords)
	nv, _ := coords.Dims()
	for i := 0; i < nv; i++ {
		A[i] = vol / float64(nv)
	}
}

// CouplingP0P1 is u*q dx, DG0 test and P1 trial
type CouplingP0P1 struct{}

func (CouplingP0P1) Rank() int { return 2 }

func (CouplingP0P1) Elements() []FiniteElement { return []FiniteElement{DG0(), P1()} }

func (CouplingP0P1) TabulateTensor(A []float64, w [][]float64, coords *mat.Dense, cell mesh.CellData) {
	CouplingP1P0{}.TabulateTensor(A, w, coords, cell)
}
