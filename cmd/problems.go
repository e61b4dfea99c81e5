package cmd

import (
	"fmt"
	"math"

	"github.com/notargets/femassembler/InputParameters"
	"github.com/notargets/femassembler/comm"
	"github.com/notargets/femassembler/fem"
	"github.com/notargets/femassembler/mesh"
)

type ProblemType uint8

const (
	P_Poisson ProblemType = iota
	P_Mass
	P_Mixed
)

func NewProblemType(label string) (pt ProblemType, err error) {
	switch label {
	case "poisson", "Poisson", "":
		pt = P_Poisson
	case "mass", "Mass":
		pt = P_Mass
	case "mixed", "Mixed":
		pt = P_Mixed
	default:
		err = fmt.Errorf("unknown problem %q, use poisson, mass or mixed", label)
	}
	return
}

func NewMethod(label string) (m fem.Method, err error) {
	switch label {
	case "topological", "":
		m = fem.Topological
	case "geometric":
		m = fem.Geometric
	case "pointwise":
		m = fem.Pointwise
	default:
		err = fmt.Errorf("unknown boundary method %q", label)
	}
	return
}

// Problem is the form table, linear forms and conditions of one run
type Problem struct {
	Mesh *mesh.Mesh
	A    [][]*fem.Form
	L    []*fem.Form
	BCs  []*fem.DirichletBC
}

func newMesh(c *comm.Comm, ip *InputParameters.AssemblyParameters) (*mesh.Mesh, error) {
	cells := append([]int{}, ip.Cells...)
	switch ip.CellType {
	case "interval":
		if len(cells) == 0 {
			cells = []int{8}
		}
		return mesh.UnitInterval(c, cells[0])
	case "triangle":
		for len(cells) < 2 {
			cells = append(cells, 4)
		}
		return mesh.UnitSquare(c, cells[0], cells[1])
	}
	return nil, fmt.Errorf("unknown cell type %q, use interval or triangle", ip.CellType)
}

// boundaryMarker selects a side of the unit box by name
func boundaryMarker(name string, gdim int) (marker fem.SubDomain, err error) {
	near := func(a, b float64) bool { return math.Abs(a-b) < 1.e-12 }
	side := func(d int, v float64) fem.SubDomain {
		return func(x []float64, onBoundary bool) bool { return near(x[d], v) }
	}
	switch name {
	case "Left":
		marker = side(0, 0)
	case "Right":
		marker = side(0, 1)
	case "Bottom", "Top":
		if gdim < 2 {
			return nil, fmt.Errorf("boundary %s needs a two dimensional mesh", name)
		}
		marker = side(1, 0)
		if name == "Top" {
			marker = side(1, 1)
		}
	case "All":
		marker = func(x []float64, onBoundary bool) bool {
			if onBoundary {
				return true
			}
			for d := 0; d < gdim; d++ {
				if near(x[d], 0) || near(x[d], 1) {
					return true
				}
			}
			return false
		}
	default:
		return nil, fmt.Errorf("unknown boundary %q, use Left, Right, Bottom, Top or All", name)
	}
	return
}

// NewProblem is collective, every rank must build the same problem
func NewProblem(c *comm.Comm, ip *InputParameters.AssemblyParameters) (p *Problem, err error) {
	var pt ProblemType
	if pt, err = NewProblemType(ip.Problem); err != nil {
		return
	}
	p = &Problem{}
	if p.Mesh, err = newMesh(c, ip); err != nil {
		return
	}
	var V, Q *fem.FunctionSpace
	if V, err = fem.NewFunctionSpace(p.Mesh, fem.P1(ip.BlockSize)); err != nil {
		return
	}
	source := fem.Constant(ip.Source)
	var a, L *fem.Form
	switch pt {
	case P_Poisson:
		var integral fem.CellIntegral = fem.LaplaceP1{}
		if ip.BlockSize > 1 {
			integral = fem.VectorLaplaceP1{BlockSize: ip.BlockSize}
		}
		if a, err = fem.NewBilinearForm(integral, V, V); err != nil {
			return
		}
		p.A = [][]*fem.Form{{a}}
	case P_Mass:
		if a, err = fem.NewBilinearForm(fem.MassP1{}, V, V); err != nil {
			return
		}
		p.A = [][]*fem.Form{{a}}
	case P_Mixed:
		if Q, err = fem.NewFunctionSpace(p.Mesh, fem.DG0()); err != nil {
			return
		}
		var a00, a01, a10 *fem.Form
		if a00, err = fem.NewBilinearForm(fem.LaplaceP1{}, V, V); err != nil {
			return
		}
		if a01, err = fem.NewBilinearForm(fem.CouplingP1P0{}, V, Q); err != nil {
			return
		}
		if a10, err = fem.NewBilinearForm(fem.CouplingP0P1{}, Q, V); err != nil {
			return
		}
		p.A = [][]*fem.Form{{a00, a01}, {a10, nil}}
	}
	// Vector valued spaces carry no source form
	if ip.BlockSize == 1 {
		if L, err = fem.NewLinearForm(fem.SourceP1{}, V, source); err != nil {
			return
		}
		p.L = []*fem.Form{L}
	}
	var params []InputParameters.DirichletParameters
	if params, err = ip.Dirichlet(); err != nil {
		return
	}
	for _, bp := range params {
		var (
			marker fem.SubDomain
			method fem.Method
			bc     *fem.DirichletBC
		)
		if marker, err = boundaryMarker(bp.Boundary, p.Mesh.Gdim()); err != nil {
			return
		}
		if method, err = NewMethod(bp.Method); err != nil {
			return
		}
		if bc, err = fem.NewDirichletBC(V, fem.Constant(bp.Value), marker, method); err != nil {
			return
		}
		p.BCs = append(p.BCs, bc)
	}
	return
}
