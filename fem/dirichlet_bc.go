package fem

import (
	"fmt"
	"sort"

	"github.com/notargets/femassembler/comm"
)

// Method selects how the constrained dofs of a DirichletBC are found
type Method uint8

const (
	// Topological marks the dofs on exterior facets of owned cells whose
	// midpoint satisfies the subdomain
	Topological Method = iota
	// Geometric tests the coordinate of every dof of the owned cells
	Geometric
	// Pointwise tests the coordinate of every global dof, the result is
	// complete on every rank
	Pointwise
)

func (m Method) String() string {
	switch m {
	case Topological:
		return "topological"
	case Geometric:
		return "geometric"
	case Pointwise:
		return "pointwise"
	}
	return "unknown"
}

// SubDomain marks a point, onBoundary is true when the point is known to lie
// on the exterior boundary of the mesh
type SubDomain func(x []float64, onBoundary bool) bool

// OnBoundary marks the whole exterior boundary
func OnBoundary(x []float64, onBoundary bool) bool { return onBoundary }

// BoundaryMap maps global dofs to prescribed values
type BoundaryMap map[int]float64

func (bm BoundaryMap) Has(dof int) bool {
	_, ok := bm[dof]
	return ok
}

// Sorted returns the dofs in ascending order with their values
func (bm BoundaryMap) Sorted() (dofs []int, values []float64) {
	dofs = make([]int, 0, len(bm))
	for dof := range bm {
		dofs = append(dofs, dof)
	}
	sort.Ints(dofs)
	values = make([]float64, len(dofs))
	for n, dof := range dofs {
		values[n] = bm[dof]
	}
	return
}

type DirichletBC struct {
	V      *FunctionSpace
	g      Evaluator
	marker SubDomain
	method Method
}

func NewDirichletBC(V *FunctionSpace, g Evaluator, marker SubDomain, method ...Method) (bc *DirichletBC, err error) {
	if V == nil || g == nil || marker == nil {
		return nil, fmt.Errorf("dirichlet condition needs a function space, a value and a subdomain")
	}
	bc = &DirichletBC{V: V, g: g, marker: marker, method: Topological}
	if len(method) != 0 {
		if method[0] > Pointwise {
			return nil, fmt.Errorf("unknown boundary method %d", method[0])
		}
		bc.method = method[0]
	}
	return
}

func (bc *DirichletBC) Method() Method { return bc.method }

func (bc *DirichletBC) FunctionSpace() *FunctionSpace { return bc.V }

// GetBoundaryValues adds the constrained dofs found on this rank to bm.
// Only Pointwise gives the complete global set without a Gather.
func (bc *DirichletBC) GetBoundaryValues(bm BoundaryMap) {
	var (
		dm = bc.V.DofMap()
		m  = bc.V.Mesh()
	)
	set := func(dof int) {
		bm[dof] = bc.g.Eval(dm.Coordinate(dof))
	}
	switch bc.method {
	case Topological:
		for _, cell := range m.Cells() {
			for _, facet := range cell.Facets() {
				if !facet.Exterior || !bc.marker(m.Midpoint(facet.Vertices), true) {
					continue
				}
				for _, dof := range dm.FacetDofs(facet) {
					set(dof)
				}
			}
		}
	case Geometric:
		for _, cell := range m.Cells() {
			onBoundary := make(map[int]bool)
			exterior := false
			for _, facet := range cell.Facets() {
				if !facet.Exterior {
					continue
				}
				exterior = true
				for _, dof := range dm.FacetDofs(facet) {
					onBoundary[dof] = true
				}
			}
			for _, dof := range dm.CellDofs(cell) {
				if dm.element.Family == DiscontinuousLagrange {
					onBoundary[dof] = exterior
				}
				if bc.marker(dm.Coordinate(dof), onBoundary[dof]) {
					set(dof)
				}
			}
		}
	case Pointwise:
		for _, dof := range dm.Dofs() {
			if bc.marker(dm.Coordinate(dof), false) {
				set(dof)
			}
		}
	}
}

type boundaryValue struct {
	Dof   int
	Value float64
}

// Gather is collective, afterwards bm holds the union of the maps of all
// ranks
func (bc *DirichletBC) Gather(bm BoundaryMap) (err error) {
	var (
		c     = bc.V.Mesh().Comm()
		local = make([]boundaryValue, 0, len(bm))
		all   [][]boundaryValue
	)
	dofs, values := bm.Sorted()
	for n, dof := range dofs {
		local = append(local, boundaryValue{dof, values[n]})
	}
	if all, err = comm.AllGather(c, "DirichletBC.Gather", local); err != nil {
		return fmt.Errorf("gather of %s boundary values: %w", bc.method, err)
	}
	for _, part := range all {
		for _, bv := range part {
			bm[bv.Dof] = bv.Value
		}
	}
	return
}
