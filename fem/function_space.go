package fem

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/notargets/femassembler/la"
	"github.com/notargets/femassembler/mesh"
)

type Family uint8

const (
	Lagrange              Family = iota // continuous, degree 1
	DiscontinuousLagrange               // discontinuous, degree 0
)

func (f Family) String() string {
	switch f {
	case Lagrange:
		return "P"
	case DiscontinuousLagrange:
		return "DG"
	}
	return "unknown"
}

// FiniteElement identifies the local basis of a function space. BlockSize
// is the number of interleaved components per node.
type FiniteElement struct {
	Family    Family
	Degree    int
	BlockSize int
}

func P1(blockSize ...int) FiniteElement {
	bs := 1
	if len(blockSize) != 0 {
		bs = blockSize[0]
	}
	return FiniteElement{Family: Lagrange, Degree: 1, BlockSize: bs}
}

func DG0() FiniteElement {
	return FiniteElement{Family: DiscontinuousLagrange, Degree: 0, BlockSize: 1}
}

func (e FiniteElement) String() string {
	if e.BlockSize > 1 {
		return fmt.Sprintf("%s%d^%d", e.Family, e.Degree, e.BlockSize)
	}
	return fmt.Sprintf("%s%d", e.Family, e.Degree)
}

func (e FiniteElement) validate() error {
	switch {
	case e.BlockSize < 1:
		return fmt.Errorf("element %s: block size must be positive", e)
	case e.Family == Lagrange && e.Degree == 1:
	case e.Family == DiscontinuousLagrange && e.Degree == 0:
	default:
		return fmt.Errorf("element %s is not supported, use P1 or DG0", e)
	}
	return nil
}

// FunctionSpace is a mesh, an element and a dofmap. Sub-spaces share the
// identity and the global numbering of their root space.
type FunctionSpace struct {
	root      uuid.UUID
	component []int
	mesh      *mesh.Mesh
	element   FiniteElement
	dofmap    *DofMap
	subs      map[int]*FunctionSpace
}

func NewFunctionSpace(m *mesh.Mesh, e FiniteElement) (V *FunctionSpace, err error) {
	if m == nil {
		return nil, fmt.Errorf("function space needs a mesh")
	}
	if err = e.validate(); err != nil {
		return
	}
	V = &FunctionSpace{
		root:    uuid.New(),
		mesh:    m,
		element: e,
		subs:    make(map[int]*FunctionSpace),
	}
	V.dofmap = newDofMap(m, e)
	return
}

// Sub returns component i of a blocked space. Repeated calls return the same
// space, so sub-spaces compare equal by identity.
func (V *FunctionSpace) Sub(i int) *FunctionSpace {
	if len(V.component) != 0 {
		panic("sub-spaces of sub-spaces are not supported")
	}
	if i < 0 || i >= V.element.BlockSize {
		panic(fmt.Sprintf("component %d out of range for element %s", i, V.element))
	}
	if W, ok := V.subs[i]; ok {
		return W
	}
	W := &FunctionSpace{
		root:      V.root,
		component: []int{i},
		mesh:      V.mesh,
		element:   FiniteElement{Family: V.element.Family, Degree: V.element.Degree, BlockSize: 1},
		dofmap:    V.dofmap.sub(i),
	}
	V.subs[i] = W
	return W
}

// Contains reports whether W is V or a sub-space of V
func (V *FunctionSpace) Contains(W *FunctionSpace) bool {
	if W == nil || V.root != W.root || len(V.component) > len(W.component) {
		return false
	}
	for n, c := range V.component {
		if W.component[n] != c {
			return false
		}
	}
	return true
}

func (V *FunctionSpace) Mesh() *mesh.Mesh { return V.mesh }

func (V *FunctionSpace) Element() FiniteElement { return V.element }

func (V *FunctionSpace) DofMap() *DofMap { return V.dofmap }

// Dim is the global dimension of the root space
func (V *FunctionSpace) Dim() int { return V.dofmap.IndexMap().Size() }

func (V *FunctionSpace) String() string {
	if len(V.component) != 0 {
		return fmt.Sprintf("%s.sub(%d)", V.root.String()[:8], V.component[0])
	}
	return fmt.Sprintf("%s(%s)", V.element, V.root.String()[:8])
}

// DofMap maps the local dofs of each cell to global dofs. All sub dofmaps of
// a space share the index map and the dof coordinates of the root.
type DofMap struct {
	mesh       *mesh.Mesh
	element    FiniteElement
	bs         int   // block size of the root
	components []int // root components this dofmap covers
	imap       *la.IndexMap
	cellDofs   [][]int     // local cell index -> global dofs
	coords     [][]float64 // root global dof -> coordinate
}

func newDofMap(m *mesh.Mesh, e FiniteElement) (dm *DofMap) {
	dm = &DofMap{
		mesh:    m,
		element: e,
		bs:      e.BlockSize,
	}
	for c := 0; c < e.BlockSize; c++ {
		dm.components = append(dm.components, c)
	}
	var nodes int
	switch e.Family {
	case Lagrange:
		nodes = m.NumGlobalVertices()
		dm.coords = make([][]float64, nodes*dm.bs)
		for v := 0; v < nodes; v++ {
			for c := 0; c < dm.bs; c++ {
				dm.coords[v*dm.bs+c] = m.Coordinates[v]
			}
		}
	case DiscontinuousLagrange:
		nodes = m.NumGlobalCells()
		dm.coords = make([][]float64, nodes*dm.bs)
	}
	dm.imap = la.NewIndexMap(m.Comm(), nodes*dm.bs)
	if e.Family == DiscontinuousLagrange {
		for k := 0; k < nodes; k++ {
			x := m.Midpoint(m.CellVertices(k))
			for c := 0; c < dm.bs; c++ {
				dm.coords[k*dm.bs+c] = x
			}
		}
	}
	dm.cellDofs = dm.tabulate()
	return
}

func (dm *DofMap) nodeDofs(node int) (dofs []int) {
	for _, c := range dm.components {
		dofs = append(dofs, node*dm.bs+c)
	}
	return
}

func (dm *DofMap) tabulate() (cellDofs [][]int) {
	cells := dm.mesh.AllCells()
	cellDofs = make([][]int, len(cells))
	for _, cell := range cells {
		var dofs []int
		switch dm.element.Family {
		case Lagrange:
			for _, v := range cell.Vertices() {
				dofs = append(dofs, dm.nodeDofs(v)...)
			}
		case DiscontinuousLagrange:
			dofs = dm.nodeDofs(cell.GlobalIndex())
		}
		cellDofs[cell.Index()] = dofs
	}
	return
}

func (dm *DofMap) sub(i int) *DofMap {
	sub := &DofMap{
		mesh:       dm.mesh,
		element:    dm.element,
		bs:         dm.bs,
		components: []int{i},
		imap:       dm.imap,
		coords:     dm.coords,
	}
	sub.cellDofs = sub.tabulate()
	return sub
}

// CellDofs returns the global dofs of a local cell, ghosts included
func (dm *DofMap) CellDofs(cell mesh.Cell) []int { return dm.cellDofs[cell.Index()] }

// FacetDofs returns the global dofs located on a facet of the cell
func (dm *DofMap) FacetDofs(facet mesh.Facet) (dofs []int) {
	if dm.element.Family != Lagrange {
		return nil
	}
	for _, v := range facet.Vertices {
		dofs = append(dofs, dm.nodeDofs(v)...)
	}
	return
}

// Dofs lists every global dof of this dofmap in ascending order
func (dm *DofMap) Dofs() (dofs []int) {
	nodes := len(dm.coords) / dm.bs
	for n := 0; n < nodes; n++ {
		dofs = append(dofs, dm.nodeDofs(n)...)
	}
	return
}

func (dm *DofMap) Coordinate(dof int) []float64 { return dm.coords[dof] }

func (dm *DofMap) IndexMap() *la.IndexMap { return dm.imap }

func (dm *DofMap) NumElementDofs() int {
	switch dm.element.Family {
	case Lagrange:
		return dm.mesh.CellType.NumVertices() * len(dm.components)
	}
	return len(dm.components)
}
