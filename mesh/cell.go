package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/femassembler/types"
)

// Cell is a lightweight handle to a local cell, owned or ghost
type Cell struct {
	mesh  *Mesh
	index int
}

// CellData is the per cell metadata handed to cell integrals
type CellData struct {
	Index       int // local index
	GlobalIndex int
	Orientation int
}

type Facet struct {
	Key        types.FacetKey
	LocalIndex int   // facet i is opposite cell vertex i
	Vertices   []int // global vertex indices
	Exterior   bool
}

func (c Cell) Mesh() *Mesh { return c.mesh }

// Index is the local cell index, owned cells come before ghosts
func (c Cell) Index() int { return c.index }

func (c Cell) GlobalIndex() int { return c.mesh.local[c.index] }

func (c Cell) IsGhost() bool { return c.index >= c.mesh.numOwned }

func (c Cell) Owner() int { return c.mesh.CellOwner(c.GlobalIndex()) }

func (c Cell) NumVertices() int { return c.mesh.CellType.NumVertices() }

// Vertices returns the global vertex indices of the cell
func (c Cell) Vertices() []int { return c.mesh.cells[c.GlobalIndex()] }

// GetCoordinateDofs writes the vertex coordinates into the rows of X, which
// must be NumVertices x Gdim
func (c Cell) GetCoordinateDofs(X *mat.Dense) {
	r, cc := X.Dims()
	if r != c.NumVertices() || cc != c.mesh.Gdim() {
		panic(fmt.Sprintf("coordinate buffer is %d x %d, cell needs %d x %d", r, cc, c.NumVertices(), c.mesh.Gdim()))
	}
	for i, v := range c.Vertices() {
		X.SetRow(i, c.mesh.Coordinates[v])
	}
}

func (c Cell) Data() CellData {
	return CellData{
		Index:       c.index,
		GlobalIndex: c.GlobalIndex(),
	}
}

func (c Cell) Facets() (facets []Facet) {
	var (
		ct    = c.mesh.CellType
		verts = c.Vertices()
	)
	facets = make([]Facet, len(verts))
	for i := range verts {
		fv := facetVertices(ct, verts, i)
		key := types.NewFacetKey(fv)
		facets[i] = Facet{
			Key:        key,
			LocalIndex: i,
			Vertices:   fv,
			Exterior:   c.mesh.IsExterior(key),
		}
	}
	return
}
