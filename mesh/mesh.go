// Package mesh provides simplex meshes distributed over the ranks of a
// comm.World. The global connectivity is replicated, each rank owns a
// contiguous range of cells and keeps read-only ghost copies of the cells
// of other ranks that share a vertex with an owned cell.
package mesh

import (
	"fmt"
	"sort"

	"github.com/notargets/femassembler/comm"
	"github.com/notargets/femassembler/types"
	"github.com/notargets/femassembler/utils"
)

type CellType uint8

const (
	Interval CellType = iota
	Triangle
)

func (ct CellType) NumVertices() int {
	switch ct {
	case Interval:
		return 2
	case Triangle:
		return 3
	}
	panic(fmt.Sprintf("unknown cell type %d", ct))
}

// Tdim is the topological dimension
func (ct CellType) Tdim() int { return ct.NumVertices() - 1 }

func (ct CellType) String() string {
	switch ct {
	case Interval:
		return "interval"
	case Triangle:
		return "triangle"
	}
	return "unknown"
}

type Mesh struct {
	comm        *comm.Comm
	CellType    CellType
	Coordinates [][]float64 // global vertex coordinates
	cells       [][]int     // global cell -> vertices
	partition   *utils.PartitionMap
	local       []int // local cell index -> global cell index, owned cells first
	numOwned    int
	exterior    map[types.FacetKey]bool
}

// NewMesh distributes the global cell list over the ranks of c
func NewMesh(c *comm.Comm, ct CellType, coordinates [][]float64, cells [][]int) (m *Mesh, err error) {
	nv := ct.NumVertices()
	for k, cell := range cells {
		if len(cell) != nv {
			return nil, fmt.Errorf("cell %d has %d vertices, a %s needs %d", k, len(cell), ct, nv)
		}
		for _, v := range cell {
			if v < 0 || v >= len(coordinates) {
				return nil, fmt.Errorf("cell %d references vertex %d, mesh has %d", k, v, len(coordinates))
			}
		}
	}
	for v, x := range coordinates {
		if len(x) < ct.Tdim() {
			return nil, fmt.Errorf("vertex %d has %d coordinates, need at least %d", v, len(x), ct.Tdim())
		}
	}
	m = &Mesh{
		comm:        c,
		CellType:    ct,
		Coordinates: coordinates,
		cells:       cells,
		partition:   utils.NewPartitionMap(c.Size(), len(cells)),
	}
	m.distribute()
	m.markExterior()
	return
}

func (m *Mesh) distribute() {
	kMin, kMax := m.partition.GetBucketRange(m.comm.Rank())
	ownedVerts := make(map[int]bool)
	for k := kMin; k < kMax; k++ {
		m.local = append(m.local, k)
		for _, v := range m.cells[k] {
			ownedVerts[v] = true
		}
	}
	m.numOwned = len(m.local)
	for k := range m.cells {
		if k >= kMin && k < kMax {
			continue
		}
		for _, v := range m.cells[k] {
			if ownedVerts[v] {
				m.local = append(m.local, k)
				break
			}
		}
	}
}

// markExterior finds facets with exactly one incident cell in the global mesh
func (m *Mesh) markExterior() {
	count := make(map[types.FacetKey]int)
	for _, cell := range m.cells {
		for i := range cell {
			count[facetKey(m.CellType, cell, i)]++
		}
	}
	m.exterior = make(map[types.FacetKey]bool)
	for key, n := range count {
		if n == 1 {
			m.exterior[key] = true
		}
	}
}

// facetVertices returns the vertices of facet i, the facet opposite vertex i
func facetVertices(ct CellType, cell []int, i int) []int {
	switch ct {
	case Interval:
		return []int{cell[1-i]}
	case Triangle:
		return []int{cell[(i+1)%3], cell[(i+2)%3]}
	}
	panic(fmt.Sprintf("unknown cell type %d", ct))
}

func facetKey(ct CellType, cell []int, i int) types.FacetKey {
	return types.NewFacetKey(facetVertices(ct, cell, i))
}

func (m *Mesh) Comm() *comm.Comm { return m.comm }

func (m *Mesh) Tdim() int { return m.CellType.Tdim() }

// Gdim is the geometric dimension
func (m *Mesh) Gdim() int { return len(m.Coordinates[0]) }

func (m *Mesh) NumGlobalCells() int { return len(m.cells) }

func (m *Mesh) NumGlobalVertices() int { return len(m.Coordinates) }

// CellVertices returns the vertices of global cell k
func (m *Mesh) CellVertices(k int) []int { return m.cells[k] }

func (m *Mesh) NumOwnedCells() int { return m.numOwned }

func (m *Mesh) NumGhostCells() int { return len(m.local) - m.numOwned }

// CellOwner returns the rank owning global cell k
func (m *Mesh) CellOwner(k int) int {
	bn, _, _ := m.partition.GetBucket(k)
	return bn
}

// Cells returns the owned, non-ghost cells of this rank
func (m *Mesh) Cells() (cells []Cell) {
	cells = make([]Cell, m.numOwned)
	for i := range cells {
		cells[i] = Cell{mesh: m, index: i}
	}
	return
}

// GhostCells returns the ghost copies held by this rank
func (m *Mesh) GhostCells() (cells []Cell) {
	for i := m.numOwned; i < len(m.local); i++ {
		cells = append(cells, Cell{mesh: m, index: i})
	}
	return
}

// AllCells returns owned cells followed by ghosts
func (m *Mesh) AllCells() []Cell {
	return append(m.Cells(), m.GhostCells()...)
}

func (m *Mesh) IsExterior(key types.FacetKey) bool { return m.exterior[key] }

// ExteriorFacets lists the exterior facets of the global mesh in a
// deterministic order
func (m *Mesh) ExteriorFacets() (keys []types.FacetKey) {
	for key := range m.exterior {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return
}

// Midpoint averages the coordinates of the given vertices
func (m *Mesh) Midpoint(verts []int) (x []float64) {
	x = make([]float64, m.Gdim())
	for _, v := range verts {
		for d := range x {
			x[d] += m.Coordinates[v][d]
		}
	}
	for d := range x {
		x[d] /= float64(len(verts))
	}
	return
}
