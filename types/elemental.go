package types

import (
	"fmt"
	"math"
)

/*
FacetKey is an always positive number that identifies a cell facet by its vertices, independent of the order in which
the owning cell lists them. Point facets (1D meshes) store one vertex, edge facets (2D meshes) store two, so a facet
between vertices [4] and [0] is stored as [0,4] in ascending order.
*/
type FacetKey uint64

const singleVertex = math.MaxUint32

func NewFacetKey(verts []int) (packed FacetKey) {
	// Packs up to two vertex indices into two 32 bit unsigned integers to act as a hash
	var (
		limit  = math.MaxUint32 - 1
		i1, i2 int
	)
	for _, vert := range verts {
		if vert < 0 || vert > limit {
			panic(fmt.Errorf("unable to pack vertex %d into a facet key", vert))
		}
	}
	switch len(verts) {
	case 1:
		i1, i2 = verts[0], singleVertex
	case 2:
		if verts[0] <= verts[1] {
			i1, i2 = verts[0], verts[1]
		} else {
			i1, i2 = verts[1], verts[0]
		}
	default:
		panic(fmt.Errorf("facets with %d vertices are not supported", len(verts)))
	}
	packed = FacetKey(uint64(i1) + uint64(i2)<<32)
	return
}

func (fk FacetKey) GetVertices() (verts []int) {
	var (
		hi = uint64(fk) >> 32
		lo = uint64(fk) - hi<<32
	)
	if hi == singleVertex {
		return []int{int(lo)}
	}
	return []int{int(lo), int(hi)}
}

func (fk FacetKey) String() string {
	return fmt.Sprintf("%v", fk.GetVertices())
}
