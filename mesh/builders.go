package mesh

import (
	"fmt"

	"github.com/notargets/femassembler/comm"
)

// UnitInterval meshes [0,1] with n cells
func UnitInterval(c *comm.Comm, n int) (*Mesh, error) {
	return NewInterval(c, n, 0, 1)
}

func NewInterval(c *comm.Comm, n int, a, b float64) (*Mesh, error) {
	if n < 1 {
		return nil, fmt.Errorf("interval mesh needs at least one cell, have %d", n)
	}
	if b <= a {
		return nil, fmt.Errorf("empty interval [%g, %g]", a, b)
	}
	var (
		coords = make([][]float64, n+1)
		cells  = make([][]int, n)
		h      = (b - a) / float64(n)
	)
	for i := range coords {
		coords[i] = []float64{a + float64(i)*h}
	}
	coords[n][0] = b
	for k := range cells {
		cells[k] = []int{k, k + 1}
	}
	return NewMesh(c, Interval, coords, cells)
}

// UnitSquare meshes [0,1]x[0,1] with nx*ny squares, each cut into two
// triangles along the diagonal from the lower left corner
func UnitSquare(c *comm.Comm, nx, ny int) (*Mesh, error) {
	return NewRectangle(c, nx, ny, 0, 0, 1, 1)
}

func NewRectangle(c *comm.Comm, nx, ny int, x0, y0, x1, y1 float64) (*Mesh, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("rectangle mesh needs at least one cell per direction, have %d x %d", nx, ny)
	}
	if x1 <= x0 || y1 <= y0 {
		return nil, fmt.Errorf("empty rectangle [%g, %g] x [%g, %g]", x0, x1, y0, y1)
	}
	var (
		coords = make([][]float64, 0, (nx+1)*(ny+1))
		cells  = make([][]int, 0, 2*nx*ny)
		hx     = (x1 - x0) / float64(nx)
		hy     = (y1 - y0) / float64(ny)
	)
	for j := 0; j <= ny; j++ {
		for i := 0; i <= nx; i++ {
			coords = append(coords, []float64{x0 + float64(i)*hx, y0 + float64(j)*hy})
		}
	}
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			v0 := j*(nx+1) + i
			v1 := v0 + 1
			v2 := v0 + nx + 1
			v3 := v2 + 1
			cells = append(cells, []int{v0, v1, v3}, []int{v0, v2, v3})
		}
	}
	return NewMesh(c, Triangle, coords, cells)
}
