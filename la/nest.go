package la

import (
	"bytes"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Nest is a block matrix whose blocks are independently distributed
// matrices. A nil block is a zero block.
type Nest struct {
	M      [][]*Matrix // First slice points to rows of matrices
	Nr, Nc int         // number of block rows, columns
}

func NewNest(Nr, Nc int) (R *Nest) {
	R = &Nest{
		Nr: Nr,
		Nc: Nc,
	}
	R.M = make([][]*Matrix, Nr)
	for n := range R.M {
		R.M[n] = make([]*Matrix, Nc)
	}
	return R
}

func (bm *Nest) Block(i, j int) *Matrix {
	if i < 0 || i >= bm.Nr || j < 0 || j >= bm.Nc {
		panic(fmt.Sprintf("block (%d, %d) out of range for a %d x %d nest", i, j, bm.Nr, bm.Nc))
	}
	return bm.M[i][j]
}

// blockSizes takes the size of each block row and column from any
// allocated block in that row or column
func (bm *Nest) blockSizes() (rows, cols []int, err error) {
	rows, cols = make([]int, bm.Nr), make([]int, bm.Nc)
	for i := range rows {
		rows[i] = -1
	}
	for j := range cols {
		cols[j] = -1
	}
	for i, row := range bm.M {
		for j, blk := range row {
			if blk == nil {
				continue
			}
			r, c := blk.Dims()
			if rows[i] != -1 && rows[i] != r || cols[j] != -1 && cols[j] != c {
				err = fmt.Errorf("block (%d, %d) of size %d x %d does not line up with its row or column", i, j, r, c)
				return
			}
			rows[i], cols[j] = r, c
		}
	}
	for i, r := range rows {
		if r == -1 {
			err = fmt.Errorf("block row %d has no allocated blocks", i)
			return
		}
	}
	for j, c := range cols {
		if c == -1 {
			err = fmt.Errorf("block column %d has no allocated blocks", j)
			return
		}
	}
	return
}

// ToDense is collective, it places every block at its offset in one global
// dense matrix
func (bm *Nest) ToDense() (D *mat.Dense, err error) {
	var rows, cols []int
	if rows, cols, err = bm.blockSizes(); err != nil {
		return
	}
	var (
		rowOff = make([]int, bm.Nr+1)
		colOff = make([]int, bm.Nc+1)
	)
	for i, r := range rows {
		rowOff[i+1] = rowOff[i] + r
	}
	for j, c := range cols {
		colOff[j+1] = colOff[j] + c
	}
	D = mat.NewDense(rowOff[bm.Nr], colOff[bm.Nc], nil)
	for i, row := range bm.M {
		for j, blk := range row {
			if blk == nil {
				continue
			}
			var B *mat.Dense
			if B, err = blk.ToDense(); err != nil {
				return
			}
			view := D.Slice(rowOff[i], rowOff[i+1], colOff[j], colOff[j+1]).(*mat.Dense)
			view.Copy(B)
		}
	}
	return
}

// Print is collective
func (bm *Nest) Print() (out string, err error) {
	buf := bytes.Buffer{}
	for n, row := range bm.M {
		for m, blk := range row {
			label := fmt.Sprintf("[%d:%d]", n, m)
			if blk == nil {
				buf.WriteString(label + " nil \n")
				continue
			}
			var D *mat.Dense
			if D, err = blk.ToDense(); err != nil {
				return
			}
			buf.WriteString(fmt.Sprintf("%s = \n%8.5f\n", label, mat.Formatted(D, mat.Squeeze())))
		}
	}
	return buf.String(), nil
}
