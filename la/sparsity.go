package la

import (
	"fmt"
	"sort"

	"github.com/notargets/femassembler/comm"
)

// SparsityPattern records the nonzero structure of the owned rows of a matrix
type SparsityPattern struct {
	rowMap, colMap *IndexMap
	rows           []map[int]struct{} // owned rows, local numbering
	offProcess     map[int][][2]int   // owner rank -> (row, col) pairs
	assembled      bool
}

func NewSparsityPattern(rowMap, colMap *IndexMap) *SparsityPattern {
	sp := &SparsityPattern{
		rowMap:     rowMap,
		colMap:     colMap,
		rows:       make([]map[int]struct{}, rowMap.LocalSize()),
		offProcess: make(map[int][][2]int),
	}
	for i := range sp.rows {
		sp.rows[i] = make(map[int]struct{})
	}
	return sp
}

// Insert adds the dense block rows x cols to the pattern
func (sp *SparsityPattern) Insert(rows, cols []int) {
	if sp.assembled {
		panic("insert into an assembled sparsity pattern")
	}
	lo, _ := sp.rowMap.LocalRange()
	for _, i := range rows {
		if sp.rowMap.Owns(i) {
			row := sp.rows[i-lo]
			for _, j := range cols {
				row[j] = struct{}{}
			}
			continue
		}
		owner := sp.rowMap.Owner(i)
		for _, j := range cols {
			sp.offProcess[owner] = append(sp.offProcess[owner], [2]int{i, j})
		}
	}
}

// Assemble is collective: it sends off-process entries to their owners
func (sp *SparsityPattern) Assemble() (err error) {
	var (
		incoming [][2]int
		lo, _    = sp.rowMap.LocalRange()
	)
	if incoming, err = comm.Exchange(sp.rowMap.Comm(), "SparsityPattern.Assemble", sp.offProcess); err != nil {
		return
	}
	for _, ij := range incoming {
		if !sp.rowMap.Owns(ij[0]) {
			return fmt.Errorf("received row %d not owned by rank %d", ij[0], sp.rowMap.Comm().Rank())
		}
		sp.rows[ij[0]-lo][ij[1]] = struct{}{}
	}
	sp.offProcess = make(map[int][][2]int)
	sp.assembled = true
	return
}

func (sp *SparsityPattern) Contains(i, j int) bool {
	if !sp.rowMap.Owns(i) {
		return false
	}
	lo, _ := sp.rowMap.LocalRange()
	_, ok := sp.rows[i-lo][j]
	return ok
}

// NNZ counts the nonzeros in the owned rows
func (sp *SparsityPattern) NNZ() (nnz int) {
	for _, row := range sp.rows {
		nnz += len(row)
	}
	return
}

// RowColumns returns the sorted column indices of owned row i
func (sp *SparsityPattern) RowColumns(i int) (cols []int) {
	lo, _ := sp.rowMap.LocalRange()
	for j := range sp.rows[i-lo] {
		cols = append(cols, j)
	}
	sort.Ints(cols)
	return
}
