// Package la holds the distributed sparse matrix and vector types the
// assembler scatters into. Rows are owned in contiguous ranges per rank,
// contributions to rows owned elsewhere are stashed and shipped to their
// owner during Apply.
package la

import (
	"fmt"

	"github.com/notargets/femassembler/comm"
	"github.com/notargets/femassembler/utils"
)

// IndexMap describes how a global index range is split across ranks
type IndexMap struct {
	comm *comm.Comm
	pm   *utils.PartitionMap
}

func NewIndexMap(c *comm.Comm, size int) *IndexMap {
	return &IndexMap{
		comm: c,
		pm:   utils.NewPartitionMap(c.Size(), size),
	}
}

func (im *IndexMap) Comm() *comm.Comm { return im.comm }

func (im *IndexMap) Size() int { return im.pm.MaxIndex }

// LocalRange is the half open range of indices owned by this rank
func (im *IndexMap) LocalRange() (lo, hi int) {
	return im.pm.GetBucketRange(im.comm.Rank())
}

func (im *IndexMap) LocalSize() int {
	lo, hi := im.LocalRange()
	return hi - lo
}

func (im *IndexMap) Owner(global int) int {
	bn, _, _ := im.pm.GetBucket(global)
	if bn == -1 {
		panic(fmt.Sprintf("index %d out of range [0,%d)", global, im.Size()))
	}
	return bn
}

func (im *IndexMap) Owns(global int) bool {
	lo, hi := im.LocalRange()
	return global >= lo && global < hi
}
