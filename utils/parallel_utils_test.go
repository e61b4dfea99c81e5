package utils

import (
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionMap(t *testing.T) {
	{ // Bucket sizes are balanced and cover every index
		getHisto := func(K, Np int) (histo map[int]int) {
			pm := NewPartitionMap(Np, K)
			histo = make(map[int]int)
			for np := 0; np < pm.ParallelDegree; np++ {
				histo[pm.GetBucketDimension(np)]++
			}
			return
		}
		getTotal := func(histo map[int]int) (total int) {
			for key, count := range histo {
				total += key * count
			}
			return
		}
		assert.Equal(t, map[int]int{0: 30, 1: 2}, getHisto(2, 32))
		assert.Equal(t, map[int]int{1: 32}, getHisto(32, 32))
		assert.Equal(t, map[int]int{8: 32}, getHisto(256, 32))
		assert.Equal(t, map[int]int{8: 1, 9: 31}, getHisto(287, 32))
		assert.Equal(t, 287, getTotal(getHisto(287, 32)))
		for n := 64; n < 2000; n++ {
			var (
				keys   [2]float64
				keyNum int
			)
			histo := getHisto(n, 32)
			for key := range histo {
				keys[keyNum] = float64(key)
				keyNum++
			}
			if keyNum == 2 {
				assert.Equal(t, 1., math.Abs(keys[0]-keys[1]))
			}
			assert.Equal(t, n, getTotal(histo))
		}
	}
	{ // Owner lookup needs at most one correction step
		for maxIndex := 1; maxIndex < 500; maxIndex++ {
			pm := NewPartitionMap(5, maxIndex)
			for k := 0; k < maxIndex; k++ {
				tryCount, bn, min, max := pm.getBucketWithTryCount(k)
				mmin, mmax := pm.GetBucketRange(bn)
				assert.True(t, k >= min && k < max && min == mmin && max == mmax && tryCount <= 1)
			}
		}
	}
	{ // Out of range and empty maps
		pm := NewPartitionMap(3, 0)
		bn, _, _ := pm.GetBucket(0)
		assert.Equal(t, -1, bn)
		pm = NewPartitionMap(3, 7)
		bn, _, _ = pm.GetBucket(7)
		assert.Equal(t, -1, bn)
		bn, _, _ = pm.GetBucket(-1)
		assert.Equal(t, -1, bn)
	}
}

func TestMailBox(t *testing.T) {
	var (
		NP = 4
		mb = NewMailBox[int](NP)
		wg sync.WaitGroup
	)
	received := make([][]int, NP)
	post := make(chan struct{})
	wg.Add(NP)
	for rank := 0; rank < NP; rank++ {
		go func(rank int) {
			defer wg.Done()
			mb.PostToAll(rank, rank*10)
			mb.Deliver(rank)
			<-post
			received[rank] = append([]int{}, mb.Receive(rank)...)
			mb.Clear(rank)
		}(rank)
	}
	// Let every rank deliver before anyone receives
	for mbFull := false; !mbFull; {
		mbFull = true
		for rank := 0; rank < NP; rank++ {
			if len(mb.MessageChans[rank]) != NP-1 {
				mbFull = false
			}
		}
	}
	close(post)
	wg.Wait()
	for rank := 0; rank < NP; rank++ {
		sort.Ints(received[rank])
		var expected []int
		for k := 0; k < NP; k++ {
			if k != rank {
				expected = append(expected, k*10)
			}
		}
		assert.Equal(t, expected, received[rank])
		assert.Equal(t, 0, mb.ReceiveMsgQs[rank].Len())
	}
}
