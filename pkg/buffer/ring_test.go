package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_AppendAndSnapshot(t *testing.T) {
	r := NewRing[int](3)

	r.Append(1)
	r.Append(2)
	assert.Equal(t, []int{1, 2}, r.Snapshot())
	assert.Equal(t, 2, r.Len())
}

func TestRing_DropOldestOnOverflow(t *testing.T) {
	r := NewRing[int](3)

	for i := 1; i <= 5; i++ {
		r.Append(i)
	}

	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, int64(2), r.Dropped())
}

func TestRing_Filter(t *testing.T) {
	r := NewRing[int](10)
	for i := 1; i <= 6; i++ {
		r.Append(i)
	}

	even := r.Filter(func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{2, 4, 6}, even)
}

func TestRing_Clear(t *testing.T) {
	r := NewRing[int](3)
	r.Append(1)
	r.Clear()

	assert.Zero(t, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	r.Append(1)
	r.Append(2)

	assert.Equal(t, []int{2}, r.Snapshot())
	assert.Equal(t, 1, r.Cap())
}

func TestRing_ConcurrentAppend(t *testing.T) {
	r := NewRing[int](64)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Append(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 64, r.Len())
	assert.Equal(t, int64(8*100-64), r.Dropped())
}
