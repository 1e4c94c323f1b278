// Package pool provides bucketed sync.Pool instances for the scratch buffers
// of the chunk readers and pixel decoders. Buffers are organized by size
// class to minimize waste.
package pool

import "sync"

// Size classes for bucketed pools.
const (
	Size256B = 256
	Size4K   = 4096
	Size64K  = 65536
	Size1M   = 1048576
	Size16M  = 16777216
)

var sizes = [5]int{Size256B, Size4K, Size64K, Size1M, Size16M}

var pools [5]sync.Pool

func init() {
	for i := range pools {
		sz := sizes[i]
		pools[i] = sync.Pool{
			New: func() any {
				if sz > Size1M {
					// The largest class is sized on demand.
					return new([]byte)
				}
				b := make([]byte, sz)
				return &b
			},
		}
	}
}

// bucketIndex returns the pool index for a given size.
func bucketIndex(size int) int {
	switch {
	case size <= Size256B:
		return 0
	case size <= Size4K:
		return 1
	case size <= Size64K:
		return 2
	case size <= Size1M:
		return 3
	default:
		return 4
	}
}

// Get returns a byte slice of exactly the requested length. Its contents are
// unspecified. The caller should call Put when done.
func Get(size int) []byte {
	if size > Size16M {
		return make([]byte, size)
	}
	bp := pools[bucketIndex(size)].Get().(*[]byte)
	b := *bp
	if cap(b) < size {
		b = make([]byte, size)
		*bp = b
	}
	return b[:size]
}

// Put returns a byte slice to the pool. Slices smaller than Size256B or
// larger than Size16M are dropped.
func Put(b []byte) {
	c := cap(b)
	if c < Size256B || c > Size16M {
		return
	}
	// A slice is filed under the largest class it can fully serve. The top
	// class holds mixed capacities; Get re-checks them.
	idx := bucketIndex(c)
	if c < sizes[idx] && idx < len(sizes)-1 {
		idx--
	}
	b = b[:c]
	pools[idx].Put(&b)
}
