package voxel

import (
	"sync"

	"github.com/golang/geo/r3"
)

// Block is a dense cube of voxelsPerSide³ voxels. The voxel array is always fully allocated.
// All access to voxel payloads goes through the block's lock.
type Block[V any] struct {
	index         BlockIndex
	origin        r3.Vector
	voxelsPerSide int
	voxelSize     float64

	mu      sync.RWMutex
	voxels  []V
	updated bool
}

func newBlock[V any](index BlockIndex, voxelsPerSide int, voxelSize float64) *Block[V] {
	blockSize := float64(voxelsPerSide) * voxelSize
	return &Block[V]{
		index:         index,
		origin:        r3.Vector{X: float64(index.X) * blockSize, Y: float64(index.Y) * blockSize, Z: float64(index.Z) * blockSize},
		voxelsPerSide: voxelsPerSide,
		voxelSize:     voxelSize,
		voxels:        make([]V, voxelsPerSide*voxelsPerSide*voxelsPerSide),
	}
}

// Index returns the block coordinate.
func (b *Block[V]) Index() BlockIndex {
	return b.index
}

// Origin returns the world position of the block's minimum corner.
func (b *Block[V]) Origin() r3.Vector {
	return b.origin
}

// NumVoxels returns the size of the dense voxel array.
func (b *Block[V]) NumVoxels() int {
	return len(b.voxels)
}

// VoxelCenter returns the world position of the center of the given voxel.
func (b *Block[V]) VoxelCenter(li LocalIndex) r3.Vector {
	return r3.Vector{
		X: b.origin.X + (float64(li.X)+0.5)*b.voxelSize,
		Y: b.origin.Y + (float64(li.Y)+0.5)*b.voxelSize,
		Z: b.origin.Z + (float64(li.Z)+0.5)*b.voxelSize,
	}
}

// Update runs fn with exclusive access to one voxel and marks the block as updated.
func (b *Block[V]) Update(li LocalIndex, fn func(v *V)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.voxels[li.linear(b.voxelsPerSide)])
	b.updated = true
}

// View runs fn with shared access to one voxel. fn must not retain or modify v.
func (b *Block[V]) View(li LocalIndex, fn func(v *V)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(&b.voxels[li.linear(b.voxelsPerSide)])
}

// Iterate calls fn for each voxel of the block while holding the block's read lock. Iteration
// stops when fn returns false.
func (b *Block[V]) Iterate(fn func(li LocalIndex, v *V) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range b.voxels {
		if !fn(localFromLinear(i, b.voxelsPerSide), &b.voxels[i]) {
			return
		}
	}
}

// Updated reports whether any voxel changed since the flag was last cleared.
func (b *Block[V]) Updated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// ClearUpdated resets the updated flag, typically after a mesher consumed the block.
func (b *Block[V]) ClearUpdated() {
	b.mu.Lock()
	b.updated = false
	b.mu.Unlock()
}
