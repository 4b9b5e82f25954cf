package voxel

import (
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrInvalidGeometry is returned when a grid is built with a non-positive voxel size or voxels per side.
var ErrInvalidGeometry = errors.New("voxel size and voxels per side must be positive")

// Grid is a sparse collection of blocks holding payloads of type V. Blocks are kept in a growable
// slice addressed through a hash map from block index to slot.
type Grid[V any] struct {
	voxelSize     float64
	voxelSizeInv  float64
	voxelsPerSide int
	blockSize     float64
	blockSizeInv  float64

	mu     sync.RWMutex
	slots  map[BlockIndex]int
	blocks []*Block[V]
}

// NewGrid returns an empty grid.
func NewGrid[V any](voxelSize float64, voxelsPerSide int) (*Grid[V], error) {
	if !(voxelSize > 0) || voxelsPerSide <= 0 {
		return nil, errors.Wrapf(ErrInvalidGeometry, "got voxel size %v and %d voxels per side", voxelSize, voxelsPerSide)
	}
	blockSize := voxelSize * float64(voxelsPerSide)
	return &Grid[V]{
		voxelSize:     voxelSize,
		voxelSizeInv:  1 / voxelSize,
		voxelsPerSide: voxelsPerSide,
		blockSize:     blockSize,
		blockSizeInv:  1 / blockSize,
		slots:         map[BlockIndex]int{},
	}, nil
}

// VoxelSize returns the edge length of one voxel.
func (g *Grid[V]) VoxelSize() float64 {
	return g.voxelSize
}

// VoxelSizeInv returns 1/VoxelSize.
func (g *Grid[V]) VoxelSizeInv() float64 {
	return g.voxelSizeInv
}

// VoxelsPerSide returns the number of voxels along one edge of a block.
func (g *Grid[V]) VoxelsPerSide() int {
	return g.voxelsPerSide
}

// BlockSize returns the edge length of one block.
func (g *Grid[V]) BlockSize() float64 {
	return g.blockSize
}

// GlobalIndexFor returns the global index of the voxel containing p.
func (g *Grid[V]) GlobalIndexFor(p r3.Vector) GlobalIndex {
	return GlobalIndexFromPoint(p, g.voxelSizeInv)
}

// VoxelIndexFor returns the block and local coordinates of the voxel containing p.
func (g *Grid[V]) VoxelIndexFor(p r3.Vector) Index {
	return Split(g.GlobalIndexFor(p), g.voxelsPerSide)
}

// BlockIndexFor returns the index of the block containing p.
func (g *Grid[V]) BlockIndexFor(p r3.Vector) BlockIndex {
	return g.VoxelIndexFor(p).Block
}

// VoxelCenter returns the world position of the center of a voxel.
func (g *Grid[V]) VoxelCenter(gi GlobalIndex) r3.Vector {
	return r3.Vector{
		X: (float64(gi.X) + 0.5) * g.voxelSize,
		Y: (float64(gi.Y) + 0.5) * g.voxelSize,
		Z: (float64(gi.Z) + 0.5) * g.voxelSize,
	}
}

// GetBlock looks up a block without allocating it.
func (g *Grid[V]) GetBlock(bi BlockIndex) (*Block[V], bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	slot, ok := g.slots[bi]
	if !ok {
		return nil, false
	}
	return g.blocks[slot], true
}

// GetOrCreateBlock returns the block at bi, allocating it if needed. Concurrent callers asking for
// the same missing block all receive the same instance.
func (g *Grid[V]) GetOrCreateBlock(bi BlockIndex) *Block[V] {
	if b, ok := g.GetBlock(bi); ok {
		return b
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if slot, ok := g.slots[bi]; ok {
		return g.blocks[slot]
	}
	b := newBlock[V](bi, g.voxelsPerSide, g.voxelSize)
	g.slots[bi] = len(g.blocks)
	g.blocks = append(g.blocks, b)
	return b
}

// UpdateVoxel allocates the voxel's block if needed and runs fn with exclusive access to it.
func (g *Grid[V]) UpdateVoxel(gi GlobalIndex, fn func(v *V)) {
	idx := Split(gi, g.voxelsPerSide)
	g.GetOrCreateBlock(idx.Block).Update(idx.Local, fn)
}

// ViewVoxel runs fn with shared access to the voxel. It returns false, without calling fn, if the
// voxel's block was never allocated.
func (g *Grid[V]) ViewVoxel(gi GlobalIndex, fn func(v *V)) bool {
	idx := Split(gi, g.voxelsPerSide)
	b, ok := g.GetBlock(idx.Block)
	if !ok {
		return false
	}
	b.View(idx.Local, fn)
	return true
}

// NumBlocks returns the number of allocated blocks.
func (g *Grid[V]) NumBlocks() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.blocks)
}

// IterateBlocks calls fn for every allocated block until fn returns false. Blocks allocated while
// iterating may or may not be visited.
func (g *Grid[V]) IterateBlocks(fn func(b *Block[V]) bool) {
	g.mu.RLock()
	blocks := make([]*Block[V], len(g.blocks))
	copy(blocks, g.blocks)
	g.mu.RUnlock()
	for _, b := range blocks {
		if !fn(b) {
			return
		}
	}
}

// Clear drops every block.
func (g *Grid[V]) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slots = map[BlockIndex]int{}
	g.blocks = nil
}
