package voxel

import (
	"cmp"
	"slices"

	"github.com/pkg/errors"
)

// Cloner is implemented by payloads that hold references (maps, slices) and therefore need a deep
// copy when leaving the grid.
type Cloner[V any] interface {
	Clone() V
}

// BlockSnapshot is the dense voxel array of one block.
type BlockSnapshot[V any] struct {
	Index  BlockIndex
	Voxels []V
}

// Snapshot is an encoding agnostic copy of a grid, exchanged with persistence collaborators.
type Snapshot[V any] struct {
	VoxelSize     float64
	VoxelsPerSide int
	Blocks        []BlockSnapshot[V]
}

func cloneVoxels[V any](src []V) []V {
	out := make([]V, len(src))
	for i := range src {
		if c, ok := any(src[i]).(Cloner[V]); ok {
			out[i] = c.Clone()
		} else {
			out[i] = src[i]
		}
	}
	return out
}

func compareBlockIndex(a, b BlockIndex) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.Z, b.Z)
}

// Snapshot copies every block. Each block is copied under its own read lock; there is no
// isolation across blocks. Blocks are ordered by index.
func (g *Grid[V]) Snapshot() Snapshot[V] {
	snap := Snapshot[V]{VoxelSize: g.voxelSize, VoxelsPerSide: g.voxelsPerSide}
	g.IterateBlocks(func(b *Block[V]) bool {
		b.mu.RLock()
		snap.Blocks = append(snap.Blocks, BlockSnapshot[V]{Index: b.index, Voxels: cloneVoxels(b.voxels)})
		b.mu.RUnlock()
		return true
	})
	slices.SortFunc(snap.Blocks, func(a, b BlockSnapshot[V]) int {
		return compareBlockIndex(a.Index, b.Index)
	})
	return snap
}

// Restore replaces the grid content with the snapshot. The snapshot geometry must match the grid.
func (g *Grid[V]) Restore(snap Snapshot[V]) error {
	if snap.VoxelSize != g.voxelSize || snap.VoxelsPerSide != g.voxelsPerSide {
		return errors.Errorf("snapshot geometry (voxel size %v, %d per side) does not match grid (voxel size %v, %d per side)",
			snap.VoxelSize, snap.VoxelsPerSide, g.voxelSize, g.voxelsPerSide)
	}
	numVoxels := g.voxelsPerSide * g.voxelsPerSide * g.voxelsPerSide
	blocks := make([]*Block[V], 0, len(snap.Blocks))
	slots := make(map[BlockIndex]int, len(snap.Blocks))
	for _, bs := range snap.Blocks {
		if len(bs.Voxels) != numVoxels {
			return errors.Errorf("block %v has %d voxels, expected %d", bs.Index, len(bs.Voxels), numVoxels)
		}
		if _, dup := slots[bs.Index]; dup {
			return errors.Errorf("block %v appears twice in snapshot", bs.Index)
		}
		b := newBlock[V](bs.Index, g.voxelsPerSide, g.voxelSize)
		b.voxels = cloneVoxels(bs.Voxels)
		b.updated = true
		slots[bs.Index] = len(blocks)
		blocks = append(blocks, b)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.slots = slots
	g.blocks = blocks
	return nil
}

// NewGridFromSnapshot builds a grid holding the snapshot content.
func NewGridFromSnapshot[V any](snap Snapshot[V]) (*Grid[V], error) {
	g, err := NewGrid[V](snap.VoxelSize, snap.VoxelsPerSide)
	if err != nil {
		return nil, err
	}
	if err := g.Restore(snap); err != nil {
		return nil, err
	}
	return g, nil
}
