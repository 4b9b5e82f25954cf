// Package voxel implements a sparse, block hashed voxel grid that is safe for concurrent fusion.
//
// Space is divided into cubic blocks of N×N×N voxels. Blocks are allocated lazily the first time
// anything inside them is written and are addressed by integer block coordinates. A voxel is
// addressed either by its global integer coordinate or by the pair (block, local coordinate).
package voxel

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// BlockIndex is the integer coordinate of a block.
type BlockIndex struct {
	X, Y, Z int64
}

// String returns a compact representation used in logs.
func (bi BlockIndex) String() string {
	return fmt.Sprintf("(%d,%d,%d)", bi.X, bi.Y, bi.Z)
}

// LocalIndex is the coordinate of a voxel inside its block, each component in [0, voxelsPerSide).
type LocalIndex struct {
	X, Y, Z int
}

// GlobalIndex is the integer coordinate of a voxel in the whole grid.
type GlobalIndex struct {
	X, Y, Z int64
}

// Add returns the index offset by the given amounts.
func (gi GlobalIndex) Add(dx, dy, dz int64) GlobalIndex {
	return GlobalIndex{gi.X + dx, gi.Y + dy, gi.Z + dz}
}

// Index is the full address of one voxel.
type Index struct {
	Block BlockIndex
	Local LocalIndex
}

// GlobalIndexFromPoint returns the voxel containing p for a grid with the given inverse voxel size.
func GlobalIndexFromPoint(p r3.Vector, voxelSizeInv float64) GlobalIndex {
	return GlobalIndex{
		X: int64(math.Floor(p.X * voxelSizeInv)),
		Y: int64(math.Floor(p.Y * voxelSizeInv)),
		Z: int64(math.Floor(p.Z * voxelSizeInv)),
	}
}

// floorDivMod splits a global coordinate into its block coordinate and the non-negative offset
// inside that block.
func floorDivMod(g, n int64) (int64, int) {
	rem := ((g % n) + n) % n
	return (g - rem) / n, int(rem)
}

// Split converts a global voxel index into its block and local parts.
func Split(gi GlobalIndex, voxelsPerSide int) Index {
	n := int64(voxelsPerSide)
	var idx Index
	idx.Block.X, idx.Local.X = floorDivMod(gi.X, n)
	idx.Block.Y, idx.Local.Y = floorDivMod(gi.Y, n)
	idx.Block.Z, idx.Local.Z = floorDivMod(gi.Z, n)
	return idx
}

// Join is the inverse of Split.
func Join(idx Index, voxelsPerSide int) GlobalIndex {
	n := int64(voxelsPerSide)
	return GlobalIndex{
		X: idx.Block.X*n + int64(idx.Local.X),
		Y: idx.Block.Y*n + int64(idx.Local.Y),
		Z: idx.Block.Z*n + int64(idx.Local.Z),
	}
}

// linear returns the position of a local index in a block's dense voxel array.
func (li LocalIndex) linear(voxelsPerSide int) int {
	return li.X + voxelsPerSide*(li.Y+voxelsPerSide*li.Z)
}

func localFromLinear(i, voxelsPerSide int) LocalIndex {
	return LocalIndex{
		X: i % voxelsPerSide,
		Y: (i / voxelsPerSide) % voxelsPerSide,
		Z: i / (voxelsPerSide * voxelsPerSide),
	}
}
