package voxel

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func collectRay(start, end r3.Vector, voxelSizeInv float64) []GlobalIndex {
	var out []GlobalIndex
	CastRay(start, end, voxelSizeInv, func(gi GlobalIndex) bool {
		out = append(out, gi)
		return true
	})
	return out
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestCastRay(t *testing.T) {
	t.Run("zero length visits the containing voxel", func(t *testing.T) {
		p := r3.Vector{X: 0.37, Y: -0.21, Z: 1.55}
		got := collectRay(p, p, 10)
		test.That(t, got, test.ShouldResemble, []GlobalIndex{{3, -3, 15}})
	})

	t.Run("axis aligned", func(t *testing.T) {
		got := collectRay(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, r3.Vector{X: 0.55, Y: 0.05, Z: 0.05}, 10)
		test.That(t, len(got), test.ShouldEqual, 6)
		for i, gi := range got {
			test.That(t, gi, test.ShouldResemble, GlobalIndex{int64(i), 0, 0})
		}
	})

	t.Run("negative direction", func(t *testing.T) {
		got := collectRay(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}, r3.Vector{X: 0.05, Y: -0.25, Z: 0.05}, 10)
		test.That(t, got, test.ShouldResemble, []GlobalIndex{{0, 0, 0}, {0, -1, 0}, {0, -2, 0}, {0, -3, 0}})
	})

	t.Run("oblique rays are six connected and end at the last voxel", func(t *testing.T) {
		start := r3.Vector{X: -0.13, Y: 0.02, Z: 0.31}
		end := r3.Vector{X: 1.47, Y: 1.0, Z: -0.66}
		got := collectRay(start, end, 10)
		test.That(t, got[0], test.ShouldResemble, GlobalIndexFromPoint(start, 10))
		test.That(t, got[len(got)-1], test.ShouldResemble, GlobalIndexFromPoint(end, 10))
		for i := 1; i < len(got); i++ {
			d := abs64(got[i].X-got[i-1].X) + abs64(got[i].Y-got[i-1].Y) + abs64(got[i].Z-got[i-1].Z)
			test.That(t, d, test.ShouldEqual, 1)
		}
		first, last := got[0], got[len(got)-1]
		manhattan := abs64(last.X-first.X) + abs64(last.Y-first.Y) + abs64(last.Z-first.Z)
		test.That(t, len(got), test.ShouldEqual, int(manhattan)+1)
	})

	t.Run("early stop", func(t *testing.T) {
		count := 0
		CastRay(r3.Vector{}, r3.Vector{X: 5}, 10, func(gi GlobalIndex) bool {
			count++
			return count < 3
		})
		test.That(t, count, test.ShouldEqual, 3)
	})
}
