package voxel

import (
	"math"

	"github.com/golang/geo/r3"
)

type rayAxis struct {
	step      int64
	remaining int64
	tMax      float64
	tDelta    float64
}

func newRayAxis(start, delta float64, from, to int64) rayAxis {
	remaining := to - from
	if remaining < 0 {
		remaining = -remaining
	}
	switch {
	case delta > 0:
		tDelta := 1 / delta
		return rayAxis{step: 1, remaining: remaining, tMax: (float64(from+1) - start) * tDelta, tDelta: tDelta}
	case delta < 0:
		tDelta := -1 / delta
		return rayAxis{step: -1, remaining: remaining, tMax: (start - float64(from)) * tDelta, tDelta: tDelta}
	default:
		return rayAxis{remaining: 0, tMax: math.Inf(1), tDelta: math.Inf(1)}
	}
}

// CastRay visits, in order from start to end, every voxel crossed by the segment, including the
// voxels containing both endpoints. A zero length segment visits exactly one voxel. Traversal
// stops early if visit returns false.
//
// This is the 3D digital differential analyzer of Amanatides and Woo; an axis is only stepped
// while it still has distance to cover so rounding can never walk past the end voxel.
func CastRay(start, end r3.Vector, voxelSizeInv float64, visit func(gi GlobalIndex) bool) {
	s := start.Mul(voxelSizeInv)
	e := end.Mul(voxelSizeInv)
	cur := GlobalIndexFromPoint(start, voxelSizeInv)
	last := GlobalIndexFromPoint(end, voxelSizeInv)
	d := e.Sub(s)

	axes := [3]rayAxis{
		newRayAxis(s.X, d.X, cur.X, last.X),
		newRayAxis(s.Y, d.Y, cur.Y, last.Y),
		newRayAxis(s.Z, d.Z, cur.Z, last.Z),
	}

	if !visit(cur) {
		return
	}
	for {
		best := -1
		for i := range axes {
			if axes[i].remaining == 0 {
				continue
			}
			if best < 0 || axes[i].tMax < axes[best].tMax {
				best = i
			}
		}
		if best < 0 {
			return
		}
		ax := &axes[best]
		switch best {
		case 0:
			cur.X += ax.step
		case 1:
			cur.Y += ax.step
		default:
			cur.Z += ax.step
		}
		ax.remaining--
		ax.tMax += ax.tDelta
		if !visit(cur) {
			return
		}
	}
}
