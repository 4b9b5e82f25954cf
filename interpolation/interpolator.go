// Package interpolation answers distance and gradient queries against a distance grid.
package interpolation

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/voxelmap/voxel"
)

// DistanceVoxel is a voxel payload carrying a signed distance.
type DistanceVoxel interface {
	// SignedDistance returns the stored distance and whether the voxel was ever observed.
	SignedDistance() (float64, bool)
}

// Interpolator reads distances from a grid. It never allocates blocks and never blocks writers
// for longer than a single voxel read.
type Interpolator[V DistanceVoxel] struct {
	grid *voxel.Grid[V]
}

// New returns an interpolator over grid.
func New[V DistanceVoxel](grid *voxel.Grid[V]) *Interpolator[V] {
	return &Interpolator[V]{grid: grid}
}

var axes = [3]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}

func (in *Interpolator[V]) distanceAt(gi voxel.GlobalIndex) (float64, bool) {
	var (
		d  float64
		ok bool
	)
	in.grid.ViewVoxel(gi, func(v *V) {
		d, ok = (*v).SignedDistance()
	})
	return d, ok
}

// GetNearestDistance returns the distance stored in the voxel containing p, without interpolation.
func (in *Interpolator[V]) GetNearestDistance(p r3.Vector) (float64, bool) {
	return in.distanceAt(in.grid.GlobalIndexFor(p))
}

// GetDistance trilinearly interpolates the distance at p from the eight voxel centers around it.
// It fails if any of them lies in an unallocated block or was never observed.
func (in *Interpolator[V]) GetDistance(p r3.Vector) (float64, bool) {
	inv := in.grid.VoxelSizeInv()
	low := voxel.GlobalIndex{
		X: int64(math.Floor(p.X*inv - 0.5)),
		Y: int64(math.Floor(p.Y*inv - 0.5)),
		Z: int64(math.Floor(p.Z*inv - 0.5)),
	}
	frac := p.Sub(in.grid.VoxelCenter(low)).Mul(inv)

	var dist float64
	for corner := 0; corner < 8; corner++ {
		dx, dy, dz := int64(corner&1), int64(corner>>1&1), int64(corner>>2&1)
		d, ok := in.distanceAt(low.Add(dx, dy, dz))
		if !ok {
			return 0, false
		}
		dist += d * lerpWeight(frac.X, dx) * lerpWeight(frac.Y, dy) * lerpWeight(frac.Z, dz)
	}
	return dist, true
}

func lerpWeight(frac float64, upper int64) float64 {
	if upper == 1 {
		return frac
	}
	return 1 - frac
}

// GetDistanceAndGradient returns the interpolated distance at p and its gradient. Each gradient
// component is a centered difference of interpolated distances half a voxel either side of p; where
// those are unavailable it falls back to the difference between the voxels either side of the one
// containing p. If neither works on some axis the query fails.
func (in *Interpolator[V]) GetDistanceAndGradient(p r3.Vector) (float64, r3.Vector, bool) {
	dist, ok := in.GetDistance(p)
	if !ok {
		return 0, r3.Vector{}, false
	}
	var grad [3]float64
	for i, axis := range axes {
		g, ok := in.interpolatedDerivative(p, axis)
		if !ok {
			g, ok = in.voxelDerivative(p, i)
		}
		if !ok {
			return 0, r3.Vector{}, false
		}
		grad[i] = g
	}
	return dist, r3.Vector{X: grad[0], Y: grad[1], Z: grad[2]}, true
}

func (in *Interpolator[V]) interpolatedDerivative(p, axis r3.Vector) (float64, bool) {
	step := in.grid.VoxelSize() / 2
	plus, ok := in.GetDistance(p.Add(axis.Mul(step)))
	if !ok {
		return 0, false
	}
	minus, ok := in.GetDistance(p.Sub(axis.Mul(step)))
	if !ok {
		return 0, false
	}
	return (plus - minus) / (2 * step), true
}

func (in *Interpolator[V]) voxelDerivative(p r3.Vector, axis int) (float64, bool) {
	gi := in.grid.GlobalIndexFor(p)
	var offset [3]int64
	offset[axis] = 1
	plus, ok := in.distanceAt(gi.Add(offset[0], offset[1], offset[2]))
	if !ok {
		return 0, false
	}
	minus, ok := in.distanceAt(gi.Add(-offset[0], -offset[1], -offset[2]))
	if !ok {
		return 0, false
	}
	return (plus - minus) / (2 * in.grid.VoxelSize()), true
}
