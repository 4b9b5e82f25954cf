// Package tsdf fuses range observations into a truncated signed distance field.
package tsdf

import (
	"image/color"
)

// Voxel is one cell of the distance field. Distance is the fused signed distance to the nearest
// observed surface, positive in front of it, within plus or minus the truncation distance.
// Weight is the accumulated confidence; zero means the voxel was never observed.
type Voxel struct {
	Distance float64
	Weight   float64
	Color    color.NRGBA
}

// Observed reports whether the voxel received any observation.
func (v Voxel) Observed() bool {
	return v.Weight > 0
}

// SignedDistance returns the fused distance, and false if the voxel is unobserved.
func (v Voxel) SignedDistance() (float64, bool) {
	return v.Distance, v.Weight > 0
}
