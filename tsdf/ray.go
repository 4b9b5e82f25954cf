package tsdf

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Ray is a single range observation: the sensor origin and the observed surface point, both in
// the map frame.
type Ray struct {
	Origin r3.Vector
	Point  r3.Vector
	Unit   r3.Vector
	Range  float64
}

func finite(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}

// NewRay returns the ray from origin to point, or ErrInvalidObservation if it has no direction.
func NewRay(origin, point r3.Vector) (Ray, error) {
	if !finite(origin) || !finite(point) {
		return Ray{}, errors.Wrapf(ErrInvalidObservation, "non-finite ray from %v to %v", origin, point)
	}
	d := point.Sub(origin)
	rng := d.Norm()
	if !(rng > 0) {
		return Ray{}, errors.Wrapf(ErrInvalidObservation, "zero length ray at %v", point)
	}
	return Ray{Origin: origin, Point: point, Unit: d.Mul(1 / rng), Range: rng}, nil
}

// At returns the point at distance t from the origin along the ray.
func (r Ray) At(t float64) r3.Vector {
	return r.Origin.Add(r.Unit.Mul(t))
}

// ProjectedDistance is the signed distance from c to the observed surface measured along the ray:
// the range minus the projection of c onto the ray direction. It is positive in front of the surface.
func (r Ray) ProjectedDistance(c r3.Vector) float64 {
	return r.Range - c.Sub(r.Origin).Dot(r.Unit)
}

// RayKind says how an integrator uses a ray.
type RayKind int

const (
	// RaySkipped rays are discarded.
	RaySkipped RayKind = iota
	// RaySurface rays observed a surface within the length limits.
	RaySurface
	// RayClearing rays are longer than the max length and only carve free space.
	RayClearing
)

// RayLimits bounds the length of rays that observe a surface.
type RayLimits struct {
	MinRayLength  float64
	MaxRayLength  float64
	AllowClearing bool
}

// Classify returns how a ray of the given range is used under the limits.
func (l RayLimits) Classify(ray Ray) RayKind {
	switch {
	case ray.Range < l.MinRayLength:
		return RaySkipped
	case ray.Range > l.MaxRayLength:
		if l.AllowClearing {
			return RayClearing
		}
		return RaySkipped
	default:
		return RaySurface
	}
}
