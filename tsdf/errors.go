package tsdf

import "github.com/pkg/errors"

// ErrInvalidObservation is returned for points that cannot form a ray: non-finite coordinates or
// zero range.
var ErrInvalidObservation = errors.New("invalid observation")

var (
	errMinRayLength   = errors.New("min_ray_length_m must be non-negative")
	errMaxRayLength   = errors.New("max_ray_length_m must be greater than min_ray_length_m")
	errDropoffEpsilon = errors.New("weight_dropoff_epsilon must be non-negative and smaller than truncation_distance")
	errWorkers        = errors.New("integrator_threads must be non-negative")
)
