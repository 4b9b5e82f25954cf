package tsdf

import (
	"math"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// IntegratorConfig holds the fusion parameters of a distance integrator.
type IntegratorConfig struct {
	// TruncationDistance bounds the stored distances, in meters.
	TruncationDistance float64 `json:"truncation_distance"`
	// MaxWeight caps the accumulated weight of a voxel.
	MaxWeight float64 `json:"max_weight"`
	// Rays shorter than MinRayLength are discarded.
	MinRayLength float64 `json:"min_ray_length_m"`
	// Rays longer than MaxRayLength are discarded, or become clearing rays if AllowClearing is set.
	MaxRayLength float64 `json:"max_ray_length_m"`
	AllowClearing bool   `json:"allow_clearing"`
	// VoxelCarving traverses from the sensor to the surface band instead of only the band.
	VoxelCarving bool `json:"voxel_carving_enabled"`
	// ConstWeight gives every observation weight 1 instead of 1/range^2.
	ConstWeight bool `json:"use_const_weight"`
	// WeightDropoff reduces the weight of observations further than WeightDropoffEpsilon
	// behind the surface.
	WeightDropoff        bool    `json:"use_weight_dropoff"`
	WeightDropoffEpsilon float64 `json:"weight_dropoff_epsilon"`
	// Workers is the number of goroutines sharing a frame; zero means one per available core.
	Workers int `json:"integrator_threads"`
}

// DefaultIntegratorConfig returns the defaults for a grid of the given voxel size.
func DefaultIntegratorConfig(voxelSize float64) IntegratorConfig {
	return IntegratorConfig{
		TruncationDistance:   4 * voxelSize,
		MaxWeight:            10000,
		MinRayLength:         0.1,
		MaxRayLength:         5,
		VoxelCarving:         true,
		ConstWeight:          false,
		WeightDropoff:        true,
		WeightDropoffEpsilon: voxelSize,
	}
}

// Limits returns the ray length limits of the config.
func (cfg *IntegratorConfig) Limits() RayLimits {
	return RayLimits{MinRayLength: cfg.MinRayLength, MaxRayLength: cfg.MaxRayLength, AllowClearing: cfg.AllowClearing}
}

// Validate ensures all parts of the config are valid.
func (cfg *IntegratorConfig) Validate(path string) error {
	var err error
	if !(cfg.TruncationDistance > 0) {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "truncation_distance"))
	}
	if !(cfg.MaxWeight > 0) {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "max_weight"))
	}
	if cfg.MinRayLength < 0 || math.IsNaN(cfg.MinRayLength) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errMinRayLength))
	}
	if !(cfg.MaxRayLength > cfg.MinRayLength) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errMaxRayLength))
	}
	if cfg.WeightDropoff && (cfg.WeightDropoffEpsilon < 0 || !(cfg.WeightDropoffEpsilon < cfg.TruncationDistance)) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errDropoffEpsilon))
	}
	if cfg.Workers < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errWorkers))
	}
	return err
}
