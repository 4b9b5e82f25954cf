package mapping

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/voxelmap/label"
	"go.viam.com/voxelmap/tsdf"
)

// Config describes a map. Zero values select defaults, see tsdfConfig and labelConfig.
type Config struct {
	VoxelSize     float64 `json:"voxel_size"`
	VoxelsPerSide int     `json:"voxels_per_side"`

	TruncationDistance float64 `json:"truncation_distance,omitempty"`
	MaxWeight          float64 `json:"max_weight,omitempty"`
	// MinRayLength defaults to 0.1 when unset; zero keeps every ray.
	MinRayLength  *float64 `json:"min_ray_length_m,omitempty"`
	MaxRayLength  float64  `json:"max_ray_length_m,omitempty"`
	AllowClearing bool     `json:"allow_clearing,omitempty"`
	// VoxelCarving defaults to true when unset.
	VoxelCarving *bool `json:"voxel_carving_enabled,omitempty"`
	ConstWeight  bool  `json:"use_const_weight,omitempty"`
	// WeightDropoff defaults to true when unset.
	WeightDropoff        *bool   `json:"use_weight_dropoff,omitempty"`
	WeightDropoffEpsilon float64 `json:"weight_dropoff_epsilon,omitempty"`

	LabelBand              float64 `json:"label_band,omitempty"`
	MergeEvidenceThreshold uint32  `json:"merge_evidence_threshold,omitempty"`

	Workers int `json:"integrator_threads,omitempty"`
}

// DecodeConfig builds a config from a loosely typed attribute map, such as one read from JSON.
func DecodeConfig(attributes map[string]interface{}) (*Config, error) {
	var conf Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "error decoding map config")
	}
	return &conf, nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	var err error
	if !(cfg.VoxelSize > 0) {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "voxel_size"))
	}
	if cfg.VoxelsPerSide <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "voxels_per_side"))
	}
	if err != nil {
		return err
	}
	tsdfCfg := cfg.tsdfConfig()
	labelCfg := cfg.labelConfig()
	return multierr.Combine(tsdfCfg.Validate(path), labelCfg.Validate(path))
}

func (cfg *Config) tsdfConfig() tsdf.IntegratorConfig {
	out := tsdf.DefaultIntegratorConfig(cfg.VoxelSize)
	// the integrator derives the epsilon from the voxel and truncation sizes
	out.WeightDropoffEpsilon = cfg.WeightDropoffEpsilon
	if cfg.TruncationDistance != 0 {
		out.TruncationDistance = cfg.TruncationDistance
	}
	if cfg.MaxWeight != 0 {
		out.MaxWeight = cfg.MaxWeight
	}
	if cfg.MinRayLength != nil {
		out.MinRayLength = *cfg.MinRayLength
	}
	if cfg.MaxRayLength != 0 {
		out.MaxRayLength = cfg.MaxRayLength
	}
	if cfg.VoxelCarving != nil {
		out.VoxelCarving = *cfg.VoxelCarving
	}
	if cfg.WeightDropoff != nil {
		out.WeightDropoff = *cfg.WeightDropoff
	}
	out.AllowClearing = cfg.AllowClearing
	out.ConstWeight = cfg.ConstWeight
	out.Workers = cfg.Workers
	return out
}

func (cfg *Config) labelConfig() label.IntegratorConfig {
	out := label.DefaultIntegratorConfig()
	out.LabelBand = cfg.LabelBand
	if cfg.MergeEvidenceThreshold != 0 {
		out.MergeEvidenceThreshold = cfg.MergeEvidenceThreshold
	}
	// labels follow the distance layer's surface rays
	tc := cfg.tsdfConfig()
	out.MinRayLength = tc.MinRayLength
	out.MaxRayLength = tc.MaxRayLength
	out.Workers = cfg.Workers
	return out
}
