package mapping

import "github.com/pkg/errors"

var (
	errNilFrame    = errors.New("frame is nil")
	errNilSnapshot = errors.New("snapshot is nil")
)

// NewGeometryMismatchError is returned when a snapshot was taken from a map with a different
// voxel geometry.
func NewGeometryMismatchError(layer string, voxelSize float64, voxelsPerSide int, cfg Config) error {
	return errors.Errorf("%s snapshot has voxel size %v and %d voxels per side, map has %v and %d",
		layer, voxelSize, voxelsPerSide, cfg.VoxelSize, cfg.VoxelsPerSide)
}
