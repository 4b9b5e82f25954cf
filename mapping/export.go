package mapping

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"go.viam.com/voxelmap/label"
	"go.viam.com/voxelmap/pointcloud"
	"go.viam.com/voxelmap/tsdf"
	"go.viam.com/voxelmap/voxel"
)

// goldenAngle spreads consecutive label hues around the color wheel.
const goldenAngle = 360 * 0.618033988749895

// LabelColor returns a stable display color for a persistent label id. The unknown label is gray.
func LabelColor(id uint32) color.NRGBA {
	if id == label.UnknownLabel {
		return color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	}
	hue := math.Mod(float64(id)*goldenAngle, 360)
	r, g, b := colorful.Hsv(hue, 0.65, 0.95).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// SurfacePointCloud exports the centers of the observed distance voxels lying within maxDistance of
// the surface. A point carries the fused color of its voxel, or the color of its label for voxels
// that never saw color, and the persistent label as its value when the voxel was labeled.
func (m *Map) SurfacePointCloud(maxDistance float64) (pointcloud.PointCloud, error) {
	if !(maxDistance >= 0) {
		return nil, errors.Errorf("max distance must be non-negative, got %v", maxDistance)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type surfaceVoxel struct {
		center r3.Vector
		gi     voxel.GlobalIndex
		color  color.NRGBA
	}
	var surface []surfaceVoxel
	iterateGrid(m.tsdfGrid, func(center r3.Vector, v *tsdf.Voxel) bool {
		if v.Observed() && math.Abs(v.Distance) <= maxDistance {
			surface = append(surface, surfaceVoxel{center: center, gi: m.tsdfGrid.GlobalIndexFor(center), color: v.Color})
		}
		return true
	})

	cloud := pointcloud.NewWithPrealloc(len(surface))
	for _, sv := range surface {
		id := label.UnknownLabel
		m.labelGrid.ViewVoxel(sv.gi, func(v *label.Voxel) {
			id, _ = label.DominantLabel(*v, m.registry)
		})
		var d pointcloud.Data
		switch {
		case sv.color.A != 0:
			d = pointcloud.NewColoredData(sv.color)
		case id != label.UnknownLabel:
			d = pointcloud.NewColoredData(LabelColor(id))
		default:
			d = pointcloud.NewBasicData()
		}
		if id != label.UnknownLabel {
			d.SetValue(int(id))
		}
		if err := cloud.Set(sv.center, d); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}
