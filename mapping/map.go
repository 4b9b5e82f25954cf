// Package mapping combines a distance layer and a label layer over the same voxel geometry into
// one map that fuses sensor frames and answers planning queries.
package mapping

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"go.viam.com/voxelmap/interpolation"
	"go.viam.com/voxelmap/label"
	"go.viam.com/voxelmap/pointcloud"
	"go.viam.com/voxelmap/spatialmath"
	"go.viam.com/voxelmap/tsdf"
	"go.viam.com/voxelmap/utils"
	"go.viam.com/voxelmap/voxel"
)

// Stats summarizes one Integrate call per layer. Labels is zero for frames without labels.
type Stats struct {
	TSDF   tsdf.Stats
	Labels label.Stats
}

// Map owns every piece of state of one map instance; independent maps share nothing.
type Map struct {
	cfg    Config
	logger golog.Logger

	// mu is held for reading by fusion and queries, and for writing while the content is replaced.
	mu           sync.RWMutex
	tsdfGrid     *voxel.Grid[tsdf.Voxel]
	labelGrid    *voxel.Grid[label.Voxel]
	registry     *label.Registry
	tsdf         *tsdf.Integrator
	labels       *label.Integrator
	interpolator *interpolation.Interpolator[tsdf.Voxel]
}

// NewMap returns an empty map.
func NewMap(cfg Config, logger golog.Logger) (*Map, error) {
	if err := cfg.Validate("map"); err != nil {
		return nil, err
	}
	registerMetrics()

	tsdfGrid, err := voxel.NewGrid[tsdf.Voxel](cfg.VoxelSize, cfg.VoxelsPerSide)
	if err != nil {
		return nil, err
	}
	labelGrid, err := voxel.NewGrid[label.Voxel](cfg.VoxelSize, cfg.VoxelsPerSide)
	if err != nil {
		return nil, err
	}
	m := &Map{cfg: cfg, logger: logger}
	if err := m.attach(tsdfGrid, labelGrid, label.NewRegistry()); err != nil {
		return nil, err
	}
	return m, nil
}

// attach makes the map operate on the given layers. Callers other than NewMap hold mu for writing.
func (m *Map) attach(tsdfGrid *voxel.Grid[tsdf.Voxel], labelGrid *voxel.Grid[label.Voxel], registry *label.Registry) error {
	ti, err := tsdf.NewIntegrator(m.cfg.tsdfConfig(), tsdfGrid, m.logger)
	if err != nil {
		return err
	}
	li, err := label.NewIntegrator(m.cfg.labelConfig(), labelGrid, registry, m.logger)
	if err != nil {
		return err
	}
	m.tsdfGrid = tsdfGrid
	m.labelGrid = labelGrid
	m.registry = registry
	m.tsdf = ti
	m.labels = li
	m.interpolator = interpolation.New(tsdfGrid)
	return nil
}

// Config returns the config the map was built with.
func (m *Map) Config() Config {
	return m.cfg
}

// Registry returns the registry resolving persistent label ids. Restore replaces it.
func (m *Map) Registry() *label.Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry
}

// Integrate fuses a frame into the distance layer and, when the frame carries labels, into the
// label layer. The layers are fused concurrently. A malformed frame is rejected before either
// layer is touched.
func (m *Map) Integrate(ctx context.Context, frame *pointcloud.Frame) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	if frame == nil {
		mapRejectedFrames.Inc()
		return Stats{}, errNilFrame
	}
	if err := frame.Validate(); err != nil {
		mapRejectedFrames.Inc()
		m.logger.Warnw("rejecting frame", "error", err)
		return Stats{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	work := []utils.SimpleFunc{
		func(ctx context.Context) error {
			var err error
			stats.TSDF, err = m.tsdf.IntegratePointCloud(ctx, frame)
			return err
		},
	}
	if frame.HasLabels() {
		work = append(work, func(ctx context.Context) error {
			var err error
			stats.Labels, err = m.labels.IntegratePointCloud(ctx, frame)
			return err
		})
	}
	elapsed, err := utils.RunInParallel(ctx, work)
	mapIntegrationDurationSeconds.Observe(elapsed.Seconds())
	mapIntegratedPointsTSDF.Add(float64(stats.TSDF.Integrated + stats.TSDF.Clearing))
	mapSkippedPointsTSDF.Add(float64(stats.TSDF.Skipped))
	mapIntegratedPointsLabels.Add(float64(stats.Labels.Integrated))
	mapSkippedPointsLabels.Add(float64(stats.Labels.Skipped))
	mapAllocatedBlocksTSDF.Set(float64(m.tsdfGrid.NumBlocks()))
	mapAllocatedBlocksLabels.Set(float64(m.labelGrid.NumBlocks()))
	if err != nil {
		return stats, err
	}
	m.logger.Debugw("integrated frame into map",
		"points", frame.Size(),
		"labeled", frame.HasLabels(),
		"duration", elapsed.Round(time.Microsecond),
		"tsdf_blocks", m.tsdfGrid.NumBlocks(),
		"label_blocks", m.labelGrid.NumBlocks(),
	)
	return stats, nil
}

// GetDistanceAtPosition returns the trilinearly interpolated signed distance at p. It reports false
// where the surrounding voxels are unallocated or unobserved.
func (m *Map) GetDistanceAtPosition(p r3.Vector) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interpolator.GetDistance(p)
}

// GetDistanceAndGradientAtPosition returns the interpolated signed distance at p and its gradient,
// or false without a partial result.
func (m *Map) GetDistanceAndGradientAtPosition(p r3.Vector) (float64, r3.Vector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interpolator.GetDistanceAndGradient(p)
}

// GetNearestDistance returns the distance stored in the voxel containing p.
func (m *Map) GetNearestDistance(p r3.Vector) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interpolator.GetNearestDistance(p)
}

// ComputePointCloudLabel returns the persistent label of the voxel containing each point, or
// label.UnknownLabel. Points are expressed in the frame given by pose.
func (m *Map) ComputePointCloudLabel(pose spatialmath.Pose, points []r3.Vector) []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.labels.ComputePointCloudLabel(pose, points)
}

// ComputeSegmentLabel returns the persistent label best matching a whole segment, issuing a fresh
// id for a segment in unlabeled space.
func (m *Map) ComputeSegmentLabel(pose spatialmath.Pose, points []r3.Vector) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.labels.ComputeSegmentLabel(pose, points)
}

// IterateTsdf calls fn with the center and a copy of every allocated distance voxel until fn
// returns false. fn must not call back into the map's writers.
func (m *Map) IterateTsdf(fn func(center r3.Vector, v tsdf.Voxel) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	iterateGrid(m.tsdfGrid, func(center r3.Vector, v *tsdf.Voxel) bool {
		return fn(center, *v)
	})
}

// IterateLabels calls fn with the center, the dominant surviving label and a copy of the histogram
// of every labeled voxel until fn returns false.
func (m *Map) IterateLabels(fn func(center r3.Vector, id uint32, v label.Voxel) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	iterateGrid(m.labelGrid, func(center r3.Vector, v *label.Voxel) bool {
		if v.Empty() {
			return true
		}
		id, _ := label.DominantLabel(*v, m.registry)
		return fn(center, id, v.Clone())
	})
}

func iterateGrid[V any](grid *voxel.Grid[V], fn func(center r3.Vector, v *V) bool) {
	keepGoing := true
	grid.IterateBlocks(func(b *voxel.Block[V]) bool {
		b.Iterate(func(li voxel.LocalIndex, v *V) bool {
			keepGoing = fn(b.VoxelCenter(li), v)
			return keepGoing
		})
		return keepGoing
	})
}

// Clear drops every block of both layers and forgets all issued label ids.
func (m *Map) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tsdfGrid.Clear()
	m.labelGrid.Clear()
	m.registry.Reset()
	mapAllocatedBlocksTSDF.Set(0)
	mapAllocatedBlocksLabels.Set(0)
}
