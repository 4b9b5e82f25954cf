package tsdf

import (
	"context"
	"image/color"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/voxelmap/pointcloud"
	"go.viam.com/voxelmap/utils"
	"go.viam.com/voxelmap/voxel"
)

// weightEpsilon is the smallest fused weight worth storing.
const weightEpsilon = 1e-6

// Stats summarizes one integration call.
type Stats struct {
	// Points is the number of points in the frame.
	Points int
	// Integrated counts points whose surface band was fused.
	Integrated int
	// Clearing counts rays longer than the max ray length used only to clear free space.
	Clearing int
	// Skipped counts invalid points and points outside the ray length limits.
	Skipped int
	// VoxelUpdates counts voxel writes.
	VoxelUpdates int
}

type counters struct {
	integrated   atomic.Int64
	clearing     atomic.Int64
	skipped      atomic.Int64
	voxelUpdates atomic.Int64
}

func (c *counters) stats(points int) Stats {
	return Stats{
		Points:       points,
		Integrated:   int(c.integrated.Load()),
		Clearing:     int(c.clearing.Load()),
		Skipped:      int(c.skipped.Load()),
		VoxelUpdates: int(c.voxelUpdates.Load()),
	}
}

// Integrator fuses frames into a distance grid. Safe for concurrent use: voxel writes only take the
// owning block's lock.
type Integrator struct {
	cfg            IntegratorConfig
	grid           *voxel.Grid[Voxel]
	dropoffEpsilon float64
	logger         golog.Logger
}

// NewIntegrator returns an integrator writing into grid.
func NewIntegrator(cfg IntegratorConfig, grid *voxel.Grid[Voxel], logger golog.Logger) (*Integrator, error) {
	if grid == nil {
		return nil, errors.New("tsdf integrator needs a grid")
	}
	if err := cfg.Validate("tsdf"); err != nil {
		return nil, err
	}
	eps := cfg.WeightDropoffEpsilon
	if eps == 0 {
		eps = grid.VoxelSize()
		if eps >= cfg.TruncationDistance {
			eps = cfg.TruncationDistance / 2
		}
	}
	return &Integrator{cfg: cfg, grid: grid, dropoffEpsilon: eps, logger: logger}, nil
}

// Config returns the integrator configuration.
func (ti *Integrator) Config() IntegratorConfig {
	return ti.cfg
}

// Grid returns the grid the integrator writes into.
func (ti *Integrator) Grid() *voxel.Grid[Voxel] {
	return ti.grid
}

// IntegratePointCloud fuses every point of the frame. Points that cannot form a valid ray are
// skipped and counted; a malformed frame is rejected before anything is written. The context
// is only consulted before work begins.
func (ti *Integrator) IntegratePointCloud(ctx context.Context, frame *pointcloud.Frame) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	if err := frame.Validate(); err != nil {
		ti.logger.Warnw("rejecting frame", "error", err)
		return Stats{}, err
	}

	var c counters
	origin := frame.Origin()
	hasColors := frame.HasColors()
	err := utils.GroupWorkParallel(
		context.WithoutCancel(ctx),
		ti.cfg.Workers,
		frame.Size(),
		nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				var col *color.NRGBA
				if hasColors {
					col = &frame.Colors[workNum]
				}
				ti.integratePoint(origin, frame.WorldPoint(workNum), col, frame.Weight(workNum), &c)
			}, nil
		},
	)
	stats := c.stats(frame.Size())
	if err != nil {
		return stats, err
	}
	ti.logger.Debugw("integrated frame",
		"points", stats.Points,
		"integrated", stats.Integrated,
		"clearing", stats.Clearing,
		"skipped", stats.Skipped,
		"voxel_updates", stats.VoxelUpdates,
	)
	return stats, nil
}

// IntegrateRay fuses a single observation.
func (ti *Integrator) IntegrateRay(origin, point r3.Vector, col *color.NRGBA, weight float64) Stats {
	var c counters
	ti.integratePoint(origin, point, col, weight, &c)
	return c.stats(1)
}

func (ti *Integrator) integratePoint(origin, point r3.Vector, col *color.NRGBA, modifier float64, c *counters) {
	ray, err := NewRay(origin, point)
	if err != nil {
		c.skipped.Inc()
		return
	}

	trunc := ti.cfg.TruncationDistance
	var start, end r3.Vector
	switch ti.cfg.Limits().Classify(ray) {
	case RaySkipped:
		c.skipped.Inc()
		return
	case RayClearing:
		end = ray.At(math.Min(math.Max(ray.Range-trunc, 0), ti.cfg.MaxRayLength))
		start = end
		c.clearing.Inc()
	case RaySurface:
		end = ray.At(ray.Range + trunc)
		start = ray.At(ray.Range - trunc)
		c.integrated.Inc()
	}
	if ti.cfg.VoxelCarving {
		start = origin
	}

	weight := ti.observationWeight(ray) * modifier
	if !(weight > 0) {
		return
	}

	updates := int64(0)
	cache := blockCache[Voxel]{grid: ti.grid}
	voxel.CastRay(start, end, ti.grid.VoxelSizeInv(), func(gi voxel.GlobalIndex) bool {
		sdf := ray.ProjectedDistance(ti.grid.VoxelCenter(gi))
		if sdf < -trunc {
			return true
		}
		w := ti.dropoff(sdf, weight)
		if !(w > 0) {
			return true
		}
		idx := voxel.Split(gi, ti.grid.VoxelsPerSide())
		cache.get(idx.Block).Update(idx.Local, func(v *Voxel) {
			ti.fuse(v, sdf, w, col)
		})
		updates++
		return true
	})
	c.voxelUpdates.Add(updates)
}

func (ti *Integrator) observationWeight(ray Ray) float64 {
	if ti.cfg.ConstWeight {
		return 1
	}
	return 1 / (ray.Range * ray.Range)
}

// dropoff linearly reduces the weight of observations behind the surface, reaching zero at the
// truncation distance.
func (ti *Integrator) dropoff(sdf, weight float64) float64 {
	if !ti.cfg.WeightDropoff || sdf >= -ti.dropoffEpsilon {
		return weight
	}
	trunc := ti.cfg.TruncationDistance
	return math.Max(weight*(trunc+sdf)/(trunc-ti.dropoffEpsilon), 0)
}

func (ti *Integrator) fuse(v *Voxel, sdf, weight float64, col *color.NRGBA) {
	trunc := ti.cfg.TruncationDistance
	sdf = math.Min(sdf, trunc)
	newWeight := v.Weight + weight
	if newWeight < weightEpsilon {
		return
	}
	if col != nil {
		v.Color = blendColors(v.Color, v.Weight, *col, weight)
	}
	d := (sdf*weight + v.Distance*v.Weight) / newWeight
	v.Distance = math.Max(-trunc, math.Min(trunc, d))
	v.Weight = math.Min(ti.cfg.MaxWeight, newWeight)
}

// blockCache remembers the last block touched by a ray; consecutive voxels of a ray are usually
// in the same block.
type blockCache[V any] struct {
	grid  *voxel.Grid[V]
	index voxel.BlockIndex
	block *voxel.Block[V]
}

func (bc *blockCache[V]) get(bi voxel.BlockIndex) *voxel.Block[V] {
	if bc.block == nil || bc.index != bi {
		bc.block = bc.grid.GetOrCreateBlock(bi)
		bc.index = bi
	}
	return bc.block
}
