package label

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/voxelmap/pointcloud"
	"go.viam.com/voxelmap/spatialmath"
	"go.viam.com/voxelmap/tsdf"
	rutils "go.viam.com/voxelmap/utils"
	"go.viam.com/voxelmap/voxel"
)

// IntegratorConfig holds the label fusion parameters.
type IntegratorConfig struct {
	// LabelBand is the half width, in meters, of the segment around each observed point whose
	// voxels receive the label. Zero labels only the voxel containing the point.
	LabelBand float64 `json:"label_band"`
	// MergeEvidenceThreshold is the count both labels of a voxel need before they are merged.
	MergeEvidenceThreshold uint32 `json:"merge_evidence_threshold"`
	// Points whose rays are shorter than MinRayLength or longer than MaxRayLength are not labeled,
	// matching the rays the distance layer fuses as surface observations.
	MinRayLength float64 `json:"min_ray_length_m"`
	MaxRayLength float64 `json:"max_ray_length_m"`
	// Workers is the number of goroutines sharing a frame; zero means one per available core.
	Workers int `json:"integrator_threads"`
}

// DefaultIntegratorConfig returns the default label fusion parameters.
func DefaultIntegratorConfig() IntegratorConfig {
	return IntegratorConfig{MergeEvidenceThreshold: 20, MinRayLength: 0.1, MaxRayLength: 5}
}

func (cfg *IntegratorConfig) limits() tsdf.RayLimits {
	return tsdf.RayLimits{MinRayLength: cfg.MinRayLength, MaxRayLength: cfg.MaxRayLength}
}

// Validate ensures all parts of the config are valid.
func (cfg *IntegratorConfig) Validate(path string) error {
	var err error
	if cfg.LabelBand < 0 || math.IsNaN(cfg.LabelBand) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("label_band must be non-negative")))
	}
	if cfg.MergeEvidenceThreshold == 0 {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "merge_evidence_threshold"))
	}
	if cfg.MinRayLength < 0 || math.IsNaN(cfg.MinRayLength) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("min_ray_length_m must be non-negative")))
	}
	if !(cfg.MaxRayLength > cfg.MinRayLength) {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("max_ray_length_m must be greater than min_ray_length_m")))
	}
	if cfg.Workers < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("integrator_threads must be non-negative")))
	}
	return err
}

// Stats summarizes one integration call.
type Stats struct {
	Points       int
	Integrated   int
	Skipped      int
	VoxelUpdates int
	// NewLabels is the number of persistent ids issued for unseen transient labels.
	NewLabels int
	Merges    int
}

// Integrator fuses labeled frames into a label grid.
type Integrator struct {
	cfg      IntegratorConfig
	grid     *voxel.Grid[Voxel]
	registry *Registry
	logger   golog.Logger
}

// NewIntegrator returns an integrator writing into grid and resolving ids through registry.
func NewIntegrator(cfg IntegratorConfig, grid *voxel.Grid[Voxel], registry *Registry, logger golog.Logger) (*Integrator, error) {
	if grid == nil || registry == nil {
		return nil, errors.New("label integrator needs a grid and a registry")
	}
	if err := cfg.Validate("labels"); err != nil {
		return nil, err
	}
	return &Integrator{cfg: cfg, grid: grid, registry: registry, logger: logger}, nil
}

// Grid returns the grid the integrator writes into.
func (li *Integrator) Grid() *voxel.Grid[Voxel] {
	return li.grid
}

// Registry returns the label registry.
func (li *Integrator) Registry() *Registry {
	return li.registry
}

// IntegratePointCloud adds one observation of each point's label to the voxels around the point.
// Only points whose rays fall within the ray length limits are labeled. Before any voxel is touched,
// each transient label is resolved in order of first appearance: to the persistent label dominating
// the voxels its points fall in, or to a fresh id when those voxels were never labeled. The ids
// issued for a frame therefore do not depend on the number of workers.
func (li *Integrator) IntegratePointCloud(ctx context.Context, frame *pointcloud.Frame) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	if err := frame.Validate(); err != nil {
		li.logger.Warnw("rejecting frame", "error", err)
		return Stats{}, err
	}
	if !frame.HasLabels() {
		return Stats{}, errors.New("frame has no labels")
	}

	n := frame.Size()
	origin := frame.Origin()
	limits := li.cfg.limits()
	rays := make([]tsdf.Ray, n)
	valid := make([]bool, n)
	segments := map[uint32][]r3.Vector{}
	stats := Stats{Points: n}
	for i := range frame.Points {
		ray, err := tsdf.NewRay(origin, frame.WorldPoint(i))
		if err != nil || limits.Classify(ray) != tsdf.RaySurface {
			stats.Skipped++
			continue
		}
		rays[i], valid[i] = ray, true
		segments[frame.Labels[i]] = append(segments[frame.Labels[i]], ray.Point)
	}
	stats.Integrated = n - stats.Skipped

	persistent := make([]uint32, n)
	resolved := map[uint32]uint32{}
	for i := range frame.Points {
		if !valid[i] {
			continue
		}
		id, ok := resolved[frame.Labels[i]]
		if !ok {
			id, ok = li.overlapLabel(segments[frame.Labels[i]])
			if !ok {
				id = li.registry.NewLabel()
				stats.NewLabels++
			}
			resolved[frame.Labels[i]] = id
		}
		persistent[i] = id
	}

	var updates, merges atomic.Int64
	err := rutils.GroupWorkParallel(
		context.WithoutCancel(ctx),
		li.cfg.Workers,
		n,
		nil,
		func(groupNum, groupSize, from, to int) (rutils.MemberWorkFunc, rutils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				if !valid[workNum] {
					return
				}
				u, m := li.integrateRay(rays[workNum], persistent[workNum])
				updates.Add(u)
				merges.Add(m)
			}, nil
		},
	)
	stats.VoxelUpdates = int(updates.Load())
	stats.Merges = int(merges.Load())
	if err != nil {
		return stats, err
	}
	li.logger.Debugw("integrated labels",
		"points", stats.Points,
		"skipped", stats.Skipped,
		"voxel_updates", stats.VoxelUpdates,
		"new_labels", stats.NewLabels,
		"merges", stats.Merges,
	)
	return stats, nil
}

func (li *Integrator) integrateRay(ray tsdf.Ray, id uint32) (int64, int64) {
	var updates, merges int64
	observe := func(gi voxel.GlobalIndex) bool {
		li.grid.UpdateVoxel(gi, func(v *Voxel) {
			if li.observe(v, id) {
				merges++
			}
		})
		updates++
		return true
	}
	if li.cfg.LabelBand == 0 {
		observe(li.grid.GlobalIndexFor(ray.Point))
		return updates, merges
	}
	voxel.CastRay(ray.At(ray.Range-li.cfg.LabelBand), ray.At(ray.Range+li.cfg.LabelBand), li.grid.VoxelSizeInv(), observe)
	return updates, merges
}

// observe adds one observation of id to v, merging id with the voxel's dominant label when both
// have enough evidence. It reports whether a merge happened. The caller holds the block lock.
func (li *Integrator) observe(v *Voxel, id uint32) bool {
	v.canonicalize(li.registry)
	id = li.registry.Find(id)
	merged := false
	if dom, domCount := v.Dominant(); dom != UnknownLabel && dom != id &&
		domCount >= li.cfg.MergeEvidenceThreshold && v.Counts[id] >= li.cfg.MergeEvidenceThreshold {
		survivor, err := li.registry.Merge(dom, id)
		if err != nil {
			li.logger.Warnw("not merging labels", "error", err)
		} else {
			id = survivor
			v.canonicalize(li.registry)
			merged = true
		}
	}
	v.Observe(id)
	return merged
}

// labelAt returns the dominant surviving label of the voxel containing p, UnknownLabel if that
// voxel was never labeled.
func (li *Integrator) labelAt(p r3.Vector) uint32 {
	id := UnknownLabel
	li.grid.ViewVoxel(li.grid.GlobalIndexFor(p), func(v *Voxel) {
		id, _ = DominantLabel(*v, li.registry)
	})
	return id
}

// ComputePointCloudLabel returns, for each point, the dominant label of the voxel containing it,
// or UnknownLabel for voxels that were never labeled. Points are in the frame given by pose.
func (li *Integrator) ComputePointCloudLabel(pose spatialmath.Pose, points []r3.Vector) []uint32 {
	if pose == nil {
		pose = spatialmath.NewZeroPose()
	}
	out := make([]uint32, len(points))
	for i, p := range points {
		out[i] = li.labelAt(pose.Transform(p))
	}
	return out
}

// ComputeSegmentLabel returns the label with the most observations over the voxels containing the
// segment's points. A segment that falls entirely in unlabeled space is issued a fresh id.
func (li *Integrator) ComputeSegmentLabel(pose spatialmath.Pose, points []r3.Vector) uint32 {
	if pose == nil {
		pose = spatialmath.NewZeroPose()
	}
	world := lo.Map(points, func(p r3.Vector, _ int) r3.Vector {
		return pose.Transform(p)
	})
	if id, ok := li.overlapLabel(world); ok {
		return id
	}
	return li.registry.NewLabel()
}

// overlapLabel returns the surviving label with the most observations over the distinct voxels
// containing the world points, and false if none of them was ever labeled.
func (li *Integrator) overlapLabel(points []r3.Vector) (uint32, bool) {
	indices := lo.Uniq(lo.Map(points, func(p r3.Vector, _ int) voxel.GlobalIndex {
		return li.grid.GlobalIndexFor(p)
	}))
	totals := map[uint32]uint32{}
	for _, gi := range indices {
		li.grid.ViewVoxel(gi, func(v *Voxel) {
			for id, c := range v.resolved(li.registry) {
				totals[id] += c
			}
		})
	}
	if len(totals) == 0 {
		return UnknownLabel, false
	}
	id, _ := dominant(totals)
	return id, true
}
