package label

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/voxelmap/pointcloud"
	"go.viam.com/voxelmap/spatialmath"
	"go.viam.com/voxelmap/voxel"
)

func newTestIntegrator(t *testing.T, cfg IntegratorConfig) *Integrator {
	t.Helper()
	grid, err := voxel.NewGrid[Voxel](0.1, 8)
	test.That(t, err, test.ShouldBeNil)
	li, err := NewIntegrator(cfg, grid, NewRegistry(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return li
}

// planePoints returns a 40x40 grid of points on the plane y=1 spaced half a voxel apart.
func planePoints(shiftX float64) []r3.Vector {
	points := make([]r3.Vector, 0, 1600)
	for i := 0; i < 40; i++ {
		for j := 0; j < 40; j++ {
			points = append(points, r3.Vector{X: float64(i)/20 + shiftX, Y: 1, Z: float64(j) / 20})
		}
	}
	return points
}

func planeFrame(labelFor func(p r3.Vector) uint32) *pointcloud.Frame {
	points := planePoints(0)
	labels := make([]uint32, len(points))
	for i, p := range points {
		labels[i] = labelFor(p)
	}
	return &pointcloud.Frame{Pose: spatialmath.NewZeroPose(), Points: points, Labels: labels}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultIntegratorConfig()
	test.That(t, cfg.Validate("path"), test.ShouldBeNil)

	bad := IntegratorConfig{LabelBand: -1, MinRayLength: -1, MaxRayLength: -2, Workers: -1}
	err := bad.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "label_band")
	test.That(t, err.Error(), test.ShouldContainSubstring, "merge_evidence_threshold")
	test.That(t, err.Error(), test.ShouldContainSubstring, "min_ray_length_m")
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_ray_length_m")
	test.That(t, err.Error(), test.ShouldContainSubstring, "integrator_threads")

	grid, err := voxel.NewGrid[Voxel](0.1, 8)
	test.That(t, err, test.ShouldBeNil)
	_, err = NewIntegrator(cfg, nil, NewRegistry(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewIntegrator(cfg, grid, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewIntegrator(bad, grid, NewRegistry(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUniformPlane(t *testing.T) {
	for _, workers := range []int{1, 4} {
		cfg := DefaultIntegratorConfig()
		cfg.Workers = workers
		li := newTestIntegrator(t, cfg)
		stats, err := li.IntegratePointCloud(context.Background(), planeFrame(func(r3.Vector) uint32 { return 1 }))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, stats.Points, test.ShouldEqual, 1600)
		test.That(t, stats.Integrated, test.ShouldEqual, 1600)
		test.That(t, stats.Skipped, test.ShouldEqual, 0)
		test.That(t, stats.VoxelUpdates, test.ShouldEqual, 1600)
		test.That(t, stats.NewLabels, test.ShouldEqual, 1)
		test.That(t, stats.Merges, test.ShouldEqual, 0)

		for _, id := range li.ComputePointCloudLabel(nil, planePoints(0)) {
			test.That(t, id, test.ShouldEqual, 1)
		}
		// the same plane moved past anything observed
		for _, id := range li.ComputePointCloudLabel(nil, planePoints(2.5)) {
			test.That(t, id, test.ShouldEqual, UnknownLabel)
		}
	}
}

func TestSplitPlane(t *testing.T) {
	li := newTestIntegrator(t, DefaultIntegratorConfig())
	stats, err := li.IntegratePointCloud(context.Background(), planeFrame(func(p r3.Vector) uint32 {
		if p.X > 1.5 {
			return 2
		}
		return 1
	}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.NewLabels, test.ShouldEqual, 2)
	test.That(t, stats.Merges, test.ShouldEqual, 0)

	points := planePoints(0)
	labels := li.ComputePointCloudLabel(spatialmath.NewZeroPose(), points)
	for i, p := range points {
		if p.X <= 1.5 {
			// the column at x=1.5 saw both labels equally often
			test.That(t, labels[i], test.ShouldEqual, 1)
		} else {
			test.That(t, labels[i], test.ShouldEqual, 2)
		}
	}
	test.That(t, li.ComputeSegmentLabel(nil, points), test.ShouldEqual, 1)
	test.That(t, li.ComputeSegmentLabel(nil, points[len(points)-40:]), test.ShouldEqual, 2)
}

func TestWorkersProduceSameHistograms(t *testing.T) {
	frame := planeFrame(func(p r3.Vector) uint32 {
		return uint32(p.X*3) + 10
	})
	var snaps []voxel.Snapshot[Voxel]
	for _, workers := range []int{1, 3, 8} {
		cfg := DefaultIntegratorConfig()
		cfg.Workers = workers
		li := newTestIntegrator(t, cfg)
		_, err := li.IntegratePointCloud(context.Background(), frame)
		test.That(t, err, test.ShouldBeNil)
		snaps = append(snaps, li.Grid().Snapshot())
	}
	test.That(t, snaps[1], test.ShouldResemble, snaps[0])
	test.That(t, snaps[2], test.ShouldResemble, snaps[0])
}

func TestTransientLabelsPerCall(t *testing.T) {
	li := newTestIntegrator(t, DefaultIntegratorConfig())
	origin := r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}
	frame := &pointcloud.Frame{
		Pose:   spatialmath.NewPoseFromPoint(origin),
		Points: []r3.Vector{{Y: 1}, {}, {X: 1}, {Y: 1}},
		Labels: []uint32{7, 8, 9, 7},
	}
	stats, err := li.IntegratePointCloud(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	// the point at the sensor origin is skipped before its label is resolved
	test.That(t, stats.Skipped, test.ShouldEqual, 1)
	test.That(t, stats.Integrated, test.ShouldEqual, 3)
	test.That(t, stats.NewLabels, test.ShouldEqual, 2)
	test.That(t, li.Registry().Highest(), test.ShouldEqual, 2)

	got := li.ComputePointCloudLabel(frame.Pose, []r3.Vector{{Y: 1}, {X: 1}})
	test.That(t, got, test.ShouldResemble, []uint32{1, 2})

	// a transient id reused later in unlabeled space is a new segment
	stats, err = li.IntegratePointCloud(context.Background(), &pointcloud.Frame{
		Pose:   frame.Pose,
		Points: []r3.Vector{{Z: 1}},
		Labels: []uint32{7},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.NewLabels, test.ShouldEqual, 1)
	test.That(t, li.ComputePointCloudLabel(frame.Pose, []r3.Vector{{Z: 1}}), test.ShouldResemble, []uint32{3})

	// any transient id over already labeled space takes the label found there
	stats, err = li.IntegratePointCloud(context.Background(), &pointcloud.Frame{
		Pose:   frame.Pose,
		Points: []r3.Vector{{X: 1}, {Y: 1}},
		Labels: []uint32{42, 43},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.NewLabels, test.ShouldEqual, 0)
	test.That(t, li.Registry().Highest(), test.ShouldEqual, 3)
	test.That(t, li.ComputePointCloudLabel(frame.Pose, []r3.Vector{{Y: 1}, {X: 1}}), test.ShouldResemble, []uint32{1, 2})
}

func TestRepeatedFramesKeepIds(t *testing.T) {
	t.Run("uniform plane", func(t *testing.T) {
		cfg := DefaultIntegratorConfig()
		cfg.Workers = 4
		li := newTestIntegrator(t, cfg)
		frame := planeFrame(func(r3.Vector) uint32 { return 1 })
		for i := 0; i < 30; i++ {
			stats, err := li.IntegratePointCloud(context.Background(), frame)
			test.That(t, err, test.ShouldBeNil)
			if i == 0 {
				test.That(t, stats.NewLabels, test.ShouldEqual, 1)
			} else {
				test.That(t, stats.NewLabels, test.ShouldEqual, 0)
			}
			test.That(t, stats.Merges, test.ShouldEqual, 0)
		}
		test.That(t, li.Registry().Highest(), test.ShouldEqual, 1)

		points := planePoints(0)
		for _, id := range li.ComputePointCloudLabel(nil, points) {
			test.That(t, id, test.ShouldEqual, 1)
		}
		for _, p := range points {
			li.Grid().ViewVoxel(li.Grid().GlobalIndexFor(p), func(v *Voxel) {
				test.That(t, v.Labels(), test.ShouldResemble, []uint32{1})
			})
		}
	})

	t.Run("split plane with transient ids swapped", func(t *testing.T) {
		li := newTestIntegrator(t, DefaultIntegratorConfig())
		for i := 0; i < 5; i++ {
			// the camera's ids change every frame while the segments stay put
			left, right := uint32(2*i+1), uint32(2*i+2)
			if i%2 == 1 {
				left, right = right, left
			}
			stats, err := li.IntegratePointCloud(context.Background(), planeFrame(func(p r3.Vector) uint32 {
				if p.X > 1.5 {
					return right
				}
				return left
			}))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, stats.Merges, test.ShouldEqual, 0)
		}
		test.That(t, li.Registry().Highest(), test.ShouldEqual, 2)

		points := planePoints(0)
		labels := li.ComputePointCloudLabel(nil, points)
		for i, p := range points {
			if p.X <= 1.5 {
				test.That(t, labels[i], test.ShouldEqual, 1)
			} else {
				test.That(t, labels[i], test.ShouldEqual, 2)
			}
		}
	})
}

func TestRayLengthLimits(t *testing.T) {
	li := newTestIntegrator(t, DefaultIntegratorConfig())
	frame := &pointcloud.Frame{
		Pose:   spatialmath.NewZeroPose(),
		Points: []r3.Vector{{Y: 1.05}, {Y: 6.05}, {Y: 0.05}},
		Labels: []uint32{1, 2, 3},
	}
	stats, err := li.IntegratePointCloud(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Skipped, test.ShouldEqual, 2)
	test.That(t, stats.Integrated, test.ShouldEqual, 1)
	test.That(t, stats.NewLabels, test.ShouldEqual, 1)
	test.That(t, stats.VoxelUpdates, test.ShouldEqual, 1)
	test.That(t, li.ComputePointCloudLabel(nil, frame.Points), test.ShouldResemble, []uint32{1, UnknownLabel, UnknownLabel})
	test.That(t, li.Grid().NumBlocks(), test.ShouldEqual, 1)
}

func TestMergeOnSharedEvidence(t *testing.T) {
	va := r3.Vector{X: 0.55, Y: 0.55, Z: 0.55}
	vb := r3.Vector{X: 0.55, Y: 0.75, Z: 0.55}
	// the first frame labels va and vb as separate segments
	first := &pointcloud.Frame{
		Pose:   spatialmath.NewZeroPose(),
		Points: []r3.Vector{va, va, va, vb, vb, vb, vb},
		Labels: []uint32{4, 4, 4, 5, 5, 5, 5},
	}
	// the second sees both as one segment, which overlaps vb the most
	second := &pointcloud.Frame{
		Pose:   spatialmath.NewZeroPose(),
		Points: []r3.Vector{va, va, va, vb, vb, vb, vb},
		Labels: []uint32{6, 6, 6, 6, 6, 6, 6},
	}
	counts := func(li *Integrator, p r3.Vector) map[uint32]uint32 {
		var v Voxel
		li.Grid().ViewVoxel(li.Grid().GlobalIndexFor(p), func(got *Voxel) { v = got.Clone() })
		return v.Counts
	}

	t.Run("below threshold", func(t *testing.T) {
		li := newTestIntegrator(t, DefaultIntegratorConfig())
		stats, err := li.IntegratePointCloud(context.Background(), first)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, stats.NewLabels, test.ShouldEqual, 2)
		stats, err = li.IntegratePointCloud(context.Background(), second)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, stats.NewLabels, test.ShouldEqual, 0)
		test.That(t, stats.Merges, test.ShouldEqual, 0)

		test.That(t, li.Registry().Find(2), test.ShouldEqual, 2)
		test.That(t, counts(li, va), test.ShouldResemble, map[uint32]uint32{1: 3, 2: 3})
		test.That(t, counts(li, vb), test.ShouldResemble, map[uint32]uint32{2: 8})
		// ties go to the lower id
		test.That(t, li.ComputePointCloudLabel(nil, []r3.Vector{va, vb}), test.ShouldResemble, []uint32{1, 2})
	})

	t.Run("at threshold", func(t *testing.T) {
		cfg := DefaultIntegratorConfig()
		cfg.MergeEvidenceThreshold = 2
		cfg.Workers = 1
		li := newTestIntegrator(t, cfg)
		_, err := li.IntegratePointCloud(context.Background(), first)
		test.That(t, err, test.ShouldBeNil)
		stats, err := li.IntegratePointCloud(context.Background(), second)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, stats.NewLabels, test.ShouldEqual, 0)
		test.That(t, stats.Merges, test.ShouldEqual, 1)
		test.That(t, li.Registry().Find(2), test.ShouldEqual, 1)

		test.That(t, counts(li, va), test.ShouldResemble, map[uint32]uint32{1: 6})
		test.That(t, counts(li, vb), test.ShouldResemble, map[uint32]uint32{1: 8})
	})
}

func TestMergesResolveTransitively(t *testing.T) {
	li := newTestIntegrator(t, DefaultIntegratorConfig())
	points := []r3.Vector{{X: 0.05, Y: 1.05}, {X: 0.55, Y: 1.05}, {X: 1.05, Y: 1.05}}
	_, err := li.IntegratePointCloud(context.Background(), &pointcloud.Frame{
		Pose:   spatialmath.NewZeroPose(),
		Points: points,
		Labels: []uint32{30, 20, 10},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, li.ComputePointCloudLabel(nil, points), test.ShouldResemble, []uint32{1, 2, 3})

	_, err = li.Registry().Merge(3, 2)
	test.That(t, err, test.ShouldBeNil)
	_, err = li.Registry().Merge(2, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, li.ComputePointCloudLabel(nil, points), test.ShouldResemble, []uint32{1, 1, 1})
	test.That(t, li.ComputeSegmentLabel(nil, points[2:]), test.ShouldEqual, 1)
}

func TestLabelBand(t *testing.T) {
	cfg := DefaultIntegratorConfig()
	cfg.LabelBand = 0.2
	li := newTestIntegrator(t, cfg)
	frame := &pointcloud.Frame{
		Pose:   spatialmath.NewPoseFromPoint(r3.Vector{X: 0.05, Y: 0.05, Z: 0.05}),
		Points: []r3.Vector{{Y: 1}},
		Labels: []uint32{1},
	}
	stats, err := li.IntegratePointCloud(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.VoxelUpdates, test.ShouldEqual, 5)
	for y := int64(8); y <= 12; y++ {
		var v Voxel
		found := li.Grid().ViewVoxel(voxel.GlobalIndex{Y: y}, func(got *Voxel) { v = got.Clone() })
		test.That(t, found, test.ShouldBeTrue)
		test.That(t, v.Total(), test.ShouldEqual, 1)
	}
	var v Voxel
	li.Grid().ViewVoxel(voxel.GlobalIndex{Y: 7}, func(got *Voxel) { v = got.Clone() })
	test.That(t, v.Empty(), test.ShouldBeTrue)
}

func TestSegmentLabelInUnseenSpace(t *testing.T) {
	li := newTestIntegrator(t, DefaultIntegratorConfig())
	_, err := li.IntegratePointCloud(context.Background(), planeFrame(func(r3.Vector) uint32 { return 5 }))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, li.ComputeSegmentLabel(nil, planePoints(0)[:10]), test.ShouldEqual, 1)

	id := li.ComputeSegmentLabel(nil, planePoints(2.5))
	test.That(t, id, test.ShouldEqual, 2)
	test.That(t, li.Registry().Highest(), test.ShouldEqual, 2)
	test.That(t, li.ComputeSegmentLabel(nil, nil), test.ShouldEqual, 3)
}

func TestRejectedFrames(t *testing.T) {
	li := newTestIntegrator(t, DefaultIntegratorConfig())
	_, err := li.IntegratePointCloud(context.Background(), &pointcloud.Frame{
		Pose:   spatialmath.NewZeroPose(),
		Points: []r3.Vector{{Y: 1}},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no labels")

	_, err = li.IntegratePointCloud(context.Background(), &pointcloud.Frame{
		Pose:   spatialmath.NewZeroPose(),
		Points: []r3.Vector{{Y: 1}, {Y: 2}},
		Labels: []uint32{1},
	})
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = li.IntegratePointCloud(ctx, planeFrame(func(r3.Vector) uint32 { return 1 }))
	test.That(t, err, test.ShouldEqual, context.Canceled)

	test.That(t, li.Grid().NumBlocks(), test.ShouldEqual, 0)
	test.That(t, li.Registry().Highest(), test.ShouldEqual, UnknownLabel)
}
