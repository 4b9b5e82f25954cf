package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func vecAlmostEqual(t *testing.T, a, b r3.Vector) {
	t.Helper()
	test.That(t, a.X, test.ShouldAlmostEqual, b.X)
	test.That(t, a.Y, test.ShouldAlmostEqual, b.Y)
	test.That(t, a.Z, test.ShouldAlmostEqual, b.Z)
}

func TestPoseTransform(t *testing.T) {
	zero := NewZeroPose()
	p := r3.Vector{X: 1, Y: 2, Z: 3}
	test.That(t, zero.Transform(p), test.ShouldResemble, p)

	translate := NewPoseFromPoint(r3.Vector{X: -1, Y: 0, Z: 0.5})
	vecAlmostEqual(t, translate.Transform(p), r3.Vector{X: 0, Y: 2, Z: 3.5})

	// 90 degrees about +Z sends +X to +Y
	yaw := NewPose(r3.Vector{Z: 1}, &R4AA{Theta: math.Pi / 2, RZ: 1})
	vecAlmostEqual(t, yaw.Transform(r3.Vector{X: 1}), r3.Vector{Y: 1, Z: 1})
	vecAlmostEqual(t, yaw.Point(), r3.Vector{Z: 1})

	test.That(t, PoseAlmostEqual(NewPose(r3.Vector{}, nil), zero), test.ShouldBeTrue)
}

func TestPoseComposeInverse(t *testing.T) {
	a := NewPose(r3.Vector{X: 1, Y: -2, Z: 0.25}, &R4AA{Theta: 0.7, RX: 1, RY: 1})
	b := NewPose(r3.Vector{X: -0.5, Y: 3, Z: 2}, &R4AA{Theta: -1.3, RZ: 1})
	p := r3.Vector{X: 0.3, Y: 0.1, Z: -4}

	vecAlmostEqual(t, Compose(a, b).Transform(p), a.Transform(b.Transform(p)))
	vecAlmostEqual(t, PoseInverse(a).Transform(a.Transform(p)), p)
	test.That(t, PoseAlmostEqual(Compose(a, PoseInverse(a)), NewZeroPose()), test.ShouldBeTrue)
}
