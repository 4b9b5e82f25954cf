package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation. Sensor frames carry the pose of
// the sensor in the map frame.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
	// Transform maps a point expressed in the pose's frame into the parent frame.
	Transform(p r3.Vector) r3.Vector
}

type pose struct {
	point r3.Vector
	q     quat.Number
}

// NewPose builds a pose from a translation and an orientation. A nil orientation means no rotation.
func NewPose(point r3.Vector, o Orientation) Pose {
	if o == nil {
		return NewPoseFromPoint(point)
	}
	return &pose{point: point, q: Normalize(o.Quaternion())}
}

// NewPoseFromPoint builds a pure translation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return &pose{point: point, q: quat.Number{Real: 1}}
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return NewPoseFromPoint(r3.Vector{})
}

func (p *pose) Point() r3.Vector {
	return p.point
}

func (p *pose) Orientation() Orientation {
	q := Quaternion(p.q)
	return &q
}

func (p *pose) Transform(v r3.Vector) r3.Vector {
	return rotate(p.q, v).Add(p.point)
}

func (p *pose) String() string {
	aa := QuatToR4AA(p.q)
	return fmt.Sprintf("{X:%.3f Y:%.3f Z:%.3f Theta:%.3f RX:%.3f RY:%.3f RZ:%.3f}",
		p.point.X, p.point.Y, p.point.Z, aa.Theta, aa.RX, aa.RY, aa.RZ)
}

// rotate applies the unit quaternion q to v (q v q*).
func rotate(q quat.Number, v r3.Vector) r3.Vector {
	r := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Compose returns the pose equivalent to applying b and then a, i.e. Compose(a, b).Transform(p) ==
// a.Transform(b.Transform(p)).
func Compose(a, b Pose) Pose {
	qa := Normalize(a.Orientation().Quaternion())
	qb := Normalize(b.Orientation().Quaternion())
	return &pose{
		point: rotate(qa, b.Point()).Add(a.Point()),
		q:     Normalize(quat.Mul(qa, qb)),
	}
}

// PoseInverse returns the pose that undoes p.
func PoseInverse(p Pose) Pose {
	qInv := quat.Conj(Normalize(p.Orientation().Quaternion()))
	return &pose{
		point: rotate(qInv, p.Point()).Mul(-1),
		q:     qInv,
	}
}

// PoseAlmostEqual reports whether two poses agree within a small tolerance.
func PoseAlmostEqual(a, b Pose) bool {
	return a.Point().Sub(b.Point()).Norm() < 1e-8 && OrientationAlmostEqual(a.Orientation(), b.Orientation())
}
