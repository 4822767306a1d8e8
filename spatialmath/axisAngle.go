package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// R4AA represents a rotation of Theta radians about the axis (RX, RY, RZ).
// See: https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA creates the zero rotation about +Z.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// NewRotationFromAxisAngle returns the rotation of theta radians about axis.
func NewRotationFromAxisAngle(axis r3.Vector, theta float64) (*RotationMatrix, error) {
	r4 := &R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
	if err := r4.Normalize(); err != nil {
		return nil, err
	}
	return r4.RotationMatrix(), nil
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (r4 *R4AA) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(r4.ToQuat())
}

// ToR3 converts an R4 angle axis to R3.
func (r4 *R4AA) ToR3() r3.Vector {
	return r3.Vector{X: r4.RX * r4.Theta, Y: r4.RY * r4.Theta, Z: r4.RZ * r4.Theta}
}

// ToQuat converts an R4 axis angle to a unit quaternion. The axis must already be normalized.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/angleToQuaternion/index.htm
func (r4 *R4AA) ToQuat() quat.Number {
	sinA := math.Sin(r4.Theta / 2)
	return quat.Number{
		Real: math.Cos(r4.Theta / 2),
		Imag: r4.RX * sinA,
		Jmag: r4.RY * sinA,
		Kmag: r4.RZ * sinA,
	}
}

// Normalize scales the x, y, and z components of a R4 axis angle to be on the unit sphere.
func (r4 *R4AA) Normalize() error {
	norm := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	if norm == 0.0 {
		return errors.New("cannot normalize R4AA with a zero length axis")
	}
	r4.RX /= norm
	r4.RY /= norm
	r4.RZ /= norm
	return nil
}

// QuatToR4AA converts a unit quaternion to axis angle form with Theta in [0, pi].
func QuatToR4AA(q quat.Number) *R4AA {
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	sinHalf := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if sinHalf < 1e-12 {
		return NewR4AA()
	}
	theta := 2 * math.Atan2(sinHalf, q.Real)
	return &R4AA{Theta: theta, RX: q.Imag / sinHalf, RY: q.Jmag / sinHalf, RZ: q.Kmag / sinHalf}
}
