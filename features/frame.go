package features

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/corrgroup/pointcloud"
	"go.viam.com/corrgroup/spatialmath"
	"go.viam.com/corrgroup/utils"
)

// DefaultMinNeighbors is the smallest support for which a frame is computed.
const DefaultMinNeighbors = 5

// ReferenceFrame is an orthonormal right handed basis attached to a keypoint. X, Y and Z are the
// rows of the rotation from cloud coordinates into the local frame.
type ReferenceFrame struct {
	X, Y, Z r3.Vector
	Valid   bool
}

// InvalidFrame is returned where no repeatable frame exists.
var InvalidFrame = ReferenceFrame{}

// Rotation returns the frame as a rotation matrix with rows X, Y, Z.
func (f ReferenceFrame) Rotation() *spatialmath.RotationMatrix {
	return spatialmath.NewRotationMatrixFromRows(f.X, f.Y, f.Z)
}

// ToLocal expresses a cloud space direction in frame coordinates.
func (f ReferenceFrame) ToLocal(v r3.Vector) r3.Vector {
	return r3.Vector{X: v.Dot(f.X), Y: v.Dot(f.Y), Z: v.Dot(f.Z)}
}

// FromLocal maps frame coordinates back to a cloud space direction.
func (f ReferenceFrame) FromLocal(l r3.Vector) r3.Vector {
	return f.X.Mul(l.X).Add(f.Y.Mul(l.Y)).Add(f.Z.Mul(l.Z))
}

// Pose returns the transform from frame coordinates centred on origin to cloud coordinates.
func (f ReferenceFrame) Pose(origin r3.Vector) spatialmath.Pose {
	return spatialmath.NewPose(f.Rotation().Transpose(), origin)
}

// FrameEstimator computes local reference frames from the weighted scatter of neighbours within
// Radius.
type FrameEstimator struct {
	Radius       float64
	MinNeighbors int
}

// NewFrameEstimator returns an estimator with the default minimum support.
func NewFrameEstimator(radius float64) *FrameEstimator {
	return &FrameEstimator{Radius: radius, MinNeighbors: DefaultMinNeighbors}
}

// Compute returns one frame per keypoint of the surface, in keypoint order.
func (fe *FrameEstimator) Compute(ctx context.Context, surface *Surface) ([]ReferenceFrame, error) {
	frames := make([]ReferenceFrame, surface.Keypoints.Len())
	if err := utils.ParallelForEach(ctx, len(frames), func(i int) {
		frames[i] = fe.frameFor(surface.neighborhood(i, fe.Radius))
	}); err != nil {
		return nil, err
	}
	return frames, nil
}

// ComputeOne returns the frame of a single keypoint.
func (fe *FrameEstimator) ComputeOne(surface *Surface, keypoint int) ReferenceFrame {
	return fe.frameFor(surface.neighborhood(keypoint, fe.Radius))
}

// frameFor derives the frame. Z is the keypoint normal and X the dominant direction of the
// tangent plane scatter, each with the sign signVote picks from the neighbour offsets.
func (fe *FrameEstimator) frameFor(nb neighborhood) ReferenceFrame {
	minNeighbors := fe.MinNeighbors
	if minNeighbors <= 0 {
		minNeighbors = DefaultMinNeighbors
	}
	if !pointcloud.IsValidNormal(nb.normal) || len(nb.offsets) < minNeighbors {
		return InvalidFrame
	}
	weights := make([]float64, len(nb.offsets))
	var totalWeight float64
	for i, d := range nb.dists {
		weights[i] = fe.Radius - d
		totalWeight += weights[i]
	}
	if totalWeight <= 0 {
		return InvalidFrame
	}

	z := nb.normal.Normalize()
	sign := signVote(nb.offsets, weights, z)
	if sign == 0 {
		return InvalidFrame
	}
	z = z.Mul(sign)

	scatter := mat.NewSymDense(3, nil)
	for i, o := range nb.offsets {
		tangent := o.Sub(z.Mul(o.Dot(z)))
		v := [3]float64{tangent.X, tangent.Y, tangent.Z}
		w := weights[i] / totalWeight
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				scatter.SetSym(r, c, scatter.At(r, c)+w*v[r]*v[c])
			}
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(scatter, true); !ok {
		return InvalidFrame
	}
	// Ascending eigenvalues; the scatter is relative to Radius so the cutoff is scale free.
	if eig.Values(nil)[2] <= 1e-12*fe.Radius*fe.Radius {
		return InvalidFrame
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	x := r3.Vector{X: vecs.At(0, 2), Y: vecs.At(1, 2), Z: vecs.At(2, 2)}
	x = x.Sub(z.Mul(x.Dot(z)))
	if x.Norm() < 1e-9 {
		return InvalidFrame
	}
	x = x.Normalize()
	sign = signVote(nb.offsets, weights, x)
	if sign == 0 {
		return InvalidFrame
	}
	x = x.Mul(sign)

	return ReferenceFrame{X: x, Y: z.Cross(x), Z: z, Valid: true}
}

// signVote returns +1 or -1 for the side of axis the offsets favour. The count of offsets on each
// side decides when its lead exceeds the square root of the number counted; a closer count is
// settled by the sign of the weighted sum of projections. 0 means the sign is undetermined.
func signVote(offsets []r3.Vector, weights []float64, axis r3.Vector) float64 {
	var pos, neg int
	var weighted float64
	for i, o := range offsets {
		proj := o.Dot(axis)
		switch {
		case proj > 0:
			pos++
		case proj < 0:
			neg++
		}
		weighted += weights[i] * proj
	}
	if lead := pos - neg; math.Abs(float64(lead)) > math.Sqrt(float64(pos+neg)) {
		if lead > 0 {
			return 1
		}
		return -1
	}
	switch {
	case weighted > 0:
		return 1
	case weighted < 0:
		return -1
	}
	return 0
}
