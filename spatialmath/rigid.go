package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateRigidFit is returned when the point pairs do not determine a rotation.
var ErrDegenerateRigidFit = errors.New("point pairs do not determine a rigid transform")

// EstimateRigidTransform returns the least squares rigid transform mapping src[i] onto dst[i]
// (Kabsch). A reflection in the SVD solution is corrected so the result is a proper rotation.
// At least three pairs are required. Collinear input yields one of the valid rotations.
func EstimateRigidTransform(src, dst []r3.Vector) (Pose, error) {
	if len(src) != len(dst) {
		return Pose{}, errors.Errorf("mismatched point counts %d and %d", len(src), len(dst))
	}
	if len(src) < 3 {
		return Pose{}, errors.Wrapf(ErrDegenerateRigidFit, "need at least 3 pairs, have %d", len(src))
	}

	srcCentroid := centroid(src)
	dstCentroid := centroid(dst)

	// H = sum (s - cs)(d - cd)^T
	cov := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(srcCentroid)
		d := dst[i].Sub(dstCentroid)
		sv := [3]float64{s.X, s.Y, s.Z}
		dv := [3]float64{d.X, d.Y, d.Z}
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				cov.Set(row, col, cov.At(row, col)+sv[row]*dv[col])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return Pose{}, errors.Wrap(ErrDegenerateRigidFit, "svd failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * diag(1, 1, sign(det(V U^T))) * U^T
	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1
	}
	diag := mat.NewDiagDense(3, []float64{1, 1, d})
	var vd, rot mat.Dense
	vd.Mul(&v, diag)
	rot.Mul(&vd, u.T())

	rm := NewRotationMatrixFromMat(&rot)
	if !rm.IsFinite() {
		return Pose{}, ErrDegenerateRigidFit
	}
	return Pose{Rotation: rm, Translation: dstCentroid.Sub(rm.MulVec(srcCentroid))}, nil
}

func centroid(pts []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range pts {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(pts)))
}
