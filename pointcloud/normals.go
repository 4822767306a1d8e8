package pointcloud

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/corrgroup/utils"
)

// DefaultNormalK is the neighbourhood size used for normal estimation.
const DefaultNormalK = 10

// InvalidNormal marks a point whose normal could not be estimated.
var InvalidNormal = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}

// IsValidNormal reports whether n is a usable normal.
func IsValidNormal(n r3.Vector) bool {
	return IsFinite(n) && n.Norm2() > 0
}

// EstimateNormals computes a unit normal for every point of the indexed cloud from the k
// nearest finite points (the point included). The normal is the direction of least variance,
// oriented so it faces viewpoint. Non-finite points and points with fewer than 3 neighbours get
// InvalidNormal. The result is indexed like the cloud.
func EstimateNormals(ctx context.Context, idx *Index, k int, viewpoint r3.Vector) ([]r3.Vector, error) {
	cloud := idx.Cloud()
	normals := make([]r3.Vector, cloud.Size())
	err := utils.ParallelForEach(ctx, cloud.Size(), func(i int) {
		p, _ := cloud.At(i)
		if !IsFinite(p) {
			normals[i] = InvalidNormal
			return
		}
		hits := idx.NearestK(p, k)
		if len(hits) < 3 {
			normals[i] = InvalidNormal
			return
		}
		pts := make([]r3.Vector, len(hits))
		for j, hit := range hits {
			pts[j], _ = cloud.At(hit.Index)
		}
		n, ok := PlaneNormal(pts)
		if !ok {
			normals[i] = InvalidNormal
			return
		}
		if n.Dot(viewpoint.Sub(p)) < 0 {
			n = n.Mul(-1)
		}
		normals[i] = n
	})
	if err != nil {
		return nil, err
	}
	return normals, nil
}

// PlaneNormal returns the unit eigenvector of the smallest eigenvalue of the covariance of pts.
func PlaneNormal(pts []r3.Vector) (r3.Vector, bool) {
	var centroid r3.Vector
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))

	cov := mat.NewSymDense(3, nil)
	for _, p := range pts {
		d := p.Sub(centroid)
		v := [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := r; c < 3; c++ {
				cov.SetSym(r, c, cov.At(r, c)+v[r]*v[c])
			}
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return r3.Vector{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues are ascending.
	n := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	if !IsFinite(n) || n.Norm() == 0 {
		return r3.Vector{}, false
	}
	return n.Normalize(), true
}
