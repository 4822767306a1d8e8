package pointcloud

import (
	"github.com/golang/geo/r3"

	"go.viam.com/corrgroup/search"
)

// Index answers neighbour queries over the finite points of a cloud. Neighbor.Index values are
// cloud indices.
type Index struct {
	cloud   PointCloud
	finite  []int
	backing search.Index
}

// NewIndex builds a neighbour index over the finite points of cloud. A nil builder uses the k-d
// tree.
func NewIndex(cloud PointCloud, builder search.Builder) (*Index, error) {
	if builder == nil {
		builder = search.KDTreeBuilder
	}
	finite := FiniteIndices(cloud)
	vecs := make([][]float64, len(finite))
	for i, idx := range finite {
		p, _ := cloud.At(idx)
		vecs[i] = search.Vec(p)
	}
	backing, err := builder(vecs)
	if err != nil {
		return nil, err
	}
	return &Index{cloud: cloud, finite: finite, backing: backing}, nil
}

// Cloud returns the indexed cloud.
func (idx *Index) Cloud() PointCloud {
	return idx.cloud
}

// Len returns the number of indexed (finite) points.
func (idx *Index) Len() int {
	return len(idx.finite)
}

// NearestK returns up to k nearest finite points to q.
func (idx *Index) NearestK(q r3.Vector, k int) []search.Neighbor {
	return idx.remap(idx.backing.NearestK(search.Vec(q), k))
}

// WithinRadius returns the finite points within radius of q.
func (idx *Index) WithinRadius(q r3.Vector, radius float64) []search.Neighbor {
	return idx.remap(idx.backing.WithinRadius(search.Vec(q), radius))
}

func (idx *Index) remap(hits []search.Neighbor) []search.Neighbor {
	for i := range hits {
		hits[i].Index = idx.finite[hits[i].Index]
	}
	return hits
}
