// Package search provides nearest neighbour queries over fixed dimension float vectors. It backs
// both point lookups in 3D and descriptor lookups in feature space.
package search

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Neighbor is a search hit: the index of the point in the indexed set and its squared
// Euclidean distance to the query.
type Neighbor struct {
	Index  int
	SqDist float64
}

// Index answers nearest neighbour queries. Results are ordered by ascending squared distance,
// then ascending index.
type Index interface {
	// Len is the number of indexed points.
	Len() int
	// Dims is the dimension of every indexed point.
	Dims() int
	// NearestK returns up to k nearest points.
	NearestK(query []float64, k int) []Neighbor
	// WithinRadius returns every point whose distance to the query is at most radius.
	WithinRadius(query []float64, radius float64) []Neighbor
}

// Builder constructs an Index over points. points[i] is reported as Neighbor.Index i.
type Builder func(points [][]float64) (Index, error)

// ErrDimensionMismatch is returned when indexed points do not share a dimension.
var ErrDimensionMismatch = errors.New("points have mismatched dimensions")

// Vec converts a 3D point to the slice form used by the index.
func Vec(p r3.Vector) []float64 {
	return []float64{p.X, p.Y, p.Z}
}

// SqDist is the squared Euclidean distance between a and b, which must have the same length.
func SqDist(a, b []float64) float64 {
	var sum float64
	for i, v := range a {
		d := v - b[i]
		sum += d * d
	}
	return sum
}

func checkPoints(points [][]float64) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	dims := len(points[0])
	for i, p := range points {
		if len(p) != dims {
			return 0, errors.Wrapf(ErrDimensionMismatch, "point %d has %d dims, want %d", i, len(p), dims)
		}
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, errors.Errorf("point %d is not finite", i)
			}
		}
	}
	return dims, nil
}

func sortNeighbors(neighbors []Neighbor) {
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].SqDist != neighbors[j].SqDist {
			return neighbors[i].SqDist < neighbors[j].SqDist
		}
		return neighbors[i].Index < neighbors[j].Index
	})
}
