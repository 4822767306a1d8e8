package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"
)

// EstimateResolution returns the mean distance from each finite point to its nearest other
// point. Points without a neighbour are not counted. It returns 0 when no point has a
// neighbour.
func EstimateResolution(idx *Index) float64 {
	cloud := idx.Cloud()
	dists := make([]float64, 0, idx.Len())
	cloud.Iterate(0, 0, func(i int, p r3.Vector, _ Data) bool {
		if !IsFinite(p) {
			return true
		}
		// The point itself is the first hit.
		for _, hit := range idx.NearestK(p, 2) {
			if hit.Index != i {
				dists = append(dists, math.Sqrt(hit.SqDist))
				break
			}
		}
		return true
	})
	if len(dists) == 0 {
		return 0
	}
	return stat.Mean(dists, nil)
}
