// Package pointcloud defines an indexed point cloud and the surface preprocessing used ahead of
// recognition: file loading, resolution estimation, normal estimation and keypoint sampling.
//
// Clouds keep the order and the non-finite entries of their source so that a point index always
// refers to the same entry of the file it came from.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud. Bounds only cover finite points.
type MetaData struct {
	HasColor bool
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	// FiniteCount is the number of points with finite coordinates.
	FiniteCount int
}

// PointCloud is an immutable, indexed container of points.
type PointCloud interface {
	// Size returns the number of points in the cloud, including non-finite ones.
	Size() int

	// MetaData returns meta data.
	MetaData() MetaData

	// At returns the point at index i and its data, which may be nil.
	At(i int) (r3.Vector, Data)

	// Iterate calls fn for each point in index order until fn returns false.
	// numBatches lets you divide up the work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want.
	Iterate(numBatches, myBatch int, fn func(i int, p r3.Vector, d Data) bool)
}

// NewMetaData creates a new MetaData with bounds ready to be merged into.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new point. Non-finite points do not affect bounds.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasValue() {
			meta.HasValue = true
		}
	}
	if !IsFinite(v) {
		return
	}
	meta.FiniteCount++

	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
}

// Min returns the minimum corner of the finite bounds.
func (meta MetaData) Min() r3.Vector {
	return r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}
}

// Max returns the maximum corner of the finite bounds.
func (meta MetaData) Max() r3.Vector {
	return r3.Vector{X: meta.MaxX, Y: meta.MaxY, Z: meta.MaxZ}
}

// IsFinite reports whether every coordinate of v is finite.
func IsFinite(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

// Points returns all points of the cloud in index order.
func Points(cloud PointCloud) []r3.Vector {
	out := make([]r3.Vector, 0, cloud.Size())
	cloud.Iterate(0, 0, func(_ int, p r3.Vector, _ Data) bool {
		out = append(out, p)
		return true
	})
	return out
}

// FiniteIndices returns the indices of every finite point in ascending order.
func FiniteIndices(cloud PointCloud) []int {
	out := make([]int, 0, cloud.MetaData().FiniteCount)
	cloud.Iterate(0, 0, func(i int, p r3.Vector, _ Data) bool {
		if IsFinite(p) {
			out = append(out, i)
		}
		return true
	})
	return out
}

// Centroid returns the mean of the finite points, and false if there are none.
func Centroid(cloud PointCloud) (r3.Vector, bool) {
	var sum r3.Vector
	var n int
	cloud.Iterate(0, 0, func(_ int, p r3.Vector, _ Data) bool {
		if IsFinite(p) {
			sum = sum.Add(p)
			n++
		}
		return true
	})
	if n == 0 {
		return r3.Vector{}, false
	}
	return sum.Mul(1 / float64(n)), true
}

// Transform returns a copy of the cloud with fn applied to every finite point. Non-finite points
// and data are carried over unchanged.
func Transform(cloud PointCloud, fn func(r3.Vector) r3.Vector) PointCloud {
	out := NewWithPrealloc(cloud.Size())
	cloud.Iterate(0, 0, func(_ int, p r3.Vector, d Data) bool {
		if IsFinite(p) {
			p = fn(p)
		}
		out.Append(p, d)
		return true
	})
	return out
}
