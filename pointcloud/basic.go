package pointcloud

import (
	"github.com/golang/geo/r3"
)

// BasicPointCloud is the slice backed implementation of PointCloud. Points are only ever
// appended, so indices are stable.
type BasicPointCloud struct {
	points []r3.Vector
	data   []Data
	meta   MetaData
}

// New returns an empty BasicPointCloud.
func New() *BasicPointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated BasicPointCloud.
func NewWithPrealloc(size int) *BasicPointCloud {
	return &BasicPointCloud{
		points: make([]r3.Vector, 0, size),
		data:   make([]Data, 0, size),
		meta:   NewMetaData(),
	}
}

// NewFromPoints returns a cloud holding pts in order, without data.
func NewFromPoints(pts []r3.Vector) *BasicPointCloud {
	cloud := NewWithPrealloc(len(pts))
	for _, p := range pts {
		cloud.Append(p, nil)
	}
	return cloud
}

// Append adds a point at index Size(). d may be nil.
func (cloud *BasicPointCloud) Append(p r3.Vector, d Data) {
	cloud.points = append(cloud.points, p)
	cloud.data = append(cloud.data, d)
	cloud.meta.Merge(p, d)
}

// Size returns the number of points.
func (cloud *BasicPointCloud) Size() int {
	return len(cloud.points)
}

// MetaData returns meta data.
func (cloud *BasicPointCloud) MetaData() MetaData {
	return cloud.meta
}

// At returns the point at index i.
func (cloud *BasicPointCloud) At(i int) (r3.Vector, Data) {
	return cloud.points[i], cloud.data[i]
}

// Iterate calls fn for each point in index order, optionally restricted to one batch.
func (cloud *BasicPointCloud) Iterate(numBatches, myBatch int, fn func(i int, p r3.Vector, d Data) bool) {
	from, to := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		from = myBatch * batchSize
		to = from + batchSize
		if to > len(cloud.points) {
			to = len(cloud.points)
		}
	}
	for i := from; i < to; i++ {
		if !fn(i, cloud.points[i], cloud.data[i]) {
			return
		}
	}
}
