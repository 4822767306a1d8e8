package pointcloud

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Keypoints is an ordered subset of a parent cloud. Keypoint i is Parent point Indices[i].
type Keypoints struct {
	Parent  PointCloud
	Indices []int
}

// NewKeypoints validates indices against the parent cloud.
func NewKeypoints(parent PointCloud, indices []int) (*Keypoints, error) {
	for i, idx := range indices {
		if idx < 0 || idx >= parent.Size() {
			return nil, errors.Errorf("keypoint %d refers to index %d outside cloud of size %d", i, idx, parent.Size())
		}
	}
	return &Keypoints{Parent: parent, Indices: indices}, nil
}

// Len returns the number of keypoints.
func (kp *Keypoints) Len() int {
	return len(kp.Indices)
}

// Point returns the position of keypoint i.
func (kp *Keypoints) Point(i int) r3.Vector {
	p, _ := kp.Parent.At(kp.Indices[i])
	return p
}

// Points returns the positions of all keypoints.
func (kp *Keypoints) Points() []r3.Vector {
	out := make([]r3.Vector, kp.Len())
	for i := range out {
		out[i] = kp.Point(i)
	}
	return out
}

// Cloud returns the keypoints as a standalone cloud, keeping their data.
func (kp *Keypoints) Cloud() PointCloud {
	out := NewWithPrealloc(kp.Len())
	for _, idx := range kp.Indices {
		out.Append(kp.Parent.At(idx))
	}
	return out
}

// UniformSample keeps one finite point per voxel of edge radius: the point nearest the voxel
// center, the lower index on ties. Keypoints are ordered by cloud index. A non-positive radius
// keeps every finite point.
func UniformSample(cloud PointCloud, radius float64) *Keypoints {
	if radius <= 0 {
		return &Keypoints{Parent: cloud, Indices: FiniteIndices(cloud)}
	}
	grid := NewVoxelGridFromPointCloud(cloud, radius)
	indices := make([]int, 0, len(grid.Voxels))
	for _, key := range grid.SortedKeys() {
		vox := grid.GetVoxelFromKey(key)
		best := -1
		bestDist := 0.0
		for _, idx := range vox.Indices {
			p, _ := cloud.At(idx)
			d := p.Sub(vox.Center).Norm2()
			if best < 0 || d < bestDist || (d == bestDist && idx < best) {
				best, bestDist = idx, d
			}
		}
		indices = append(indices, best)
	}
	sort.Ints(indices)
	return &Keypoints{Parent: cloud, Indices: indices}
}
