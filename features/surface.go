// Package features computes per keypoint local reference frames and local shape descriptors.
package features

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/corrgroup/pointcloud"
)

// Surface bundles the inputs shared by frame and descriptor computation: a cloud, its
// neighbour index, one normal per cloud point, and the keypoints to describe.
type Surface struct {
	Index     *pointcloud.Index
	Normals   []r3.Vector
	Keypoints *pointcloud.Keypoints
}

// NewSurface checks that normals and keypoints belong to the indexed cloud.
func NewSurface(index *pointcloud.Index, normals []r3.Vector, keypoints *pointcloud.Keypoints) (*Surface, error) {
	cloud := index.Cloud()
	if len(normals) != cloud.Size() {
		return nil, errors.Errorf("have %d normals for a cloud of %d points", len(normals), cloud.Size())
	}
	if keypoints.Parent != cloud {
		return nil, errors.New("keypoints do not belong to the indexed cloud")
	}
	return &Surface{Index: index, Normals: normals, Keypoints: keypoints}, nil
}

// neighborhood is the support of one keypoint: every other finite point within radius.
type neighborhood struct {
	center  r3.Vector
	normal  r3.Vector
	offsets []r3.Vector
	dists   []float64
	indices []int
}

func (s *Surface) neighborhood(keypoint int, radius float64) neighborhood {
	cloudIdx := s.Keypoints.Indices[keypoint]
	center, _ := s.Index.Cloud().At(cloudIdx)
	nb := neighborhood{center: center, normal: s.Normals[cloudIdx]}
	if !pointcloud.IsFinite(center) {
		return nb
	}
	for _, hit := range s.Index.WithinRadius(center, radius) {
		if hit.Index == cloudIdx {
			continue
		}
		q, _ := s.Index.Cloud().At(hit.Index)
		nb.offsets = append(nb.offsets, q.Sub(center))
		nb.dists = append(nb.dists, q.Sub(center).Norm())
		nb.indices = append(nb.indices, hit.Index)
	}
	return nb
}
