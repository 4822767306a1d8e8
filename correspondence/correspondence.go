// Package correspondence pairs scene keypoints with model keypoints by descriptor similarity.
package correspondence

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/corrgroup/features"
	"go.viam.com/corrgroup/logging"
	"go.viam.com/corrgroup/search"
	"go.viam.com/corrgroup/utils"
)

// DefaultThreshold is the squared descriptor distance below which a match is accepted. It
// assumes unit norm descriptors.
const DefaultThreshold = 0.25

// Correspondence links model keypoint ModelIndex to scene keypoint SceneIndex. Distance is the
// squared descriptor distance.
type Correspondence struct {
	ModelIndex int
	SceneIndex int
	Distance   float64
}

// Matcher finds, for every valid scene descriptor, the nearest valid model descriptor.
type Matcher struct {
	Threshold float64
	// Builder constructs the descriptor index; the k-d tree when nil.
	Builder search.Builder
	logger  logging.Logger
}

// NewMatcher returns a Matcher using the k-d tree.
func NewMatcher(threshold float64, logger logging.Logger) *Matcher {
	return &Matcher{Threshold: threshold, Builder: search.KDTreeBuilder, logger: logger}
}

// Match returns one correspondence per scene keypoint whose nearest model descriptor is closer
// than Threshold, in ascending scene index order. Invalid descriptors on either side are
// ignored.
func (m *Matcher) Match(ctx context.Context, model, scene []features.Descriptor) ([]Correspondence, error) {
	builder := m.Builder
	if builder == nil {
		builder = search.KDTreeBuilder
	}

	modelSlots := make([]int, 0, len(model))
	vecs := make([][]float64, 0, len(model))
	for i, d := range model {
		if d.Valid() {
			modelSlots = append(modelSlots, i)
			vecs = append(vecs, d)
		}
	}
	index, err := builder(vecs)
	if err != nil {
		return nil, errors.Wrap(err, "cannot index model descriptors")
	}
	if index.Len() == 0 {
		m.debugf("no valid model descriptors among %d", len(model))
		return []Correspondence{}, nil
	}

	found := make([]*Correspondence, len(scene))
	if err := utils.ParallelForEach(ctx, len(scene), func(i int) {
		if !scene[i].Valid() || len(scene[i]) != index.Dims() {
			return
		}
		hits := index.NearestK(scene[i], 1)
		if len(hits) == 0 || !(hits[0].SqDist < m.Threshold) {
			return
		}
		found[i] = &Correspondence{ModelIndex: modelSlots[hits[0].Index], SceneIndex: i, Distance: hits[0].SqDist}
	}); err != nil {
		return nil, err
	}

	out := make([]Correspondence, 0, len(scene))
	for _, c := range found {
		if c != nil {
			out = append(out, *c)
		}
	}
	m.debugf("matched %d of %d scene descriptors against %d model descriptors", len(out), len(scene), index.Len())
	return out, nil
}

func (m *Matcher) debugf(template string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Debugf(template, args...)
	}
}
