package correspondence

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/corrgroup/features"
	"go.viam.com/corrgroup/logging"
	"go.viam.com/corrgroup/search"
)

func unitDescriptor(vals ...float64) features.Descriptor {
	d := features.Descriptor(vals)
	floats.Scale(1/floats.Norm(d, 2), d)
	return d
}

func randomDescriptors(rng *rand.Rand, n, dims int) []features.Descriptor {
	out := make([]features.Descriptor, n)
	for i := range out {
		vals := make([]float64, dims)
		for j := range vals {
			vals[j] = rng.Float64()
		}
		out[i] = unitDescriptor(vals...)
	}
	return out
}

// perturbed returns unit descriptors close to randomly chosen members of src.
func perturbed(rng *rand.Rand, src []features.Descriptor, n int, noise float64) []features.Descriptor {
	out := make([]features.Descriptor, n)
	for i := range out {
		base := src[rng.Intn(len(src))]
		vals := make([]float64, len(base))
		for j, v := range base {
			vals[j] = v + noise*(rng.Float64()-0.5)
		}
		out[i] = unitDescriptor(vals...)
	}
	return out
}

func TestMatchThreshold(t *testing.T) {
	logger := logging.NewTestLogger(t)
	model := []features.Descriptor{
		unitDescriptor(1, 0, 0),
		unitDescriptor(0, 1, 0),
	}
	scene := []features.Descriptor{
		unitDescriptor(0, 1, 0.1),
		unitDescriptor(0, 0, 1),
		unitDescriptor(1, 0.2, 0),
	}
	m := NewMatcher(DefaultThreshold, logger)
	corrs, err := m.Match(context.Background(), model, scene)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(corrs), test.ShouldEqual, 2)

	test.That(t, corrs[0].SceneIndex, test.ShouldEqual, 0)
	test.That(t, corrs[0].ModelIndex, test.ShouldEqual, 1)
	test.That(t, corrs[0].Distance, test.ShouldAlmostEqual, scene[0].SqDist(model[1]))
	test.That(t, corrs[1].SceneIndex, test.ShouldEqual, 2)
	test.That(t, corrs[1].ModelIndex, test.ShouldEqual, 0)

	t.Run("strict bound", func(t *testing.T) {
		d := search.SqDist(scene[0], model[1])
		m := NewMatcher(d, logger)
		corrs, err := m.Match(context.Background(), model, scene[:1])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, corrs, test.ShouldBeEmpty)
	})
}

func TestMatchSkipsInvalid(t *testing.T) {
	logger := logging.NewTestLogger(t)
	model := []features.Descriptor{
		features.InvalidDescriptor(3),
		unitDescriptor(0, 0, 1),
		unitDescriptor(1, 0, 0),
	}
	scene := []features.Descriptor{
		features.InvalidDescriptor(3),
		unitDescriptor(1, 0, 0),
		unitDescriptor(0.1, 0, 1),
	}
	corrs, err := NewMatcher(DefaultThreshold, logger).Match(context.Background(), model, scene)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corrs, test.ShouldResemble, []Correspondence{
		{ModelIndex: 2, SceneIndex: 1, Distance: 0},
		{ModelIndex: 1, SceneIndex: 2, Distance: search.SqDist(scene[2], model[1])},
	})

	t.Run("no valid model descriptors", func(t *testing.T) {
		corrs, err := NewMatcher(DefaultThreshold, logger).Match(
			context.Background(), model[:1], scene)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, corrs, test.ShouldBeEmpty)
	})

	t.Run("no scene descriptors", func(t *testing.T) {
		corrs, err := NewMatcher(DefaultThreshold, logger).Match(context.Background(), model, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, corrs, test.ShouldBeEmpty)
	})
}

func TestMatchIndicesInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	model := randomDescriptors(rng, 200, 16)
	scene := append(perturbed(rng, model, 100, 0.02), randomDescriptors(rng, 50, 16)...)
	corrs, err := NewMatcher(0.05, logging.NewTestLogger(t)).Match(context.Background(), model, scene)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corrs, test.ShouldNotBeEmpty)

	prev := -1
	for _, c := range corrs {
		test.That(t, c.ModelIndex, test.ShouldBeBetweenOrEqual, 0, len(model)-1)
		test.That(t, c.SceneIndex, test.ShouldBeGreaterThan, prev)
		test.That(t, c.Distance, test.ShouldBeLessThan, 0.05)
		prev = c.SceneIndex
	}
}

func TestMatchKDTreeAgreesWithBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	model := randomDescriptors(rng, 300, features.SHOTLength)
	scene := append(perturbed(rng, model, 60, 0.05), randomDescriptors(rng, 40, features.SHOTLength)...)
	logger := logging.NewTestLogger(t)

	tree := NewMatcher(0.5, logger)
	brute := NewMatcher(0.5, logger)
	brute.Builder = search.BruteForceBuilder

	fromTree, err := tree.Match(context.Background(), model, scene)
	test.That(t, err, test.ShouldBeNil)
	fromBrute, err := brute.Match(context.Background(), model, scene)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fromTree, test.ShouldNotBeEmpty)
	test.That(t, cmp.Diff(fromBrute, fromTree), test.ShouldBeEmpty)
}

func TestMatchCancelled(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMatcher(DefaultThreshold, logging.NewTestLogger(t)).Match(
		ctx, randomDescriptors(rng, 10, 4), randomDescriptors(rng, 10, 4))
	test.That(t, err, test.ShouldBeError, context.Canceled)
}
