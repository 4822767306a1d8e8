package grouping

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/corrgroup/correspondence"
	"go.viam.com/corrgroup/features"
	"go.viam.com/corrgroup/logging"
	"go.viam.com/corrgroup/pointcloud"
	"go.viam.com/corrgroup/spatialmath"
	"go.viam.com/corrgroup/utils"
)

var identityFrame = features.ReferenceFrame{
	X: r3.Vector{X: 1}, Y: r3.Vector{Y: 1}, Z: r3.Vector{Z: 1}, Valid: true,
}

// boxKeypoints has an exact integer centroid of (2, 2, 2).
var boxKeypoints = []r3.Vector{
	{}, {X: 6}, {Y: 6}, {Z: 6}, {X: 6, Y: 6}, {Z: 6},
}

func identityFrames(n int) []features.ReferenceFrame {
	frames := make([]features.ReferenceFrame, n)
	for i := range frames {
		frames[i] = identityFrame
	}
	return frames
}

func oneToOne(n int) []correspondence.Correspondence {
	corrs := make([]correspondence.Correspondence, n)
	for i := range corrs {
		corrs[i] = correspondence.Correspondence{ModelIndex: i, SceneIndex: i}
	}
	return corrs
}

func newGrouper(t *testing.T, cfg Config) *Hough3DGrouper {
	t.Helper()
	g, err := NewHough3DGrouper(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return g
}

func TestNewHough3DGrouperValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewHough3DGrouper(Config{BinSize: 0, Threshold: 5}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewHough3DGrouper(Config{BinSize: 1, Threshold: -1}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	g, err := NewHough3DGrouper(DefaultConfig(2, 5), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Config().UseInterpolation, test.ShouldBeTrue)
	test.That(t, g.Config().UseDistanceWeight, test.ShouldBeFalse)
}

func TestThresholdIsStrict(t *testing.T) {
	frames := identityFrames(len(boxKeypoints))
	for _, interpolate := range []bool{true, false} {
		cfg := Config{BinSize: 1, Threshold: 5, UseInterpolation: interpolate}
		g := newGrouper(t, cfg)

		clusters, err := g.Recognize(context.Background(), boxKeypoints, boxKeypoints, frames, frames, oneToOne(5))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, clusters, test.ShouldBeEmpty)

		clusters, err = g.Recognize(context.Background(), boxKeypoints, boxKeypoints, frames, frames, oneToOne(6))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(clusters), test.ShouldEqual, 1)
		test.That(t, clusters[0].Votes, test.ShouldEqual, 6)
		test.That(t, clusters[0].Bin, test.ShouldResemble, pointcloud.VoxelCoords{})
		test.That(t, clusters[0].Correspondences, test.ShouldResemble, oneToOne(6))
		test.That(t, spatialmath.PoseAlmostEqual(clusters[0].Pose, spatialmath.NewZeroPose(), 1e-9, 1e-9),
			test.ShouldBeTrue)
	}
}

func TestInvalidFramesDoNotVote(t *testing.T) {
	modelFrames := identityFrames(len(boxKeypoints))
	sceneFrames := identityFrames(len(boxKeypoints))
	modelFrames[2] = features.InvalidFrame

	g := newGrouper(t, DefaultConfig(1, 4))
	clusters, err := g.Recognize(context.Background(), boxKeypoints, boxKeypoints, modelFrames, sceneFrames, oneToOne(6))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(clusters), test.ShouldEqual, 1)
	test.That(t, clusters[0].Votes, test.ShouldEqual, 5)
	for _, c := range clusters[0].Correspondences {
		test.That(t, c.ModelIndex, test.ShouldNotEqual, 2)
	}

	sceneFrames[3] = features.InvalidFrame
	clusters, err = g.Recognize(context.Background(), boxKeypoints, boxKeypoints, modelFrames, sceneFrames, oneToOne(6))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters, test.ShouldBeEmpty)
}

func TestDistanceWeight(t *testing.T) {
	frames := identityFrames(len(boxKeypoints))
	corrs := oneToOne(6)
	for i := range corrs {
		corrs[i].Distance = 1
	}
	cfg := DefaultConfig(1, 2.5)
	cfg.UseDistanceWeight = true
	clusters, err := newGrouper(t, cfg).Recognize(context.Background(), boxKeypoints, boxKeypoints, frames, frames, corrs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(clusters), test.ShouldEqual, 1)
	test.That(t, clusters[0].Votes, test.ShouldAlmostEqual, 3)

	cfg.Threshold = 3
	clusters, err = newGrouper(t, cfg).Recognize(context.Background(), boxKeypoints, boxKeypoints, frames, frames, corrs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters, test.ShouldBeEmpty)
}

func TestTwoInstances(t *testing.T) {
	// Centred on the origin so both instances vote at their translations.
	model := []r3.Vector{{}, {X: 3}, {X: -3}, {Y: 3}, {Y: -3}, {Z: 3}, {Z: -3}}
	rot, err := spatialmath.NewRotationFromAxisAngle(r3.Vector{Z: 1}, 0.5)
	test.That(t, err, test.ShouldBeNil)
	poseA := spatialmath.NewPose(rot, r3.Vector{X: 50})
	poseB := spatialmath.NewPose(spatialmath.NewIdentityRotation(), r3.Vector{Y: -40, Z: 10})

	var scene []r3.Vector
	var sceneFrames []features.ReferenceFrame
	rotated := features.ReferenceFrame{X: rot.Col(0), Y: rot.Col(1), Z: rot.Col(2), Valid: true}
	for _, p := range model {
		scene = append(scene, poseA.Transform(p))
		sceneFrames = append(sceneFrames, rotated)
	}
	for _, p := range model {
		scene = append(scene, poseB.Transform(p))
		sceneFrames = append(sceneFrames, identityFrame)
	}
	corrs := oneToOne(len(model))
	for i := 0; i < 6; i++ {
		corrs = append(corrs, correspondence.Correspondence{ModelIndex: i, SceneIndex: len(model) + i})
	}

	g := newGrouper(t, DefaultConfig(2, 4))
	clusters, err := g.Recognize(context.Background(), model, scene, identityFrames(len(model)), sceneFrames, corrs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(clusters), test.ShouldEqual, 2)

	test.That(t, clusters[0].Votes, test.ShouldAlmostEqual, 7, 1e-9)
	test.That(t, clusters[0].Correspondences, test.ShouldResemble, corrs[:7])
	test.That(t, spatialmath.PoseAlmostEqual(clusters[0].Pose, poseA, 1e-9, 1e-9), test.ShouldBeTrue)

	test.That(t, clusters[1].Votes, test.ShouldAlmostEqual, 6, 1e-9)
	test.That(t, clusters[1].Correspondences, test.ShouldResemble, corrs[7:])
	test.That(t, spatialmath.PoseAlmostEqual(clusters[1].Pose, poseB, 1e-9, 1e-9), test.ShouldBeTrue)

	t.Run("independent of the worker split", func(t *testing.T) {
		saved := utils.ParallelFactor
		defer func() { utils.ParallelFactor = saved }()
		utils.ParallelFactor = 1
		serial, err := g.Recognize(context.Background(), model, scene, identityFrames(len(model)), sceneFrames, corrs)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, serial, test.ShouldResemble, clusters)
	})
}

func TestClusterKeepsConsistentVoters(t *testing.T) {
	model := []r3.Vector{{}, {X: 3}, {X: -3}, {Y: 3}, {Y: -3}, {Z: 3}, {Z: -3}}
	shift := r3.Vector{X: 20}
	var scene []r3.Vector
	for _, p := range model {
		scene = append(scene, p.Add(shift))
	}
	// Model keypoint 1 seen through a frame turned half way round votes for the same reference
	// point, but its scene keypoint sits 6 away from where the shift puts it.
	scene = append(scene, r3.Vector{X: 17})
	sceneFrames := append(identityFrames(len(model)), features.ReferenceFrame{
		X: r3.Vector{X: -1}, Y: r3.Vector{Y: -1}, Z: r3.Vector{Z: 1}, Valid: true,
	})
	corrs := append(oneToOne(len(model)), correspondence.Correspondence{ModelIndex: 1, SceneIndex: len(model)})

	logger, logs := logging.NewObservedTestLogger(t)
	g, err := NewHough3DGrouper(DefaultConfig(2, 4), logger)
	test.That(t, err, test.ShouldBeNil)
	clusters, err := g.Recognize(context.Background(), model, scene, identityFrames(len(model)), sceneFrames, corrs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(clusters), test.ShouldEqual, 1)
	test.That(t, clusters[0].Votes, test.ShouldEqual, 8)
	test.That(t, clusters[0].Correspondences, test.ShouldResemble, corrs[:len(model)])
	test.That(t, spatialmath.PoseAlmostEqual(clusters[0].Pose,
		spatialmath.NewPose(spatialmath.NewIdentityRotation(), shift), 1e-9, 1e-9), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("rejected inconsistent voters").Len(), test.ShouldEqual, 1)

	t.Run("wide tolerance keeps every voter", func(t *testing.T) {
		// With bins wider than the offset every voter agrees with the shift.
		g := newGrouper(t, DefaultConfig(7, 4))
		clusters, err := g.Recognize(context.Background(), model, scene, identityFrames(len(model)), sceneFrames, corrs)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(clusters), test.ShouldEqual, 1)
		test.That(t, clusters[0].Correspondences, test.ShouldResemble, corrs)
	})
}

func TestDegenerateClusterDropped(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	g, err := NewHough3DGrouper(DefaultConfig(1, 1), logger)
	test.That(t, err, test.ShouldBeNil)
	frames := identityFrames(len(boxKeypoints))

	clusters, err := g.Recognize(context.Background(), boxKeypoints, boxKeypoints, frames, frames, oneToOne(2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters, test.ShouldBeEmpty)
	test.That(t, logs.FilterMessage("dropping cluster").Len(), test.ShouldEqual, 1)
}

func TestRecognizeEdgeCases(t *testing.T) {
	frames := identityFrames(len(boxKeypoints))
	g := newGrouper(t, DefaultConfig(1, 0))

	clusters, err := g.Recognize(context.Background(), boxKeypoints, boxKeypoints, frames, frames, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters, test.ShouldBeEmpty)

	_, err = g.Recognize(context.Background(), boxKeypoints, boxKeypoints, frames, frames,
		[]correspondence.Correspondence{{ModelIndex: 0, SceneIndex: len(boxKeypoints)}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = g.Recognize(context.Background(), boxKeypoints, boxKeypoints, frames[:2], frames, oneToOne(2))
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Recognize(ctx, boxKeypoints, boxKeypoints, frames, frames, oneToOne(6))
	test.That(t, err, test.ShouldBeError, context.Canceled)
}
