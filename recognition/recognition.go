// Package recognition finds instances of a model cloud inside a scene cloud. It ties together
// keypoint sampling, descriptors, local frames, descriptor matching and Hough pose clustering.
package recognition

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/corrgroup/correspondence"
	"go.viam.com/corrgroup/features"
	"go.viam.com/corrgroup/grouping"
	"go.viam.com/corrgroup/logging"
	"go.viam.com/corrgroup/pointcloud"
)

// Viewpoint is where normals are oriented towards.
var Viewpoint = r3.Vector{}

// Recognizer runs the recognition pipeline with a fixed configuration.
type Recognizer struct {
	cfg    Config
	logger logging.Logger
}

// NewRecognizer validates cfg and returns a Recognizer.
func NewRecognizer(cfg Config, logger logging.Logger) (*Recognizer, error) {
	if err := cfg.Validate("recognition"); err != nil {
		return nil, err
	}
	return &Recognizer{cfg: cfg, logger: logger}, nil
}

// StageTiming records how long a pipeline stage took.
type StageTiming struct {
	Name     string
	Duration time.Duration
}

// Surface is the per cloud state derived during a run.
type Surface struct {
	Cloud       pointcloud.PointCloud
	Surface     *features.Surface
	Descriptors []features.Descriptor
	Frames      []features.ReferenceFrame
}

// Keypoints returns the surface keypoints.
func (s *Surface) Keypoints() *pointcloud.Keypoints {
	return s.Surface.Keypoints
}

// run is the state of a single invocation.
type run struct {
	logger  logging.Logger
	timings []StageTiming
}

func (r *run) stage(name string, f func() error) error {
	start := time.Now()
	err := f()
	elapsed := time.Since(start)
	r.timings = append(r.timings, StageTiming{Name: name, Duration: elapsed})
	if err != nil {
		return errors.Wrapf(err, "%s failed", name)
	}
	r.logger.Debugw("stage done", "stage", name, "duration", elapsed)
	return nil
}

// Recognize finds instances of model in scene. Keypoints are sampled from each cloud with the
// configured radii.
func (rec *Recognizer) Recognize(ctx context.Context, model, scene pointcloud.PointCloud) (*Result, error) {
	return rec.recognize(ctx, model, scene, nil, nil)
}

// RecognizeKeypoints is Recognize with caller chosen keypoints, given as indices into each
// cloud. The sampling radii are ignored.
func (rec *Recognizer) RecognizeKeypoints(
	ctx context.Context,
	model, scene pointcloud.PointCloud,
	modelKeypoints, sceneKeypoints []int,
) (*Result, error) {
	if modelKeypoints == nil || sceneKeypoints == nil {
		return nil, errors.New("keypoint indices are required for both clouds")
	}
	return rec.recognize(ctx, model, scene, modelKeypoints, sceneKeypoints)
}

func (rec *Recognizer) recognize(
	ctx context.Context,
	model, scene pointcloud.PointCloud,
	modelKeypoints, sceneKeypoints []int,
) (*Result, error) {
	r := &run{logger: rec.logger}

	var modelIndex *pointcloud.Index
	var resolution float64
	if err := r.stage("resolution", func() error {
		var err error
		modelIndex, err = pointcloud.NewIndex(model, nil)
		if err != nil {
			return err
		}
		resolution = pointcloud.EstimateResolution(modelIndex)
		return nil
	}); err != nil {
		return nil, err
	}
	cfg := rec.cfg.Scaled(resolution)
	rec.logger.Infow("model resolution estimated",
		"resolution", resolution, "model_points", model.Size(), "scene_points", scene.Size())
	if resolution == 0 {
		rec.logger.Warn("model resolution is zero, using configured distances as absolute values")
	}

	modelSurface, err := rec.describe(ctx, r, "model", cfg, model, modelIndex, cfg.ModelSampling, modelKeypoints)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sceneSurface, err := rec.describe(ctx, r, "scene", cfg, scene, nil, cfg.SceneSampling, sceneKeypoints)
	if err != nil {
		return nil, err
	}

	var corrs []correspondence.Correspondence
	if err := r.stage("matching", func() error {
		matcher := correspondence.NewMatcher(cfg.MatchThreshold, rec.logger.Sublogger("matcher"))
		var err error
		corrs, err = matcher.Match(ctx, modelSurface.Descriptors, sceneSurface.Descriptors)
		return err
	}); err != nil {
		return nil, err
	}
	rec.logger.Infof("%d correspondences found", len(corrs))

	var clusters []grouping.PoseCluster
	if err := r.stage("grouping", func() error {
		grouper, err := grouping.NewHough3DGrouper(grouping.Config{
			BinSize:           cfg.BinSize,
			Threshold:         cfg.Threshold,
			UseInterpolation:  cfg.UseInterpolation,
			UseDistanceWeight: cfg.UseDistanceWeight,
		}, rec.logger.Sublogger("hough"))
		if err != nil {
			return err
		}
		clusters, err = grouper.Recognize(ctx,
			modelSurface.Keypoints().Points(), sceneSurface.Keypoints().Points(),
			modelSurface.Frames, sceneSurface.Frames,
			corrs)
		return err
	}); err != nil {
		return nil, err
	}
	rec.logger.Infof("%d instances recognized", len(clusters))

	return &Result{
		Resolution:      resolution,
		Config:          cfg,
		Model:           modelSurface,
		Scene:           sceneSurface,
		Correspondences: corrs,
		Instances:       clusters,
		Timings:         r.timings,
	}, nil
}

// describe computes normals, keypoints, descriptors and frames for one cloud. The index is
// built when nil; keypoints are sampled with samplingRadius when keypointIndices is nil.
func (rec *Recognizer) describe(
	ctx context.Context,
	r *run,
	name string,
	cfg Config,
	cloud pointcloud.PointCloud,
	index *pointcloud.Index,
	samplingRadius float64,
	keypointIndices []int,
) (*Surface, error) {
	if index == nil {
		if err := r.stage(name+" index", func() error {
			var err error
			index, err = pointcloud.NewIndex(cloud, nil)
			return err
		}); err != nil {
			return nil, err
		}
	}

	var normals []r3.Vector
	if err := r.stage(name+" normals", func() error {
		var err error
		normals, err = pointcloud.EstimateNormals(ctx, index, cfg.NormalK, Viewpoint)
		return err
	}); err != nil {
		return nil, err
	}

	var keypoints *pointcloud.Keypoints
	if err := r.stage(name+" keypoints", func() error {
		if keypointIndices == nil {
			keypoints = pointcloud.UniformSample(cloud, samplingRadius)
			return nil
		}
		var err error
		keypoints, err = pointcloud.NewKeypoints(cloud, keypointIndices)
		return err
	}); err != nil {
		return nil, err
	}
	rec.logger.Infof("%s: %d points, %d keypoints", name, cloud.Size(), keypoints.Len())

	surface, err := features.NewSurface(index, normals, keypoints)
	if err != nil {
		return nil, err
	}
	out := &Surface{Cloud: cloud, Surface: surface}

	if err := r.stage(name+" descriptors", func() error {
		var err error
		out.Descriptors, err = features.NewSHOTEngine(cfg.DescriptorRadius).Compute(ctx, surface)
		return err
	}); err != nil {
		return nil, err
	}
	if err := r.stage(name+" frames", func() error {
		var err error
		out.Frames, err = features.NewFrameEstimator(cfg.FrameRadius).Compute(ctx, surface)
		return err
	}); err != nil {
		return nil, err
	}
	return out, nil
}
