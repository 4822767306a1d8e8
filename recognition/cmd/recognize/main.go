// Package main is a command that finds instances of a model point cloud in a scene point cloud.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/corrgroup/logging"
	"go.viam.com/corrgroup/pointcloud"
	"go.viam.com/corrgroup/recognition"
)

const (
	flagModelSampling       = "model_ss"
	flagSceneSampling       = "scene_ss"
	flagFrameRadius         = "rf_rad"
	flagDescriptorRadius    = "descr_rad"
	flagBinSize             = "cg_size"
	flagThreshold           = "cg_thresh"
	flagShowKeypoints       = "k"
	flagShowCorrespondences = "c"
	flagConfig              = "config"
	flagDebug               = "debug"
	flagOut                 = "out"
	flagFormat              = "format"
	flagTimings             = "timings"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out, errOut io.Writer) *cli.App {
	defaults := recognition.DefaultConfig()
	var logger logging.Logger

	return &cli.App{
		Name:      "recognize",
		Usage:     "find instances of a model point cloud in a scene point cloud",
		UsageText: "recognize [options] <model.pcd|model.las> <scene.pcd|scene.las>",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: flagModelSampling, Value: defaults.ModelSampling, Usage: "model keypoint sampling radius, in resolutions"},
			&cli.Float64Flag{Name: flagSceneSampling, Value: defaults.SceneSampling, Usage: "scene keypoint sampling radius, in resolutions"},
			&cli.Float64Flag{Name: flagFrameRadius, Value: defaults.FrameRadius, Usage: "local reference frame radius, in resolutions"},
			&cli.Float64Flag{Name: flagDescriptorRadius, Value: defaults.DescriptorRadius, Usage: "descriptor radius, in resolutions"},
			&cli.Float64Flag{Name: flagBinSize, Value: defaults.BinSize, Usage: "Hough bin size, in resolutions"},
			&cli.Float64Flag{Name: flagThreshold, Value: defaults.Threshold, Usage: "minimum votes per instance"},
			&cli.BoolFlag{Name: flagShowKeypoints, Usage: "write keypoint clouds with the artifacts"},
			&cli.BoolFlag{Name: flagShowCorrespondences, Usage: "write the correspondence listing with the artifacts"},
			&cli.StringFlag{Name: flagConfig, Usage: "load configuration from JSON `FILE`; flags given explicitly win"},
			&cli.StringFlag{Name: flagOut, Usage: "write instance clouds into `DIR`"},
			&cli.StringFlag{Name: flagFormat, Value: defaults.ArtifactFormat, Usage: "instance cloud format, pcd or las"},
			&cli.BoolFlag{Name: flagDebug, Usage: "enable debug logging"},
			&cli.BoolFlag{Name: flagTimings, Usage: "print stage durations"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("recognize")
			} else {
				logger = logging.NewLogger("recognize")
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return run(c, logger)
		},
	}
}

func run(c *cli.Context, logger logging.Logger) error {
	if c.NArg() != 2 {
		return errors.Errorf("expected a model and a scene file, got %d arguments", c.NArg())
	}
	cfg, err := configFromFlags(c)
	if err != nil {
		return err
	}

	modelPath, scenePath := c.Args().Get(0), c.Args().Get(1)
	model, err := pointcloud.NewFromFile(modelPath, logger)
	if err != nil {
		return errors.Wrapf(err, "cannot load model %q", modelPath)
	}
	scene, err := pointcloud.NewFromFile(scenePath, logger)
	if err != nil {
		return errors.Wrapf(err, "cannot load scene %q", scenePath)
	}

	rec, err := recognition.NewRecognizer(cfg, logger)
	if err != nil {
		return err
	}
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := rec.Recognize(ctx, model, scene)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, res.String())
	if c.Bool(flagTimings) {
		fmt.Fprintln(c.App.Writer, res.TimingTable())
	}
	if dir := c.String(flagOut); dir != "" {
		if err := res.WriteArtifacts(dir); err != nil {
			return err
		}
		logger.Infof("artifacts written to %s", dir)
	}
	return nil
}

// configFromFlags layers defaults, the optional config file and explicitly set flags.
func configFromFlags(c *cli.Context) (recognition.Config, error) {
	cfg := recognition.DefaultConfig()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = recognition.LoadConfig(path); err != nil {
			return recognition.Config{}, err
		}
	}
	for name, dst := range map[string]*float64{
		flagModelSampling:    &cfg.ModelSampling,
		flagSceneSampling:    &cfg.SceneSampling,
		flagFrameRadius:      &cfg.FrameRadius,
		flagDescriptorRadius: &cfg.DescriptorRadius,
		flagBinSize:          &cfg.BinSize,
		flagThreshold:        &cfg.Threshold,
	} {
		if c.IsSet(name) {
			*dst = c.Float64(name)
		}
	}
	if c.IsSet(flagShowKeypoints) {
		cfg.ShowKeypoints = c.Bool(flagShowKeypoints)
	}
	if c.IsSet(flagShowCorrespondences) {
		cfg.ShowCorrespondences = c.Bool(flagShowCorrespondences)
	}
	if c.IsSet(flagFormat) {
		cfg.ArtifactFormat = c.String(flagFormat)
	}
	return cfg, cfg.Validate(flagConfig)
}
