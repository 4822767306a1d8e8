package recognition

import (
	"encoding/json"
	"math"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/corrgroup/correspondence"
	"go.viam.com/corrgroup/pointcloud"
)

// Artifact cloud formats.
const (
	ArtifactPCD = "pcd"
	ArtifactLAS = "las"
)

// Config holds every tunable of a recognition run. Distances are multiples of the model
// resolution until Scaled is applied.
type Config struct {
	ModelSampling       float64 `json:"model_ss"`
	SceneSampling       float64 `json:"scene_ss"`
	FrameRadius         float64 `json:"rf_rad"`
	DescriptorRadius    float64 `json:"descr_rad"`
	BinSize             float64 `json:"cg_size"`
	Threshold           float64 `json:"cg_thresh"`
	MatchThreshold      float64 `json:"match_thresh"`
	NormalK             int     `json:"normal_k"`
	UseInterpolation    bool    `json:"use_interpolation"`
	UseDistanceWeight   bool    `json:"use_distance_weight"`
	ShowKeypoints       bool    `json:"show_keypoints"`
	ShowCorrespondences bool    `json:"show_correspondences"`
	ArtifactFormat      string  `json:"artifact_format"`
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		ModelSampling:    10,
		SceneSampling:    30,
		FrameRadius:      15,
		DescriptorRadius: 20,
		BinSize:          10,
		Threshold:        5,
		MatchThreshold:   correspondence.DefaultThreshold,
		NormalK:          pointcloud.DefaultNormalK,
		UseInterpolation: true,
		ArtifactFormat:   ArtifactPCD,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	var err error
	for _, field := range []struct {
		name  string
		value float64
	}{
		{"model_ss", cfg.ModelSampling},
		{"scene_ss", cfg.SceneSampling},
		{"rf_rad", cfg.FrameRadius},
		{"descr_rad", cfg.DescriptorRadius},
		{"cg_size", cfg.BinSize},
	} {
		switch {
		case field.value == 0:
			err = multierr.Append(err, goutils.NewConfigValidationFieldRequiredError(path, field.name))
		case !(field.value > 0) || math.IsInf(field.value, 0):
			err = multierr.Append(err, goutils.NewConfigValidationError(path,
				errors.Errorf("%s must be positive and finite, got %v", field.name, field.value)))
		}
	}
	if cfg.Threshold < 0 || math.IsNaN(cfg.Threshold) {
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Errorf("cg_thresh cannot be negative, got %v", cfg.Threshold)))
	}
	if cfg.MatchThreshold < 0 || math.IsNaN(cfg.MatchThreshold) {
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Errorf("match_thresh cannot be negative, got %v", cfg.MatchThreshold)))
	}
	if cfg.NormalK < 3 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Errorf("normal_k must be at least 3, got %d", cfg.NormalK)))
	}
	switch cfg.ArtifactFormat {
	case "", ArtifactPCD, ArtifactLAS:
	default:
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Errorf("artifact_format must be %q or %q, got %q", ArtifactPCD, ArtifactLAS, cfg.ArtifactFormat)))
	}
	return err
}

// Scaled returns a copy with every distance multiplied by resolution. A non-positive
// resolution leaves the distances as they are.
func (cfg Config) Scaled(resolution float64) Config {
	if !(resolution > 0) {
		return cfg
	}
	cfg.ModelSampling *= resolution
	cfg.SceneSampling *= resolution
	cfg.FrameRadius *= resolution
	cfg.DescriptorRadius *= resolution
	cfg.BinSize *= resolution
	return cfg
}

// LoadConfig reads a JSON config file on top of the defaults. Values are decoded weakly, so
// "5" and 5 are both accepted for numbers; unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	//nolint:gosec
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "cannot read config %q", path)
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return Config{}, errors.Wrapf(err, "cannot parse config %q", path)
	}
	cfg, err := DecodeConfig(attrs)
	if err != nil {
		return Config{}, errors.Wrapf(err, "cannot decode config %q", path)
	}
	return cfg, cfg.Validate(path)
}

// DecodeConfig applies attrs to the defaults.
func DecodeConfig(attrs map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
