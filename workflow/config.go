package workflow

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scigo/onnxpipe/convert"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
)

// Estimator names accepted in model.estimator.
const (
	EstimatorGradientBoosting = "gradient_boosting"
	EstimatorDecisionTree     = "decision_tree"
	EstimatorLinear           = "linear"
)

// DefaultArtifact is the file the converted pipeline is written to.
const DefaultArtifact = "pipeline_vectorize.onnx"

// Config holds every knob of a run. Zero values are not defaults; start
// from DefaultConfig.
type Config struct {
	Seed    uint64        `yaml:"seed"`
	Dataset DatasetConfig `yaml:"dataset"`
	Split   SplitConfig   `yaml:"split"`
	Model   ModelConfig   `yaml:"model"`
	Export  ExportConfig  `yaml:"export"`
	Verify  VerifyConfig  `yaml:"verify"`
	Report  ReportConfig  `yaml:"report"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

// DatasetConfig selects the data. When CSV is set the file is loaded and the
// synthetic generator settings are ignored.
type DatasetConfig struct {
	Samples  int     `yaml:"samples"`
	Features int     `yaml:"features"`
	Noise    float64 `yaml:"noise"`
	CSV      string  `yaml:"csv"`
	Target   string  `yaml:"target"`
	// Drop lists feature columns left out of the records.
	Drop []int `yaml:"drop"`
}

type SplitConfig struct {
	TestSize float64 `yaml:"test_size"`
	Shuffle  bool    `yaml:"shuffle"`
}

type ModelConfig struct {
	Estimator    string  `yaml:"estimator"`
	NEstimators  int     `yaml:"n_estimators"`
	LearningRate float64 `yaml:"learning_rate"`
	MaxDepth     int     `yaml:"max_depth"`
	Subsample    float64 `yaml:"subsample"`
	// Scale inserts a "standard" or "minmax" scaler after the vectorizer.
	Scale   string `yaml:"scale"`
	Workers int    `yaml:"workers"`
}

type ExportConfig struct {
	Path      string `yaml:"path"`
	InputName string `yaml:"input_name"`
	Opset     int64  `yaml:"opset"`
}

type VerifyConfig struct {
	// Workers bounds the per-record fallback; <= 0 means one per CPU.
	Workers      int     `yaml:"workers"`
	MinAgreement float64 `yaml:"min_agreement"`
	// TryBatch runs the whole test set in one call first, to show whether
	// the artifact accepts it.
	TryBatch bool `yaml:"try_batch"`
}

// ReportConfig names the PNG files to draw. Empty paths are skipped.
type ReportConfig struct {
	AgreementPlot string `yaml:"agreement_plot"`
	ResidualPlot  string `yaml:"residual_plot"`
}

// StoreConfig points at the SQLite run ledger. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig mirrors the reference run: 506 Friedman #1 samples with 13
// features, the first feature dropped, a 75/25 split and a 100-stage
// boosting model.
func DefaultConfig() *Config {
	return &Config{
		Seed: 42,
		Dataset: DatasetConfig{
			Samples:  506,
			Features: 13,
			Noise:    1.0,
			Drop:     []int{0},
		},
		Split: SplitConfig{TestSize: 0.25, Shuffle: true},
		Model: ModelConfig{
			Estimator:    EstimatorGradientBoosting,
			NEstimators:  100,
			LearningRate: 0.1,
			MaxDepth:     3,
			Subsample:    1.0,
		},
		Export: ExportConfig{
			Path:      DefaultArtifact,
			InputName: "input",
			Opset:     13,
		},
		Verify: VerifyConfig{MinAgreement: 0.99, TryBatch: true},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Unknown keys are errors.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges. It does not touch the filesystem.
func (c *Config) Validate() error {
	d := c.Dataset
	if d.CSV == "" {
		if d.Samples < 4 {
			return errors.NewValidationError("dataset.samples", "must be at least 4", d.Samples)
		}
		if d.Features < 5 {
			return errors.NewValidationError("dataset.features", "must be at least 5", d.Features)
		}
		if d.Noise < 0 {
			return errors.NewValidationError("dataset.noise", "must be non-negative", d.Noise)
		}
	}
	for _, j := range d.Drop {
		if j < 0 {
			return errors.NewValidationError("dataset.drop", "column indices must be non-negative", j)
		}
		if d.CSV == "" && j >= d.Features {
			return errors.NewValidationError("dataset.drop", "column index out of range", j)
		}
	}
	if c.Split.TestSize <= 0 || c.Split.TestSize >= 1 {
		return errors.NewValidationError("split.test_size", "must be in (0, 1)", c.Split.TestSize)
	}

	m := c.Model
	switch m.Estimator {
	case EstimatorGradientBoosting:
		if m.NEstimators < 1 {
			return errors.NewValidationError("model.n_estimators", "must be positive", m.NEstimators)
		}
		if m.LearningRate <= 0 {
			return errors.NewValidationError("model.learning_rate", "must be positive", m.LearningRate)
		}
		if m.MaxDepth < 1 {
			return errors.NewValidationError("model.max_depth", "must be positive for boosting", m.MaxDepth)
		}
		if m.Subsample <= 0 || m.Subsample > 1 {
			return errors.NewValidationError("model.subsample", "must be in (0, 1]", m.Subsample)
		}
	case EstimatorDecisionTree, EstimatorLinear:
	default:
		return errors.NewValidationError("model.estimator", "must be gradient_boosting, decision_tree or linear", m.Estimator)
	}
	if m.MaxDepth < 0 {
		return errors.NewValidationError("model.max_depth", "must be non-negative", m.MaxDepth)
	}
	switch m.Scale {
	case "", "standard", "minmax":
	default:
		return errors.NewValidationError("model.scale", "must be empty, standard or minmax", m.Scale)
	}

	if c.Export.Path == "" {
		return errors.NewValidationError("export.path", "must not be empty", c.Export.Path)
	}
	if c.Export.InputName == "" {
		return errors.NewValidationError("export.input_name", "must not be empty", c.Export.InputName)
	}
	if c.Export.InputName == convert.OutputName {
		return errors.NewValidationError("export.input_name", "clashes with the output name", c.Export.InputName)
	}
	if c.Export.Opset < 1 {
		return errors.NewValidationError("export.opset", "must be positive", c.Export.Opset)
	}
	if c.Verify.MinAgreement > 1 {
		return errors.NewValidationError("verify.min_agreement", "must be at most 1", c.Verify.MinAgreement)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return errors.NewValidationError("log.format", "must be json or console", c.Log.Format)
	}
	return nil
}
