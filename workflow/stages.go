package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/convert"
	"github.com/scigo/onnxpipe/core/model"
	"github.com/scigo/onnxpipe/inference"
	"github.com/scigo/onnxpipe/metrics"
	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
	"github.com/scigo/onnxpipe/preprocessing"
	"github.com/scigo/onnxpipe/sklearn/datasets"
	"github.com/scigo/onnxpipe/sklearn/ensemble"
	"github.com/scigo/onnxpipe/sklearn/feature_extraction"
	"github.com/scigo/onnxpipe/sklearn/linear_model"
	"github.com/scigo/onnxpipe/sklearn/model_selection"
	"github.com/scigo/onnxpipe/sklearn/pipeline"
	"github.com/scigo/onnxpipe/sklearn/tree"
)

// ErrLowAgreement is returned by Verify when the converted model's
// predictions score below verify.min_agreement against the pipeline's.
var ErrLowAgreement = errors.New("converted model disagrees with the pipeline")

// Data is the split dataset in record form.
type Data struct {
	Dataset      *datasets.Dataset
	TrainRecords []feature_extraction.Record
	TestRecords  []feature_extraction.Record
	YTrain       *mat.VecDense
	YTest        *mat.VecDense
}

// Keys returns the number of keys per record.
func (d *Data) Keys() int {
	if len(d.TrainRecords) == 0 {
		return 0
	}
	return len(d.TrainRecords[0])
}

// PrepareData loads or generates the dataset, splits it with the configured
// seed and turns both halves into records with the dropped columns removed.
func PrepareData(cfg *Config) (*Data, error) {
	var (
		ds  *datasets.Dataset
		err error
	)
	if cfg.Dataset.CSV != "" {
		var opts []datasets.CSVOption
		if cfg.Dataset.Target != "" {
			opts = append(opts, datasets.WithTarget(cfg.Dataset.Target))
		}
		ds, err = datasets.LoadCSV(cfg.Dataset.CSV, opts...)
	} else {
		ds, err = datasets.MakeFriedman1(cfg.Dataset.Samples, cfg.Dataset.Features, cfg.Dataset.Noise, cfg.Seed)
	}
	if err != nil {
		return nil, err
	}

	_, nFeatures := ds.Dims()
	dropped := make(map[int]bool, len(cfg.Dataset.Drop))
	for _, j := range cfg.Dataset.Drop {
		if j >= nFeatures {
			return nil, errors.NewValidationError("dataset.drop", "column index out of range", j)
		}
		dropped[j] = true
	}
	if len(dropped) >= nFeatures {
		return nil, errors.NewValidationError("dataset.drop", "no feature columns left", cfg.Dataset.Drop)
	}

	XTrain, XTest, yTrain, yTest, err := model_selection.TrainTestSplit(ds.Data, ds.Target,
		model_selection.WithTestSize(cfg.Split.TestSize),
		model_selection.WithShuffle(cfg.Split.Shuffle),
		model_selection.WithRandomState(cfg.Seed),
	)
	if err != nil {
		return nil, err
	}
	return &Data{
		Dataset:      ds,
		TrainRecords: feature_extraction.RecordsFromMatrix(XTrain, cfg.Dataset.Drop...),
		TestRecords:  feature_extraction.RecordsFromMatrix(XTest, cfg.Dataset.Drop...),
		YTrain:       yTrain,
		YTest:        yTest,
	}, nil
}

// NewPipeline builds the unfitted vectorizer + regressor pipeline described
// by cfg.
func NewPipeline(cfg *Config) (*pipeline.Pipeline, error) {
	steps := []any{feature_extraction.NewDictVectorizer()}
	switch cfg.Model.Scale {
	case "standard":
		steps = append(steps, preprocessing.NewStandardScalerDefault())
	case "minmax":
		steps = append(steps, preprocessing.NewMinMaxScalerDefault())
	}

	m := cfg.Model
	switch m.Estimator {
	case EstimatorGradientBoosting:
		steps = append(steps, ensemble.NewGradientBoostingRegressor(
			ensemble.WithNEstimators(m.NEstimators),
			ensemble.WithLearningRate(m.LearningRate),
			ensemble.WithMaxDepth(m.MaxDepth),
			ensemble.WithSubsample(m.Subsample),
			ensemble.WithRandomState(cfg.Seed),
			ensemble.WithNJobs(m.Workers),
		))
	case EstimatorDecisionTree:
		steps = append(steps, tree.NewDecisionTreeRegressor(tree.WithMaxDepth(m.MaxDepth)))
	case EstimatorLinear:
		steps = append(steps, linear_model.NewLinearRegression())
	default:
		return nil, errors.NewValidationError("model.estimator", "unknown estimator", m.Estimator)
	}
	return pipeline.MakePipeline(steps...)
}

// TrainPipeline fits a new pipeline on the training records.
func TrainPipeline(ctx context.Context, cfg *Config, data *Data) (*pipeline.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := NewPipeline(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Fit(data.TrainRecords, data.YTrain); err != nil {
		return nil, err
	}
	if pg, ok := p.Final().(model.ParameterGetter); ok {
		log.GetLoggerWithName("workflow").Debug("Pipeline trained",
			log.ModelNameKey, fmt.Sprintf("%T", p.Final()),
			"params", pg.GetParams(),
		)
	}
	return p, nil
}

// Evaluation is the baseline score of the fitted pipeline.
type Evaluation struct {
	R2          float64
	Predictions []float64
}

// Evaluate predicts the test records with the pipeline and scores them.
func Evaluate(p *pipeline.Pipeline, data *Data) (*Evaluation, error) {
	pred, err := p.Predict(data.TestRecords)
	if err != nil {
		return nil, err
	}
	r2, err := metrics.R2Score(data.YTest, pred)
	if err != nil {
		return nil, err
	}
	return &Evaluation{R2: r2, Predictions: mat.Col(nil, 0, pred)}, nil
}

// Artifact is a serialized model written to disk.
type Artifact struct {
	Path   string
	SHA256 string
	Bytes  int
	Model  *onnx.ModelProto
}

// InitialTypes declares the single map(int64, tensor(float)) input the
// vectorizer consumes.
func InitialTypes(inputName string) []convert.InitialType {
	return []convert.InitialType{{
		Name: inputName,
		Type: convert.DictionaryType{
			Key:   convert.Int64TensorType{Shape: []int64{1}},
			Value: convert.FloatTensorType{},
		},
	}}
}

// Export converts p and writes the model to cfg.Path, creating parent
// directories as needed.
func Export(p *pipeline.Pipeline, cfg ExportConfig, opts ...convert.Option) (*Artifact, error) {
	opts = append([]convert.Option{convert.WithTargetOpset(cfg.Opset)}, opts...)
	m, err := convert.ConvertPipeline(p, InitialTypes(cfg.InputName), opts...)
	if err != nil {
		return nil, err
	}
	data, err := onnx.Marshal(m)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	if err := os.WriteFile(cfg.Path, data, 0o644); err != nil {
		return nil, errors.Wrapf(err, "write %s", cfg.Path)
	}
	sum := sha256.Sum256(data)
	return &Artifact{
		Path:   cfg.Path,
		SHA256: hex.EncodeToString(sum[:]),
		Bytes:  len(data),
		Model:  m,
	}, nil
}

// Verification is the outcome of checking an artifact in a session.
type Verification struct {
	Inputs  []inference.NodeArg
	Outputs []inference.NodeArg
	// BatchSupported reports whether the input accepts several records
	// per call.
	BatchSupported bool
	// BatchErr holds the error of the batched attempt, if one was made and
	// failed.
	BatchErr    error
	Predictions []float32
	AgreementR2 float64
	Duration    time.Duration
}

// Verify loads the artifact at path and predicts records with it. When the
// input accepts batches the records go through in one call; otherwise a
// batched call is attempted on a map input (if cfg.TryBatch) to capture the
// error, and the records are run one at a time on a bounded pool. Tensor
// inputs are fed dense rows. Predictions keep record order and are scored
// against original.
func Verify(ctx context.Context, cfg VerifyConfig, path string, records []feature_extraction.Record, original []float64, opts ...inference.SessionOption) (*Verification, error) {
	if len(records) != len(original) {
		return nil, errors.NewDimensionError("Verify", len(records), len(original), 0)
	}
	if len(records) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "Verify")
	}
	start := time.Now()

	sess, err := inference.NewSession(path, opts...)
	if err != nil {
		return nil, err
	}
	v := &Verification{Inputs: sess.Inputs(), Outputs: sess.Outputs()}
	if len(v.Inputs) != 1 {
		return nil, errors.NewValidationError("inputs", "artifact must declare exactly one input", len(v.Inputs))
	}
	if len(v.Outputs) == 0 {
		return nil, errors.NewValidationError("outputs", "artifact declares no output", 0)
	}
	in := v.Inputs[0]
	v.BatchSupported, err = sess.SupportsBatch(in.Name)
	if err != nil {
		return nil, err
	}

	isMap := strings.HasPrefix(in.Type, "map(")
	if v.BatchSupported || (isMap && cfg.TryBatch && len(records) > 1) {
		x, err := feed(in, records)
		if err != nil {
			return nil, err
		}
		out, err := sess.Run(ctx, nil, map[string]any{in.Name: x})
		switch {
		case err == nil:
			v.Predictions, err = scalars(out[0], len(records))
			if err != nil {
				return nil, err
			}
		case errors.Is(err, inference.ErrBatchNotSupported):
			v.BatchErr = err
		default:
			return nil, err
		}
	}

	if v.Predictions == nil {
		v.Predictions, err = predictEach(ctx, sess, in, records, cfg.Workers)
		if err != nil {
			return nil, err
		}
	}

	v.AgreementR2, err = metrics.R2ScoreFloat32(original, v.Predictions)
	if err != nil {
		return nil, err
	}
	v.Duration = time.Since(start)
	if v.AgreementR2 < cfg.MinAgreement {
		return v, errors.Wrapf(ErrLowAgreement, "agreement R2 %.6f below %.6f", v.AgreementR2, cfg.MinAgreement)
	}
	return v, nil
}

// predictEach runs one record per session call. Each goroutine writes its
// own index, so no locking is needed.
func predictEach(ctx context.Context, sess *inference.Session, in inference.NodeArg, records []feature_extraction.Record, workers int) ([]float32, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	preds := make([]float32, len(records))
	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(workers)
	for i := range records {
		p.Go(func(ctx context.Context) error {
			x, err := feed(in, records[i:i+1])
			if err != nil {
				return errors.Wrapf(err, "record %d", i)
			}
			out, err := sess.Run(ctx, nil, map[string]any{in.Name: x})
			if err != nil {
				return errors.Wrapf(err, "record %d", i)
			}
			v, err := scalars(out[0], 1)
			if err != nil {
				return errors.Wrapf(err, "record %d", i)
			}
			preds[i] = v[0]
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return preds, nil
}

// feed shapes records for the session input. Map inputs take the records
// as they are; tensor inputs take one dense row per record with key k in
// column k.
func feed(in inference.NodeArg, records []feature_extraction.Record) (any, error) {
	if !strings.HasPrefix(in.Type, "tensor(") {
		if len(records) == 1 {
			return records[0], nil
		}
		return records, nil
	}
	width := 0
	if len(in.Shape) == 2 && in.Shape[1] > 0 {
		width = int(in.Shape[1])
	} else {
		for _, rec := range records {
			for k := range rec {
				width = max(width, int(k)+1)
			}
		}
	}
	rows := make([][]float64, len(records))
	for i, rec := range records {
		row := make([]float64, width)
		for k, x := range rec {
			if k < 0 || k >= int64(width) {
				return nil, errors.NewValidationError("records", "feature key outside the input width", k)
			}
			row[k] = x
		}
		rows[i] = row
	}
	if in.Type == "tensor(double)" {
		return rows, nil
	}
	narrowed := make([][]float32, len(rows))
	for i, row := range rows {
		narrowed[i] = make([]float32, len(row))
		for j, x := range row {
			narrowed[i][j] = float32(x)
		}
	}
	return narrowed, nil
}

// scalars reads n single-target predictions from a float output.
func scalars(t *inference.Tensor, n int) ([]float32, error) {
	data := t.Float32Data()
	if t.ElemType() != onnx.TensorProtoFloat || len(data) != n {
		return nil, errors.NewInputShapeError(log.PhaseInference, t.TypeString(), []int{n, 1}, shapeInts(t.Shape()))
	}
	return data, nil
}

func shapeInts(shape []int64) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}
