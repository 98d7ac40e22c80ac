// Package workflow runs the five stages end to end: prepare records, train
// the pipeline, score it, export it to ONNX and verify the artifact in an
// inference session.
//
//	cfg := workflow.DefaultConfig()
//	res, err := workflow.Run(ctx, cfg, os.Stdout)
//
// Stages run strictly in order. Any stage error stops the run; the failed
// batched inference in the verification stage is expected and only
// reported.
package workflow

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/scigo/onnxpipe/convert"
	"github.com/scigo/onnxpipe/inference"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
	"github.com/scigo/onnxpipe/report"
	"github.com/scigo/onnxpipe/store"
)

// Result collects what a run produced.
type Result struct {
	RunID        string
	TrainRecords int
	TestRecords  int
	Keys         int
	BaselineR2   float64
	Artifact     *Artifact
	Verification *Verification
	// StoredID is the ledger id, empty when no store is configured.
	StoredID string
}

// Run executes every stage and writes a human-readable account to out.
func Run(ctx context.Context, cfg *Config, out io.Writer) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := &Result{RunID: uuid.NewString()}
	logger := log.GetLoggerWithName("workflow").With(log.RunIDKey, res.RunID)

	start := time.Now()
	data, err := PrepareData(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "prepare data")
	}
	res.TrainRecords, res.TestRecords, res.Keys = len(data.TrainRecords), len(data.TestRecords), data.Keys()
	logger.Info("Data prepared",
		log.SourceKey, data.Dataset.Name,
		log.SamplesKey, res.TrainRecords+res.TestRecords,
		log.FeaturesKey, res.Keys,
		log.RandomSeedKey, cfg.Seed,
	)
	fmt.Fprintf(out, "dataset %s: %d train / %d test records, %d keys per record\n",
		data.Dataset.Name, res.TrainRecords, res.TestRecords, res.Keys)
	if res.TestRecords > 0 {
		fmt.Fprintf(out, "first test record: %v\n", data.TestRecords[0])
	}

	p, err := TrainPipeline(ctx, cfg, data)
	if err != nil {
		return nil, errors.Wrap(err, "train pipeline")
	}
	fmt.Fprintln(out, p)

	eval, err := Evaluate(p, data)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	res.BaselineR2 = eval.R2
	logger.Info("Pipeline evaluated", log.PhaseKey, log.PhaseTesting, log.R2ScoreKey, eval.R2)
	fmt.Fprintf(out, "R2 of the pipeline on test records: %.6f\n", eval.R2)

	res.Artifact, err = Export(p, cfg.Export,
		convert.WithModelName("pipeline_vectorize"),
		convert.WithMetadata("run_id", res.RunID),
		convert.WithLogger(logger),
	)
	if err != nil {
		return nil, errors.Wrap(err, "export")
	}
	logger.Info("Model exported",
		log.PhaseKey, log.PhaseExport,
		log.PathKey, res.Artifact.Path,
		log.BytesKey, res.Artifact.Bytes,
	)
	fmt.Fprintf(out, "exported %s (%d bytes, sha256 %s)\n", res.Artifact.Path, res.Artifact.Bytes, res.Artifact.SHA256)

	v, err := Verify(ctx, cfg.Verify, res.Artifact.Path, data.TestRecords, eval.Predictions,
		inference.WithLogID(res.RunID),
		inference.WithLogger(logger),
	)
	if v != nil {
		printVerification(out, v)
		res.Verification = v
	}
	if err != nil {
		return res, errors.Wrap(err, "verify")
	}
	logger.Info("Model verified",
		log.PhaseKey, log.PhaseInference,
		"agreement_r2", v.AgreementR2,
		log.WorkersKey, cfg.Verify.Workers,
		log.DurationMsKey, v.Duration.Milliseconds(),
	)

	if err := writePlots(cfg.Report, data, eval, v); err != nil {
		return res, err
	}
	if cfg.Store.Path != "" {
		if res.StoredID, err = record(ctx, cfg, res, data.Dataset.Name); err != nil {
			return res, err
		}
		fmt.Fprintf(out, "run %s recorded in %s\n", res.StoredID, cfg.Store.Path)
	}

	logger.Info("Run finished", log.DurationMsKey, time.Since(start).Milliseconds())
	return res, nil
}

func printVerification(out io.Writer, v *Verification) {
	for _, in := range v.Inputs {
		fmt.Fprintf(out, "input name=%q shape=%s type=%s\n", in.Name, shapeString(in.Shape), in.Type)
	}
	for _, o := range v.Outputs {
		fmt.Fprintf(out, "output name=%q shape=%s type=%s\n", o.Name, shapeString(o.Shape), o.Type)
	}
	if v.BatchErr != nil {
		fmt.Fprintf(out, "batched inference failed: %v\n", v.BatchErr)
	}
	if v.Predictions != nil {
		fmt.Fprintf(out, "R2 of original vs converted predictions: %.6f\n", v.AgreementR2)
	}
}

// shapeString prints unknown dims as "None" and a missing shape as "[]".
func shapeString(shape []int64) string {
	s := "["
	for i, d := range shape {
		if i > 0 {
			s += ", "
		}
		if d < 0 {
			s += "None"
		} else {
			s += fmt.Sprint(d)
		}
	}
	return s + "]"
}

func writePlots(cfg ReportConfig, data *Data, eval *Evaluation, v *Verification) error {
	if cfg.AgreementPlot != "" {
		if err := report.SaveAgreementPlot(cfg.AgreementPlot, eval.Predictions, v.Predictions); err != nil {
			return errors.Wrap(err, "agreement plot")
		}
	}
	if cfg.ResidualPlot != "" {
		yTrue := make([]float64, data.YTest.Len())
		for i := range yTrue {
			yTrue[i] = data.YTest.AtVec(i)
		}
		if err := report.SaveResidualPlot(cfg.ResidualPlot, yTrue, eval.Predictions); err != nil {
			return errors.Wrap(err, "residual plot")
		}
	}
	return nil
}

func record(ctx context.Context, cfg *Config, res *Result, dataset string) (string, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return "", err
	}
	defer st.Close()

	r := store.Run{
		ID:             res.RunID,
		Seed:           cfg.Seed,
		Dataset:        dataset,
		TrainSamples:   res.TrainRecords,
		TestSamples:    res.TestRecords,
		Estimators:     cfg.Model.NEstimators,
		BaselineR2:     res.BaselineR2,
		AgreementR2:    res.Verification.AgreementR2,
		ArtifactPath:   res.Artifact.Path,
		ArtifactSHA256: res.Artifact.SHA256,
		BatchSupported: res.Verification.BatchSupported,
	}
	if res.Verification.BatchErr != nil {
		r.BatchError = res.Verification.BatchErr.Error()
	}
	return st.Record(ctx, r)
}
