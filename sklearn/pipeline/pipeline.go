// Package pipeline chains a record transformer, optional matrix
// transformers and a final regressor into one estimator.
package pipeline

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/core/model"
	"github.com/scigo/onnxpipe/metrics"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
	"github.com/scigo/onnxpipe/sklearn/feature_extraction"
)

// Step is a named pipeline stage.
type Step struct {
	Name      string
	Estimator any
}

// Pipeline applies its steps in order: the first maps records to a matrix,
// the middle ones transform that matrix and the last one predicts.
type Pipeline struct {
	steps  []Step
	state  *model.StateManager
	logger log.Logger
}

// MakePipeline builds a pipeline whose step names are the lower-cased type
// names of the estimators; repeated names get "-2", "-3" suffixes.
//
//	p, err := pipeline.MakePipeline(
//	    feature_extraction.NewDictVectorizer(),
//	    ensemble.NewGradientBoostingRegressor(),
//	)
func MakePipeline(estimators ...any) (*Pipeline, error) {
	steps := make([]Step, len(estimators))
	seen := make(map[string]int)
	for i, est := range estimators {
		name := stepName(est)
		seen[name]++
		if seen[name] > 1 {
			name = fmt.Sprintf("%s-%d", name, seen[name])
		}
		steps[i] = Step{Name: name, Estimator: est}
	}
	return NewPipeline(steps...)
}

func stepName(est any) string {
	t := reflect.TypeOf(est)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.ToLower(t.Name())
}

// NewPipeline builds a pipeline from explicitly named steps.
func NewPipeline(steps ...Step) (*Pipeline, error) {
	if len(steps) < 2 {
		return nil, errors.NewValidationError("steps", "need a record transformer and a final regressor", len(steps))
	}
	names := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.Name == "" || strings.Contains(s.Name, "__") {
			return nil, errors.NewValidationError("steps", "step names must be non-empty and must not contain '__'", s.Name)
		}
		if names[s.Name] {
			return nil, errors.NewValidationError("steps", "duplicate step name", s.Name)
		}
		names[s.Name] = true

		switch {
		case i == 0:
			if _, ok := s.Estimator.(model.RecordTransformer); !ok {
				return nil, errors.NewValidationError(s.Name, "first step must transform records", fmt.Sprintf("%T", s.Estimator))
			}
		case i == len(steps)-1:
			if _, ok := s.Estimator.(model.Regressor); !ok {
				return nil, errors.NewValidationError(s.Name, "last step must be a regressor", fmt.Sprintf("%T", s.Estimator))
			}
		default:
			if _, ok := s.Estimator.(model.Transformer); !ok {
				return nil, errors.NewValidationError(s.Name, "intermediate steps must transform matrices", fmt.Sprintf("%T", s.Estimator))
			}
		}
	}
	return &Pipeline{
		steps:  append([]Step(nil), steps...),
		state:  model.NewStateManager(),
		logger: log.GetLoggerWithName("pipeline"),
	}, nil
}

// Steps returns the steps in order.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// NamedStep returns the estimator of the step called name.
func (p *Pipeline) NamedStep(name string) (any, bool) {
	for _, s := range p.steps {
		if s.Name == name {
			return s.Estimator, true
		}
	}
	return nil, false
}

// Final returns the final regressor.
func (p *Pipeline) Final() model.Regressor {
	return p.steps[len(p.steps)-1].Estimator.(model.Regressor)
}

// Fit fits every step in order on records and y.
func (p *Pipeline) Fit(records []feature_extraction.Record, y *mat.VecDense) error {
	start := time.Now()
	if len(records) == 0 {
		return errors.NewModelError("Pipeline.Fit", "empty data", errors.ErrEmptyData)
	}
	if y.Len() != len(records) {
		return errors.NewDimensionError("Pipeline.Fit", len(records), y.Len(), 0)
	}
	p.state.Reset()

	first := p.steps[0].Estimator.(model.RecordTransformer)
	if err := first.Fit(records); err != nil {
		return errors.Wrapf(err, "step %s", p.steps[0].Name)
	}
	X, err := first.Transform(records)
	if err != nil {
		return errors.Wrapf(err, "step %s", p.steps[0].Name)
	}

	var Xt mat.Matrix = X
	for _, s := range p.steps[1 : len(p.steps)-1] {
		Xt, err = s.Estimator.(model.Transformer).FitTransform(Xt)
		if err != nil {
			return errors.Wrapf(err, "step %s", s.Name)
		}
	}

	last := p.steps[len(p.steps)-1]
	yCol := mat.NewDense(y.Len(), 1, nil)
	yCol.SetCol(0, mat.Col(nil, 0, y))
	if err := last.Estimator.(model.Regressor).Fit(Xt, yCol); err != nil {
		return errors.Wrapf(err, "step %s", last.Name)
	}

	_, nFeatures := X.Dims()
	p.state.SetDimensions(nFeatures, len(records))
	p.state.SetFitted()
	p.logger.Info("Pipeline fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, len(records),
		log.FeaturesKey, nFeatures,
		"steps", len(p.steps),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// Transform runs every step except the final regressor.
func (p *Pipeline) Transform(records []feature_extraction.Record) (mat.Matrix, error) {
	if err := p.state.RequireFitted("Pipeline", "Transform"); err != nil {
		return nil, err
	}
	X, err := p.steps[0].Estimator.(model.RecordTransformer).Transform(records)
	if err != nil {
		return nil, errors.Wrapf(err, "step %s", p.steps[0].Name)
	}
	var Xt mat.Matrix = X
	for _, s := range p.steps[1 : len(p.steps)-1] {
		Xt, err = s.Estimator.(model.Transformer).Transform(Xt)
		if err != nil {
			return nil, errors.Wrapf(err, "step %s", s.Name)
		}
	}
	return Xt, nil
}

// Predict returns one prediction per record.
func (p *Pipeline) Predict(records []feature_extraction.Record) (*mat.VecDense, error) {
	Xt, err := p.Transform(records)
	if err != nil {
		return nil, err
	}
	pred, err := p.Final().Predict(Xt)
	if err != nil {
		return nil, errors.Wrapf(err, "step %s", p.steps[len(p.steps)-1].Name)
	}
	return metrics.ColumnVec(pred), nil
}

// Score returns R² of the predictions against y.
func (p *Pipeline) Score(records []feature_extraction.Record, y *mat.VecDense) (float64, error) {
	pred, err := p.Predict(records)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(y, pred)
}

// IsFitted reports whether Fit has completed.
func (p *Pipeline) IsFitted() bool {
	return p.state.IsFitted()
}

func (p *Pipeline) String() string {
	parts := make([]string, len(p.steps))
	for i, s := range p.steps {
		parts[i] = fmt.Sprintf("('%s', %v)", s.Name, s.Estimator)
	}
	return "Pipeline(steps=[" + strings.Join(parts, ", ") + "])"
}
