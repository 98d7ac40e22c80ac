package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/preprocessing"
	"github.com/scigo/onnxpipe/sklearn/datasets"
	"github.com/scigo/onnxpipe/sklearn/ensemble"
	"github.com/scigo/onnxpipe/sklearn/feature_extraction"
	"github.com/scigo/onnxpipe/sklearn/linear_model"
	"github.com/scigo/onnxpipe/sklearn/model_selection"
)

func TestMakePipelineNames(t *testing.T) {
	p, err := MakePipeline(
		feature_extraction.NewDictVectorizer(),
		preprocessing.NewStandardScalerDefault(),
		preprocessing.NewStandardScalerDefault(),
		ensemble.NewGradientBoostingRegressor(),
	)
	require.NoError(t, err)

	var names []string
	for _, s := range p.Steps() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"dictvectorizer", "standardscaler", "standardscaler-2", "gradientboostingregressor"}, names)

	est, ok := p.NamedStep("gradientboostingregressor")
	require.True(t, ok)
	assert.IsType(t, &ensemble.GradientBoostingRegressor{}, est)
	_, ok = p.NamedStep("missing")
	assert.False(t, ok)
}

func TestPipelineValidation(t *testing.T) {
	tests := []struct {
		name  string
		steps []any
	}{
		{"single step", []any{feature_extraction.NewDictVectorizer()}},
		{"first not record transformer", []any{preprocessing.NewStandardScalerDefault(), linear_model.NewLinearRegression()}},
		{"last not regressor", []any{feature_extraction.NewDictVectorizer(), preprocessing.NewStandardScalerDefault()}},
		{"middle not transformer", []any{feature_extraction.NewDictVectorizer(), linear_model.NewLinearRegression(), linear_model.NewLinearRegression()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MakePipeline(tt.steps...)
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve), "got %v", err)
		})
	}

	_, err := NewPipeline(
		Step{Name: "a", Estimator: feature_extraction.NewDictVectorizer()},
		Step{Name: "a", Estimator: linear_model.NewLinearRegression()},
	)
	assert.Error(t, err)
}

func TestPipelineFitPredict(t *testing.T) {
	ds, err := datasets.MakeFriedman1(300, 13, 0.5, 42)
	require.NoError(t, err)
	XTrain, XTest, yTrain, yTest, err := model_selection.TrainTestSplit(ds.Data, ds.Target, model_selection.WithRandomState(42))
	require.NoError(t, err)

	train := feature_extraction.RecordsFromMatrix(XTrain, 0)
	test := feature_extraction.RecordsFromMatrix(XTest, 0)

	p, err := MakePipeline(feature_extraction.NewDictVectorizer(), ensemble.NewGradientBoostingRegressor())
	require.NoError(t, err)
	assert.False(t, p.IsFitted())

	_, err = p.Predict(test)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	require.NoError(t, p.Fit(train, yTrain))
	assert.True(t, p.IsFitted())

	pred, err := p.Predict(test)
	require.NoError(t, err)
	assert.Equal(t, len(test), pred.Len())

	score, err := p.Score(test, yTest)
	require.NoError(t, err)
	assert.Greater(t, score, 0.6)

	dv, _ := p.NamedStep("dictvectorizer")
	assert.Len(t, dv.(*feature_extraction.DictVectorizer).FeatureNames(), 12)
}

func TestPipelineWithScalerAndLinearModel(t *testing.T) {
	records := []feature_extraction.Record{{0: 1, 1: 0}, {0: 2, 1: 1}, {0: 3, 1: 0}, {0: 4, 1: 1}}
	y := mat.NewVecDense(4, []float64{3, 7, 7, 11}) // 2*x0 + 2*x1 + 1

	p, err := MakePipeline(
		feature_extraction.NewDictVectorizer(),
		preprocessing.NewMinMaxScalerDefault(),
		linear_model.NewLinearRegression(),
	)
	require.NoError(t, err)
	require.NoError(t, p.Fit(records, y))

	pred, err := p.Predict([]feature_extraction.Record{{0: 5, 1: 0}})
	require.NoError(t, err)
	assert.InDelta(t, 11, pred.AtVec(0), 1e-9)
}

func TestPipelineFitDimensionMismatch(t *testing.T) {
	p, err := MakePipeline(feature_extraction.NewDictVectorizer(), linear_model.NewLinearRegression())
	require.NoError(t, err)
	err = p.Fit([]feature_extraction.Record{{0: 1}}, mat.NewVecDense(2, nil))
	var dim *errors.DimensionError
	assert.True(t, errors.As(err, &dim))
}
