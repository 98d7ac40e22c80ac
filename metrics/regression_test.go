package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type metricFunc func(yTrue, yPred *mat.VecDense) (float64, error)

func TestRegressionMetrics(t *testing.T) {
	tests := []struct {
		name    string
		fn      metricFunc
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{"MSE perfect", MSE, []float64{1, 2, 3, 4, 5}, []float64{1, 2, 3, 4, 5}, 0, false},
		{"MSE simple", MSE, []float64{1, 2, 3, 4}, []float64{1.5, 2.5, 2.5, 3.5}, 0.25, false},
		{"MSE larger errors", MSE, []float64{10, 20, 30}, []float64{12, 18, 33}, 17.0 / 3.0, false},
		{"MSE mismatch", MSE, []float64{1, 2, 3}, []float64{1, 2}, 0, true},
		{"RMSE", RMSE, []float64{1, 2, 3, 4}, []float64{1.5, 2.5, 2.5, 3.5}, 0.5, false},
		{"MAE", MAE, []float64{10, 20, 30}, []float64{12, 18, 33}, 7.0 / 3.0, false},
		{"R2 perfect", R2Score, []float64{1, 2, 3, 4, 5}, []float64{1, 2, 3, 4, 5}, 1, false},
		{"R2 worse than mean", R2Score, []float64{1, 2, 3, 4}, []float64{4, 3, 2, 1}, -3, false},
		{"R2 no variance", R2Score, []float64{3, 3, 3}, []float64{2, 3, 4}, 0, true},
		{"MAPE skips zeros", MAPE, []float64{0, 2, 4}, []float64{1, 1, 5}, 37.5, false},
		{"MAPE all zero", MAPE, []float64{0, 0}, []float64{1, 1}, 0, true},
		{"MaxError", MaxError, []float64{1, 2, 3}, []float64{1, 4, 2}, 2, false},
		{"EVS constant offset", ExplainedVarianceScore, []float64{1, 2, 3, 4}, []float64{2, 3, 4, 5}, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yTrue := mat.NewVecDense(len(tt.yTrue), tt.yTrue)
			yPred := mat.NewVecDense(len(tt.yPred), tt.yPred)

			got, err := tt.fn(yTrue, yPred)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-10)
		})
	}
}

func TestMetricsDoNotMutateInputs(t *testing.T) {
	yTrue := mat.NewVecDense(3, []float64{1, 2, 3})
	yPred := mat.NewVecDense(3, []float64{2, 2, 2})

	_, err := MSE(yTrue, yPred)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, yTrue.RawVector().Data)
}

func TestEmptyVectors(t *testing.T) {
	for _, fn := range []metricFunc{MSE, MAE, R2Score, MAPE, MaxError, ExplainedVarianceScore} {
		_, err := fn(&mat.VecDense{}, &mat.VecDense{})
		assert.Error(t, err)
	}
}

func TestMSEMatrix(t *testing.T) {
	yTrue := mat.NewDense(3, 1, []float64{1, 2, 3})
	yPred := mat.NewDense(3, 1, []float64{1, 2, 4})

	got, err := MSEMatrix(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, got, 1e-12)

	_, err = MSEMatrix(mat.NewDense(2, 2, nil), mat.NewDense(2, 2, nil))
	assert.Error(t, err)

	_, err = MSEMatrix(yTrue, mat.NewDense(2, 1, nil))
	assert.Error(t, err)
}

func TestR2ScoreFloat32(t *testing.T) {
	yTrue := []float64{1.1, 2.2, 3.3, 4.4}
	yPred := make([]float32, len(yTrue))
	for i, v := range yTrue {
		yPred[i] = float32(v)
	}

	got, err := R2ScoreFloat32(yTrue, yPred)
	require.NoError(t, err)
	assert.Greater(t, got, 0.9999999)

	_, err = R2ScoreFloat32(yTrue, yPred[:2])
	assert.Error(t, err)

	_, err = R2ScoreFloat32(nil, nil)
	assert.Error(t, err)
}

func TestR2ScoreFloat32ConstantReference(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []float64
		yPred []float32
		want  float64
	}{
		{"exact match", []float64{19.375, 19.375, 19.375}, []float32{19.375, 19.375, 19.375}, 1},
		{"match at float32 precision", []float64{0.1, 0.1}, []float32{0.1, 0.1}, 1},
		{"one record", []float64{2.5}, []float32{2.5}, 1},
		{"mismatch", []float64{3, 3, 3}, []float32{3, 3, 4}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := R2ScoreFloat32(tt.yTrue, tt.yPred)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// the float64 score keeps reporting a constant target as an error
	_, err := R2Score(mat.NewVecDense(2, []float64{3, 3}), mat.NewVecDense(2, []float64{3, 3}))
	assert.Error(t, err)
}

func TestColumnVec(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{1, 9, 2, 9, 3, 9})
	v := ColumnVec(m)
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 2.0, v.AtVec(1))
	assert.False(t, math.IsNaN(v.AtVec(2)))
}

func BenchmarkMSE(b *testing.B) {
	size := 10000
	yTrue := mat.NewVecDense(size, nil)
	yPred := mat.NewVecDense(size, nil)
	for i := 0; i < size; i++ {
		yTrue.SetVec(i, float64(i))
		yPred.SetVec(i, float64(i)+0.1*float64(i%10))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = MSE(yTrue, yPred)
	}
}
