package preprocessing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/pkg/errors"
)

func sample() *mat.Dense {
	return mat.NewDense(4, 3, []float64{
		1, 10, 5,
		2, 20, 5,
		3, 30, 5,
		4, 40, 5,
	})
}

func TestStandardScaler(t *testing.T) {
	s := NewStandardScalerDefault()
	out, err := s.FitTransform(sample())
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{2.5, 25, 5}, s.Mean, 1e-12)
	assert.InDelta(t, 1.118033988749895, s.Scale[0], 1e-12)
	assert.Equal(t, 1.0, s.Scale[2], "constant column keeps unit scale")

	for j := 0; j < 2; j++ {
		var sum float64
		for i := 0; i < 4; i++ {
			sum += out.At(i, j)
		}
		assert.InDelta(t, 0, sum, 1e-12)
	}
	assert.Equal(t, 0.0, out.At(0, 2))

	back, err := s.InverseTransform(out)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(back, sample(), 1e-12))
}

func TestStandardScalerWithoutMean(t *testing.T) {
	s := NewStandardScaler(false, true)
	require.NoError(t, s.Fit(sample()))
	assert.Equal(t, []float64{0, 0, 0}, s.Mean)
}

func TestMinMaxScaler(t *testing.T) {
	m := NewMinMaxScaler([2]float64{-1, 1})
	out, err := m.FitTransform(sample())
	require.NoError(t, err)

	assert.InDelta(t, -1, out.At(0, 0), 1e-12)
	assert.InDelta(t, 1, out.At(3, 1), 1e-12)

	back, err := m.InverseTransform(out)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(back, sample(), 1e-9))

	bad := NewMinMaxScaler([2]float64{1, 0})
	assert.Error(t, bad.Fit(sample()))
}

func TestAffineParamsReproduceTransform(t *testing.T) {
	for _, s := range []AffineScaler{NewStandardScalerDefault(), NewMinMaxScalerDefault()} {
		want, err := s.FitTransform(sample())
		require.NoError(t, err)

		offset, scale, err := s.AffineParams()
		require.NoError(t, err)

		X := sample()
		for i := 0; i < 4; i++ {
			for j := 0; j < 3; j++ {
				assert.InDelta(t, want.At(i, j), (X.At(i, j)-offset[j])*scale[j], 1e-12)
			}
		}
	}
}

func TestScalerErrors(t *testing.T) {
	s := NewStandardScalerDefault()
	_, err := s.Transform(sample())
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	require.NoError(t, s.Fit(sample()))
	_, err = s.Transform(mat.NewDense(2, 2, nil))
	var dim *errors.DimensionError
	assert.True(t, errors.As(err, &dim))

	assert.Error(t, s.Fit(&mat.Dense{}))
}

func TestScalersRejectNaN(t *testing.T) {
	X := sample()
	X.Set(2, 1, math.NaN())

	var ni *errors.NumericalInstabilityError
	assert.True(t, errors.As(NewStandardScalerDefault().Fit(X), &ni))
	assert.True(t, errors.As(NewMinMaxScalerDefault().Fit(X), &ni))
	assert.Equal(t, "MinMaxScaler.Fit", ni.Operation)
}
