package datasets

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/scigo/onnxpipe/pkg/errors"
)

// MakeFriedman1 generates the "Friedman #1" regression problem:
//
//	y = 10 sin(π x0 x1) + 20 (x2 - 0.5)² + 10 x3 + 5 x4 + noise·N(0, 1)
//
// with every feature drawn uniformly from [0, 1). Features beyond the fifth
// are independent of y. The same seed always yields the same dataset.
func MakeFriedman1(nSamples, nFeatures int, noise float64, seed uint64) (*Dataset, error) {
	if nSamples <= 0 {
		return nil, errors.NewValidationError("n_samples", "must be positive", nSamples)
	}
	if nFeatures < 5 {
		return nil, errors.NewValidationError("n_features", "must be at least 5", nFeatures)
	}
	if noise < 0 {
		return nil, errors.NewValidationError("noise", "must be non-negative", noise)
	}

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	uniform := distuv.Uniform{Min: 0, Max: 1, Src: src}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	X := mat.NewDense(nSamples, nFeatures, nil)
	y := mat.NewVecDense(nSamples, nil)
	for i := 0; i < nSamples; i++ {
		for j := 0; j < nFeatures; j++ {
			X.Set(i, j, uniform.Rand())
		}
		v := 10*math.Sin(math.Pi*X.At(i, 0)*X.At(i, 1)) +
			20*(X.At(i, 2)-0.5)*(X.At(i, 2)-0.5) +
			10*X.At(i, 3) +
			5*X.At(i, 4)
		if noise > 0 {
			v += noise * normal.Rand()
		}
		y.SetVec(i, v)
	}

	names := make([]string, nFeatures)
	for j := range names {
		names[j] = fmt.Sprintf("x%d", j)
	}
	return &Dataset{
		Name:         "friedman1",
		Data:         X,
		Target:       y,
		FeatureNames: names,
	}, nil
}
