// Package model_selection splits tabular data into train and test sets.
package model_selection

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/pkg/errors"
)

type splitConfig struct {
	testSize float64
	seed     uint64
	seeded   bool
	shuffle  bool
}

// SplitOption configures TrainTestSplit.
type SplitOption func(*splitConfig)

// WithTestSize sets the fraction of samples held out (default 0.25).
func WithTestSize(size float64) SplitOption {
	return func(c *splitConfig) {
		c.testSize = size
	}
}

// WithRandomState fixes the shuffle seed. Without it every call draws a new
// permutation.
func WithRandomState(seed uint64) SplitOption {
	return func(c *splitConfig) {
		c.seed = seed
		c.seeded = true
	}
}

// WithShuffle toggles shuffling (default true). Without shuffling the last
// rows form the test set.
func WithShuffle(shuffle bool) SplitOption {
	return func(c *splitConfig) {
		c.shuffle = shuffle
	}
}

// SplitIndices returns the train and test row indices for n samples.
// nTest = ceil(testSize * n), and both sets are non-empty.
func SplitIndices(n int, opts ...SplitOption) (train, test []int, err error) {
	cfg := splitConfig{testSize: 0.25, shuffle: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.testSize <= 0 || cfg.testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", cfg.testSize)
	}

	nTest := int(math.Ceil(cfg.testSize * float64(n)))
	if n < 2 || nTest >= n {
		return nil, nil, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("with n_samples=%d and test_size=%g the train set would be empty", n, cfg.testSize))
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	if cfg.shuffle {
		var rng *rand.Rand
		if cfg.seeded {
			rng = rand.New(rand.NewPCG(cfg.seed, cfg.seed^0xda942042e4dd58b5))
		} else {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		return perm[nTest:], perm[:nTest], nil
	}
	return perm[:n-nTest], perm[n-nTest:], nil
}

// TrainTestSplit splits X and y row-wise into train and test subsets.
func TrainTestSplit(X mat.Matrix, y *mat.VecDense, opts ...SplitOption) (XTrain, XTest *mat.Dense, yTrain, yTest *mat.VecDense, err error) {
	n, _ := X.Dims()
	if y.Len() != n {
		return nil, nil, nil, nil, errors.NewDimensionError("TrainTestSplit", n, y.Len(), 0)
	}
	train, test, err := SplitIndices(n, opts...)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	XTrain, yTrain = take(X, y, train)
	XTest, yTest = take(X, y, test)
	return XTrain, XTest, yTrain, yTest, nil
}

func take(X mat.Matrix, y *mat.VecDense, idx []int) (*mat.Dense, *mat.VecDense) {
	_, p := X.Dims()
	Xs := mat.NewDense(len(idx), p, nil)
	ys := mat.NewVecDense(len(idx), nil)
	row := make([]float64, p)
	for i, r := range idx {
		mat.Row(row, r, X)
		Xs.SetRow(i, row)
		ys.SetVec(i, y.AtVec(r))
	}
	return Xs, ys
}
