// Package ensemble provides gradient-boosted regression trees.
package ensemble

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/core/model"
	"github.com/scigo/onnxpipe/core/parallel"
	"github.com/scigo/onnxpipe/metrics"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
	"github.com/scigo/onnxpipe/sklearn/tree"
)

// predictParallelThreshold is the row count above which prediction is split
// across workers.
const predictParallelThreshold = 500

// GradientBoostingRegressor fits an additive model of regression trees to
// the squared-error loss. Stage m fits a tree h_m to the residuals
// y - F_{m-1}(x) and F_m = F_{m-1} + learning_rate * h_m, starting from
// F_0 = mean(y).
type GradientBoostingRegressor struct {
	state *model.StateManager

	nEstimators         int
	learningRate        float64
	maxDepth            int
	subsample           float64
	criterion           string
	minSamplesSplit     int
	minSamplesLeaf      int
	minImpurityDecrease float64
	randomState         uint64
	seeded              bool
	nJobs               int

	init        float64
	estimators  []*tree.DecisionTreeRegressor
	trainScore  []float64
	importances []float64

	logger log.Logger
}

// Option configures a GradientBoostingRegressor.
type Option func(*GradientBoostingRegressor)

// WithNEstimators sets the number of boosting stages (default 100).
func WithNEstimators(n int) Option {
	return func(g *GradientBoostingRegressor) { g.nEstimators = n }
}

// WithLearningRate shrinks the contribution of each tree (default 0.1).
func WithLearningRate(lr float64) Option {
	return func(g *GradientBoostingRegressor) { g.learningRate = lr }
}

// WithMaxDepth sets the depth of each tree (default 3).
func WithMaxDepth(depth int) Option {
	return func(g *GradientBoostingRegressor) { g.maxDepth = depth }
}

// WithSubsample sets the fraction of rows drawn without replacement for each
// stage (default 1.0, no sampling).
func WithSubsample(f float64) Option {
	return func(g *GradientBoostingRegressor) { g.subsample = f }
}

// WithCriterion sets the tree split criterion (default "friedman_mse").
func WithCriterion(c string) Option {
	return func(g *GradientBoostingRegressor) { g.criterion = c }
}

// WithMinSamplesSplit sets min_samples_split of each tree (default 2).
func WithMinSamplesSplit(n int) Option {
	return func(g *GradientBoostingRegressor) { g.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets min_samples_leaf of each tree (default 1).
func WithMinSamplesLeaf(n int) Option {
	return func(g *GradientBoostingRegressor) { g.minSamplesLeaf = n }
}

// WithMinImpurityDecrease sets min_impurity_decrease of each tree.
func WithMinImpurityDecrease(v float64) Option {
	return func(g *GradientBoostingRegressor) { g.minImpurityDecrease = v }
}

// WithRandomState seeds row subsampling.
func WithRandomState(seed uint64) Option {
	return func(g *GradientBoostingRegressor) {
		g.randomState = seed
		g.seeded = true
	}
}

// WithNJobs sets the number of prediction workers; 0 uses every CPU.
func WithNJobs(n int) Option {
	return func(g *GradientBoostingRegressor) { g.nJobs = n }
}

// WithLogger overrides the logger used for per-stage progress.
func WithLogger(l log.Logger) Option {
	return func(g *GradientBoostingRegressor) { g.logger = l }
}

// NewGradientBoostingRegressor creates an unfitted regressor with
// scikit-learn's defaults.
func NewGradientBoostingRegressor(opts ...Option) *GradientBoostingRegressor {
	g := &GradientBoostingRegressor{
		state:           model.NewStateManager(),
		nEstimators:     100,
		learningRate:    0.1,
		maxDepth:        3,
		subsample:       1.0,
		criterion:       tree.CriterionFriedmanMSE,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.GetLoggerWithName("ensemble")
	}
	return g
}

func (g *GradientBoostingRegressor) validate() error {
	switch {
	case g.nEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be at least 1", g.nEstimators)
	case g.learningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be positive", g.learningRate)
	case g.subsample <= 0 || g.subsample > 1:
		return errors.NewValidationError("subsample", "must be in (0, 1]", g.subsample)
	case g.maxDepth < 0:
		return errors.NewValidationError("max_depth", "must be non-negative", g.maxDepth)
	}
	return nil
}

func (g *GradientBoostingRegressor) newTree() *tree.DecisionTreeRegressor {
	return tree.NewDecisionTreeRegressor(
		tree.WithCriterion(g.criterion),
		tree.WithMaxDepth(g.maxDepth),
		tree.WithMinSamplesSplit(g.minSamplesSplit),
		tree.WithMinSamplesLeaf(g.minSamplesLeaf),
		tree.WithMinImpurityDecrease(g.minImpurityDecrease),
	)
}

// Fit trains the ensemble. y must be n×1.
func (g *GradientBoostingRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "GradientBoostingRegressor.Fit")
	start := time.Now()

	if err := g.validate(); err != nil {
		return err
	}
	n, p := X.Dims()
	yr, yc := y.Dims()
	if n == 0 || p == 0 {
		return errors.NewModelError("GradientBoostingRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr != n {
		return errors.NewDimensionError("GradientBoostingRegressor.Fit", n, yr, 0)
	}
	if yc != 1 {
		return errors.NewDimensionError("GradientBoostingRegressor.Fit", 1, yc, 1)
	}
	g.state.Reset()

	target := make([]float64, n)
	mat.Col(target, 0, y)
	if err := errors.CheckNumericalStability("GradientBoostingRegressor.Fit", target, 0); err != nil {
		return err
	}

	cols := tree.Float32Columns(X)

	var init float64
	for _, v := range target {
		init += v
	}
	init /= float64(n)

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = init
	}
	residual := make([]float64, n)

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	nSub := n
	var rng *rand.Rand
	if g.subsample < 1 {
		nSub = max(1, int(g.subsample*float64(n)))
		seed := g.randomState
		if !g.seeded {
			seed = rand.Uint64()
		}
		rng = rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d))
	}

	estimators := make([]*tree.DecisionTreeRegressor, 0, g.nEstimators)
	trainScore := make([]float64, 0, g.nEstimators)
	importances := make([]float64, p)
	row := make([]float64, p)

	for m := 0; m < g.nEstimators; m++ {
		for i := range residual {
			residual[i] = target[i] - raw[i]
		}

		idx := all
		if rng != nil {
			perm := rng.Perm(n)[:nSub]
			slices.Sort(perm)
			idx = perm
		}

		h := g.newTree()
		if err := h.FitColumns(cols, residual, idx); err != nil {
			return errors.Wrapf(err, "boosting stage %d", m)
		}
		t := h.Tree()
		for i := 0; i < n; i++ {
			for j := range row {
				row[j] = cols[j][i]
			}
			raw[i] += g.learningRate * t.PredictRow(row)
		}

		var loss float64
		for _, i := range idx {
			d := target[i] - raw[i]
			loss += d * d
		}
		loss /= float64(len(idx))
		if err := errors.CheckScalar("boosting_stage", loss, m); err != nil {
			return err
		}

		for j, v := range h.UnnormalizedImportances() {
			importances[j] += v
		}
		estimators = append(estimators, h)
		trainScore = append(trainScore, loss)

		if (m+1)%10 == 0 && g.logger.Enabled(context.Background(), log.LevelDebug) {
			g.logger.Debug("boosting stage",
				log.IterationKey, m+1,
				log.LossKey, loss,
			)
		}
	}

	var total float64
	for _, v := range importances {
		total += v
	}
	if total > 0 {
		for j := range importances {
			importances[j] /= total
		}
	}

	g.init = init
	g.estimators = estimators
	g.trainScore = trainScore
	g.importances = importances
	g.state.SetDimensions(p, n)
	g.state.SetFitted()

	g.logger.Info("GradientBoostingRegressor fitted",
		log.ModelNameKey, "GradientBoostingRegressor",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.EstimatorsKey, g.nEstimators,
		log.LossKey, trainScore[len(trainScore)-1],
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// Predict returns an n×1 matrix of predictions. Rows are split across
// workers when there are many of them; trees are only read.
func (g *GradientBoostingRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := g.state.RequireFitted("GradientBoostingRegressor", "Predict"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := g.state.RequireFeatures("GradientBoostingRegressor.Predict", c); err != nil {
		return nil, err
	}

	out := mat.NewDense(r, 1, nil)
	parallel.ParallelizeWithThreshold(r, predictParallelThreshold, g.nJobs, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			out.Set(i, 0, g.predictRow(row, len(g.estimators)))
		}
	})
	return out, nil
}

func (g *GradientBoostingRegressor) predictRow(row []float64, stages int) float64 {
	v := g.init
	for _, h := range g.estimators[:stages] {
		v += g.learningRate * h.Tree().PredictRow(row)
	}
	return v
}

// StagedPredict returns the predictions after each stage; element m holds
// the output of the first m+1 trees.
func (g *GradientBoostingRegressor) StagedPredict(X mat.Matrix) ([]*mat.VecDense, error) {
	if err := g.state.RequireFitted("GradientBoostingRegressor", "StagedPredict"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := g.state.RequireFeatures("GradientBoostingRegressor.StagedPredict", c); err != nil {
		return nil, err
	}

	stages := make([]*mat.VecDense, len(g.estimators))
	raw := make([]float64, r)
	for i := range raw {
		raw[i] = g.init
	}
	row := make([]float64, c)
	for m, h := range g.estimators {
		t := h.Tree()
		for i := 0; i < r; i++ {
			mat.Row(row, i, X)
			raw[i] += g.learningRate * t.PredictRow(row)
		}
		stages[m] = mat.NewVecDense(r, slices.Clone(raw))
	}
	return stages, nil
}

// Score returns R² of the predictions on X against y.
func (g *GradientBoostingRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := g.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(metrics.ColumnVec(y), metrics.ColumnVec(pred))
}

// TrainScore returns the in-bag squared-error loss after each stage.
func (g *GradientBoostingRegressor) TrainScore() []float64 {
	return slices.Clone(g.trainScore)
}

// FeatureImportances returns impurity-based importances summed over trees
// and normalized to 1.
func (g *GradientBoostingRegressor) FeatureImportances() []float64 {
	return slices.Clone(g.importances)
}

// Estimators returns the fitted trees in stage order.
func (g *GradientBoostingRegressor) Estimators() []*tree.DecisionTreeRegressor {
	return slices.Clone(g.estimators)
}

// InitValue returns F_0, the mean of the training target.
func (g *GradientBoostingRegressor) InitValue() float64 {
	return g.init
}

// LearningRate returns the shrinkage applied to every tree.
func (g *GradientBoostingRegressor) LearningRate() float64 {
	return g.learningRate
}

// NFeatures returns the number of features seen during Fit.
func (g *GradientBoostingRegressor) NFeatures() int {
	n, _ := g.state.GetDimensions()
	return n
}

// IsFitted reports whether Fit has completed.
func (g *GradientBoostingRegressor) IsFitted() bool {
	return g.state.IsFitted()
}

// GetParams returns the hyperparameters.
func (g *GradientBoostingRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":          g.nEstimators,
		"learning_rate":         g.learningRate,
		"max_depth":             g.maxDepth,
		"subsample":             g.subsample,
		"criterion":             g.criterion,
		"min_samples_split":     g.minSamplesSplit,
		"min_samples_leaf":      g.minSamplesLeaf,
		"min_impurity_decrease": g.minImpurityDecrease,
		"loss":                  "squared_error",
	}
}

func (g *GradientBoostingRegressor) String() string {
	return fmt.Sprintf("GradientBoostingRegressor(n_estimators=%d, learning_rate=%g, max_depth=%d)",
		g.nEstimators, g.learningRate, g.maxDepth)
}
