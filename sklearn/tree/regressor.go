package tree

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/core/model"
	"github.com/scigo/onnxpipe/core/parallel"
	"github.com/scigo/onnxpipe/metrics"
	"github.com/scigo/onnxpipe/pkg/errors"
)

// parallelThreshold is the row count above which Predict fans out.
const parallelThreshold = 1000

// DecisionTreeRegressor is a CART regression tree.
type DecisionTreeRegressor struct {
	state *model.StateManager

	criterion           string
	maxDepth            int
	minSamplesSplit     int
	minSamplesLeaf      int
	minImpurityDecrease float64

	tree        *Tree
	importances []float64
}

// Option configures a DecisionTreeRegressor.
type Option func(*DecisionTreeRegressor)

// WithCriterion sets the split criterion: "squared_error" (default) or
// "friedman_mse".
func WithCriterion(c string) Option {
	return func(d *DecisionTreeRegressor) {
		d.criterion = c
	}
}

// WithMaxDepth limits the tree depth. 0 means unlimited.
func WithMaxDepth(depth int) Option {
	return func(d *DecisionTreeRegressor) {
		d.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum node size that may be split (default 2).
func WithMinSamplesSplit(n int) Option {
	return func(d *DecisionTreeRegressor) {
		d.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum number of samples per leaf (default 1).
func WithMinSamplesLeaf(n int) Option {
	return func(d *DecisionTreeRegressor) {
		d.minSamplesLeaf = n
	}
}

// WithMinImpurityDecrease rejects splits whose weighted impurity decrease
// is below v.
func WithMinImpurityDecrease(v float64) Option {
	return func(d *DecisionTreeRegressor) {
		d.minImpurityDecrease = v
	}
}

// NewDecisionTreeRegressor creates an unfitted tree.
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	d := &DecisionTreeRegressor{
		state:           model.NewStateManager(),
		criterion:       CriterionSquaredError,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DecisionTreeRegressor) validate() error {
	if d.criterion != CriterionSquaredError && d.criterion != CriterionFriedmanMSE {
		return errors.NewValidationError("criterion", "must be squared_error or friedman_mse", d.criterion)
	}
	if d.maxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be non-negative", d.maxDepth)
	}
	if d.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", d.minSamplesSplit)
	}
	if d.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", d.minSamplesLeaf)
	}
	if d.minImpurityDecrease < 0 {
		return errors.NewValidationError("min_impurity_decrease", "must be non-negative", d.minImpurityDecrease)
	}
	return nil
}

// Fit grows the tree on all rows of X.
func (d *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	r, _ := X.Dims()
	idx := make([]int, r)
	for i := range idx {
		idx[i] = i
	}
	return d.FitSubset(X, y, idx)
}

// FitSubset grows the tree on the rows listed in indices. Gradient boosting
// uses it for stochastic subsampling.
func (d *DecisionTreeRegressor) FitSubset(X, y mat.Matrix, indices []int) (err error) {
	defer errors.Recover(&err, "DecisionTreeRegressor.Fit")

	r, c := X.Dims()
	yr, yc := y.Dims()
	if r == 0 || c == 0 || len(indices) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if yr != r {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", r, yr, 0)
	}
	if yc != 1 {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", 1, yc, 1)
	}
	target := make([]float64, r)
	mat.Col(target, 0, y)
	return d.fitColumns(Float32Columns(X), target, indices)
}

// Float32Columns returns X column-major with every value rounded to float32.
// Callers fitting many trees on the same X compute it once.
func Float32Columns(X mat.Matrix) [][]float64 {
	r, c := X.Dims()
	cols := make([][]float64, c)
	for j := range cols {
		cols[j] = make([]float64, r)
		for i := 0; i < r; i++ {
			cols[j][i] = float64(float32(X.At(i, j)))
		}
	}
	return cols
}

// FitColumns grows the tree from precomputed float32 columns. y has one
// entry per row; only rows in indices are used.
func (d *DecisionTreeRegressor) FitColumns(cols [][]float64, y []float64, indices []int) (err error) {
	defer errors.Recover(&err, "DecisionTreeRegressor.Fit")
	if len(cols) == 0 || len(indices) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if len(cols[0]) != len(y) {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", len(cols[0]), len(y), 0)
	}
	return d.fitColumns(cols, y, indices)
}

func (d *DecisionTreeRegressor) fitColumns(cols [][]float64, y []float64, indices []int) error {
	if err := d.validate(); err != nil {
		return err
	}
	d.state.Reset()

	b := &builder{
		cols:            cols,
		y:               y,
		criterion:       d.criterion,
		maxDepth:        d.maxDepth,
		minSamplesSplit: d.minSamplesSplit,
		minSamplesLeaf:  d.minSamplesLeaf,
		minImpurityDecr: d.minImpurityDecrease,
		totalSamples:    float64(len(indices)),
		tree:            &Tree{},
		importances:     make([]float64, len(cols)),
	}
	samples := make([]int, len(indices))
	copy(samples, indices)
	b.build(samples, 0)

	var total float64
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}

	d.tree = b.tree
	d.importances = b.importances
	d.state.SetDimensions(len(cols), len(indices))
	d.state.SetFitted()
	return nil
}

// Predict returns an n×1 matrix of leaf values.
func (d *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := d.state.RequireFitted("DecisionTreeRegressor", "Predict"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := d.state.RequireFeatures("DecisionTreeRegressor.Predict", c); err != nil {
		return nil, err
	}

	out := mat.NewDense(r, 1, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, 0, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			out.Set(i, 0, d.tree.PredictRow(row))
		}
	})
	return out, nil
}

// Score returns R² of the predictions on X against y.
func (d *DecisionTreeRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := d.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(metrics.ColumnVec(y), metrics.ColumnVec(pred))
}

// Tree returns the fitted tree, or nil before Fit.
func (d *DecisionTreeRegressor) Tree() *Tree {
	return d.tree
}

// FeatureImportances returns normalized impurity-based importances.
func (d *DecisionTreeRegressor) FeatureImportances() []float64 {
	out := make([]float64, len(d.importances))
	copy(out, d.importances)
	return out
}

// UnnormalizedImportances returns the total weighted impurity decrease per
// feature. Ensembles sum these across trees before normalizing.
func (d *DecisionTreeRegressor) UnnormalizedImportances() []float64 {
	if d.tree == nil {
		return nil
	}
	out := make([]float64, len(d.importances))
	t := d.tree
	for i := range t.Value {
		if t.IsLeaf(i) {
			continue
		}
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		out[t.Feature[i]] += float64(t.NNodeSamples[i])*t.Impurity[i] -
			float64(t.NNodeSamples[l])*t.Impurity[l] -
			float64(t.NNodeSamples[r])*t.Impurity[r]
	}
	return out
}

// NFeatures returns the number of features seen during Fit.
func (d *DecisionTreeRegressor) NFeatures() int {
	n, _ := d.state.GetDimensions()
	return n
}

// IsFitted reports whether Fit has completed.
func (d *DecisionTreeRegressor) IsFitted() bool {
	return d.state.IsFitted()
}

// GetParams returns the hyperparameters.
func (d *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":             d.criterion,
		"max_depth":             d.maxDepth,
		"min_samples_split":     d.minSamplesSplit,
		"min_samples_leaf":      d.minSamplesLeaf,
		"min_impurity_decrease": d.minImpurityDecrease,
	}
}

func (d *DecisionTreeRegressor) String() string {
	return fmt.Sprintf("DecisionTreeRegressor(criterion=%s, max_depth=%d)", d.criterion, d.maxDepth)
}
