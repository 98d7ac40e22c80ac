// Package linear_model provides ordinary least squares regression, usable as
// the final step of a pipeline and exported as ai.onnx.ml.LinearRegressor.
package linear_model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/core/model"
	"github.com/scigo/onnxpipe/metrics"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
)

// LinearRegression is a linear regression model using ordinary least squares.
type LinearRegression struct {
	state *model.StateManager

	fitIntercept bool
	positive     bool

	coef      []float64
	intercept float64
}

// LinearRegressionOption は設定オプション
type LinearRegressionOption func(*LinearRegression)

// WithLRFitIntercept は切片の学習有無を設定（デフォルト: true）
func WithLRFitIntercept(fit bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.fitIntercept = fit
	}
}

// WithPositive clips negative coefficients to zero after solving.
func WithPositive(positive bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.positive = positive
	}
}

// NewLinearRegression は新しいLinearRegressionモデルを作成
func NewLinearRegression(options ...LinearRegressionOption) *LinearRegression {
	lr := &LinearRegression{
		state:        model.NewStateManager(),
		fitIntercept: true,
	}
	for _, opt := range options {
		opt(lr)
	}
	return lr
}

// Fit solves min ||y - Xw - b|| with a QR factorization. With an intercept,
// X and y are centered first and b is recovered from the column means.
func (lr *LinearRegression) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LinearRegression.Fit")

	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("LinearRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return errors.NewDimensionError("LinearRegression.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("LinearRegression.Fit", 1, yCols, 1)
	}
	if rows < cols {
		return errors.NewValueError("LinearRegression.Fit", fmt.Sprintf("need at least %d samples, got %d", cols, rows))
	}
	lr.state.Reset()

	XWork := mat.DenseCopyOf(X)
	yWork := mat.DenseCopyOf(y)

	xMean := make([]float64, cols)
	var yMean float64
	if lr.fitIntercept {
		col := make([]float64, rows)
		for j := 0; j < cols; j++ {
			mat.Col(col, j, XWork)
			for _, v := range col {
				xMean[j] += v
			}
			xMean[j] /= float64(rows)
		}
		for i := 0; i < rows; i++ {
			yMean += yWork.At(i, 0)
		}
		yMean /= float64(rows)

		XWork.Apply(func(_, j int, v float64) float64 { return v - xMean[j] }, XWork)
		yWork.Apply(func(_, _ int, v float64) float64 { return v - yMean }, yWork)
	}

	var qr mat.QR
	qr.Factorize(XWork)

	w := mat.NewDense(cols, 1, nil)
	if err := qr.SolveTo(w, false, yWork); err != nil {
		return errors.NewModelError("LinearRegression.Fit", "failed to solve least squares", err)
	}

	lr.coef = make([]float64, cols)
	lr.intercept = yMean
	for j := 0; j < cols; j++ {
		lr.coef[j] = w.At(j, 0)
		if lr.positive && lr.coef[j] < 0 {
			lr.coef[j] = 0
		}
		lr.intercept -= lr.coef[j] * xMean[j]
	}
	if !lr.fitIntercept {
		lr.intercept = 0
	}
	if err := errors.CheckNumericalStability("LinearRegression.Fit", lr.coef, 0); err != nil {
		return err
	}

	lr.state.SetDimensions(cols, rows)
	lr.state.SetFitted()
	log.GetLoggerWithName("linear_model").Debug("LinearRegression fitted",
		log.ModelNameKey, "LinearRegression",
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
	)
	return nil
}

// Predict returns an n×1 matrix of predictions.
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted("LinearRegression", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := lr.state.RequireFeatures("LinearRegression.Predict", cols); err != nil {
		return nil, err
	}

	var out mat.Dense
	out.Mul(X, mat.NewDense(cols, 1, lr.Coef()))
	predictions := mat.NewDense(rows, 1, nil)
	predictions.Apply(func(_, _ int, v float64) float64 { return v + lr.intercept }, &out)
	return predictions, nil
}

// Score はモデルの決定係数（R²）を計算
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(metrics.ColumnVec(y), metrics.ColumnVec(predictions))
}

// Coef は学習された重み係数のコピーを返す
func (lr *LinearRegression) Coef() []float64 {
	if lr.coef == nil {
		return nil
	}
	coef := make([]float64, len(lr.coef))
	copy(coef, lr.coef)
	return coef
}

// Intercept は学習された切片を返す
func (lr *LinearRegression) Intercept() float64 {
	return lr.intercept
}

// IsFitted returns whether the model has been fitted
func (lr *LinearRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// GetParams returns the model's hyperparameters.
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"fit_intercept": lr.fitIntercept,
		"positive":      lr.positive,
	}
}

// String returns the string representation of the model
func (lr *LinearRegression) String() string {
	if !lr.state.IsFitted() {
		return fmt.Sprintf("LinearRegression(fit_intercept=%t, positive=%t)", lr.fitIntercept, lr.positive)
	}
	nFeatures, _ := lr.state.GetDimensions()
	return fmt.Sprintf("LinearRegression(fit_intercept=%t, n_features=%d, fitted=true)", lr.fitIntercept, nFeatures)
}
