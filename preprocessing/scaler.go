// Package preprocessing provides column-wise affine scalers usable as
// intermediate pipeline steps. Both scalers can be expressed as
// Y = (X - offset) * scale, which is how they are exported to ONNX.
package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/scigo/onnxpipe/core/model"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
)

// constantTolerance below which a column is treated as constant.
const constantTolerance = 1e-8

// AffineScaler is implemented by fitted scalers that can be written as
// Y = (X - offset) * scale with one offset and scale per column.
type AffineScaler interface {
	model.Transformer
	IsFitted() bool
	AffineParams() (offset, scale []float64, err error)
}

// StandardScaler はscikit-learn互換の標準化スケーラー
// データを平均0、標準偏差1に変換する
type StandardScaler struct {
	model.BaseEstimator

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差（定数列は1）
	Scale []float64

	NFeatures int

	// WithMean は平均を引くかどうか (デフォルト: true)
	WithMean bool

	// WithStd は標準偏差で割るかどうか (デフォルト: true)
	WithStd bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	XScaled, err := scaler.FitTransform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit computes per-column mean and population standard deviation.
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	if err := errors.CheckMatrix("StandardScaler.Fit", X, r, c, 0); err != nil {
		return err
	}
	s.Reset()

	s.NFeatures = c
	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, variance := stat.PopMeanVariance(col, nil)
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1
		if s.WithStd {
			if std := math.Sqrt(variance); std >= constantTolerance {
				s.Scale[j] = std
			}
		}
	}

	s.SetFitted()
	log.GetLoggerWithName("preprocessing").Debug("StandardScaler fitted",
		log.ModelNameKey, "StandardScaler",
		log.SamplesKey, r,
		log.FeaturesKey, c,
	)
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	offset, scale, err := s.AffineParams()
	if err != nil {
		return nil, err
	}
	return affine("StandardScaler.Transform", X, offset, scale)
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "InverseTransform")
	}
	inv := make([]float64, s.NFeatures)
	neg := make([]float64, s.NFeatures)
	for j := range inv {
		inv[j] = s.Scale[j]
		neg[j] = -s.Mean[j] / s.Scale[j]
	}
	return affine("StandardScaler.InverseTransform", X, neg, inv)
}

// AffineParams returns offset=mean and scale=1/std.
func (s *StandardScaler) AffineParams() ([]float64, []float64, error) {
	if !s.IsFitted() {
		return nil, nil, errors.NewNotFittedError("StandardScaler", "Transform")
	}
	scale := make([]float64, s.NFeatures)
	for j := range scale {
		scale[j] = 1 / s.Scale[j]
	}
	offset := make([]float64, s.NFeatures)
	copy(offset, s.Mean)
	return offset, scale, nil
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, s.NFeatures)
}

// MinMaxScaler はscikit-learn互換のMin-Maxスケーラー
// データを指定した範囲（デフォルト[0,1]）にスケーリングする
type MinMaxScaler struct {
	model.BaseEstimator

	// DataMin, DataMax は学習データの列ごとの最小値・最大値
	DataMin []float64
	DataMax []float64

	// Range は max - min（定数列は1）
	Range []float64

	NFeatures int

	// FeatureRange はスケーリング後の範囲 [min, max]
	FeatureRange [2]float64
}

// NewMinMaxScaler は新しいMinMaxScalerを作成する
func NewMinMaxScaler(featureRange [2]float64) *MinMaxScaler {
	return &MinMaxScaler{
		FeatureRange: featureRange,
	}
}

// NewMinMaxScalerDefault はデフォルト設定([0,1]範囲)でMinMaxScalerを作成する
func NewMinMaxScalerDefault() *MinMaxScaler {
	return NewMinMaxScaler([2]float64{0.0, 1.0})
}

// Fit は訓練データから最小値・最大値を計算する
func (m *MinMaxScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("MinMaxScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	if err := errors.CheckMatrix("MinMaxScaler.Fit", X, r, c, 0); err != nil {
		return err
	}
	if m.FeatureRange[1] <= m.FeatureRange[0] {
		return errors.NewValidationError("feature_range", "minimum must be smaller than maximum", m.FeatureRange)
	}
	m.Reset()

	m.NFeatures = c
	m.DataMin = make([]float64, c)
	m.DataMax = make([]float64, c)
	m.Range = make([]float64, c)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		lo, hi := col[0], col[0]
		for _, v := range col[1:] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		m.DataMin[j], m.DataMax[j] = lo, hi
		m.Range[j] = hi - lo
		if m.Range[j] < constantTolerance {
			m.Range[j] = 1
		}
	}

	m.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータをスケーリングする
func (m *MinMaxScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	offset, scale, err := m.AffineParams()
	if err != nil {
		return nil, err
	}
	return affine("MinMaxScaler.Transform", X, offset, scale)
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (m *MinMaxScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.Fit(X); err != nil {
		return nil, err
	}
	return m.Transform(X)
}

// InverseTransform はスケーリングされたデータを元の範囲に戻す
func (m *MinMaxScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	offset, scale, err := m.AffineParams()
	if err != nil {
		return nil, errors.NewNotFittedError("MinMaxScaler", "InverseTransform")
	}
	// X = Y/scale + offset = (Y - (-offset*scale)) * (1/scale)
	invOffset := make([]float64, len(scale))
	invScale := make([]float64, len(scale))
	for j := range scale {
		invScale[j] = 1 / scale[j]
		invOffset[j] = -offset[j] * scale[j]
	}
	return affine("MinMaxScaler.InverseTransform", X, invOffset, invScale)
}

// AffineParams returns scale=(b-a)/range and offset=min-a/scale for
// feature_range [a, b].
func (m *MinMaxScaler) AffineParams() ([]float64, []float64, error) {
	if !m.IsFitted() {
		return nil, nil, errors.NewNotFittedError("MinMaxScaler", "Transform")
	}
	width := m.FeatureRange[1] - m.FeatureRange[0]
	offset := make([]float64, m.NFeatures)
	scale := make([]float64, m.NFeatures)
	for j := range scale {
		scale[j] = width / m.Range[j]
		offset[j] = m.DataMin[j] - m.FeatureRange[0]/scale[j]
	}
	return offset, scale, nil
}

// GetParams はスケーラーのパラメータを取得する
func (m *MinMaxScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"feature_range": m.FeatureRange,
	}
}

// String はスケーラーの文字列表現を返す
func (m *MinMaxScaler) String() string {
	if !m.IsFitted() {
		return fmt.Sprintf("MinMaxScaler(feature_range=[%.1f, %.1f])",
			m.FeatureRange[0], m.FeatureRange[1])
	}
	return fmt.Sprintf("MinMaxScaler(feature_range=[%.1f, %.1f], n_features=%d)",
		m.FeatureRange[0], m.FeatureRange[1], m.NFeatures)
}

func affine(op string, X mat.Matrix, offset, scale []float64) (*mat.Dense, error) {
	r, c := X.Dims()
	if c != len(offset) {
		return nil, errors.NewDimensionError(op, len(offset), c, 1)
	}
	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return (v - offset[j]) * scale[j]
	}, X)
	return result, nil
}
