package model

import "gonum.org/v1/gonum/mat"

// Transformer はデータ変換のインターフェース
type Transformer interface {
	// Fit は変換に必要なパラメータを学習する
	Fit(X mat.Matrix) error

	// Transform はデータを変換する
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// RecordTransformer turns mapping-typed records (feature key → value) into a
// dense matrix. It is the first step of a pipeline fed with records.
type RecordTransformer interface {
	Fit(records []map[int64]float64) error
	Transform(records []map[int64]float64) (*mat.Dense, error)
}
