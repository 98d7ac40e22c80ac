// Package feature_extraction turns mapping-typed records into dense feature
// matrices.
package feature_extraction

import (
	"gonum.org/v1/gonum/mat"
)

// Record maps a feature key to its value. It is an alias so that []Record and
// []map[int64]float64 are interchangeable, which lets the inference session
// accept records without importing this package.
type Record = map[int64]float64

// RecordsFromMatrix converts each row of X into a Record. Columns listed in
// skip are dropped and the remaining columns are re-keyed 0..k-1 in order,
// like building a frame from X[:, 1:] before calling to_dict("records").
func RecordsFromMatrix(X mat.Matrix, skip ...int) []Record {
	r, c := X.Dims()
	skipped := make(map[int]bool, len(skip))
	for _, j := range skip {
		skipped[j] = true
	}
	keep := make([]int, 0, c)
	for j := 0; j < c; j++ {
		if !skipped[j] {
			keep = append(keep, j)
		}
	}

	records := make([]Record, r)
	for i := 0; i < r; i++ {
		rec := make(Record, len(keep))
		for k, j := range keep {
			rec[int64(k)] = X.At(i, j)
		}
		records[i] = rec
	}
	return records
}
