package feature_extraction

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/core/model"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
)

// DictVectorizer learns the set of keys seen in training records and maps
// each record to a dense row with one column per key, keys sorted
// ascending. Keys not seen during Fit are ignored by Transform; keys absent
// from a record produce 0.
type DictVectorizer struct {
	state *model.StateManager

	featureNames []int64
	vocabulary   map[int64]int
}

// NewDictVectorizer creates an unfitted DictVectorizer.
func NewDictVectorizer() *DictVectorizer {
	return &DictVectorizer{state: model.NewStateManager()}
}

// Fit learns the vocabulary from records.
func (d *DictVectorizer) Fit(records []Record) error {
	if len(records) == 0 {
		return errors.NewModelError("DictVectorizer.Fit", "empty data", errors.ErrEmptyData)
	}
	d.state.Reset()

	seen := make(map[int64]struct{})
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	names := make([]int64, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	slices.Sort(names)

	d.featureNames = names
	d.vocabulary = make(map[int64]int, len(names))
	for i, k := range names {
		d.vocabulary[k] = i
	}

	d.state.SetDimensions(len(names), len(records))
	d.state.SetFitted()
	log.GetLoggerWithName("feature_extraction").Debug("DictVectorizer fitted",
		log.ModelNameKey, "DictVectorizer",
		log.SamplesKey, len(records),
		log.FeaturesKey, len(names),
	)
	return nil
}

// Transform maps records to a len(records) × len(vocabulary) matrix.
func (d *DictVectorizer) Transform(records []Record) (*mat.Dense, error) {
	if err := d.state.RequireFitted("DictVectorizer", "Transform"); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewModelError("DictVectorizer.Transform", "empty data", errors.ErrEmptyData)
	}

	out := mat.NewDense(len(records), len(d.featureNames), nil)
	for i, rec := range records {
		for k, v := range rec {
			if j, ok := d.vocabulary[k]; ok {
				out.Set(i, j, v)
			}
		}
	}
	return out, nil
}

// FitTransform は Fit と Transform を同時に実行する
func (d *DictVectorizer) FitTransform(records []Record) (*mat.Dense, error) {
	if err := d.Fit(records); err != nil {
		return nil, err
	}
	return d.Transform(records)
}

// InverseTransform maps rows back to records, keeping non-zero entries only.
func (d *DictVectorizer) InverseTransform(X mat.Matrix) ([]Record, error) {
	if err := d.state.RequireFitted("DictVectorizer", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := d.state.RequireFeatures("DictVectorizer.InverseTransform", c); err != nil {
		return nil, err
	}

	records := make([]Record, r)
	for i := 0; i < r; i++ {
		rec := make(Record)
		for j := 0; j < c; j++ {
			if v := X.At(i, j); v != 0 {
				rec[d.featureNames[j]] = v
			}
		}
		records[i] = rec
	}
	return records, nil
}

// FeatureNames returns the learned keys in column order.
func (d *DictVectorizer) FeatureNames() []int64 {
	return slices.Clone(d.featureNames)
}

// Vocabulary returns a copy of the key → column mapping.
func (d *DictVectorizer) Vocabulary() map[int64]int {
	out := make(map[int64]int, len(d.vocabulary))
	for k, v := range d.vocabulary {
		out[k] = v
	}
	return out
}

// IsFitted reports whether Fit has completed.
func (d *DictVectorizer) IsFitted() bool {
	return d.state.IsFitted()
}

// GetParams returns the hyperparameters. Only dense output is supported.
func (d *DictVectorizer) GetParams() map[string]interface{} {
	return map[string]interface{}{"sparse": false}
}

func (d *DictVectorizer) String() string {
	if !d.IsFitted() {
		return "DictVectorizer(sparse=false)"
	}
	return fmt.Sprintf("DictVectorizer(sparse=false, n_features=%d)", len(d.featureNames))
}
