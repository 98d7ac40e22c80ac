// Package datasets provides the tabular regression datasets the workflow
// trains on: a seeded synthetic generator and a numeric CSV loader.
package datasets

import (
	"gonum.org/v1/gonum/mat"
)

// Dataset is a loaded regression dataset. It is not modified after loading.
type Dataset struct {
	Name         string
	Data         *mat.Dense    // n_samples × n_features
	Target       *mat.VecDense // n_samples
	FeatureNames []string
}

// Dims returns the number of samples and features.
func (d *Dataset) Dims() (nSamples, nFeatures int) {
	return d.Data.Dims()
}
