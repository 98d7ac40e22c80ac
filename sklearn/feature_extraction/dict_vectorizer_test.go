package feature_extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/core/model"
	"github.com/scigo/onnxpipe/pkg/errors"
)

var _ model.RecordTransformer = (*DictVectorizer)(nil)

func TestRecordsFromMatrix(t *testing.T) {
	X := mat.NewDense(2, 4, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
	})

	records := RecordsFromMatrix(X, 0)
	require.Len(t, records, 2)
	assert.Equal(t, Record{0: 2, 1: 3, 2: 4}, records[0])
	assert.Equal(t, Record{0: 6, 1: 7, 2: 8}, records[1])

	all := RecordsFromMatrix(X)
	assert.Len(t, all[0], 4)
	assert.Equal(t, 8.0, all[1][3])
}

func TestDictVectorizerSortedKeys(t *testing.T) {
	d := NewDictVectorizer()
	out, err := d.FitTransform([]Record{
		{10: 1, 2: 2},
		{5: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 5, 10}, d.FeatureNames())
	assert.Equal(t, map[int64]int{2: 0, 5: 1, 10: 2}, d.Vocabulary())

	want := mat.NewDense(2, 3, []float64{
		2, 0, 1,
		0, 3, 0,
	})
	assert.True(t, mat.Equal(want, out))
}

func TestDictVectorizerUnknownAndMissingKeys(t *testing.T) {
	d := NewDictVectorizer()
	require.NoError(t, d.Fit([]Record{{0: 1, 1: 1}}))

	out, err := d.Transform([]Record{{1: 4, 99: 7}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 4}, out.RawRowView(0))
}

func TestDictVectorizerInverseTransform(t *testing.T) {
	d := NewDictVectorizer()
	records := []Record{{0: 1.5, 3: 2}, {3: -1}}
	X, err := d.FitTransform(records)
	require.NoError(t, err)

	back, err := d.InverseTransform(X)
	require.NoError(t, err)
	assert.Equal(t, records, back)

	_, err = d.InverseTransform(mat.NewDense(1, 5, nil))
	assert.Error(t, err)
}

func TestDictVectorizerErrors(t *testing.T) {
	d := NewDictVectorizer()

	_, err := d.Transform([]Record{{0: 1}})
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	assert.Error(t, d.Fit(nil))
	assert.False(t, d.IsFitted())
}

func TestFeatureNamesIsACopy(t *testing.T) {
	d := NewDictVectorizer()
	require.NoError(t, d.Fit([]Record{{1: 1, 2: 2}}))
	names := d.FeatureNames()
	names[0] = 42
	assert.Equal(t, []int64{1, 2}, d.FeatureNames())
}
