package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigo/onnxpipe/pkg/errors"
)

func TestSaveAgreementPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agreement.png")
	err := SaveAgreementPlot(path, []float64{1, 2, 3.5}, []float32{1, 2.0001, 3.5})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSaveResidualPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "residuals.png")
	require.NoError(t, SaveResidualPlot(path, []float64{3, 5, 7}, []float64{2.5, 5.5, 7}))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestPlotInputErrors(t *testing.T) {
	dir := t.TempDir()

	err := SaveAgreementPlot(filepath.Join(dir, "a.png"), []float64{1}, nil)
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	err = SaveResidualPlot(filepath.Join(dir, "r.png"), nil, nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	err = SaveResidualPlot(filepath.Join(dir, "r.bogus"), []float64{1, 2}, []float64{1, 2})
	assert.Error(t, err, "unknown extension")
}
