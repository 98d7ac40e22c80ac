package inference

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigo/onnxpipe/convert"
	"github.com/scigo/onnxpipe/metrics"
	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
	"github.com/scigo/onnxpipe/sklearn/datasets"
	"github.com/scigo/onnxpipe/sklearn/ensemble"
	"github.com/scigo/onnxpipe/sklearn/feature_extraction"
	"github.com/scigo/onnxpipe/sklearn/model_selection"
	"github.com/scigo/onnxpipe/sklearn/pipeline"
)

var mapInput = []convert.InitialType{{
	Name: "input",
	Type: convert.DictionaryType{
		Key:   convert.Int64TensorType{Shape: []int64{1}},
		Value: convert.FloatTensorType{},
	},
}}

type fixture struct {
	pipe  *pipeline.Pipeline
	test  []feature_extraction.Record
	model []byte
}

// newFixture trains a vectorizer + boosting pipeline on 13-column Friedman
// data with the first column dropped, leaving 12 keys per record.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ds, err := datasets.MakeFriedman1(200, 13, 0.5, 42)
	require.NoError(t, err)
	XTrain, XTest, yTrain, _, err := model_selection.TrainTestSplit(ds.Data, ds.Target, model_selection.WithRandomState(42))
	require.NoError(t, err)

	p, err := pipeline.MakePipeline(
		feature_extraction.NewDictVectorizer(),
		ensemble.NewGradientBoostingRegressor(ensemble.WithNEstimators(30)),
	)
	require.NoError(t, err)
	require.NoError(t, p.Fit(feature_extraction.RecordsFromMatrix(XTrain, 0), yTrain))

	m, err := convert.ConvertPipeline(p, mapInput)
	require.NoError(t, err)
	data, err := onnx.Marshal(m)
	require.NoError(t, err)
	return fixture{pipe: p, test: feature_extraction.RecordsFromMatrix(XTest, 0), model: data}
}

func TestSessionSignature(t *testing.T) {
	f := newFixture(t)
	sess, err := NewSessionFromBytes(f.model)
	require.NoError(t, err)

	inputs := sess.Inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, "input", inputs[0].Name)
	assert.Equal(t, "map(int64,tensor(float))", inputs[0].Type)
	assert.Nil(t, inputs[0].Shape)
	assert.False(t, inputs[0].Batchable)

	outputs := sess.Outputs()
	require.GreaterOrEqual(t, len(outputs), 1)
	assert.Equal(t, "variable", outputs[0].Name)
	assert.Equal(t, "tensor(float)", outputs[0].Type)
	assert.Equal(t, []int64{-1, 1}, outputs[0].Shape)
	assert.True(t, outputs[0].Batchable)

	assert.Equal(t, []string{CPUExecutionProvider}, sess.Providers())

	ok, err := sess.SupportsBatch("input")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = sess.SupportsBatch("nope")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSessionRejectsBatchedMapInput(t *testing.T) {
	f := newFixture(t)
	sess, err := NewSessionFromBytes(f.model)
	require.NoError(t, err)

	_, err = sess.Run(context.Background(), nil, map[string]any{"input": f.test})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBatchNotSupported))
	var be *BatchNotSupportedError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "input", be.Input)
	assert.Equal(t, len(f.test), be.Records)
	assert.Contains(t, be.Error(), "map(int64,tensor(float))")

	// a one-record batch is unwrapped
	out, err := sess.Run(context.Background(), nil, map[string]any{"input": f.test[:1]})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, out[0].Shape())

	_, err = sess.Run(context.Background(), nil, map[string]any{"input": f.test[:0]})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSessionSingleRecordOfTwelveKeys(t *testing.T) {
	f := newFixture(t)
	sess, err := NewSessionFromBytes(f.model)
	require.NoError(t, err)

	rec := make(map[int64]float64, 12)
	for k := int64(0); k < 12; k++ {
		rec[k] = 0.5
	}
	out, err := sess.Run(context.Background(), []string{"variable"}, map[string]any{"input": rec})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out[0].Float32Data(), 1)

	_, err = sess.Run(context.Background(), nil, map[string]any{"input": []map[int64]float64{rec, rec}})
	assert.True(t, errors.Is(err, ErrBatchNotSupported))
}

func TestSessionPerRecordAgreement(t *testing.T) {
	f := newFixture(t)
	sess, err := NewSessionFromBytes(f.model)
	require.NoError(t, err)

	want, err := f.pipe.Predict(f.test)
	require.NoError(t, err)

	got := make([]float32, len(f.test))
	for i, rec := range f.test {
		out, err := sess.Run(context.Background(), nil, map[string]any{"input": rec})
		require.NoError(t, err)
		got[i] = out[0].Float32Data()[0]
	}
	r2, err := metrics.R2ScoreFloat32(want.RawVector().Data, got)
	require.NoError(t, err)
	assert.Greater(t, r2, 0.99)
	for i := range got {
		assert.InDelta(t, want.AtVec(i), got[i], 1e-3)
	}
}

func TestSessionExportTwiceSamePredictions(t *testing.T) {
	f := newFixture(t)
	m, err := convert.ConvertPipeline(f.pipe, mapInput)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pipeline_vectorize.onnx")
	require.NoError(t, onnx.SaveModel(m, path))

	s1, err := NewSessionFromBytes(f.model)
	require.NoError(t, err)
	s2, err := NewSession(path)
	require.NoError(t, err)

	for _, rec := range f.test[:10] {
		o1, err := s1.Run(context.Background(), nil, map[string]any{"input": rec})
		require.NoError(t, err)
		o2, err := s2.Run(context.Background(), nil, map[string]any{"input": rec})
		require.NoError(t, err)
		assert.Equal(t, o1[0].Float32Data(), o2[0].Float32Data())
	}
}

func TestSessionConcurrentRuns(t *testing.T) {
	f := newFixture(t)
	sess, err := NewSessionFromBytes(f.model)
	require.NoError(t, err)

	serial := make([]float32, len(f.test))
	for i, rec := range f.test {
		out, err := sess.Run(context.Background(), nil, map[string]any{"input": rec})
		require.NoError(t, err)
		serial[i] = out[0].Float32Data()[0]
	}

	concurrent := make([]float32, len(f.test))
	errs := make([]error, len(f.test))
	var wg conc.WaitGroup
	for i, rec := range f.test {
		wg.Go(func() {
			out, err := sess.Run(context.Background(), nil, map[string]any{"input": rec})
			if err != nil {
				errs[i] = err
				return
			}
			concurrent[i] = out[0].Float32Data()[0]
		})
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, serial, concurrent)
}

func TestSessionFeedErrors(t *testing.T) {
	f := newFixture(t)
	sess, err := NewSessionFromBytes(f.model)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name  string
		outs  []string
		feeds map[string]any
	}{
		{"missing input", nil, map[string]any{}},
		{"unknown input", nil, map[string]any{"input": f.test[0], "extra": 1}},
		{"string keys", nil, map[string]any{"input": map[string]float64{"0": 1}}},
		{"tensor for map", nil, map[string]any{"input": [][]float32{{1, 2}}}},
		{"unknown output", []string{"nope"}, map[string]any{"input": f.test[0]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sess.Run(ctx, tt.outs, tt.feeds)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = sess.Run(canceled, nil, map[string]any{"input": f.test[0]})
	assert.True(t, errors.Is(err, context.Canceled))
}

// linearModel is a hand-built graph: Identity -> LinearRegressor -> Identity
// over a float tensor input with a dynamic batch dimension.
func linearModel() *onnx.ModelProto {
	return &onnx.ModelProto{
		IRVersion: onnx.IRVersion7,
		Graph: &onnx.GraphProto{
			Name: "linear",
			Nodes: []onnx.NodeProto{
				{Name: "out", OpType: "Identity", Inputs: []string{"y"}, Outputs: []string{"Y"}},
				{Name: "lr", OpType: "LinearRegressor", Domain: onnx.DomainML, Inputs: []string{"x1"}, Outputs: []string{"y"},
					Attributes: []onnx.AttributeProto{
						onnx.AttrFloats("coefficients", []float32{1, -1}),
						onnx.AttrFloats("intercepts", []float32{2}),
					}},
				{Name: "in", OpType: "Identity", Inputs: []string{"X"}, Outputs: []string{"x1"}},
			},
			Inputs:  []onnx.ValueInfoProto{onnx.ValueInfo("X", onnx.TensorType(onnx.TensorProtoFloat, -1, 2))},
			Outputs: []onnx.ValueInfoProto{onnx.ValueInfo("Y", onnx.TensorType(onnx.TensorProtoFloat, -1, 1))},
		},
		OpsetImport: []onnx.OperatorSetID{{Version: 13}, {Domain: onnx.DomainML, Version: 1}},
	}
}

func TestSessionTensorInput(t *testing.T) {
	for _, level := range []GraphOptimizationLevel{GraphOptimizationDisabled, GraphOptimizationBasic} {
		t.Run(level.String(), func(t *testing.T) {
			tl, _ := log.NewTestLogger(log.LevelDebug)
			sess, err := NewSessionFromModel(linearModel(), WithGraphOptimization(level), WithLogger(tl), WithLogID("test-session"))
			require.NoError(t, err)

			ok, err := sess.SupportsBatch("X")
			require.NoError(t, err)
			assert.True(t, ok)

			out, err := sess.Run(context.Background(), nil, map[string]any{"X": [][]float32{{3, 1}, {0, 4}}})
			require.NoError(t, err)
			assert.Equal(t, []float32{4, -2}, out[0].Float32Data())

			x, err := NewFloat64Tensor([]int64{1, 2}, []float64{1, 1})
			require.NoError(t, err)
			_, err = sess.Run(context.Background(), nil, map[string]any{"X": x})
			assert.True(t, errors.Is(err, ErrInvalidInput), "double tensor for a float input")

			_, err = sess.Run(context.Background(), nil, map[string]any{"X": [][]float32{{1, 2, 3}}})
			var se *errors.InputShapeError
			assert.True(t, errors.As(err, &se))

			assert.True(t, tl.ContainsMessage("Session created"))
			assert.True(t, tl.ContainsField(log.LogIDKey, "test-session"))
		})
	}
}

func TestNewSessionErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *onnx.ModelProto)
		target error
	}{
		{"unsupported op", func(m *onnx.ModelProto) { m.Graph.Nodes[1].OpType = "SVMRegressor" }, ErrUnsupportedOperator},
		{"domain not imported", func(m *onnx.ModelProto) { m.OpsetImport = m.OpsetImport[:1] }, nil},
		{"missing ir version", func(m *onnx.ModelProto) { m.IRVersion = 0 }, nil},
		{"dangling output", func(m *onnx.ModelProto) { m.Graph.Outputs[0].Name = "Z" }, nil},
		{"bad attributes", func(m *onnx.ModelProto) { m.Graph.Nodes[1].Attributes = nil }, nil},
		{"cycle", func(m *onnx.ModelProto) { m.Graph.Nodes[2].Inputs = []string{"Y"} }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := linearModel()
			tt.mutate(m)
			_, err := NewSessionFromModel(m)
			require.Error(t, err)
			var me *errors.ModelError
			assert.True(t, errors.As(err, &me))
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target))
			}
		})
	}

	_, err := NewSession(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)
	_, err = NewSessionFromBytes([]byte{0xff})
	assert.Error(t, err)
}

func TestSessionCustomKernel(t *testing.T) {
	r := DefaultKernelRegistry()
	r.Register(onnx.DomainML, "LinearRegressor", func(*onnx.NodeProto) (Kernel, error) {
		return KernelFunc(func(_ context.Context, in []Value) ([]Value, error) {
			x := in[0].(*Tensor)
			rows, _, err := x.rows()
			if err != nil {
				return nil, err
			}
			return []Value{mustFloat32([]int64{int64(rows), 1}, make([]float32, rows))}, nil
		}), nil
	})
	sess, err := NewSessionFromModel(linearModel(), WithKernelRegistry(r))
	require.NoError(t, err)
	out, err := sess.Run(context.Background(), nil, map[string]any{"X": [][]float32{{3, 1}}})
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, out[0].Float32Data())
}
