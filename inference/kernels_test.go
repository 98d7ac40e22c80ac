package inference

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
)

func compute(t *testing.T, factory KernelFactory, n *onnx.NodeProto, inputs ...Value) *Tensor {
	t.Helper()
	k, err := factory(n)
	require.NoError(t, err)
	out, err := k.Compute(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	tensor, ok := out[0].(*Tensor)
	require.True(t, ok)
	return tensor
}

func floatTensor(t *testing.T, shape []int64, data ...float32) *Tensor {
	t.Helper()
	x, err := NewFloat32Tensor(shape, data)
	require.NoError(t, err)
	return x
}

func TestDictVectorizerKernel(t *testing.T) {
	n := &onnx.NodeProto{Attributes: []onnx.AttributeProto{
		onnx.AttrInts("int64_vocabulary", []int64{0, 2, 5}),
	}}
	m := &Map{
		KeyType:   onnx.TensorProtoInt64,
		ValueType: onnx.TensorProtoFloat,
		Int64Keys: map[int64]float64{0: 1.5, 5: -2, 9: 100},
	}
	out := compute(t, newDictVectorizer, n, m)
	assert.Equal(t, []int64{1, 3}, out.Shape())
	assert.Equal(t, []float32{1.5, 0, -2}, out.Float32Data())

	m.ValueType = onnx.TensorProtoDouble
	out = compute(t, newDictVectorizer, n, m)
	assert.Equal(t, []float64{1.5, 0, -2}, out.Float64Data())

	k, err := newDictVectorizer(n)
	require.NoError(t, err)
	_, err = k.Compute(context.Background(), []Value{&Map{KeyType: onnx.TensorProtoString, ValueType: onnx.TensorProtoFloat}})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = newDictVectorizer(&onnx.NodeProto{})
	assert.Error(t, err)
}

func TestDictVectorizerKernelStringVocabulary(t *testing.T) {
	n := &onnx.NodeProto{Attributes: []onnx.AttributeProto{
		onnx.AttrStrings("string_vocabulary", []string{"a", "b"}),
	}}
	m := &Map{
		KeyType:    onnx.TensorProtoString,
		ValueType:  onnx.TensorProtoFloat,
		StringKeys: map[string]float64{"b": 3},
	}
	out := compute(t, newDictVectorizer, n, m)
	assert.Equal(t, []float32{0, 3}, out.Float32Data())
}

func TestScalerKernel(t *testing.T) {
	n := &onnx.NodeProto{Attributes: []onnx.AttributeProto{
		onnx.AttrFloats("offset", []float32{1, 2}),
		onnx.AttrFloats("scale", []float32{2}),
	}}
	out := compute(t, newScaler, n, floatTensor(t, []int64{2, 2}, 1, 2, 3, 6))
	assert.Equal(t, []float32{0, 0, 4, 8}, out.Float32Data())

	k, err := newScaler(n)
	require.NoError(t, err)
	_, err = k.Compute(context.Background(), []Value{floatTensor(t, []int64{1, 3}, 1, 2, 3)})
	assert.Error(t, err)
}

func TestLinearRegressorKernel(t *testing.T) {
	n := &onnx.NodeProto{Attributes: []onnx.AttributeProto{
		onnx.AttrFloats("coefficients", []float32{1, 2}),
		onnx.AttrFloats("intercepts", []float32{0.5}),
		onnx.AttrInt("targets", 1),
	}}
	out := compute(t, newLinearRegressor, n, floatTensor(t, []int64{2, 2}, 1, 1, 2, 3))
	assert.Equal(t, []int64{2, 1}, out.Shape())
	assert.Equal(t, []float32{3.5, 8.5}, out.Float32Data())

	bad := &onnx.NodeProto{Attributes: []onnx.AttributeProto{
		onnx.AttrFloats("coefficients", []float32{1, 2, 3}),
		onnx.AttrInt("targets", 2),
	}}
	_, err := newLinearRegressor(bad)
	assert.Error(t, err)

	probit := &onnx.NodeProto{Attributes: []onnx.AttributeProto{
		onnx.AttrFloats("coefficients", []float32{1}),
		onnx.AttrString("post_transform", "PROBIT"),
	}}
	_, err = newLinearRegressor(probit)
	assert.True(t, errors.Is(err, errors.ErrNotImplemented))
}

func TestCastAndSigmoidKernels(t *testing.T) {
	x := floatTensor(t, []int64{3}, -1.7, 0, 2.5)

	toInt := &onnx.NodeProto{Attributes: []onnx.AttributeProto{onnx.AttrInt("to", onnx.TensorProtoInt64)}}
	out := compute(t, newCast, toInt, x)
	assert.Equal(t, []int64{-1, 0, 2}, out.Int64Data())

	toDouble := &onnx.NodeProto{Attributes: []onnx.AttributeProto{onnx.AttrInt("to", onnx.TensorProtoDouble)}}
	out = compute(t, newCast, toDouble, x)
	assert.InDeltaSlice(t, []float64{-1.7, 0, 2.5}, out.Float64Data(), 1e-6)

	_, err := newCast(&onnx.NodeProto{Attributes: []onnx.AttributeProto{onnx.AttrInt("to", onnx.TensorProtoString)}})
	assert.Error(t, err)

	out = compute(t, newSigmoid, &onnx.NodeProto{}, x)
	assert.InDelta(t, 0.5, out.Float32Data()[1], 1e-7)
	assert.InDelta(t, 1/(1+math.Exp(1.7)), out.Float32Data()[0], 1e-6)
}

// stump builds a two-tree ensemble:
// tree 0: x0 <= 0.5 ? 1 : 2
// tree 1: x1 <= 3   ? 10 : 20
func stump(extra ...onnx.AttributeProto) *onnx.NodeProto {
	attrs := []onnx.AttributeProto{
		onnx.AttrInts("nodes_treeids", []int64{0, 0, 0, 1, 1, 1}),
		onnx.AttrInts("nodes_nodeids", []int64{0, 1, 2, 0, 1, 2}),
		onnx.AttrInts("nodes_featureids", []int64{0, 0, 0, 1, 0, 0}),
		onnx.AttrStrings("nodes_modes", []string{"BRANCH_LEQ", "LEAF", "LEAF", "BRANCH_LEQ", "LEAF", "LEAF"}),
		onnx.AttrFloats("nodes_values", []float32{0.5, 0, 0, 3, 0, 0}),
		onnx.AttrInts("nodes_truenodeids", []int64{1, 0, 0, 1, 0, 0}),
		onnx.AttrInts("nodes_falsenodeids", []int64{2, 0, 0, 2, 0, 0}),
		onnx.AttrInts("target_treeids", []int64{0, 0, 1, 1}),
		onnx.AttrInts("target_nodeids", []int64{1, 2, 1, 2}),
		onnx.AttrInts("target_ids", []int64{0, 0, 0, 0}),
		onnx.AttrFloats("target_weights", []float32{1, 2, 10, 20}),
		onnx.AttrInt("n_targets", 1),
	}
	return &onnx.NodeProto{OpType: "TreeEnsembleRegressor", Domain: onnx.DomainML, Attributes: append(attrs, extra...)}
}

func TestTreeEnsembleRegressorAggregates(t *testing.T) {
	x := floatTensor(t, []int64{2, 2}, 0.5, 3, 0.6, 3.1)
	tests := []struct {
		name  string
		extra []onnx.AttributeProto
		want  []float32
	}{
		{"sum", nil, []float32{11, 22}},
		{"sum with base", []onnx.AttributeProto{onnx.AttrFloats("base_values", []float32{100})}, []float32{111, 122}},
		{"average", []onnx.AttributeProto{onnx.AttrString("aggregate_function", "AVERAGE")}, []float32{5.5, 11}},
		{"min", []onnx.AttributeProto{onnx.AttrString("aggregate_function", "MIN")}, []float32{1, 2}},
		{"max", []onnx.AttributeProto{onnx.AttrString("aggregate_function", "MAX")}, []float32{10, 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := compute(t, newTreeEnsembleRegressor, stump(tt.extra...), x)
			assert.Equal(t, []int64{2, 1}, out.Shape())
			assert.Equal(t, tt.want, out.Float32Data())
		})
	}
}

func TestTreeEnsembleRegressorLogistic(t *testing.T) {
	x := floatTensor(t, []int64{1, 2}, 0, 0)
	out := compute(t, newTreeEnsembleRegressor, stump(
		onnx.AttrString("post_transform", "LOGISTIC"),
		onnx.AttrFloats("base_values", []float32{-11}),
	), x)
	assert.InDelta(t, 0.5, out.Float32Data()[0], 1e-7)
}

func TestTreeEnsembleRegressorModes(t *testing.T) {
	tests := []struct {
		mode string
		x    float32
		want float32
	}{
		{"BRANCH_LEQ", 0.5, 1},
		{"BRANCH_LT", 0.5, 2},
		{"BRANCH_GTE", 0.5, 1},
		{"BRANCH_GT", 0.5, 2},
		{"BRANCH_EQ", 0.5, 1},
		{"BRANCH_NEQ", 0.5, 2},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			n := &onnx.NodeProto{Attributes: []onnx.AttributeProto{
				onnx.AttrInts("nodes_treeids", []int64{0, 0, 0}),
				onnx.AttrInts("nodes_nodeids", []int64{0, 1, 2}),
				onnx.AttrInts("nodes_featureids", []int64{0, 0, 0}),
				onnx.AttrStrings("nodes_modes", []string{tt.mode, "LEAF", "LEAF"}),
				onnx.AttrFloats("nodes_values", []float32{0.5, 0, 0}),
				onnx.AttrInts("nodes_truenodeids", []int64{1, 0, 0}),
				onnx.AttrInts("nodes_falsenodeids", []int64{2, 0, 0}),
				onnx.AttrInts("target_treeids", []int64{0, 0}),
				onnx.AttrInts("target_nodeids", []int64{1, 2}),
				onnx.AttrInts("target_ids", []int64{0, 0}),
				onnx.AttrFloats("target_weights", []float32{1, 2}),
			}}
			out := compute(t, newTreeEnsembleRegressor, n, floatTensor(t, []int64{1, 1}, tt.x))
			assert.Equal(t, tt.want, out.Float32Data()[0])
		})
	}
}

func TestTreeEnsembleRegressorMissingValues(t *testing.T) {
	nan := float32(math.NaN())
	x := floatTensor(t, []int64{1, 2}, nan, nan)

	out := compute(t, newTreeEnsembleRegressor, stump(), x)
	assert.Equal(t, []float32{22}, out.Float32Data())

	out = compute(t, newTreeEnsembleRegressor, stump(
		onnx.AttrInts("nodes_missing_value_tracks_true", []int64{1, 0, 0, 0, 0, 0}),
	), x)
	assert.Equal(t, []float32{21}, out.Float32Data())
}

func TestTreeEnsembleRegressorValidation(t *testing.T) {
	tests := []struct {
		name string
		node *onnx.NodeProto
	}{
		{"empty", &onnx.NodeProto{}},
		{"bad aggregate", stump(onnx.AttrString("aggregate_function", "MEDIAN"))},
		{"bad post transform", stump(onnx.AttrString("post_transform", "SOFTMAX"))},
		{"bad base values", stump(onnx.AttrFloats("base_values", []float32{1, 2}))},
		{"bad mode", &onnx.NodeProto{Attributes: []onnx.AttributeProto{
			onnx.AttrInts("nodes_treeids", []int64{0}),
			onnx.AttrInts("nodes_nodeids", []int64{0}),
			onnx.AttrInts("nodes_featureids", []int64{0}),
			onnx.AttrStrings("nodes_modes", []string{"BRANCH_XOR"}),
			onnx.AttrFloats("nodes_values", []float32{0}),
			onnx.AttrInts("nodes_truenodeids", []int64{0}),
			onnx.AttrInts("nodes_falsenodeids", []int64{0}),
		}}},
		{"self loop", &onnx.NodeProto{Attributes: []onnx.AttributeProto{
			onnx.AttrInts("nodes_treeids", []int64{0, 0}),
			onnx.AttrInts("nodes_nodeids", []int64{0, 1}),
			onnx.AttrInts("nodes_featureids", []int64{0, 0}),
			onnx.AttrStrings("nodes_modes", []string{"BRANCH_LEQ", "BRANCH_LEQ"}),
			onnx.AttrFloats("nodes_values", []float32{0, 0}),
			onnx.AttrInts("nodes_truenodeids", []int64{1, 1}),
			onnx.AttrInts("nodes_falsenodeids", []int64{1, 1}),
		}}},
		{"tree without root", &onnx.NodeProto{Attributes: []onnx.AttributeProto{
			onnx.AttrInts("nodes_treeids", []int64{0, 0, 0, 1, 1}),
			onnx.AttrInts("nodes_nodeids", []int64{0, 1, 2, 0, 1}),
			onnx.AttrInts("nodes_featureids", []int64{0, 0, 0, 0, 0}),
			onnx.AttrStrings("nodes_modes", []string{"BRANCH_LEQ", "LEAF", "LEAF", "BRANCH_LEQ", "BRANCH_LEQ"}),
			onnx.AttrFloats("nodes_values", []float32{0.5, 0, 0, 1, 2}),
			onnx.AttrInts("nodes_truenodeids", []int64{1, 0, 0, 1, 0}),
			onnx.AttrInts("nodes_falsenodeids", []int64{2, 0, 0, 1, 0}),
			onnx.AttrInts("target_treeids", []int64{0, 0}),
			onnx.AttrInts("target_nodeids", []int64{1, 2}),
			onnx.AttrInts("target_ids", []int64{0, 0}),
			onnx.AttrFloats("target_weights", []float32{1, 2}),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTreeEnsembleRegressor(tt.node)
			assert.Error(t, err)
		})
	}

	k, err := newTreeEnsembleRegressor(stump())
	require.NoError(t, err)
	_, err = k.Compute(context.Background(), []Value{floatTensor(t, []int64{1, 1}, 0)})
	var se *errors.InputShapeError
	assert.True(t, errors.As(err, &se))
}

func TestRegistry(t *testing.T) {
	r := DefaultKernelRegistry()
	ops := r.SupportedOps()
	assert.Equal(t, []string{
		"ai.onnx.Cast",
		"ai.onnx.Identity",
		"ai.onnx.Sigmoid",
		"ai.onnx.ml.DictVectorizer",
		"ai.onnx.ml.LinearRegressor",
		"ai.onnx.ml.Scaler",
		"ai.onnx.ml.TreeEnsembleRegressor",
	}, ops)

	_, ok := r.Lookup("ai.onnx", "Identity")
	assert.True(t, ok)
	_, ok = r.Lookup(onnx.DomainML, "SVMRegressor")
	assert.False(t, ok)

	empty := NewKernelRegistry()
	assert.Empty(t, empty.SupportedOps())
}

func TestTensorFromProto(t *testing.T) {
	raw := []byte{0, 0, 128, 63, 0, 0, 0, 64} // 1.0, 2.0 little endian
	x, err := TensorFromProto(&onnx.TensorProto{Name: "w", Dims: []int64{2}, DataType: onnx.TensorProtoFloat, RawData: raw})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, x.Float32Data())

	x, err = TensorFromProto(&onnx.TensorProto{Dims: []int64{1, 2}, DataType: onnx.TensorProtoInt64, Int64Data: []int64{3, 4}})
	require.NoError(t, err)
	assert.Equal(t, "tensor(int64)", x.TypeString())
	assert.Equal(t, 2, x.Len())

	_, err = TensorFromProto(&onnx.TensorProto{Dims: []int64{3}, DataType: onnx.TensorProtoFloat, RawData: raw})
	assert.Error(t, err)

	_, err = TensorFromProto(&onnx.TensorProto{Dims: []int64{1}, DataType: onnx.TensorProtoBool})
	assert.True(t, errors.Is(err, errors.ErrNotImplemented))

	_, err = NewFloat32Tensor([]int64{2, 2}, []float32{1})
	assert.Error(t, err)
}
