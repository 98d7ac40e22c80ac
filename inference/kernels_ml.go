package inference

import (
	"context"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
)

func (r *KernelRegistry) registerMLKernels() {
	r.Register(onnx.DomainML, "DictVectorizer", newDictVectorizer)
	r.Register(onnx.DomainML, "Scaler", newScaler)
	r.Register(onnx.DomainML, "LinearRegressor", newLinearRegressor)
	r.Register(onnx.DomainML, "TreeEnsembleRegressor", newTreeEnsembleRegressor)
}

// dictVectorizer maps one map to a [1, len(vocabulary)] row.
type dictVectorizer struct {
	intIndex map[int64]int
	strIndex map[string]int
	size     int
}

func newDictVectorizer(node *onnx.NodeProto) (Kernel, error) {
	ints := node.AttrIntList("int64_vocabulary")
	strs := node.AttrStringList("string_vocabulary")
	if (len(ints) == 0) == (len(strs) == 0) {
		return nil, errors.New("exactly one of int64_vocabulary and string_vocabulary must be set")
	}
	k := &dictVectorizer{}
	if len(ints) > 0 {
		k.size = len(ints)
		k.intIndex = make(map[int64]int, len(ints))
		for i, key := range ints {
			k.intIndex[key] = i
		}
	} else {
		k.size = len(strs)
		k.strIndex = make(map[string]int, len(strs))
		for i, key := range strs {
			k.strIndex[key] = i
		}
	}
	return k, nil
}

func (k *dictVectorizer) Compute(_ context.Context, inputs []Value) ([]Value, error) {
	if len(inputs) != 1 || inputs[0] == nil {
		return nil, errors.New("DictVectorizer takes one input")
	}
	m, ok := inputs[0].(*Map)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidInput, "DictVectorizer expects a map, got %s", inputs[0].TypeString())
	}

	row := make([]float64, k.size)
	switch {
	case k.intIndex != nil && m.KeyType == onnx.TensorProtoInt64:
		for key, v := range m.Int64Keys {
			if i, ok := k.intIndex[key]; ok {
				row[i] = v
			}
		}
	case k.strIndex != nil && m.KeyType == onnx.TensorProtoString:
		for key, v := range m.StringKeys {
			if i, ok := k.strIndex[key]; ok {
				row[i] = v
			}
		}
	default:
		vocab := "int64"
		if k.strIndex != nil {
			vocab = "string"
		}
		return nil, errors.Wrapf(ErrInvalidInput, "DictVectorizer with %s vocabulary cannot read %s", vocab, m.TypeString())
	}

	shape := []int64{1, int64(k.size)}
	if m.ValueType == onnx.TensorProtoDouble {
		t, err := NewFloat64Tensor(shape, row)
		return []Value{t}, err
	}
	out := make([]float32, k.size)
	for i, v := range row {
		out[i] = float32(v)
	}
	return []Value{mustFloat32(shape, out)}, nil
}

// broadcast returns v expanded to n columns; v must have 1 or n entries.
func broadcast(name string, v []float32, n int) ([]float32, error) {
	switch len(v) {
	case n:
		return v, nil
	case 1:
		out := make([]float32, n)
		for i := range out {
			out[i] = v[0]
		}
		return out, nil
	}
	return nil, errors.Newf("%s has %d values for %d columns", name, len(v), n)
}

// scaler computes (x - offset) * scale per column.
type scaler struct {
	offset []float32
	scale  []float32
}

func newScaler(node *onnx.NodeProto) (Kernel, error) {
	k := &scaler{offset: node.AttrFloatList("offset"), scale: node.AttrFloatList("scale")}
	if len(k.offset) == 0 || len(k.scale) == 0 {
		return nil, errors.New("Scaler needs offset and scale")
	}
	return k, nil
}

func (k *scaler) Compute(_ context.Context, inputs []Value) ([]Value, error) {
	t, err := tensorInput(inputs, 0)
	if err != nil {
		return nil, err
	}
	rows, cols, err := t.rows()
	if err != nil {
		return nil, err
	}
	x, err := t.float32s()
	if err != nil {
		return nil, err
	}
	offset, err := broadcast("offset", k.offset, cols)
	if err != nil {
		return nil, err
	}
	scale, err := broadcast("scale", k.scale, cols)
	if err != nil {
		return nil, err
	}
	out := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = (x[i*cols+j] - offset[j]) * scale[j]
		}
	}
	return []Value{mustFloat32(t.shape, out)}, nil
}

// linearRegressor computes x . coefficients + intercepts per target.
type linearRegressor struct {
	coef       []float32
	intercepts []float32
	targets    int
}

func newLinearRegressor(node *onnx.NodeProto) (Kernel, error) {
	k := &linearRegressor{
		coef:       node.AttrFloatList("coefficients"),
		intercepts: node.AttrFloatList("intercepts"),
		targets:    int(node.AttrIntOr("targets", 1)),
	}
	if pt := node.AttrStringOr("post_transform", "NONE"); pt != "NONE" {
		return nil, errors.Wrapf(errors.ErrNotImplemented, "LinearRegressor post_transform %s", pt)
	}
	if k.targets < 1 {
		return nil, errors.Newf("targets must be positive, got %d", k.targets)
	}
	if len(k.coef) == 0 || len(k.coef)%k.targets != 0 {
		return nil, errors.Newf("%d coefficients for %d targets", len(k.coef), k.targets)
	}
	if len(k.intercepts) != 0 && len(k.intercepts) != k.targets {
		return nil, errors.Newf("%d intercepts for %d targets", len(k.intercepts), k.targets)
	}
	return k, nil
}

func (k *linearRegressor) Compute(_ context.Context, inputs []Value) ([]Value, error) {
	t, err := tensorInput(inputs, 0)
	if err != nil {
		return nil, err
	}
	rows, cols, err := t.rows()
	if err != nil {
		return nil, err
	}
	if cols*k.targets != len(k.coef) {
		return nil, errors.NewInputShapeError("inference", "LinearRegressor", []int{rows, len(k.coef) / k.targets}, []int{rows, cols})
	}
	x, err := t.float32s()
	if err != nil {
		return nil, err
	}
	out := make([]float32, rows*k.targets)
	for i := 0; i < rows; i++ {
		row := x[i*cols : (i+1)*cols]
		for tg := 0; tg < k.targets; tg++ {
			var sum float32
			if len(k.intercepts) > 0 {
				sum = k.intercepts[tg]
			}
			w := k.coef[tg*cols : (tg+1)*cols]
			for j, v := range row {
				sum += v * w[j]
			}
			out[i*k.targets+tg] = sum
		}
	}
	return []Value{mustFloat32([]int64{int64(rows), int64(k.targets)}, out)}, nil
}
