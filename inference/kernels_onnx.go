package inference

import (
	"context"
	"math"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
)

func (r *KernelRegistry) registerONNXKernels() {
	r.Register(onnx.DomainONNX, "Identity", newIdentity)
	r.Register(onnx.DomainONNX, "Cast", newCast)
	r.Register(onnx.DomainONNX, "Sigmoid", newSigmoid)
}

func tensorInput(inputs []Value, i int) (*Tensor, error) {
	if i >= len(inputs) || inputs[i] == nil {
		return nil, errors.Newf("missing input %d", i)
	}
	t, ok := inputs[i].(*Tensor)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidInput, "input %d: expected a tensor, got %s", i, inputs[i].TypeString())
	}
	return t, nil
}

func newIdentity(_ *onnx.NodeProto) (Kernel, error) {
	return KernelFunc(func(_ context.Context, inputs []Value) ([]Value, error) {
		if len(inputs) != 1 || inputs[0] == nil {
			return nil, errors.New("Identity takes one input")
		}
		return []Value{inputs[0]}, nil
	}), nil
}

func newCast(node *onnx.NodeProto) (Kernel, error) {
	to := int32(node.AttrIntOr("to", onnx.TensorProtoUndefined))
	switch to {
	case onnx.TensorProtoFloat, onnx.TensorProtoDouble, onnx.TensorProtoInt64:
	default:
		return nil, errors.Wrapf(errors.ErrNotImplemented, "Cast to %s", onnx.ElemTypeName(to))
	}
	return KernelFunc(func(_ context.Context, inputs []Value) ([]Value, error) {
		t, err := tensorInput(inputs, 0)
		if err != nil {
			return nil, err
		}
		out, err := castTensor(t, to)
		if err != nil {
			return nil, err
		}
		return []Value{out}, nil
	}), nil
}

func castTensor(t *Tensor, to int32) (*Tensor, error) {
	if t.elem == to {
		return t, nil
	}
	shape := append([]int64(nil), t.shape...)
	var f64 []float64
	switch t.elem {
	case onnx.TensorProtoFloat:
		f64 = make([]float64, len(t.f32))
		for i, v := range t.f32 {
			f64[i] = float64(v)
		}
	case onnx.TensorProtoDouble:
		f64 = t.f64
	case onnx.TensorProtoInt64:
		f64 = make([]float64, len(t.i64))
		for i, v := range t.i64 {
			f64[i] = float64(v)
		}
	default:
		return nil, errors.Wrapf(errors.ErrNotImplemented, "Cast from %s", onnx.ElemTypeName(t.elem))
	}

	switch to {
	case onnx.TensorProtoFloat:
		out := make([]float32, len(f64))
		for i, v := range f64 {
			out[i] = float32(v)
		}
		return NewFloat32Tensor(shape, out)
	case onnx.TensorProtoDouble:
		return NewFloat64Tensor(shape, append([]float64(nil), f64...))
	default:
		out := make([]int64, len(f64))
		for i, v := range f64 {
			out[i] = int64(math.Trunc(v))
		}
		return NewInt64Tensor(shape, out)
	}
}

func newSigmoid(_ *onnx.NodeProto) (Kernel, error) {
	return KernelFunc(func(_ context.Context, inputs []Value) ([]Value, error) {
		t, err := tensorInput(inputs, 0)
		if err != nil {
			return nil, err
		}
		if t.elem != onnx.TensorProtoFloat {
			return nil, errors.Wrapf(errors.ErrNotImplemented, "Sigmoid on %s", t.TypeString())
		}
		out := make([]float32, len(t.f32))
		for i, v := range t.f32 {
			out[i] = logistic(v)
		}
		return []Value{mustFloat32(t.shape, out)}, nil
	}), nil
}

// mustFloat32 builds a float tensor whose size is known to match.
func mustFloat32(shape []int64, data []float32) *Tensor {
	return &Tensor{shape: append([]int64(nil), shape...), elem: onnx.TensorProtoFloat, f32: data}
}
