package inference

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
)

// Value is a runtime value flowing between nodes: a *Tensor or a *Map.
type Value interface {
	// TypeString returns the ONNX Runtime type name, e.g. "tensor(float)".
	TypeString() string
}

// Tensor is a dense row-major tensor. Exactly one data slice, selected by
// the element type, is populated.
type Tensor struct {
	shape []int64
	elem  int32

	f32 []float32
	f64 []float64
	i64 []int64
	str []string
}

func numElements(shape []int64) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errors.Newf("negative dimension in shape %v", shape)
		}
		n *= int(d)
	}
	return n, nil
}

func checkSize(shape []int64, n int) error {
	want, err := numElements(shape)
	if err != nil {
		return err
	}
	if want != n {
		return errors.Newf("shape %v needs %d elements, got %d", shape, want, n)
	}
	return nil
}

// NewFloat32Tensor wraps data (not copied) in a float tensor.
func NewFloat32Tensor(shape []int64, data []float32) (*Tensor, error) {
	if err := checkSize(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{shape: shape, elem: onnx.TensorProtoFloat, f32: data}, nil
}

// NewFloat64Tensor wraps data (not copied) in a double tensor.
func NewFloat64Tensor(shape []int64, data []float64) (*Tensor, error) {
	if err := checkSize(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{shape: shape, elem: onnx.TensorProtoDouble, f64: data}, nil
}

// NewInt64Tensor wraps data (not copied) in an int64 tensor.
func NewInt64Tensor(shape []int64, data []int64) (*Tensor, error) {
	if err := checkSize(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{shape: shape, elem: onnx.TensorProtoInt64, i64: data}, nil
}

// NewStringTensor wraps data (not copied) in a string tensor.
func NewStringTensor(shape []int64, data []string) (*Tensor, error) {
	if err := checkSize(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{shape: shape, elem: onnx.TensorProtoString, str: data}, nil
}

// Shape returns the tensor dimensions.
func (t *Tensor) Shape() []int64 { return t.shape }

// ElemType returns the ONNX element type.
func (t *Tensor) ElemType() int32 { return t.elem }

// Float32Data returns the data of a float tensor, or nil.
func (t *Tensor) Float32Data() []float32 { return t.f32 }

// Float64Data returns the data of a double tensor, or nil.
func (t *Tensor) Float64Data() []float64 { return t.f64 }

// Int64Data returns the data of an int64 tensor, or nil.
func (t *Tensor) Int64Data() []int64 { return t.i64 }

// StringData returns the data of a string tensor, or nil.
func (t *Tensor) StringData() []string { return t.str }

// Len returns the number of elements.
func (t *Tensor) Len() int {
	n, _ := numElements(t.shape)
	return n
}

// TypeString implements Value.
func (t *Tensor) TypeString() string {
	return "tensor(" + onnx.ElemTypeName(t.elem) + ")"
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.TypeString(), t.shape)
}

// rows returns the tensor as rows x cols, treating a 1-D tensor as a single
// row.
func (t *Tensor) rows() (int, int, error) {
	switch len(t.shape) {
	case 1:
		return 1, int(t.shape[0]), nil
	case 2:
		return int(t.shape[0]), int(t.shape[1]), nil
	}
	return 0, 0, errors.Newf("expected a 1-D or 2-D tensor, got shape %v", t.shape)
}

// float32s returns the numeric data converted to float32. Float tensors are
// returned without copying.
func (t *Tensor) float32s() ([]float32, error) {
	switch t.elem {
	case onnx.TensorProtoFloat:
		return t.f32, nil
	case onnx.TensorProtoDouble:
		out := make([]float32, len(t.f64))
		for i, v := range t.f64 {
			out[i] = float32(v)
		}
		return out, nil
	case onnx.TensorProtoInt64:
		out := make([]float32, len(t.i64))
		for i, v := range t.i64 {
			out[i] = float32(v)
		}
		return out, nil
	}
	return nil, errors.Newf("%s is not numeric", t.TypeString())
}

// Map is a map value with int64 or string keys and float or double values.
// Values are held as float64; a float map has already been rounded to
// float32 precision.
type Map struct {
	KeyType    int32
	ValueType  int32
	Int64Keys  map[int64]float64
	StringKeys map[string]float64
}

// TypeString implements Value.
func (m *Map) TypeString() string {
	return "map(" + onnx.ElemTypeName(m.KeyType) + ",tensor(" + onnx.ElemTypeName(m.ValueType) + "))"
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m.KeyType == onnx.TensorProtoString {
		return len(m.StringKeys)
	}
	return len(m.Int64Keys)
}

// TensorFromProto decodes an initializer or constant tensor.
func TensorFromProto(p *onnx.TensorProto) (*Tensor, error) {
	shape := append([]int64{}, p.Dims...)
	n, err := numElements(shape)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %s", p.Name)
	}
	raw := p.RawData

	switch p.DataType {
	case onnx.TensorProtoFloat:
		data := p.FloatData
		if len(raw) > 0 {
			if len(raw) != 4*n {
				return nil, errors.Newf("tensor %s: raw_data has %d bytes, want %d", p.Name, len(raw), 4*n)
			}
			data = make([]float32, n)
			for i := range data {
				data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
			}
		}
		return NewFloat32Tensor(shape, append([]float32(nil), data...))
	case onnx.TensorProtoDouble:
		data := p.DoubleData
		if len(raw) > 0 {
			if len(raw) != 8*n {
				return nil, errors.Newf("tensor %s: raw_data has %d bytes, want %d", p.Name, len(raw), 8*n)
			}
			data = make([]float64, n)
			for i := range data {
				data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
			}
		}
		return NewFloat64Tensor(shape, append([]float64(nil), data...))
	case onnx.TensorProtoInt64:
		data := p.Int64Data
		if len(raw) > 0 {
			if len(raw) != 8*n {
				return nil, errors.Newf("tensor %s: raw_data has %d bytes, want %d", p.Name, len(raw), 8*n)
			}
			data = make([]int64, n)
			for i := range data {
				data[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
			}
		}
		return NewInt64Tensor(shape, append([]int64(nil), data...))
	case onnx.TensorProtoString:
		data := make([]string, len(p.StringData))
		for i, s := range p.StringData {
			data[i] = string(s)
		}
		return NewStringTensor(shape, data)
	}
	return nil, errors.Wrapf(errors.ErrNotImplemented, "tensor %s: data type %s", p.Name, onnx.ElemTypeName(p.DataType))
}
