package inference

import (
	"math"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
)

// batchLen reports the number of records in v when v is a list of maps,
// the shape a batched map feed takes.
func batchLen(v any) (int, bool) {
	switch b := v.(type) {
	case []map[int64]float64:
		return len(b), true
	case []map[int64]float32:
		return len(b), true
	case []map[string]float64:
		return len(b), true
	case []map[string]float32:
		return len(b), true
	case []*Map:
		return len(b), true
	}
	return 0, false
}

// firstRecord unwraps a one-record batch.
func firstRecord(v any) any {
	switch b := v.(type) {
	case []map[int64]float64:
		return b[0]
	case []map[int64]float32:
		return b[0]
	case []map[string]float64:
		return b[0]
	case []map[string]float32:
		return b[0]
	case []*Map:
		return b[0]
	}
	return v
}

func invalidFeed(arg NodeArg, v any) error {
	return errors.Wrapf(ErrInvalidInput, "input '%s': unexpected value of type %T, expected %s", arg.Name, v, arg.Type)
}

// toValue converts a fed Go value to the runtime value declared for arg.
func toValue(arg NodeArg, declared *onnx.TypeProto, v any) (Value, error) {
	switch {
	case declared == nil:
		return nil, errors.Wrapf(ErrInvalidInput, "input '%s' has no declared type", arg.Name)
	case declared.MapType != nil:
		return toMap(arg, declared.MapType, v)
	case declared.TensorType != nil:
		t, err := toTensor(arg, v)
		if err != nil {
			return nil, err
		}
		if t.elem != declared.TensorType.ElemType {
			return nil, errors.Wrapf(ErrInvalidInput, "input '%s': got %s, expected %s", arg.Name, t.TypeString(), arg.Type)
		}
		if err := checkShape(arg, t.shape); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, errors.Wrapf(errors.ErrNotImplemented, "input '%s' of type %s", arg.Name, arg.Type)
}

func checkShape(arg NodeArg, got []int64) error {
	if arg.Shape == nil {
		return nil
	}
	mismatch := len(got) != len(arg.Shape)
	for i := 0; !mismatch && i < len(got); i++ {
		if arg.Shape[i] >= 0 && arg.Shape[i] != got[i] {
			mismatch = true
		}
	}
	if !mismatch {
		return nil
	}
	return errors.NewInputShapeError("inference", arg.Name, toInts(arg.Shape), toInts(got))
}

func toInts(s []int64) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = int(v)
	}
	return out
}

func toTensor(arg NodeArg, v any) (*Tensor, error) {
	switch x := v.(type) {
	case *Tensor:
		return x, nil
	case [][]float32:
		data, cols, err := flatten(arg, x)
		if err != nil {
			return nil, err
		}
		return NewFloat32Tensor([]int64{int64(len(x)), int64(cols)}, data)
	case [][]float64:
		data, cols, err := flatten(arg, x)
		if err != nil {
			return nil, err
		}
		return NewFloat64Tensor([]int64{int64(len(x)), int64(cols)}, data)
	}
	return nil, invalidFeed(arg, v)
}

func flatten[T float32 | float64](arg NodeArg, rows [][]T) ([]T, int, error) {
	if len(rows) == 0 {
		return nil, 0, errors.Wrapf(ErrInvalidInput, "input '%s': no rows", arg.Name)
	}
	cols := len(rows[0])
	data := make([]T, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, 0, errors.NewInputShapeError("inference", arg.Name, []int{len(rows), cols}, []int{i, len(r)})
		}
		data = append(data, r...)
	}
	return data, cols, nil
}

// toMap converts a Go map to a Map of the declared key and value types.
// Values of a float map are rounded to float32 precision.
func toMap(arg NodeArg, declared *onnx.MapTypeProto, v any) (*Map, error) {
	valueType := int32(onnx.TensorProtoUndefined)
	if vt := declared.ValueType; vt != nil && vt.TensorType != nil {
		valueType = vt.TensorType.ElemType
	}
	var round func(float64) float64
	switch valueType {
	case onnx.TensorProtoFloat:
		round = func(x float64) float64 { return float64(float32(x)) }
	case onnx.TensorProtoDouble:
		round = func(x float64) float64 { return x }
	default:
		return nil, errors.Wrapf(errors.ErrNotImplemented, "input '%s' of type %s", arg.Name, arg.Type)
	}

	m := &Map{KeyType: declared.KeyType, ValueType: valueType}
	switch declared.KeyType {
	case onnx.TensorProtoInt64:
		switch x := v.(type) {
		case map[int64]float64:
			m.Int64Keys = make(map[int64]float64, len(x))
			for k, val := range x {
				m.Int64Keys[k] = round(val)
			}
			return m, nil
		case map[int64]float32:
			m.Int64Keys = make(map[int64]float64, len(x))
			for k, val := range x {
				m.Int64Keys[k] = round(float64(val))
			}
			return m, nil
		}
	case onnx.TensorProtoString:
		switch x := v.(type) {
		case map[string]float64:
			m.StringKeys = make(map[string]float64, len(x))
			for k, val := range x {
				m.StringKeys[k] = round(val)
			}
			return m, nil
		case map[string]float32:
			m.StringKeys = make(map[string]float64, len(x))
			for k, val := range x {
				m.StringKeys[k] = round(float64(val))
			}
			return m, nil
		}
	}
	if mv, ok := v.(*Map); ok && mv.KeyType == m.KeyType && mv.ValueType == m.ValueType {
		return mv, nil
	}
	return nil, invalidFeed(arg, v)
}

// logistic is the LOGISTIC post transform.
func logistic(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}
