package convert

import (
	"fmt"

	"github.com/scigo/onnxpipe/onnx"
)

// DataType is a declared ONNX value type used to describe graph inputs.
type DataType interface {
	// Proto returns the ONNX type this declaration encodes to.
	Proto() *onnx.TypeProto
	String() string
}

// FloatTensorType declares a float32 tensor. A negative dimension is left
// unknown (the batch dimension is usually -1). An empty shape declares a
// tensor of unspecified rank.
type FloatTensorType struct {
	Shape []int64
}

// DoubleTensorType declares a float64 tensor.
type DoubleTensorType struct {
	Shape []int64
}

// Int64TensorType declares an int64 tensor.
type Int64TensorType struct {
	Shape []int64
}

// StringTensorType declares a string tensor.
type StringTensorType struct {
	Shape []int64
}

// DictionaryType declares a map whose keys are Key's element type and whose
// values are Value.
type DictionaryType struct {
	Key   DataType
	Value DataType
}

// SequenceType declares a sequence of Elem.
type SequenceType struct {
	Elem DataType
}

// InitialType names a graph input and declares its type.
type InitialType struct {
	Name string
	Type DataType
}

func tensorProto(elem int32, shape []int64) *onnx.TypeProto {
	if len(shape) == 0 {
		return onnx.TensorType(elem)
	}
	return onnx.TensorType(elem, shape...)
}

func (t FloatTensorType) Proto() *onnx.TypeProto  { return tensorProto(onnx.TensorProtoFloat, t.Shape) }
func (t DoubleTensorType) Proto() *onnx.TypeProto { return tensorProto(onnx.TensorProtoDouble, t.Shape) }
func (t Int64TensorType) Proto() *onnx.TypeProto  { return tensorProto(onnx.TensorProtoInt64, t.Shape) }
func (t StringTensorType) Proto() *onnx.TypeProto { return tensorProto(onnx.TensorProtoString, t.Shape) }

func (t FloatTensorType) String() string  { return fmt.Sprintf("FloatTensorType(shape=%v)", t.Shape) }
func (t DoubleTensorType) String() string { return fmt.Sprintf("DoubleTensorType(shape=%v)", t.Shape) }
func (t Int64TensorType) String() string  { return fmt.Sprintf("Int64TensorType(shape=%v)", t.Shape) }
func (t StringTensorType) String() string { return fmt.Sprintf("StringTensorType(shape=%v)", t.Shape) }

// Proto encodes the map type. Only the element type of Key is used, so
// Int64TensorType{Shape: []int64{1}} declares int64 keys.
func (t DictionaryType) Proto() *onnx.TypeProto {
	key := int32(onnx.TensorProtoUndefined)
	if t.Key != nil {
		if kt := t.Key.Proto().TensorType; kt != nil {
			key = kt.ElemType
		}
	}
	var value *onnx.TypeProto
	if t.Value != nil {
		value = t.Value.Proto()
	}
	return onnx.MapType(key, value)
}

func (t DictionaryType) String() string {
	return fmt.Sprintf("DictionaryType(%v, %v)", t.Key, t.Value)
}

// Proto encodes the sequence type.
func (t SequenceType) Proto() *onnx.TypeProto {
	var elem *onnx.TypeProto
	if t.Elem != nil {
		elem = t.Elem.Proto()
	}
	return onnx.SequenceType(elem)
}

func (t SequenceType) String() string {
	return fmt.Sprintf("SequenceType(%v)", t.Elem)
}
