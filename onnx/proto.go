// Package onnx declares the subset of onnx.proto and onnx-ml.proto used by
// the converter and the inference session, with a protobuf wire codec.
package onnx

// ModelProto is the top-level ONNX model.
type ModelProto struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	OpsetImport     []OperatorSetID
	MetadataProps   []StringStringEntry
}

// OperatorSetID pins the opset version of one operator domain.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry is a metadata key/value pair.
type StringStringEntry struct {
	Key   string
	Value string
}

// GraphProto is a computation graph. Nodes are stored in the order they
// were written; the session sorts them topologically.
type GraphProto struct {
	Nodes        []NodeProto
	Name         string
	Initializers []TensorProto
	DocString    string
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	ValueInfo    []ValueInfoProto
}

// NodeProto is one operator invocation.
type NodeProto struct {
	Inputs     []string
	Outputs    []string
	Name       string
	OpType     string
	Attributes []AttributeProto
	DocString  string
	Domain     string
}

// AttributeProto is a named operator attribute. Type selects which value
// field is meaningful.
type AttributeProto struct {
	Name      string
	F         float32
	I         int64
	S         []byte
	T         *TensorProto
	G         *GraphProto
	Floats    []float32
	Ints      []int64
	Strings   [][]byte
	Tensors   []TensorProto
	Graphs    []GraphProto
	DocString string
	Type      int32
}

// TensorProto is a constant tensor.
type TensorProto struct {
	Dims       []int64
	DataType   int32
	FloatData  []float32
	Int32Data  []int32
	StringData [][]byte
	Int64Data  []int64
	Name       string
	DocString  string
	RawData    []byte
	DoubleData []float64
	Uint64Data []uint64
}

// ValueInfoProto names a graph value and declares its type.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

// TypeProto is a value type. Exactly one of TensorType, SequenceType and
// MapType is set.
type TypeProto struct {
	TensorType   *TensorTypeProto
	SequenceType *SequenceTypeProto
	MapType      *MapTypeProto
	Denotation   string
}

// TensorTypeProto is a tensor element type and optional shape.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// SequenceTypeProto is a sequence of values of ElemType.
type SequenceTypeProto struct {
	ElemType *TypeProto
}

// MapTypeProto maps scalar keys of KeyType to values of ValueType.
type MapTypeProto struct {
	KeyType   int32
	ValueType *TypeProto
}

// TensorShapeProto is a list of dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto is a fixed size or a named symbolic dimension. An unset
// dimension (both zero) is unknown.
type DimensionProto struct {
	DimValue   int64
	DimParam   string
	Denotation string
}

// Tensor element types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1
	TensorProtoUint8     = 2
	TensorProtoInt8      = 3
	TensorProtoUint16    = 4
	TensorProtoInt16     = 5
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoString    = 8
	TensorProtoBool      = 9
	TensorProtoFloat16   = 10
	TensorProtoDouble    = 11
	TensorProtoUint32    = 12
	TensorProtoUint64    = 13
)

// Attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoGraph     = 5
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
	AttributeProtoTensors   = 9
	AttributeProtoGraphs    = 10
)

// Operator domains.
const (
	DomainONNX = ""
	DomainML   = "ai.onnx.ml"
)

// IRVersion7 is the IR version written by the converter; it is readable by
// every runtime that supports opset 13.
const IRVersion7 = 7
