package onnx

import (
	"fmt"
	"os"
	"strings"

	"github.com/scigo/onnxpipe/pkg/errors"
)

// SaveModel encodes m and writes it to path.
func SaveModel(m *ModelProto, path string) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "onnx: write %s", path)
	}
	return nil
}

// LoadModel reads and decodes the model stored at path.
func LoadModel(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "onnx: read %s", path)
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "onnx: decode %s", path)
	}
	return m, nil
}

// OpsetVersion returns the imported opset version for domain, or 0.
func (m *ModelProto) OpsetVersion(domain string) int64 {
	for _, op := range m.OpsetImport {
		if op.Domain == domain || (domain == DomainONNX && op.Domain == "ai.onnx") {
			return op.Version
		}
	}
	return 0
}

// Metadata returns the value of metadata key k.
func (m *ModelProto) Metadata(k string) (string, bool) {
	for _, kv := range m.MetadataProps {
		if kv.Key == k {
			return kv.Value, true
		}
	}
	return "", false
}

var elemTypeNames = map[int32]string{
	TensorProtoFloat:   "float",
	TensorProtoUint8:   "uint8",
	TensorProtoInt8:    "int8",
	TensorProtoUint16:  "uint16",
	TensorProtoInt16:   "int16",
	TensorProtoInt32:   "int32",
	TensorProtoInt64:   "int64",
	TensorProtoString:  "string",
	TensorProtoBool:    "bool",
	TensorProtoFloat16: "float16",
	TensorProtoDouble:  "double",
	TensorProtoUint32:  "uint32",
	TensorProtoUint64:  "uint64",
}

// ElemTypeName returns the ONNX Runtime name of a tensor element type.
func ElemTypeName(dt int32) string {
	if s, ok := elemTypeNames[dt]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", dt)
}

// TypeString renders t the way ONNX Runtime reports NodeArg types, e.g.
// "tensor(float)" or "map(int64,tensor(float))".
func TypeString(t *TypeProto) string {
	var sb strings.Builder
	writeType(&sb, t)
	return sb.String()
}

func writeType(sb *strings.Builder, t *TypeProto) {
	switch {
	case t == nil:
		sb.WriteString("undefined")
	case t.TensorType != nil:
		sb.WriteString("tensor(")
		sb.WriteString(ElemTypeName(t.TensorType.ElemType))
		sb.WriteByte(')')
	case t.SequenceType != nil:
		sb.WriteString("seq(")
		writeType(sb, t.SequenceType.ElemType)
		sb.WriteByte(')')
	case t.MapType != nil:
		sb.WriteString("map(")
		sb.WriteString(ElemTypeName(t.MapType.KeyType))
		sb.WriteByte(',')
		writeType(sb, t.MapType.ValueType)
		sb.WriteByte(')')
	default:
		sb.WriteString("undefined")
	}
}

// Shape returns the declared dimensions of a tensor type. Symbolic and
// unknown dimensions are reported as -1, and a missing shape as nil.
func Shape(t *TypeProto) []int64 {
	if t == nil || t.TensorType == nil || t.TensorType.Shape == nil {
		return nil
	}
	dims := make([]int64, len(t.TensorType.Shape.Dims))
	for i, d := range t.TensorType.Shape.Dims {
		if d.DimParam != "" || d.DimValue <= 0 {
			dims[i] = -1
			continue
		}
		dims[i] = d.DimValue
	}
	return dims
}

// TensorType builds a tensor TypeProto. A negative dimension is left
// unknown.
func TensorType(elem int32, dims ...int64) *TypeProto {
	tt := &TensorTypeProto{ElemType: elem}
	if dims != nil {
		tt.Shape = &TensorShapeProto{Dims: make([]DimensionProto, len(dims))}
		for i, d := range dims {
			if d >= 0 {
				tt.Shape.Dims[i].DimValue = d
			}
		}
	}
	return &TypeProto{TensorType: tt}
}

// MapType builds a map TypeProto.
func MapType(key int32, value *TypeProto) *TypeProto {
	return &TypeProto{MapType: &MapTypeProto{KeyType: key, ValueType: value}}
}

// SequenceType builds a sequence TypeProto.
func SequenceType(elem *TypeProto) *TypeProto {
	return &TypeProto{SequenceType: &SequenceTypeProto{ElemType: elem}}
}

// ValueInfo pairs a name with a type.
func ValueInfo(name string, t *TypeProto) ValueInfoProto {
	return ValueInfoProto{Name: name, Type: t}
}
