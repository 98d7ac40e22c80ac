package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/scigo/onnxpipe/pkg/errors"
)

// Marshal encodes m in protobuf wire format. Fields are written in field
// number order and unset scalars are omitted, so equal models always encode
// to equal bytes.
func Marshal(m *ModelProto) ([]byte, error) {
	if m == nil {
		return nil, errors.NewValueError("onnx.Marshal", "nil model")
	}
	if m.Graph == nil {
		return nil, errors.NewValueError("onnx.Marshal", "model has no graph")
	}
	return appendModel(nil, m), nil
}

// MarshalTensor encodes t on its own, as stored in test data sets.
func MarshalTensor(t *TensorProto) ([]byte, error) {
	if t == nil {
		return nil, errors.NewValueError("onnx.MarshalTensor", "nil tensor")
	}
	return appendTensor(nil, t), nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendModel(b []byte, m *ModelProto) []byte {
	b = appendInt(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendInt(b, 5, m.ModelVersion)
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, appendGraph(nil, m.Graph))
	}
	for _, op := range m.OpsetImport {
		var ob []byte
		ob = appendString(ob, 1, op.Domain)
		ob = appendInt(ob, 2, op.Version)
		b = appendMessage(b, 8, ob)
	}
	for _, kv := range m.MetadataProps {
		b = appendMessage(b, 14, appendEntry(nil, kv))
	}
	return b
}

func appendEntry(b []byte, kv StringStringEntry) []byte {
	b = appendString(b, 1, kv.Key)
	return appendString(b, 2, kv.Value)
}

func appendGraph(b []byte, g *GraphProto) []byte {
	for i := range g.Nodes {
		b = appendMessage(b, 1, appendNode(nil, &g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, appendTensor(nil, &g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, appendValueInfo(nil, &g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, appendValueInfo(nil, &g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, 13, appendValueInfo(nil, &g.ValueInfo[i]))
	}
	return b
}

func appendNode(b []byte, n *NodeProto) []byte {
	// Empty names mark omitted optional inputs and must be kept positionally.
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, appendAttribute(nil, &n.Attributes[i]))
	}
	b = appendString(b, 6, n.DocString)
	return appendString(b, 7, n.Domain)
}

func appendAttribute(b []byte, a *AttributeProto) []byte {
	b = appendString(b, 1, a.Name)
	if a.Type == AttributeProtoFloat || a.F != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	}
	if a.Type == AttributeProtoInt || a.I != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	}
	if a.Type == AttributeProtoString || len(a.S) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	}
	if a.T != nil {
		b = appendMessage(b, 5, appendTensor(nil, a.T))
	}
	if a.G != nil {
		b = appendMessage(b, 6, appendGraph(nil, a.G))
	}
	// onnx.proto is proto2: repeated attribute scalars are not packed.
	for _, f := range a.Floats {
		b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	for _, v := range a.Ints {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}
	for _, s := range a.Strings {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	for i := range a.Tensors {
		b = appendMessage(b, 10, appendTensor(nil, &a.Tensors[i]))
	}
	for i := range a.Graphs {
		b = appendMessage(b, 11, appendGraph(nil, &a.Graphs[i]))
	}
	b = appendString(b, 13, a.DocString)
	return appendInt(b, 20, int64(a.Type))
}

func appendTensor(b []byte, t *TensorProto) []byte {
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = appendInt(b, 2, int64(t.DataType))
	if len(t.FloatData) > 0 {
		var p []byte
		for _, f := range t.FloatData {
			p = protowire.AppendFixed32(p, math.Float32bits(f))
		}
		b = appendMessage(b, 4, p)
	}
	if len(t.Int32Data) > 0 {
		var p []byte
		for _, v := range t.Int32Data {
			p = protowire.AppendVarint(p, uint64(int64(v)))
		}
		b = appendMessage(b, 5, p)
	}
	for _, s := range t.StringData {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	if len(t.Int64Data) > 0 {
		var p []byte
		for _, v := range t.Int64Data {
			p = protowire.AppendVarint(p, uint64(v))
		}
		b = appendMessage(b, 7, p)
	}
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = appendMessage(b, 9, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		var p []byte
		for _, f := range t.DoubleData {
			p = protowire.AppendFixed64(p, math.Float64bits(f))
		}
		b = appendMessage(b, 10, p)
	}
	if len(t.Uint64Data) > 0 {
		var p []byte
		for _, v := range t.Uint64Data {
			p = protowire.AppendVarint(p, v)
		}
		b = appendMessage(b, 11, p)
	}
	return appendString(b, 12, t.DocString)
}

func appendValueInfo(b []byte, v *ValueInfoProto) []byte {
	b = appendString(b, 1, v.Name)
	if v.Type != nil {
		b = appendMessage(b, 2, appendType(nil, v.Type))
	}
	return appendString(b, 3, v.DocString)
}

func appendType(b []byte, t *TypeProto) []byte {
	if t.TensorType != nil {
		var tb []byte
		tb = appendInt(tb, 1, int64(t.TensorType.ElemType))
		if t.TensorType.Shape != nil {
			tb = appendMessage(tb, 2, appendShape(nil, t.TensorType.Shape))
		}
		b = appendMessage(b, 1, tb)
	}
	if t.SequenceType != nil {
		var sb []byte
		if t.SequenceType.ElemType != nil {
			sb = appendMessage(sb, 1, appendType(nil, t.SequenceType.ElemType))
		}
		b = appendMessage(b, 4, sb)
	}
	if t.MapType != nil {
		var mb []byte
		mb = appendInt(mb, 1, int64(t.MapType.KeyType))
		if t.MapType.ValueType != nil {
			mb = appendMessage(mb, 2, appendType(nil, t.MapType.ValueType))
		}
		b = appendMessage(b, 5, mb)
	}
	return appendString(b, 6, t.Denotation)
}

func appendShape(b []byte, s *TensorShapeProto) []byte {
	for _, d := range s.Dims {
		var db []byte
		if d.DimParam != "" {
			db = appendString(db, 2, d.DimParam)
		} else if d.DimValue != 0 {
			db = protowire.AppendTag(db, 1, protowire.VarintType)
			db = protowire.AppendVarint(db, uint64(d.DimValue))
		}
		db = appendString(db, 3, d.Denotation)
		b = appendMessage(b, 1, db)
	}
	return b
}
