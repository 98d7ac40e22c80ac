package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/scigo/onnxpipe/pkg/errors"
)

// Unmarshal decodes a protobuf-encoded ModelProto. Unknown fields are
// skipped. Repeated numeric fields are accepted packed or unpacked.
func Unmarshal(data []byte) (*ModelProto, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "onnx.Unmarshal")
	}
	m := &ModelProto{}
	if err := decodeModel(data, m); err != nil {
		return nil, errors.Wrap(err, "onnx.Unmarshal")
	}
	return m, nil
}

// UnmarshalTensor decodes a protobuf-encoded TensorProto, the format of the
// input_N.pb and output_N.pb files of a test data set.
func UnmarshalTensor(data []byte) (*TensorProto, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "onnx.UnmarshalTensor")
	}
	t := &TensorProto{}
	if err := decodeTensor(data, t); err != nil {
		return nil, errors.Wrap(err, "onnx.UnmarshalTensor")
	}
	return t, nil
}

// fieldFunc handles one field whose tag has already been consumed and
// returns the number of value bytes it consumed. Returning 0 skips the field.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walk(msg string, b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "%s: tag", msg)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return errors.Wrapf(err, "%s field %d", msg, num)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return errors.Wrapf(protowire.ParseError(m), "%s field %d", msg, num)
		}
		b = b[m:]
	}
	return nil
}

func wireType(typ, want protowire.Type) error {
	if typ != want {
		return errors.Newf("wire type %d, want %d", typ, want)
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if err := wireType(typ, protowire.BytesType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = string(v)
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if err := wireType(typ, protowire.BytesType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = append([]byte(nil), v...)
	return n, nil
}

func consumeInt(typ protowire.Type, b []byte, dst *int64) (int, error) {
	if err := wireType(typ, protowire.VarintType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = int64(v)
	return n, nil
}

func consumeInt32(typ protowire.Type, b []byte, dst *int32) (int, error) {
	var v int64
	n, err := consumeInt(typ, b, &v)
	*dst = int32(v)
	return n, err
}

func consumeMessage(typ protowire.Type, b []byte, decode func([]byte) error) (int, error) {
	if err := wireType(typ, protowire.BytesType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, decode(v)
}

// consumeVarints appends one unpacked varint or a packed run of them.
func consumeVarints(typ protowire.Type, b []byte, add func(uint64)) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		add(v)
		return n, nil
	case protowire.BytesType:
		p, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		for len(p) > 0 {
			v, m := protowire.ConsumeVarint(p)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			add(v)
			p = p[m:]
		}
		return n, nil
	}
	return 0, errors.Newf("wire type %d for repeated varint", typ)
}

func consumeFloats(typ protowire.Type, b []byte, dst *[]float32) (int, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		*dst = append(*dst, math.Float32frombits(v))
		return n, nil
	case protowire.BytesType:
		p, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if len(p)%4 != 0 {
			return 0, errors.Newf("packed float length %d", len(p))
		}
		for len(p) > 0 {
			v, m := protowire.ConsumeFixed32(p)
			*dst = append(*dst, math.Float32frombits(v))
			p = p[m:]
		}
		return n, nil
	}
	return 0, errors.Newf("wire type %d for repeated float", typ)
}

func consumeDoubles(typ protowire.Type, b []byte, dst *[]float64) (int, error) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		*dst = append(*dst, math.Float64frombits(v))
		return n, nil
	case protowire.BytesType:
		p, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if len(p)%8 != 0 {
			return 0, errors.Newf("packed double length %d", len(p))
		}
		for len(p) > 0 {
			v, m := protowire.ConsumeFixed64(p)
			*dst = append(*dst, math.Float64frombits(v))
			p = p[m:]
		}
		return n, nil
	}
	return 0, errors.Newf("wire type %d for repeated double", typ)
}

func decodeModel(b []byte, m *ModelProto) error {
	return walk("ModelProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt(typ, b, &m.IRVersion)
		case 2:
			return consumeString(typ, b, &m.ProducerName)
		case 3:
			return consumeString(typ, b, &m.ProducerVersion)
		case 4:
			return consumeString(typ, b, &m.Domain)
		case 5:
			return consumeInt(typ, b, &m.ModelVersion)
		case 6:
			return consumeString(typ, b, &m.DocString)
		case 7:
			m.Graph = &GraphProto{}
			return consumeMessage(typ, b, func(v []byte) error { return decodeGraph(v, m.Graph) })
		case 8:
			var op OperatorSetID
			n, err := consumeMessage(typ, b, func(v []byte) error { return decodeOpset(v, &op) })
			m.OpsetImport = append(m.OpsetImport, op)
			return n, err
		case 14:
			var kv StringStringEntry
			n, err := consumeMessage(typ, b, func(v []byte) error { return decodeEntry(v, &kv) })
			m.MetadataProps = append(m.MetadataProps, kv)
			return n, err
		}
		return 0, nil
	})
}

func decodeOpset(b []byte, op *OperatorSetID) error {
	return walk("OperatorSetIdProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &op.Domain)
		case 2:
			return consumeInt(typ, b, &op.Version)
		}
		return 0, nil
	})
}

func decodeEntry(b []byte, kv *StringStringEntry) error {
	return walk("StringStringEntryProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &kv.Key)
		case 2:
			return consumeString(typ, b, &kv.Value)
		}
		return 0, nil
	})
}

func decodeGraph(b []byte, g *GraphProto) error {
	return walk("GraphProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var n NodeProto
			c, err := consumeMessage(typ, b, func(v []byte) error { return decodeNode(v, &n) })
			g.Nodes = append(g.Nodes, n)
			return c, err
		case 2:
			return consumeString(typ, b, &g.Name)
		case 5:
			var t TensorProto
			c, err := consumeMessage(typ, b, func(v []byte) error { return decodeTensor(v, &t) })
			g.Initializers = append(g.Initializers, t)
			return c, err
		case 10:
			return consumeString(typ, b, &g.DocString)
		case 11, 12, 13:
			var vi ValueInfoProto
			c, err := consumeMessage(typ, b, func(v []byte) error { return decodeValueInfo(v, &vi) })
			switch num {
			case 11:
				g.Inputs = append(g.Inputs, vi)
			case 12:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
			return c, err
		}
		return 0, nil
	})
}

func decodeNode(b []byte, n *NodeProto) error {
	return walk("NodeProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2:
			var s string
			c, err := consumeString(typ, b, &s)
			if num == 1 {
				n.Inputs = append(n.Inputs, s)
			} else {
				n.Outputs = append(n.Outputs, s)
			}
			return c, err
		case 3:
			return consumeString(typ, b, &n.Name)
		case 4:
			return consumeString(typ, b, &n.OpType)
		case 5:
			var a AttributeProto
			c, err := consumeMessage(typ, b, func(v []byte) error { return decodeAttribute(v, &a) })
			n.Attributes = append(n.Attributes, a)
			return c, err
		case 6:
			return consumeString(typ, b, &n.DocString)
		case 7:
			return consumeString(typ, b, &n.Domain)
		}
		return 0, nil
	})
}

func decodeAttribute(b []byte, a *AttributeProto) error {
	return walk("AttributeProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &a.Name)
		case 2:
			if err := wireType(typ, protowire.Fixed32Type); err != nil {
				return 0, err
			}
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			a.F = math.Float32frombits(v)
			return n, nil
		case 3:
			return consumeInt(typ, b, &a.I)
		case 4:
			return consumeBytes(typ, b, &a.S)
		case 5:
			a.T = &TensorProto{}
			return consumeMessage(typ, b, func(v []byte) error { return decodeTensor(v, a.T) })
		case 6:
			a.G = &GraphProto{}
			return consumeMessage(typ, b, func(v []byte) error { return decodeGraph(v, a.G) })
		case 7:
			return consumeFloats(typ, b, &a.Floats)
		case 8:
			return consumeVarints(typ, b, func(v uint64) { a.Ints = append(a.Ints, int64(v)) })
		case 9:
			var s []byte
			c, err := consumeBytes(typ, b, &s)
			a.Strings = append(a.Strings, s)
			return c, err
		case 10:
			var t TensorProto
			c, err := consumeMessage(typ, b, func(v []byte) error { return decodeTensor(v, &t) })
			a.Tensors = append(a.Tensors, t)
			return c, err
		case 11:
			var g GraphProto
			c, err := consumeMessage(typ, b, func(v []byte) error { return decodeGraph(v, &g) })
			a.Graphs = append(a.Graphs, g)
			return c, err
		case 13:
			return consumeString(typ, b, &a.DocString)
		case 20:
			return consumeInt32(typ, b, &a.Type)
		}
		return 0, nil
	})
}

func decodeTensor(b []byte, t *TensorProto) error {
	return walk("TensorProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarints(typ, b, func(v uint64) { t.Dims = append(t.Dims, int64(v)) })
		case 2:
			return consumeInt32(typ, b, &t.DataType)
		case 4:
			return consumeFloats(typ, b, &t.FloatData)
		case 5:
			return consumeVarints(typ, b, func(v uint64) { t.Int32Data = append(t.Int32Data, int32(v)) })
		case 6:
			var s []byte
			c, err := consumeBytes(typ, b, &s)
			t.StringData = append(t.StringData, s)
			return c, err
		case 7:
			return consumeVarints(typ, b, func(v uint64) { t.Int64Data = append(t.Int64Data, int64(v)) })
		case 8:
			return consumeString(typ, b, &t.Name)
		case 9:
			return consumeBytes(typ, b, &t.RawData)
		case 10:
			return consumeDoubles(typ, b, &t.DoubleData)
		case 11:
			return consumeVarints(typ, b, func(v uint64) { t.Uint64Data = append(t.Uint64Data, v) })
		case 12:
			return consumeString(typ, b, &t.DocString)
		}
		return 0, nil
	})
}

func decodeValueInfo(b []byte, vi *ValueInfoProto) error {
	return walk("ValueInfoProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &vi.Name)
		case 2:
			vi.Type = &TypeProto{}
			return consumeMessage(typ, b, func(v []byte) error { return decodeType(v, vi.Type) })
		case 3:
			return consumeString(typ, b, &vi.DocString)
		}
		return 0, nil
	})
}

func decodeType(b []byte, t *TypeProto) error {
	return walk("TypeProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			t.TensorType = &TensorTypeProto{}
			return consumeMessage(typ, b, func(v []byte) error { return decodeTensorType(v, t.TensorType) })
		case 4:
			t.SequenceType = &SequenceTypeProto{}
			return consumeMessage(typ, b, func(v []byte) error {
				return walk("TypeProto.Sequence", v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					if num != 1 {
						return 0, nil
					}
					t.SequenceType.ElemType = &TypeProto{}
					return consumeMessage(typ, b, func(v []byte) error { return decodeType(v, t.SequenceType.ElemType) })
				})
			})
		case 5:
			t.MapType = &MapTypeProto{}
			return consumeMessage(typ, b, func(v []byte) error {
				return walk("TypeProto.Map", v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeInt32(typ, b, &t.MapType.KeyType)
					case 2:
						t.MapType.ValueType = &TypeProto{}
						return consumeMessage(typ, b, func(v []byte) error { return decodeType(v, t.MapType.ValueType) })
					}
					return 0, nil
				})
			})
		case 6:
			return consumeString(typ, b, &t.Denotation)
		}
		return 0, nil
	})
}

func decodeTensorType(b []byte, tt *TensorTypeProto) error {
	return walk("TypeProto.Tensor", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt32(typ, b, &tt.ElemType)
		case 2:
			tt.Shape = &TensorShapeProto{}
			return consumeMessage(typ, b, func(v []byte) error { return decodeShape(v, tt.Shape) })
		}
		return 0, nil
	})
}

func decodeShape(b []byte, s *TensorShapeProto) error {
	return walk("TensorShapeProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		var d DimensionProto
		c, err := consumeMessage(typ, b, func(v []byte) error {
			return walk("TensorShapeProto.Dimension", v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					return consumeInt(typ, b, &d.DimValue)
				case 2:
					return consumeString(typ, b, &d.DimParam)
				case 3:
					return consumeString(typ, b, &d.Denotation)
				}
				return 0, nil
			})
		})
		s.Dims = append(s.Dims, d)
		return c, err
	})
}
