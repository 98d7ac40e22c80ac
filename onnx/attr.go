package onnx

// AttrFloat builds a FLOAT attribute.
func AttrFloat(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// AttrInt builds an INT attribute.
func AttrInt(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// AttrString builds a STRING attribute.
func AttrString(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

// AttrFloats builds a FLOATS attribute.
func AttrFloats(name string, v []float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloats, Floats: v}
}

// AttrInts builds an INTS attribute.
func AttrInts(name string, v []int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

// AttrStrings builds a STRINGS attribute.
func AttrStrings(name string, v []string) AttributeProto {
	s := make([][]byte, len(v))
	for i := range v {
		s[i] = []byte(v[i])
	}
	return AttributeProto{Name: name, Type: AttributeProtoStrings, Strings: s}
}

// Attr returns the attribute called name, or nil.
func (n *NodeProto) Attr(name string) *AttributeProto {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// AttrIntOr returns the INT attribute name or def when it is absent.
func (n *NodeProto) AttrIntOr(name string, def int64) int64 {
	if a := n.Attr(name); a != nil {
		return a.I
	}
	return def
}

// AttrFloatOr returns the FLOAT attribute name or def when it is absent.
func (n *NodeProto) AttrFloatOr(name string, def float32) float32 {
	if a := n.Attr(name); a != nil {
		return a.F
	}
	return def
}

// AttrStringOr returns the STRING attribute name or def when it is absent.
func (n *NodeProto) AttrStringOr(name, def string) string {
	if a := n.Attr(name); a != nil {
		return string(a.S)
	}
	return def
}

// AttrFloatList returns the FLOATS attribute name, or nil.
func (n *NodeProto) AttrFloatList(name string) []float32 {
	if a := n.Attr(name); a != nil {
		return a.Floats
	}
	return nil
}

// AttrIntList returns the INTS attribute name, or nil.
func (n *NodeProto) AttrIntList(name string) []int64 {
	if a := n.Attr(name); a != nil {
		return a.Ints
	}
	return nil
}

// AttrStringList returns the STRINGS attribute name, or nil.
func (n *NodeProto) AttrStringList(name string) []string {
	a := n.Attr(name)
	if a == nil {
		return nil
	}
	out := make([]string, len(a.Strings))
	for i, s := range a.Strings {
		out[i] = string(s)
	}
	return out
}
