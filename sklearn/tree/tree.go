// Package tree provides a CART regression tree stored in flat parallel
// arrays, the layout the ONNX tree ensemble operators consume.
package tree

const (
	// TreeLeaf marks a missing child in ChildrenLeft / ChildrenRight.
	TreeLeaf = -1
	// TreeUndefined is the Feature of a leaf node.
	TreeUndefined = -2
)

// Tree is a fitted binary tree. Node 0 is the root. For an internal node i a
// sample goes left when x[Feature[i]] <= Threshold[i].
type Tree struct {
	ChildrenLeft  []int
	ChildrenRight []int
	Feature       []int
	Threshold     []float64
	Value         []float64
	Impurity      []float64
	NNodeSamples  []int
}

// NodeCount returns the number of nodes.
func (t *Tree) NodeCount() int {
	return len(t.Value)
}

// IsLeaf reports whether node i has no children.
func (t *Tree) IsLeaf(i int) bool {
	return t.ChildrenLeft[i] == TreeLeaf
}

// NLeaves returns the number of leaves.
func (t *Tree) NLeaves() int {
	n := 0
	for i := range t.ChildrenLeft {
		if t.IsLeaf(i) {
			n++
		}
	}
	return n
}

// MaxDepth returns the depth of the deepest leaf; a single leaf has depth 0.
func (t *Tree) MaxDepth() int {
	if t.NodeCount() == 0 {
		return 0
	}
	var walk func(node, depth int) int
	walk = func(node, depth int) int {
		if t.IsLeaf(node) {
			return depth
		}
		return max(walk(t.ChildrenLeft[node], depth+1), walk(t.ChildrenRight[node], depth+1))
	}
	return walk(0, 0)
}

// Apply returns the leaf index reached by row x.
func (t *Tree) Apply(x []float64) int {
	node := 0
	for !t.IsLeaf(node) {
		if float32(x[t.Feature[node]]) <= float32(t.Threshold[node]) {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return node
}

// PredictRow returns the leaf value for row x.
func (t *Tree) PredictRow(x []float64) float64 {
	return t.Value[t.Apply(x)]
}

func (t *Tree) addNode(value, impurity float64, nSamples int) int {
	t.ChildrenLeft = append(t.ChildrenLeft, TreeLeaf)
	t.ChildrenRight = append(t.ChildrenRight, TreeLeaf)
	t.Feature = append(t.Feature, TreeUndefined)
	t.Threshold = append(t.Threshold, float64(TreeUndefined))
	t.Value = append(t.Value, value)
	t.Impurity = append(t.Impurity, impurity)
	t.NNodeSamples = append(t.NNodeSamples, nSamples)
	return len(t.Value) - 1
}
