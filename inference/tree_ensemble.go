package inference

import (
	"context"
	"math"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
)

type branchMode uint8

const (
	modeLeaf branchMode = iota
	modeLEQ
	modeLT
	modeGTE
	modeGT
	modeEQ
	modeNEQ
)

var branchModes = map[string]branchMode{
	"LEAF":       modeLeaf,
	"BRANCH_LEQ": modeLEQ,
	"BRANCH_LT":  modeLT,
	"BRANCH_GTE": modeGTE,
	"BRANCH_GT":  modeGT,
	"BRANCH_EQ":  modeEQ,
	"BRANCH_NEQ": modeNEQ,
}

type targetWeight struct {
	target int
	weight float32
}

type ensembleNode struct {
	mode        branchMode
	feature     int
	value       float32
	trueIdx     int
	falseIdx    int
	missingTrue bool
	weights     []targetWeight
}

// goesTrue evaluates the branch condition. A NaN feature follows the true
// branch only when missing_value_tracks_true is set; otherwise it takes
// whatever the comparison yields.
func (n *ensembleNode) goesTrue(x float32) bool {
	if n.missingTrue && math.IsNaN(float64(x)) {
		return true
	}
	switch n.mode {
	case modeLEQ:
		return x <= n.value
	case modeLT:
		return x < n.value
	case modeGTE:
		return x >= n.value
	case modeGT:
		return x > n.value
	case modeEQ:
		return x == n.value
	case modeNEQ:
		return x != n.value
	}
	return false
}

// treeEnsembleRegressor evaluates ai.onnx.ml.TreeEnsembleRegressor in
// float32.
type treeEnsembleRegressor struct {
	nodes      []ensembleNode
	roots      []int
	nTargets   int
	base       []float32
	aggregate  string
	post       string
	minColumns int
}

type nodeKey struct {
	tree int64
	node int64
}

func newTreeEnsembleRegressor(node *onnx.NodeProto) (Kernel, error) {
	treeIDs := node.AttrIntList("nodes_treeids")
	nodeIDs := node.AttrIntList("nodes_nodeids")
	featureIDs := node.AttrIntList("nodes_featureids")
	modes := node.AttrStringList("nodes_modes")
	values := node.AttrFloatList("nodes_values")
	trueIDs := node.AttrIntList("nodes_truenodeids")
	falseIDs := node.AttrIntList("nodes_falsenodeids")
	missing := node.AttrIntList("nodes_missing_value_tracks_true")

	n := len(nodeIDs)
	if n == 0 {
		return nil, errors.New("TreeEnsembleRegressor has no nodes")
	}
	for name, l := range map[string]int{
		"nodes_treeids":      len(treeIDs),
		"nodes_featureids":   len(featureIDs),
		"nodes_modes":        len(modes),
		"nodes_values":       len(values),
		"nodes_truenodeids":  len(trueIDs),
		"nodes_falsenodeids": len(falseIDs),
	} {
		if l != n {
			return nil, errors.Newf("%s has %d entries, nodes_nodeids has %d", name, l, n)
		}
	}
	if len(missing) != 0 && len(missing) != n {
		return nil, errors.Newf("nodes_missing_value_tracks_true has %d entries, want %d", len(missing), n)
	}

	k := &treeEnsembleRegressor{
		nodes:     make([]ensembleNode, n),
		nTargets:  int(node.AttrIntOr("n_targets", 1)),
		base:      node.AttrFloatList("base_values"),
		aggregate: node.AttrStringOr("aggregate_function", "SUM"),
		post:      node.AttrStringOr("post_transform", "NONE"),
	}
	if k.nTargets < 1 {
		return nil, errors.Newf("n_targets must be positive, got %d", k.nTargets)
	}
	if len(k.base) != 0 && len(k.base) != k.nTargets {
		return nil, errors.Newf("base_values has %d entries for %d targets", len(k.base), k.nTargets)
	}
	switch k.aggregate {
	case "SUM", "AVERAGE", "MIN", "MAX":
	default:
		return nil, errors.Wrapf(errors.ErrNotImplemented, "aggregate_function %s", k.aggregate)
	}
	switch k.post {
	case "NONE", "LOGISTIC":
	default:
		return nil, errors.Wrapf(errors.ErrNotImplemented, "post_transform %s", k.post)
	}

	index := make(map[nodeKey]int, n)
	for i := 0; i < n; i++ {
		key := nodeKey{treeIDs[i], nodeIDs[i]}
		if _, dup := index[key]; dup {
			return nil, errors.Newf("duplicate node %d in tree %d", key.node, key.tree)
		}
		index[key] = i
	}

	isChild := make([]bool, n)
	for i := 0; i < n; i++ {
		mode, ok := branchModes[modes[i]]
		if !ok {
			return nil, errors.Newf("unknown node mode %q", modes[i])
		}
		nd := &k.nodes[i]
		nd.mode = mode
		nd.missingTrue = len(missing) > 0 && missing[i] != 0
		if mode == modeLeaf {
			continue
		}
		nd.feature = int(featureIDs[i])
		nd.value = values[i]
		if nd.feature < 0 {
			return nil, errors.Newf("negative feature id %d", nd.feature)
		}
		k.minColumns = max(k.minColumns, nd.feature+1)

		t, ok := index[nodeKey{treeIDs[i], trueIDs[i]}]
		if !ok {
			return nil, errors.Newf("tree %d: true child %d of node %d not found", treeIDs[i], trueIDs[i], nodeIDs[i])
		}
		f, ok := index[nodeKey{treeIDs[i], falseIDs[i]}]
		if !ok {
			return nil, errors.Newf("tree %d: false child %d of node %d not found", treeIDs[i], falseIDs[i], nodeIDs[i])
		}
		nd.trueIdx, nd.falseIdx = t, f
		isChild[t], isChild[f] = true, true
	}

	if err := k.addTargets(node, index); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		if isChild[i] {
			continue
		}
		if seen[treeIDs[i]] {
			return nil, errors.Newf("tree %d has more than one root", treeIDs[i])
		}
		seen[treeIDs[i]] = true
		k.roots = append(k.roots, i)
	}
	if len(k.roots) == 0 {
		return nil, errors.New("tree ensemble has no root")
	}
	for _, id := range treeIDs {
		if !seen[id] {
			return nil, errors.Newf("tree %d has no root", id)
		}
	}
	for _, r := range k.roots {
		if err := k.checkAcyclic(r); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func (k *treeEnsembleRegressor) addTargets(node *onnx.NodeProto, index map[nodeKey]int) error {
	tTrees := node.AttrIntList("target_treeids")
	tNodes := node.AttrIntList("target_nodeids")
	tIDs := node.AttrIntList("target_ids")
	weights := node.AttrFloatList("target_weights")
	if len(tNodes) != len(tTrees) || len(tIDs) != len(tTrees) || len(weights) != len(tTrees) {
		return errors.Newf("target attributes differ in length: %d, %d, %d, %d",
			len(tTrees), len(tNodes), len(tIDs), len(weights))
	}
	for i := range tTrees {
		idx, ok := index[nodeKey{tTrees[i], tNodes[i]}]
		if !ok {
			return errors.Newf("target references missing node %d in tree %d", tNodes[i], tTrees[i])
		}
		if k.nodes[idx].mode != modeLeaf {
			return errors.Newf("target references branch node %d in tree %d", tNodes[i], tTrees[i])
		}
		if tIDs[i] < 0 || int(tIDs[i]) >= k.nTargets {
			return errors.Newf("target id %d out of range [0, %d)", tIDs[i], k.nTargets)
		}
		k.nodes[idx].weights = append(k.nodes[idx].weights, targetWeight{int(tIDs[i]), weights[i]})
	}
	return nil
}

// checkAcyclic walks every path from root and fails if a node is reached
// twice, which also rules out shared subtrees.
func (k *treeEnsembleRegressor) checkAcyclic(root int) error {
	visited := make(map[int]bool)
	stack := []int{root}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[i] {
			return errors.Newf("tree rooted at node index %d is not a tree", root)
		}
		visited[i] = true
		if k.nodes[i].mode != modeLeaf {
			stack = append(stack, k.nodes[i].trueIdx, k.nodes[i].falseIdx)
		}
	}
	return nil
}

func (k *treeEnsembleRegressor) leaf(root int, row []float32) *ensembleNode {
	nd := &k.nodes[root]
	for nd.mode != modeLeaf {
		if nd.goesTrue(row[nd.feature]) {
			nd = &k.nodes[nd.trueIdx]
		} else {
			nd = &k.nodes[nd.falseIdx]
		}
	}
	return nd
}

func (k *treeEnsembleRegressor) Compute(ctx context.Context, inputs []Value) ([]Value, error) {
	t, err := tensorInput(inputs, 0)
	if err != nil {
		return nil, err
	}
	rows, cols, err := t.rows()
	if err != nil {
		return nil, err
	}
	if cols < k.minColumns {
		return nil, errors.NewInputShapeError("inference", "TreeEnsembleRegressor", []int{rows, k.minColumns}, []int{rows, cols})
	}
	x, err := t.float32s()
	if err != nil {
		return nil, err
	}

	out := make([]float32, rows*k.nTargets)
	scores := make([]float32, k.nTargets)
	has := make([]bool, k.nTargets)
	for i := 0; i < rows; i++ {
		if i%1024 == 1023 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := x[i*cols : (i+1)*cols]
		for j := range scores {
			scores[j], has[j] = 0, false
		}
		for _, r := range k.roots {
			for _, tw := range k.leaf(r, row).weights {
				k.accumulate(scores, has, tw)
			}
		}
		for j := range scores {
			v := scores[j]
			if k.aggregate == "AVERAGE" {
				v /= float32(len(k.roots))
			}
			if len(k.base) > 0 {
				v += k.base[j]
			}
			if k.post == "LOGISTIC" {
				v = logistic(v)
			}
			out[i*k.nTargets+j] = v
		}
	}
	return []Value{mustFloat32([]int64{int64(rows), int64(k.nTargets)}, out)}, nil
}

func (k *treeEnsembleRegressor) accumulate(scores []float32, has []bool, tw targetWeight) {
	j := tw.target
	switch k.aggregate {
	case "MIN":
		if !has[j] || tw.weight < scores[j] {
			scores[j] = tw.weight
		}
	case "MAX":
		if !has[j] || tw.weight > scores[j] {
			scores[j] = tw.weight
		}
	default:
		scores[j] += tw.weight
	}
	has[j] = true
}
