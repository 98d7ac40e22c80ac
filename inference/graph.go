package inference

import (
	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
)

// GraphOptimizationLevel selects the graph rewrites applied at load.
type GraphOptimizationLevel int

const (
	// GraphOptimizationDisabled runs the graph as written.
	GraphOptimizationDisabled GraphOptimizationLevel = iota
	// GraphOptimizationBasic removes Identity nodes that do not produce a
	// graph output.
	GraphOptimizationBasic
)

func (l GraphOptimizationLevel) String() string {
	switch l {
	case GraphOptimizationDisabled:
		return "disabled"
	case GraphOptimizationBasic:
		return "basic"
	}
	return "unknown"
}

// eliminateIdentity drops Identity nodes and points their consumers at the
// Identity's input. Nodes writing a graph output are kept so the output
// keeps its name. It returns the rewritten nodes and the number removed.
func eliminateIdentity(nodes []onnx.NodeProto, graphOutputs map[string]bool) ([]onnx.NodeProto, int) {
	alias := make(map[string]string)
	for i := range nodes {
		n := &nodes[i]
		if n.OpType != "Identity" || normalizeDomain(n.Domain) != onnx.DomainONNX {
			continue
		}
		if len(n.Inputs) != 1 || len(n.Outputs) != 1 || graphOutputs[n.Outputs[0]] {
			continue
		}
		alias[n.Outputs[0]] = n.Inputs[0]
	}
	if len(alias) == 0 {
		return nodes, 0
	}

	resolve := func(name string) string {
		// bounded by the number of aliases so a cyclic chain terminates
		for i := 0; i <= len(alias); i++ {
			next, ok := alias[name]
			if !ok {
				return name
			}
			name = next
		}
		return name
	}

	out := make([]onnx.NodeProto, 0, len(nodes)-len(alias))
	for _, n := range nodes {
		if n.OpType == "Identity" && len(n.Outputs) == 1 {
			if _, ok := alias[n.Outputs[0]]; ok {
				continue
			}
		}
		inputs := make([]string, len(n.Inputs))
		for i, in := range n.Inputs {
			inputs[i] = resolve(in)
		}
		n.Inputs = inputs
		out = append(out, n)
	}
	return out, len(alias)
}

// topologicalSort orders nodes so every input is produced before it is
// consumed. available holds graph inputs and initializers. Ties keep the
// written order. A cycle, a value produced twice or a dangling input is an
// error.
func topologicalSort(nodes []onnx.NodeProto, available map[string]bool) ([]onnx.NodeProto, error) {
	producer := make(map[string]int, len(nodes))
	for i := range nodes {
		for _, out := range nodes[i].Outputs {
			if out == "" {
				continue
			}
			if available[out] {
				return nil, errors.Newf("node %s overwrites graph input %s", nodes[i].Name, out)
			}
			if j, dup := producer[out]; dup {
				return nil, errors.Newf("value %s produced by both %s and %s", out, nodes[j].Name, nodes[i].Name)
			}
			producer[out] = i
		}
	}

	pending := make([]int, len(nodes))
	consumers := make([][]int, len(nodes))
	for i := range nodes {
		for _, in := range nodes[i].Inputs {
			if in == "" || available[in] {
				continue
			}
			p, ok := producer[in]
			if !ok {
				return nil, errors.Newf("input %s of node %s is not produced by any node", in, nodes[i].Name)
			}
			pending[i]++
			consumers[p] = append(consumers[p], i)
		}
	}

	queue := make([]int, 0, len(nodes))
	for i := range nodes {
		if pending[i] == 0 {
			queue = append(queue, i)
		}
	}
	sorted := make([]onnx.NodeProto, 0, len(nodes))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		sorted = append(sorted, nodes[i])
		for _, c := range consumers[i] {
			pending[c]--
			if pending[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if len(sorted) != len(nodes) {
		return nil, errors.Newf("graph has a cycle: %d of %d nodes cannot be ordered", len(nodes)-len(sorted), len(nodes))
	}
	return sorted, nil
}
