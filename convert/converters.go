package convert

import (
	"fmt"
	"math"
	"strconv"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/preprocessing"
	"github.com/scigo/onnxpipe/sklearn/ensemble"
	"github.com/scigo/onnxpipe/sklearn/feature_extraction"
	"github.com/scigo/onnxpipe/sklearn/linear_model"
	"github.com/scigo/onnxpipe/sklearn/pipeline"
	"github.com/scigo/onnxpipe/sklearn/tree"
)

// convertStep emits the nodes for one pipeline step and returns the value it
// produces. final is the name the step must write, or "" for a fresh name.
func convertStep(s *scope, step pipeline.Step, in variable, final string) (variable, error) {
	switch est := step.Estimator.(type) {
	case *feature_extraction.DictVectorizer:
		return convertDictVectorizer(s, est, in, final)
	case preprocessing.AffineScaler:
		return convertScaler(s, step.Name, est, in, final)
	case *ensemble.GradientBoostingRegressor:
		return convertGradientBoosting(s, step.Name, est, in, final)
	case *tree.DecisionTreeRegressor:
		return convertDecisionTree(s, step.Name, est, in, final)
	case *linear_model.LinearRegression:
		return convertLinearRegression(s, step.Name, est, in, final)
	}
	return variable{}, errors.NewConversionError(step.Name, fmt.Sprintf("no converter registered for %T", step.Estimator))
}

func floatOutput(s *scope, final string, cols int64) variable {
	return variable{name: s.output(final), typ: onnx.TensorType(onnx.TensorProtoFloat, -1, cols)}
}

// float32s narrows values, warning once if any of them overflows float32.
func float32s(step string, values []float64) []float32 {
	out := make([]float32, len(values))
	overflow := false
	for i, v := range values {
		out[i] = float32(v)
		if math.IsInf(float64(out[i]), 0) && !math.IsInf(v, 0) {
			overflow = true
		}
	}
	if overflow {
		errors.Warn(errors.NewDataConversionWarning("float64", "float32",
			fmt.Sprintf("step %s has values outside the float32 range", step)))
	}
	return out
}

// convertDictVectorizer emits ai.onnx.ml.DictVectorizer. The vocabulary
// kind follows the declared map key type; int keys are written as their
// decimal strings when the input declares string keys.
func convertDictVectorizer(s *scope, dv *feature_extraction.DictVectorizer, in variable, final string) (variable, error) {
	names := dv.FeatureNames()
	if len(names) == 0 {
		return variable{}, errors.NewConversionError("DictVectorizer", "empty vocabulary")
	}

	var attr onnx.AttributeProto
	if in.typ != nil && in.typ.MapType != nil && in.typ.MapType.KeyType == onnx.TensorProtoString {
		vocab := make([]string, len(names))
		for i, k := range names {
			vocab[i] = strconv.FormatInt(k, 10)
		}
		attr = onnx.AttrStrings("string_vocabulary", vocab)
	} else {
		attr = onnx.AttrInts("int64_vocabulary", append([]int64(nil), names...))
	}

	out := floatOutput(s, final, int64(len(names)))
	s.addNode("DictVectorizer", onnx.DomainML, []string{in.name}, []string{out.name}, attr)
	return out, nil
}

// convertScaler emits ai.onnx.ml.Scaler computing (X - offset) * scale.
func convertScaler(s *scope, name string, sc preprocessing.AffineScaler, in variable, final string) (variable, error) {
	offset, scale, err := sc.AffineParams()
	if err != nil {
		return variable{}, errors.Wrapf(err, "convert step %s", name)
	}
	out := floatOutput(s, final, int64(len(offset)))
	s.addNode("Scaler", onnx.DomainML, []string{in.name}, []string{out.name},
		onnx.AttrFloats("offset", float32s(name, offset)),
		onnx.AttrFloats("scale", float32s(name, scale)),
	)
	return out, nil
}

// treeEnsemble accumulates the flattened node and target attributes of
// TreeEnsembleRegressor.
type treeEnsemble struct {
	treeIDs    []int64
	nodeIDs    []int64
	featureIDs []int64
	modes      []string
	values     []float64
	trueIDs    []int64
	falseIDs   []int64

	targetTreeIDs []int64
	targetNodeIDs []int64
	targetIDs     []int64
	weights       []float64
}

// add appends tree t as tree id. Leaf values are multiplied by scale.
func (e *treeEnsemble) add(id int64, t *tree.Tree, scale float64) {
	for i := 0; i < t.NodeCount(); i++ {
		e.treeIDs = append(e.treeIDs, id)
		e.nodeIDs = append(e.nodeIDs, int64(i))
		if t.IsLeaf(i) {
			e.featureIDs = append(e.featureIDs, 0)
			e.modes = append(e.modes, "LEAF")
			e.values = append(e.values, 0)
			e.trueIDs = append(e.trueIDs, 0)
			e.falseIDs = append(e.falseIDs, 0)

			e.targetTreeIDs = append(e.targetTreeIDs, id)
			e.targetNodeIDs = append(e.targetNodeIDs, int64(i))
			e.targetIDs = append(e.targetIDs, 0)
			e.weights = append(e.weights, t.Value[i]*scale)
			continue
		}
		e.featureIDs = append(e.featureIDs, int64(t.Feature[i]))
		e.modes = append(e.modes, "BRANCH_LEQ")
		e.values = append(e.values, t.Threshold[i])
		e.trueIDs = append(e.trueIDs, int64(t.ChildrenLeft[i]))
		e.falseIDs = append(e.falseIDs, int64(t.ChildrenRight[i]))
	}
}

func (e *treeEnsemble) attributes(step string, base float64) []onnx.AttributeProto {
	return []onnx.AttributeProto{
		onnx.AttrString("aggregate_function", "SUM"),
		onnx.AttrFloats("base_values", []float32{float32(base)}),
		onnx.AttrInt("n_targets", 1),
		onnx.AttrInts("nodes_falsenodeids", e.falseIDs),
		onnx.AttrInts("nodes_featureids", e.featureIDs),
		onnx.AttrStrings("nodes_modes", e.modes),
		onnx.AttrInts("nodes_nodeids", e.nodeIDs),
		onnx.AttrInts("nodes_treeids", e.treeIDs),
		onnx.AttrInts("nodes_truenodeids", e.trueIDs),
		onnx.AttrFloats("nodes_values", float32s(step, e.values)),
		onnx.AttrString("post_transform", "NONE"),
		onnx.AttrInts("target_ids", e.targetIDs),
		onnx.AttrInts("target_nodeids", e.targetNodeIDs),
		onnx.AttrInts("target_treeids", e.targetTreeIDs),
		onnx.AttrFloats("target_weights", float32s(step, e.weights)),
	}
}

// convertGradientBoosting emits one TreeEnsembleRegressor holding every
// stage. Leaf weights are pre-multiplied by the learning rate and the init
// prediction becomes the base value.
func convertGradientBoosting(s *scope, name string, g *ensemble.GradientBoostingRegressor, in variable, final string) (variable, error) {
	if !g.IsFitted() {
		return variable{}, errors.NewNotFittedError("GradientBoostingRegressor", "convert")
	}
	var e treeEnsemble
	for i, est := range g.Estimators() {
		e.add(int64(i), est.Tree(), g.LearningRate())
	}
	out := floatOutput(s, final, 1)
	s.addNode("TreeEnsembleRegressor", onnx.DomainML, []string{in.name}, []string{out.name},
		e.attributes(name, g.InitValue())...)
	return out, nil
}

func convertDecisionTree(s *scope, name string, d *tree.DecisionTreeRegressor, in variable, final string) (variable, error) {
	if !d.IsFitted() {
		return variable{}, errors.NewNotFittedError("DecisionTreeRegressor", "convert")
	}
	var e treeEnsemble
	e.add(0, d.Tree(), 1)
	out := floatOutput(s, final, 1)
	s.addNode("TreeEnsembleRegressor", onnx.DomainML, []string{in.name}, []string{out.name},
		e.attributes(name, 0)...)
	return out, nil
}

// convertLinearRegression emits ai.onnx.ml.LinearRegressor.
func convertLinearRegression(s *scope, name string, lr *linear_model.LinearRegression, in variable, final string) (variable, error) {
	if !lr.IsFitted() {
		return variable{}, errors.NewNotFittedError("LinearRegression", "convert")
	}
	out := floatOutput(s, final, 1)
	s.addNode("LinearRegressor", onnx.DomainML, []string{in.name}, []string{out.name},
		onnx.AttrFloats("coefficients", float32s(name, lr.Coef())),
		onnx.AttrFloats("intercepts", []float32{float32(lr.Intercept())}),
		onnx.AttrString("post_transform", "NONE"),
		onnx.AttrInt("targets", 1),
	)
	return out, nil
}
