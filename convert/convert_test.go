package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
	"github.com/scigo/onnxpipe/preprocessing"
	"github.com/scigo/onnxpipe/sklearn/datasets"
	"github.com/scigo/onnxpipe/sklearn/ensemble"
	"github.com/scigo/onnxpipe/sklearn/feature_extraction"
	"github.com/scigo/onnxpipe/sklearn/linear_model"
	"github.com/scigo/onnxpipe/sklearn/pipeline"
	"github.com/scigo/onnxpipe/sklearn/tree"
)

var mapInput = []InitialType{{
	Name: "input",
	Type: DictionaryType{Key: Int64TensorType{Shape: []int64{1}}, Value: FloatTensorType{}},
}}

func fittedPipeline(t *testing.T, steps ...any) *pipeline.Pipeline {
	t.Helper()
	ds, err := datasets.MakeFriedman1(120, 8, 0.3, 7)
	require.NoError(t, err)
	records := feature_extraction.RecordsFromMatrix(ds.Data, 0)

	p, err := pipeline.MakePipeline(steps...)
	require.NoError(t, err)
	require.NoError(t, p.Fit(records, ds.Target))
	return p
}

func TestConvertPipelineGradientBoosting(t *testing.T) {
	gbr := ensemble.NewGradientBoostingRegressor(ensemble.WithNEstimators(10))
	p := fittedPipeline(t, feature_extraction.NewDictVectorizer(), gbr)

	m, err := ConvertPipeline(p, mapInput, WithMetadata("seed", "7"))
	require.NoError(t, err)

	assert.EqualValues(t, onnx.IRVersion7, m.IRVersion)
	assert.EqualValues(t, 13, m.OpsetVersion(onnx.DomainONNX))
	assert.EqualValues(t, 1, m.OpsetVersion(onnx.DomainML))
	v, ok := m.Metadata("seed")
	assert.True(t, ok)
	assert.Equal(t, "7", v)

	g := m.Graph
	require.Len(t, g.Inputs, 1)
	require.Len(t, g.Outputs, 1)
	assert.Equal(t, "input", g.Inputs[0].Name)
	assert.Equal(t, "map(int64,tensor(float))", onnx.TypeString(g.Inputs[0].Type))
	assert.Equal(t, OutputName, g.Outputs[0].Name)
	assert.Equal(t, []int64{-1, 1}, onnx.Shape(g.Outputs[0].Type))

	require.Len(t, g.Nodes, 2)
	dv := g.Nodes[0]
	assert.Equal(t, "DictVectorizer", dv.OpType)
	assert.Equal(t, onnx.DomainML, dv.Domain)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6}, dv.AttrIntList("int64_vocabulary"))
	assert.Equal(t, []string{"input"}, dv.Inputs)
	assert.Equal(t, []string{"variable1"}, dv.Outputs)

	te := g.Nodes[1]
	assert.Equal(t, "TreeEnsembleRegressor", te.OpType)
	assert.Equal(t, []string{"variable1"}, te.Inputs)
	assert.Equal(t, []string{OutputName}, te.Outputs)
	assert.Equal(t, []float32{float32(gbr.InitValue())}, te.AttrFloatList("base_values"))
	assert.Equal(t, "SUM", te.AttrStringOr("aggregate_function", ""))

	nodes, leaves := 0, 0
	for _, est := range gbr.Estimators() {
		nodes += est.Tree().NodeCount()
		leaves += est.Tree().NLeaves()
	}
	assert.Len(t, te.AttrIntList("nodes_nodeids"), nodes)
	assert.Len(t, te.AttrStringList("nodes_modes"), nodes)
	assert.Len(t, te.AttrFloatList("target_weights"), leaves)

	// first leaf weight of tree 0 is value * learning rate
	first := gbr.Estimators()[0].Tree()
	for i := 0; i < first.NodeCount(); i++ {
		if first.IsLeaf(i) {
			assert.Equal(t, float32(first.Value[i]*gbr.LearningRate()), te.AttrFloatList("target_weights")[0])
			break
		}
	}
}

func TestConvertPipelineDeterministic(t *testing.T) {
	p := fittedPipeline(t, feature_extraction.NewDictVectorizer(),
		ensemble.NewGradientBoostingRegressor(ensemble.WithNEstimators(5)))

	m1, err := ConvertPipeline(p, mapInput)
	require.NoError(t, err)
	m2, err := ConvertPipeline(p, mapInput)
	require.NoError(t, err)

	b1, err := onnx.Marshal(m1)
	require.NoError(t, err)
	b2, err := onnx.Marshal(m2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestConvertPipelineScalerAndLinear(t *testing.T) {
	p := fittedPipeline(t,
		feature_extraction.NewDictVectorizer(),
		preprocessing.NewStandardScalerDefault(),
		linear_model.NewLinearRegression(),
	)
	m, err := ConvertPipeline(p, mapInput, WithModelName("linear"), WithDocString("ols"))
	require.NoError(t, err)
	assert.Equal(t, "linear", m.Graph.Name)
	assert.Equal(t, "ols", m.DocString)

	var ops []string
	for _, n := range m.Graph.Nodes {
		ops = append(ops, n.OpType)
	}
	assert.Equal(t, []string{"DictVectorizer", "Scaler", "LinearRegressor"}, ops)
	assert.Equal(t, []string{"variable1"}, m.Graph.Nodes[1].Inputs)
	assert.Equal(t, []string{"variable2"}, m.Graph.Nodes[1].Outputs)
	assert.Len(t, m.Graph.Nodes[1].AttrFloatList("offset"), 7)
	assert.Len(t, m.Graph.Nodes[2].AttrFloatList("coefficients"), 7)
}

func TestConvertPipelineDecisionTree(t *testing.T) {
	dt := tree.NewDecisionTreeRegressor(tree.WithMaxDepth(3))
	p := fittedPipeline(t, feature_extraction.NewDictVectorizer(), dt)
	m, err := ConvertPipeline(p, mapInput)
	require.NoError(t, err)

	te := m.Graph.Nodes[1]
	assert.Equal(t, []float32{0}, te.AttrFloatList("base_values"))
	assert.Len(t, te.AttrIntList("target_nodeids"), dt.Tree().NLeaves())
}

func TestConvertPipelineStringKeys(t *testing.T) {
	p := fittedPipeline(t, feature_extraction.NewDictVectorizer(), linear_model.NewLinearRegression())
	m, err := ConvertPipeline(p, []InitialType{{
		Name: "input",
		Type: DictionaryType{Key: StringTensorType{Shape: []int64{1}}, Value: DoubleTensorType{}},
	}})
	require.NoError(t, err)
	dv := m.Graph.Nodes[0]
	assert.Nil(t, dv.Attr("int64_vocabulary"))
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6"}, dv.AttrStringList("string_vocabulary"))
}

func TestConvertPipelineTrustsDeclaredType(t *testing.T) {
	p := fittedPipeline(t, feature_extraction.NewDictVectorizer(), linear_model.NewLinearRegression())
	m, err := ConvertPipeline(p, []InitialType{{Name: "X", Type: FloatTensorType{Shape: []int64{-1, 7}}}})
	require.NoError(t, err)
	assert.Equal(t, "tensor(float)", onnx.TypeString(m.Graph.Inputs[0].Type))
}

func TestConvertPipelineErrors(t *testing.T) {
	unfitted, err := pipeline.MakePipeline(feature_extraction.NewDictVectorizer(), linear_model.NewLinearRegression())
	require.NoError(t, err)
	_, err = ConvertPipeline(unfitted, mapInput)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	p := fittedPipeline(t, feature_extraction.NewDictVectorizer(), linear_model.NewLinearRegression())
	_, err = ConvertPipeline(p, nil)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = ConvertPipeline(p, append(mapInput, mapInput...))
	assert.True(t, errors.As(err, &ve))

	_, err = ConvertPipeline(p, mapInput, WithTargetOpset(0))
	assert.True(t, errors.As(err, &ve))

	_, err = ConvertPipeline(nil, mapInput)
	assert.Error(t, err)
}

func TestConvertPipelineRejectsOutputNameAsInput(t *testing.T) {
	p := fittedPipeline(t, feature_extraction.NewDictVectorizer(), ensemble.NewGradientBoostingRegressor(ensemble.WithNEstimators(5)))
	clash := []InitialType{{Name: OutputName, Type: mapInput[0].Type}}
	_, err := ConvertPipeline(p, clash)
	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "initial_types", ve.ParamName)
}

func TestConvertPipelineLogs(t *testing.T) {
	tl, _ := log.NewTestLogger(log.LevelDebug)
	p := fittedPipeline(t, feature_extraction.NewDictVectorizer(), linear_model.NewLinearRegression())
	_, err := ConvertPipeline(p, mapInput, WithLogger(tl))
	require.NoError(t, err)
	assert.True(t, tl.ContainsMessage("Pipeline converted"))
	assert.True(t, tl.ContainsField(log.GraphNameKey, "pipeline"))
}

func TestDataTypeStrings(t *testing.T) {
	dt := DictionaryType{Key: Int64TensorType{Shape: []int64{1}}, Value: FloatTensorType{}}
	assert.Equal(t, "DictionaryType(Int64TensorType(shape=[1]), FloatTensorType(shape=[]))", dt.String())
	assert.Equal(t, "seq(map(int64,tensor(float)))", onnx.TypeString(SequenceType{Elem: dt}.Proto()))
}
