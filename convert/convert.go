// Package convert exports fitted pipelines to ONNX graphs.
//
// Each pipeline step is translated by a step converter into one or more
// graph nodes. The first step consumes the declared graph input; the last
// step writes the output "variable", a float tensor of shape [N, 1].
//
//	m, err := convert.ConvertPipeline(p, []convert.InitialType{{
//	    Name: "input",
//	    Type: convert.DictionaryType{
//	        Key:   convert.Int64TensorType{Shape: []int64{1}},
//	        Value: convert.FloatTensorType{},
//	    },
//	}})
package convert

import (
	"fmt"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
	"github.com/scigo/onnxpipe/sklearn/pipeline"
)

const (
	// DefaultTargetOpset is the ai.onnx opset written to converted models.
	DefaultTargetOpset = 13
	// MLOpset is the ai.onnx.ml opset written to converted models.
	MLOpset = 1
	// OutputName is the name of the final graph output.
	OutputName = "variable"

	producerName    = "onnxpipe"
	producerVersion = "0.1.0"
)

type options struct {
	targetOpset     int64
	graphName       string
	docString       string
	producerName    string
	producerVersion string
	modelVersion    int64
	metadata        []onnx.StringStringEntry
	logger          log.Logger
}

// Option configures a conversion.
type Option func(*options)

// WithTargetOpset sets the ai.onnx opset version (default 13).
func WithTargetOpset(v int64) Option {
	return func(o *options) {
		o.targetOpset = v
	}
}

// WithModelName sets the graph name (default "pipeline").
func WithModelName(name string) Option {
	return func(o *options) {
		o.graphName = name
	}
}

// WithDocString sets the model doc string.
func WithDocString(doc string) Option {
	return func(o *options) {
		o.docString = doc
	}
}

// WithProducer overrides the producer name and version.
func WithProducer(name, version string) Option {
	return func(o *options) {
		o.producerName = name
		o.producerVersion = version
	}
}

// WithModelVersion sets ModelProto.model_version.
func WithModelVersion(v int64) Option {
	return func(o *options) {
		o.modelVersion = v
	}
}

// WithMetadata adds a metadata_props entry. Entries keep insertion order.
func WithMetadata(key, value string) Option {
	return func(o *options) {
		o.metadata = append(o.metadata, onnx.StringStringEntry{Key: key, Value: value})
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// ConvertPipeline converts a fitted pipeline to an ONNX model. Exactly one
// initial type is accepted; it becomes the only graph input. The declared
// type is trusted: a mismatch with what the first step consumes is reported
// by the runtime, not here.
func ConvertPipeline(p *pipeline.Pipeline, initialTypes []InitialType, opts ...Option) (*onnx.ModelProto, error) {
	o := options{
		targetOpset:     DefaultTargetOpset,
		graphName:       "pipeline",
		producerName:    producerName,
		producerVersion: producerVersion,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetLoggerWithName("convert")
	}

	if p == nil {
		return nil, errors.NewValueError("ConvertPipeline", "nil pipeline")
	}
	if !p.IsFitted() {
		return nil, errors.NewNotFittedError("Pipeline", "ConvertPipeline")
	}
	if len(initialTypes) != 1 {
		return nil, errors.NewValidationError("initial_types", "exactly one initial type is required", len(initialTypes))
	}
	in := initialTypes[0]
	if in.Name == "" || in.Type == nil {
		return nil, errors.NewValidationError("initial_types", "initial type needs a name and a type", in)
	}
	if in.Name == OutputName {
		return nil, errors.NewValidationError("initial_types", "input name clashes with the output name", in.Name)
	}
	if o.targetOpset < 1 {
		return nil, errors.NewValidationError("target_opset", "must be positive", o.targetOpset)
	}

	s := newScope()
	s.reserve(in.Name)
	cur := variable{name: in.Name, typ: in.Type.Proto()}

	steps := p.Steps()
	for i, step := range steps {
		outName := ""
		if i == len(steps)-1 {
			outName = OutputName
		}
		next, err := convertStep(s, step, cur, outName)
		if err != nil {
			return nil, err
		}
		o.logger.Debug("Step converted",
			log.EstimatorIDKey, step.Name,
			log.OperationKey, log.OperationConvert,
			log.NodeKey, next.name,
		)
		cur = next
	}

	g := &onnx.GraphProto{
		Name:         o.graphName,
		Nodes:        s.nodes,
		Initializers: s.initializers,
		Inputs:       []onnx.ValueInfoProto{onnx.ValueInfo(in.Name, in.Type.Proto())},
		Outputs:      []onnx.ValueInfoProto{onnx.ValueInfo(cur.name, cur.typ)},
	}

	m := &onnx.ModelProto{
		IRVersion:       onnx.IRVersion7,
		ProducerName:    o.producerName,
		ProducerVersion: o.producerVersion,
		Domain:          "ai.onnxpipe",
		ModelVersion:    o.modelVersion,
		DocString:       o.docString,
		Graph:           g,
		OpsetImport:     []onnx.OperatorSetID{{Domain: onnx.DomainONNX, Version: o.targetOpset}},
		MetadataProps:   o.metadata,
	}
	if s.usesML {
		m.OpsetImport = append(m.OpsetImport, onnx.OperatorSetID{Domain: onnx.DomainML, Version: MLOpset})
	}

	o.logger.Info("Pipeline converted",
		log.OperationKey, log.OperationConvert,
		log.GraphNameKey, g.Name,
		log.InputNameKey, in.Name,
		log.InputTypeKey, onnx.TypeString(g.Inputs[0].Type),
		"onnx.nodes", len(g.Nodes),
		log.OpsetKey, o.targetOpset,
	)
	return m, nil
}

// variable is a named graph value produced while converting.
type variable struct {
	name string
	typ  *onnx.TypeProto
}

// scope hands out unique value and node names and collects the graph.
type scope struct {
	used         map[string]bool
	nodes        []onnx.NodeProto
	initializers []onnx.TensorProto
	usesML       bool
}

func newScope() *scope {
	return &scope{used: map[string]bool{OutputName: true}}
}

func (s *scope) reserve(name string) {
	s.used[name] = true
}

// unique returns base, or base followed by the smallest free number.
func (s *scope) unique(base string) string {
	if !s.used[base] {
		s.used[base] = true
		return base
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s%d", base, i)
		if !s.used[name] {
			s.used[name] = true
			return name
		}
	}
}

// addNode appends a node named after its op type.
func (s *scope) addNode(opType, domain string, inputs, outputs []string, attrs ...onnx.AttributeProto) {
	if domain == onnx.DomainML {
		s.usesML = true
	}
	s.nodes = append(s.nodes, onnx.NodeProto{
		Inputs:     inputs,
		Outputs:    outputs,
		Name:       s.unique(opType),
		OpType:     opType,
		Domain:     domain,
		Attributes: attrs,
	})
}

// output returns the value name a step writes: the final name for the last
// step, a fresh "variable<n>" otherwise.
func (s *scope) output(final string) string {
	if final != "" {
		return final
	}
	return s.unique(OutputName)
}
