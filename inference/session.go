// Package inference runs converted ONNX models on the CPU.
//
// A Session loads a model once, validates its graph and builds one kernel
// per node. It is immutable afterwards and safe for concurrent Run calls.
//
//	sess, err := inference.NewSession("pipeline_vectorize.onnx")
//	in := sess.Inputs()[0]
//	ok, _ := sess.SupportsBatch(in.Name)
//	out, err := sess.Run(ctx, nil, map[string]any{in.Name: record})
//
// Inputs that take a single value per run, such as maps, report
// Batchable=false; feeding them a list of more than one record fails with a
// *BatchNotSupportedError before any node runs.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
)

// CPUExecutionProvider is the only execution provider.
const CPUExecutionProvider = "CPUExecutionProvider"

// NodeArg describes a graph input or output.
type NodeArg struct {
	Name string
	// Type is the ONNX Runtime type name, e.g. "map(int64,tensor(float))".
	Type string
	// Shape holds tensor dimensions with -1 for unknown ones; nil for
	// non-tensor values or tensors without a declared shape.
	Shape []int64
	// Batchable reports whether one Run may carry several records for this
	// input.
	Batchable bool
}

type sessionOptions struct {
	logger   log.Logger
	logID    string
	level    GraphOptimizationLevel
	registry *KernelRegistry
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithLogger sets the session logger.
func WithLogger(l log.Logger) SessionOption {
	return func(o *sessionOptions) {
		o.logger = l
	}
}

// WithLogID tags every log record of the session. A random id is used when
// unset.
func WithLogID(id string) SessionOption {
	return func(o *sessionOptions) {
		o.logID = id
	}
}

// WithGraphOptimization sets the graph optimization level (default basic).
func WithGraphOptimization(level GraphOptimizationLevel) SessionOption {
	return func(o *sessionOptions) {
		o.level = level
	}
}

// WithKernelRegistry replaces the built-in kernels.
func WithKernelRegistry(r *KernelRegistry) SessionOption {
	return func(o *sessionOptions) {
		o.registry = r
	}
}

type compiledNode struct {
	name    string
	opType  string
	inputs  []string
	outputs []string
	kernel  Kernel
}

// Session is a loaded, validated model ready to run.
type Session struct {
	model        *onnx.ModelProto
	nodes        []compiledNode
	inputs       []NodeArg
	inputTypes   map[string]*onnx.TypeProto
	outputs      []NodeArg
	initializers map[string]Value
	logger       log.Logger
}

// NewSession loads the model stored at path.
func NewSession(path string, opts ...SessionOption) (*Session, error) {
	m, err := onnx.LoadModel(path)
	if err != nil {
		return nil, err
	}
	return newSession(m, opts)
}

// NewSessionFromBytes loads a serialized model.
func NewSessionFromBytes(data []byte, opts ...SessionOption) (*Session, error) {
	m, err := onnx.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return newSession(m, opts)
}

// NewSessionFromModel loads an in-memory model. The session keeps m, which
// must not be modified afterwards.
func NewSessionFromModel(m *onnx.ModelProto, opts ...SessionOption) (*Session, error) {
	return newSession(m, opts)
}

func newSession(m *onnx.ModelProto, opts []SessionOption) (*Session, error) {
	o := sessionOptions{level: GraphOptimizationBasic}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = DefaultKernelRegistry()
	}
	if o.logID == "" {
		o.logID = uuid.NewString()
	}
	if o.logger == nil {
		o.logger = log.GetLoggerWithName("inference")
	}
	logger := o.logger.With(log.LogIDKey, o.logID)

	if m == nil || m.Graph == nil {
		return nil, errors.NewModelError("NewSession", "invalid model", errors.New("model has no graph"))
	}
	if m.IRVersion <= 0 {
		return nil, errors.NewModelError("NewSession", "invalid model", errors.New("missing ir_version"))
	}
	g := m.Graph

	s := &Session{
		model:        m,
		inputTypes:   make(map[string]*onnx.TypeProto),
		initializers: make(map[string]Value, len(g.Initializers)),
		logger:       logger,
	}

	available := make(map[string]bool)
	for i := range g.Initializers {
		init := &g.Initializers[i]
		t, err := TensorFromProto(init)
		if err != nil {
			return nil, errors.NewModelError("NewSession", "invalid initializer", err)
		}
		s.initializers[init.Name] = t
		available[init.Name] = true
	}
	for i := range g.Inputs {
		vi := &g.Inputs[i]
		if available[vi.Name] {
			// initializers listed as inputs are constants, not feeds
			continue
		}
		s.inputs = append(s.inputs, describe(vi))
		s.inputTypes[vi.Name] = vi.Type
		available[vi.Name] = true
	}
	graphOutputs := make(map[string]bool, len(g.Outputs))
	for i := range g.Outputs {
		s.outputs = append(s.outputs, describe(&g.Outputs[i]))
		graphOutputs[g.Outputs[i].Name] = true
	}

	nodes := g.Nodes
	if o.level >= GraphOptimizationBasic {
		var removed int
		nodes, removed = eliminateIdentity(nodes, graphOutputs)
		if removed > 0 {
			logger.Debug("Identity nodes eliminated", "onnx.removed", removed)
		}
	}
	sorted, err := topologicalSort(nodes, available)
	if err != nil {
		return nil, errors.NewModelError("NewSession", "invalid graph", err)
	}

	imported := make(map[string]bool, len(m.OpsetImport))
	for _, op := range m.OpsetImport {
		imported[normalizeDomain(op.Domain)] = true
	}
	for i := range sorted {
		n := &sorted[i]
		domain := normalizeDomain(n.Domain)
		if !imported[domain] {
			return nil, errors.NewModelError("NewSession", "invalid model",
				errors.Newf("node %s uses domain %q which is not imported", n.Name, n.Domain))
		}
		factory, ok := o.registry.Lookup(domain, n.OpType)
		if !ok {
			return nil, errors.NewModelError("NewSession", "unsupported model",
				errors.Wrapf(ErrUnsupportedOperator, "%s (domain %q) in node %s", n.OpType, n.Domain, n.Name))
		}
		k, err := factory(n)
		if err != nil {
			return nil, errors.NewModelError("NewSession", "invalid node",
				errors.Wrapf(err, "node %s (%s)", n.Name, n.OpType))
		}
		s.nodes = append(s.nodes, compiledNode{
			name:    n.Name,
			opType:  n.OpType,
			inputs:  n.Inputs,
			outputs: n.Outputs,
			kernel:  k,
		})
	}

	produced := make(map[string]bool)
	for _, n := range s.nodes {
		for _, out := range n.outputs {
			produced[out] = true
		}
	}
	for _, out := range s.outputs {
		if !produced[out.Name] && !available[out.Name] {
			return nil, errors.NewModelError("NewSession", "invalid graph",
				errors.Newf("graph output %s is never produced", out.Name))
		}
	}

	logger.Info("Session created",
		log.GraphNameKey, g.Name,
		"onnx.nodes", len(s.nodes),
		log.OpsetKey, m.OpsetVersion(onnx.DomainONNX),
		"onnx.ml_opset", m.OpsetVersion(onnx.DomainML),
		"graph.optimization", o.level.String(),
	)
	return s, nil
}

// describe builds the NodeArg for a declared value. Only tensors whose
// leading dimension is unknown, or unspecified, can carry a batch.
func describe(vi *onnx.ValueInfoProto) NodeArg {
	arg := NodeArg{Name: vi.Name, Type: onnx.TypeString(vi.Type), Shape: onnx.Shape(vi.Type)}
	if vi.Type != nil && vi.Type.TensorType != nil {
		arg.Batchable = len(arg.Shape) == 0 || arg.Shape[0] < 0
	}
	return arg
}

// Inputs returns the declared graph inputs that must be fed.
func (s *Session) Inputs() []NodeArg {
	return append([]NodeArg(nil), s.inputs...)
}

// Outputs returns the declared graph outputs.
func (s *Session) Outputs() []NodeArg {
	return append([]NodeArg(nil), s.outputs...)
}

// Providers lists the execution providers in use.
func (s *Session) Providers() []string {
	return []string{CPUExecutionProvider}
}

// Model returns the loaded model.
func (s *Session) Model() *onnx.ModelProto {
	return s.model
}

// SupportsBatch reports whether input name accepts more than one record per
// Run.
func (s *Session) SupportsBatch(name string) (bool, error) {
	for _, in := range s.inputs {
		if in.Name == name {
			return in.Batchable, nil
		}
	}
	return false, errors.Wrapf(ErrInvalidInput, "unknown input '%s'", name)
}

func (s *Session) isOutput(name string) bool {
	for _, out := range s.outputs {
		if out.Name == name {
			return true
		}
	}
	return false
}

func (s *Session) input(name string) (NodeArg, bool) {
	for _, in := range s.inputs {
		if in.Name == name {
			return in, true
		}
	}
	return NodeArg{}, false
}

// Run evaluates the graph. outputNames selects outputs in order; nil means
// every graph output. feeds maps each input name to a value:
//
//   - map inputs take map[int64]float64, map[int64]float32,
//     map[string]float64, map[string]float32 or *Map; a slice of one map is
//     unwrapped and a slice of several fails with *BatchNotSupportedError;
//   - tensor inputs take *Tensor, [][]float32 or [][]float64.
func (s *Session) Run(ctx context.Context, outputNames []string, feeds map[string]any) ([]*Tensor, error) {
	start := time.Now()
	if outputNames == nil {
		for _, out := range s.outputs {
			outputNames = append(outputNames, out.Name)
		}
	}
	for _, name := range outputNames {
		if !s.isOutput(name) {
			return nil, errors.Wrapf(ErrInvalidInput, "unknown output '%s'", name)
		}
	}

	env := make(map[string]Value, len(s.initializers)+len(feeds)+len(s.nodes))
	for name, v := range s.initializers {
		env[name] = v
	}

	for name := range feeds {
		if _, ok := s.input(name); !ok {
			return nil, errors.Wrapf(ErrInvalidInput, "unknown input '%s'", name)
		}
	}
	for _, arg := range s.inputs {
		raw, ok := feeds[arg.Name]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidInput, "missing input '%s'", arg.Name)
		}
		if n, isBatch := batchLen(raw); isBatch {
			if n == 0 {
				return nil, errors.Wrapf(ErrInvalidInput, "input '%s': empty batch", arg.Name)
			}
			if n > 1 && !arg.Batchable {
				err := newBatchNotSupportedError(arg.Name, arg.Type, n)
				s.logger.Debug("Batched run rejected",
					log.InputNameKey, arg.Name,
					log.InputTypeKey, arg.Type,
					log.BatchSizeKey, n,
				)
				return nil, err
			}
			raw = firstRecord(raw)
		}
		v, err := toValue(arg, s.inputTypes[arg.Name], raw)
		if err != nil {
			return nil, err
		}
		env[arg.Name] = v
	}

	for i := range s.nodes {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "inference.Run")
		}
		n := &s.nodes[i]
		ins := make([]Value, len(n.inputs))
		for j, name := range n.inputs {
			if name == "" {
				continue
			}
			ins[j] = env[name]
		}
		outs, err := n.kernel.Compute(ctx, ins)
		if err != nil {
			return nil, errors.Wrapf(err, "node %s (%s)", n.name, n.opType)
		}
		for j, name := range n.outputs {
			if j < len(outs) && name != "" {
				env[name] = outs[j]
			}
		}
	}

	result := make([]*Tensor, len(outputNames))
	for i, name := range outputNames {
		v := env[name]
		t, ok := v.(*Tensor)
		if !ok {
			return nil, errors.Wrapf(errors.ErrNotImplemented, "output '%s' is not a tensor", name)
		}
		result[i] = t
	}

	if s.logger.Enabled(ctx, log.LevelDebug) {
		s.logger.Debug("Run finished",
			log.OperationKey, log.OperationRun,
			log.DurationMsKey, float64(time.Since(start).Microseconds())/1000,
			"onnx.outputs", fmt.Sprint(outputNames),
		)
	}
	return result, nil
}
