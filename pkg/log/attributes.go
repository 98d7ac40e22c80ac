package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator type, e.g. "DictVectorizer".
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies a specific pipeline step, e.g. "gradientboostingregressor".
	EstimatorIDKey = "estimator.id"

	// OperationKey is one of the Operation* values below.
	OperationKey = "ml.operation"

	// ComponentKey names the package emitting the record.
	ComponentKey = "ml.component"

	// PhaseKey is one of the Phase* values below.
	PhaseKey = "ml.phase"

	// RunIDKey identifies one end-to-end workflow run.
	RunIDKey = "run.id"
)

// Data shape.
const (
	SamplesKey   = "data.samples"
	FeaturesKey  = "data.features"
	DataTypeKey  = "data.type"
	BatchSizeKey = "data.batch_size"
	SourceKey    = "data.source"
)

// Performance and metrics.
const (
	DurationMsKey = "perf.duration_ms"
	LossKey       = "metrics.loss"
	R2ScoreKey    = "metrics.r2_score"
	IterationKey  = "training.iteration"
	WorkersKey    = "perf.workers"
)

// Hyperparameters.
const (
	LearningRateKey = "hyperparams.learning_rate"
	EstimatorsKey   = "hyperparams.n_estimators"
	MaxDepthKey     = "hyperparams.max_depth"
	RandomSeedKey   = "config.random_seed"
)

// ONNX graph and inference session.
const (
	// GraphNameKey is the name of the ONNX graph.
	GraphNameKey = "onnx.graph"

	// OpsetKey is the opset version of a domain, logged next to DomainKey.
	OpsetKey  = "onnx.opset"
	DomainKey = "onnx.domain"

	// NodeKey and OpTypeKey identify a graph node.
	NodeKey   = "onnx.node"
	OpTypeKey = "onnx.op_type"

	// InputNameKey and InputTypeKey describe a session input.
	InputNameKey = "onnx.input"
	InputTypeKey = "onnx.input_type"

	// PathKey is a file written or read by the workflow.
	PathKey = "io.path"

	// BytesKey is the size of a serialized model.
	BytesKey = "io.bytes"

	// LogIDKey is the session log identifier.
	LogIDKey = "session.log_id"
)

// Error context.
const (
	ErrorCodeKey  = "error.code"
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"
	OperationConvert      = "convert"
	OperationRun          = "run"

	PhaseTraining      = "training"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
	PhaseExport        = "export"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorBatchNotSupported = "BATCH_NOT_SUPPORTED"
)
