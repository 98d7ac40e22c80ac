package inference

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/scigo/onnxpipe/onnx"
	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
)

// Tolerance bounds the difference allowed between an expected and a
// produced float: |got-want| <= PerSample + Relative*|want|.
type Tolerance struct {
	PerSample float64
	Relative  float64
}

// DefaultTolerance applies when a test case runs with a zero Tolerance.
var DefaultTolerance = Tolerance{PerSample: 1e-3, Relative: 1e-5}

// TestDataSet is one input/output pair of a test case.
type TestDataSet struct {
	Name    string
	Inputs  []*onnx.TensorProto
	Outputs []*onnx.TensorProto
}

// TestCase is a model directory laid out like the ONNX backend tests: one
// .onnx file next to test_data_set_N directories holding input_K.pb and
// output_K.pb tensors.
type TestCase struct {
	Name      string
	ModelPath string
	DataSets  []TestDataSet
}

// DataSetResult is the outcome of one data set. Err is nil when every
// output matched.
type DataSetResult struct {
	Name string
	Err  error
}

// TestCaseResult collects the data set outcomes of a test case run.
type TestCaseResult struct {
	Name     string
	DataSets []DataSetResult
}

// Failed counts the data sets that did not pass.
func (r *TestCaseResult) Failed() int {
	n := 0
	for _, ds := range r.DataSets {
		if ds.Err != nil {
			n++
		}
	}
	return n
}

// LoadTestCase reads every data set under dir. Data sets and tensors are
// ordered by their numeric suffix.
func LoadTestCase(dir string) (*TestCase, error) {
	models, err := filepath.Glob(filepath.Join(dir, "*.onnx"))
	if err != nil {
		return nil, errors.Wrap(err, "LoadTestCase")
	}
	if len(models) != 1 {
		return nil, errors.NewValidationError("dir", "test case needs exactly one .onnx model", len(models))
	}
	tc := &TestCase{Name: filepath.Base(dir), ModelPath: models[0]}

	sets, err := filepath.Glob(filepath.Join(dir, "test_data_set_*"))
	if err != nil {
		return nil, errors.Wrap(err, "LoadTestCase")
	}
	sortByIndex(sets, "test_data_set_")
	for _, set := range sets {
		info, err := os.Stat(set)
		if err != nil {
			return nil, errors.Wrap(err, "LoadTestCase")
		}
		if !info.IsDir() {
			continue
		}
		ds := TestDataSet{Name: filepath.Base(set)}
		if ds.Inputs, err = loadTensors(set, "input_"); err != nil {
			return nil, err
		}
		if ds.Outputs, err = loadTensors(set, "output_"); err != nil {
			return nil, err
		}
		if len(ds.Inputs) == 0 {
			return nil, errors.NewValidationError(ds.Name, "data set has no input_*.pb", set)
		}
		tc.DataSets = append(tc.DataSets, ds)
	}
	if len(tc.DataSets) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "test case %s has no data sets", tc.Name)
	}
	return tc, nil
}

func loadTensors(dir, prefix string) ([]*onnx.TensorProto, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"*.pb"))
	if err != nil {
		return nil, errors.Wrap(err, "LoadTestCase")
	}
	sortByIndex(paths, prefix)
	out := make([]*onnx.TensorProto, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", p)
		}
		t, err := onnx.UnmarshalTensor(b)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", p)
		}
		out = append(out, t)
	}
	return out, nil
}

// sortByIndex orders paths by the integer after prefix in their base name,
// so input_10.pb comes after input_9.pb.
func sortByIndex(paths []string, prefix string) {
	index := func(p string) int {
		s := strings.TrimPrefix(filepath.Base(p), prefix)
		s = strings.TrimSuffix(s, filepath.Ext(s))
		n, err := strconv.Atoi(s)
		if err != nil {
			return math.MaxInt
		}
		return n
	}
	sort.SliceStable(paths, func(i, j int) bool { return index(paths[i]) < index(paths[j]) })
}

// Run loads the model into a session and runs every data set. Data set
// failures are recorded in the result; the returned error covers loading
// the model and cancellation.
func (tc *TestCase) Run(ctx context.Context, tol Tolerance, opts ...SessionOption) (*TestCaseResult, error) {
	if tol == (Tolerance{}) {
		tol = DefaultTolerance
	}
	sess, err := NewSession(tc.ModelPath, opts...)
	if err != nil {
		return nil, err
	}

	res := &TestCaseResult{Name: tc.Name}
	for _, ds := range tc.DataSets {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "TestCase.Run")
		}
		err := sess.runDataSet(ctx, ds, tol)
		if err != nil {
			sess.logger.Debug("Data set failed",
				log.ModelNameKey, tc.Name,
				"testcase.data_set", ds.Name,
				"error", err,
			)
		}
		res.DataSets = append(res.DataSets, DataSetResult{Name: ds.Name, Err: err})
	}
	sess.logger.Info("Test case finished",
		log.ModelNameKey, tc.Name,
		"testcase.data_sets", len(res.DataSets),
		"testcase.failed", res.Failed(),
	)
	return res, nil
}

func (s *Session) runDataSet(ctx context.Context, ds TestDataSet, tol Tolerance) error {
	if len(ds.Inputs) != len(s.inputs) {
		return errors.Wrapf(ErrInvalidInput, "%s: %d inputs, model declares %d", ds.Name, len(ds.Inputs), len(s.inputs))
	}
	if len(ds.Outputs) > len(s.outputs) {
		return errors.Wrapf(ErrInvalidInput, "%s: %d outputs, model declares %d", ds.Name, len(ds.Outputs), len(s.outputs))
	}
	feeds := make(map[string]any, len(ds.Inputs))
	for i, p := range ds.Inputs {
		t, err := TensorFromProto(p)
		if err != nil {
			return err
		}
		feeds[dataName(p, s.inputs[i])] = t
	}
	names := make([]string, len(ds.Outputs))
	for i, p := range ds.Outputs {
		names[i] = dataName(p, s.outputs[i])
	}

	got, err := s.Run(ctx, names, feeds)
	if err != nil {
		return err
	}
	for i, p := range ds.Outputs {
		want, err := TensorFromProto(p)
		if err != nil {
			return err
		}
		if err := compareTensors(names[i], want, got[i], tol); err != nil {
			return err
		}
	}
	return nil
}

// dataName is the tensor's own name, or the graph name at the same position
// when the file leaves it empty.
func dataName(p *onnx.TensorProto, arg NodeArg) string {
	if p.Name != "" {
		return p.Name
	}
	return arg.Name
}

func compareTensors(name string, want, got *Tensor, tol Tolerance) error {
	if want.ElemType() != got.ElemType() {
		return errors.Wrapf(ErrOutputMismatch, "output '%s': got %s, want %s", name, got.TypeString(), want.TypeString())
	}
	if !slices.Equal(want.Shape(), got.Shape()) {
		return errors.Wrapf(ErrOutputMismatch, "output '%s': shape %v, want %v", name, got.Shape(), want.Shape())
	}
	switch want.ElemType() {
	case onnx.TensorProtoFloat:
		w, g := want.Float32Data(), got.Float32Data()
		for i := range w {
			if !within(float64(w[i]), float64(g[i]), tol) {
				return errors.Wrapf(ErrOutputMismatch, "output '%s'[%d]: %v, want %v", name, i, g[i], w[i])
			}
		}
	case onnx.TensorProtoDouble:
		w, g := want.Float64Data(), got.Float64Data()
		for i := range w {
			if !within(w[i], g[i], tol) {
				return errors.Wrapf(ErrOutputMismatch, "output '%s'[%d]: %v, want %v", name, i, g[i], w[i])
			}
		}
	case onnx.TensorProtoInt64:
		if i := firstDiff(want.Int64Data(), got.Int64Data()); i >= 0 {
			return errors.Wrapf(ErrOutputMismatch, "output '%s'[%d]: %d, want %d", name, i, got.Int64Data()[i], want.Int64Data()[i])
		}
	case onnx.TensorProtoString:
		if i := firstDiff(want.StringData(), got.StringData()); i >= 0 {
			return errors.Wrapf(ErrOutputMismatch, "output '%s'[%d]: %q, want %q", name, i, got.StringData()[i], want.StringData()[i])
		}
	}
	return nil
}

// within treats two NaNs as equal.
func within(want, got float64, tol Tolerance) bool {
	if math.IsNaN(want) || math.IsNaN(got) {
		return math.IsNaN(want) && math.IsNaN(got)
	}
	return math.Abs(got-want) <= tol.PerSample+tol.Relative*math.Abs(want)
}

func firstDiff[T comparable](want, got []T) int {
	for i := range want {
		if want[i] != got[i] {
			return i
		}
	}
	return -1
}
