package datasets

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	arrowcsv "github.com/apache/arrow/go/v13/arrow/csv"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"gonum.org/v1/gonum/mat"

	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
)

type csvConfig struct {
	target    string
	delimiter rune
	allocator memory.Allocator
}

// CSVOption configures LoadCSV.
type CSVOption func(*csvConfig)

// WithTarget selects the target column by header name. The default is the
// last column.
func WithTarget(name string) CSVOption {
	return func(c *csvConfig) {
		c.target = name
	}
}

// WithDelimiter sets the field delimiter (default ',').
func WithDelimiter(r rune) CSVOption {
	return func(c *csvConfig) {
		c.delimiter = r
	}
}

// WithAllocator sets the Arrow allocator used while reading. Tests pass a
// checked allocator to catch leaked buffers.
func WithAllocator(mem memory.Allocator) CSVOption {
	return func(c *csvConfig) {
		c.allocator = mem
	}
}

// LoadCSV reads a numeric CSV file with a header row. Every column is parsed
// as float64; empty or "NA" cells are rejected.
func LoadCSV(path string, opts ...CSVOption) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close()

	ds, err := ReadCSV(f, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset %s", path)
	}
	ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ds, nil
}

// ReadCSV is LoadCSV over an io.Reader.
func ReadCSV(r io.Reader, opts ...CSVOption) (*Dataset, error) {
	cfg := csvConfig{delimiter: ',', allocator: memory.DefaultAllocator}
	for _, opt := range opts {
		opt(&cfg)
	}

	br := bufio.NewReader(r)
	header, err := readHeader(br, cfg.delimiter)
	if err != nil {
		return nil, err
	}

	fields := make([]arrow.Field, len(header))
	for i, name := range header {
		fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	targetIdx := len(header) - 1
	if cfg.target != "" {
		targetIdx = -1
		for i, name := range header {
			if name == cfg.target {
				targetIdx = i
			}
		}
		if targetIdx < 0 {
			return nil, errors.NewValidationError("target", "column not found in header", cfg.target)
		}
	}

	reader := arrowcsv.NewReader(br, schema,
		arrowcsv.WithHeader(false),
		arrowcsv.WithComma(cfg.delimiter),
		arrowcsv.WithChunk(-1),
		arrowcsv.WithAllocator(cfg.allocator),
		arrowcsv.WithNullReader(true, "", "NA"),
	)
	defer reader.Release()

	var rows [][]float64
	for reader.Next() {
		rec := reader.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make([]float64, rec.NumCols())
			for j := range row {
				col, ok := rec.Column(j).(*array.Float64)
				if !ok {
					return nil, errors.Newf("column %q is not float64", header[j])
				}
				if col.IsNull(i) {
					return nil, errors.NewValueError("ReadCSV", "missing value in column "+header[j])
				}
				row[j] = col.Value(i)
			}
			rows = append(rows, row)
		}
	}
	if err := reader.Err(); err != nil {
		return nil, errors.Wrap(err, "parse csv")
	}
	if len(rows) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "csv has no data rows")
	}

	nFeatures := len(header) - 1
	X := mat.NewDense(len(rows), nFeatures, nil)
	y := mat.NewVecDense(len(rows), nil)
	names := make([]string, 0, nFeatures)
	for j, name := range header {
		if j != targetIdx {
			names = append(names, name)
		}
	}
	for i, row := range rows {
		c := 0
		for j, v := range row {
			if j == targetIdx {
				y.SetVec(i, v)
				continue
			}
			X.Set(i, c, v)
			c++
		}
	}

	log.GetLoggerWithName("datasets").Debug("CSV loaded",
		log.SamplesKey, len(rows),
		log.FeaturesKey, nFeatures,
	)
	return &Dataset{Name: "csv", Data: X, Target: y, FeatureNames: names}, nil
}

func readHeader(br *bufio.Reader, delimiter rune) ([]string, error) {
	line, err := br.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return nil, errors.Wrap(errors.ErrEmptyData, "csv has no header")
	}
	cr := csv.NewReader(strings.NewReader(line))
	cr.Comma = delimiter
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "parse csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) < 2 {
		return nil, errors.NewValidationError("header", "need at least one feature and a target", header)
	}
	return header, nil
}
