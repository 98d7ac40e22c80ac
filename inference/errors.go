package inference

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/scigo/onnxpipe/pkg/errors"
)

var (
	// ErrBatchNotSupported is matched by errors.Is for every
	// *BatchNotSupportedError.
	ErrBatchNotSupported = errors.New("batched inference not supported for this input")

	// ErrInvalidInput is wrapped by feed errors: unknown or missing input
	// names and values whose type does not match the declared input type.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedOperator is wrapped when a node has no registered kernel.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrOutputMismatch is wrapped when a test data set output differs from
	// the expected tensor.
	ErrOutputMismatch = errors.New("output mismatch")
)

// BatchNotSupportedError is returned by Run when more than one record is
// fed to an input that accepts a single value per run, such as a map input.
type BatchNotSupportedError struct {
	Input   string
	Type    string
	Records int
}

func (e *BatchNotSupportedError) Error() string {
	return fmt.Sprintf("onnxpipe: input '%s' of type %s does not support batched inference: got %d records, run them one at a time",
		e.Input, e.Type, e.Records)
}

func (e *BatchNotSupportedError) Unwrap() error {
	return ErrBatchNotSupported
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *BatchNotSupportedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("input", e.Input).
		Str("input_type", e.Type).
		Int("records", e.Records).
		Str("type", "BatchNotSupportedError")
}

func newBatchNotSupportedError(input, typ string, records int) error {
	return errors.WithStack(&BatchNotSupportedError{Input: input, Type: typ, Records: records})
}
