package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "onnxpipe: Fit: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			wantMsg: "onnxpipe: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			assert.Contains(t, formatted, "errors_test.go")

			var modelErr *ModelError
			assert.True(t, As(err, &modelErr))
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 12, 11, 1)
	assert.Equal(t, "onnxpipe: Predict: dimension mismatch on axis 1 (features). Expected 12, got 11", err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 12, dimErr.Expected)
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("DictVectorizer", "Transform")
	assert.Contains(t, err.Error(), "DictVectorizer")
	assert.Contains(t, err.Error(), "Transform()")

	var nf *NotFittedError
	assert.True(t, As(err, &nf))
}

func TestNewConversionError(t *testing.T) {
	err := NewConversionError("kmeans", "no converter registered")
	assert.Equal(t, "onnxpipe: cannot convert step 'kmeans': no converter registered", err.Error())

	var ce *ConversionError
	assert.True(t, As(err, &ce))
}

func TestInputShapeError(t *testing.T) {
	err := NewInputShapeError("inference", "float_input", []int{1, 12}, []int{2, 12})
	assert.Contains(t, err.Error(), "'float_input'")
	assert.Contains(t, err.Error(), "[1 12]")

	err = NewInputShapeError("prediction", "", []int{3}, []int{4})
	assert.NotContains(t, err.Error(), "for '")
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrEmptyData, "loading dataset")
	assert.True(t, Is(wrapped, ErrEmptyData))
	assert.True(t, strings.HasPrefix(wrapped.Error(), "loading dataset"))

	wrappedf := Wrapf(ErrEmptyData, "split %d", 3)
	assert.Equal(t, "split 3: empty data", wrappedf.Error())
}

func TestCheckScalar(t *testing.T) {
	assert.NoError(t, CheckScalar("loss", 0.5, 1))

	err := CheckScalar("loss", nan(), 7)
	require.Error(t, err)
	var ni *NumericalInstabilityError
	require.True(t, As(err, &ni))
	assert.Equal(t, 7, ni.Iteration)
}

func TestCheckNumericalStability(t *testing.T) {
	assert.NoError(t, CheckNumericalStability("row", []float64{1, 2, 3}, 0))
	assert.Error(t, CheckNumericalStability("row", []float64{1, inf(), 3}, 0))
}

func TestWarnUsesHook(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewDataConversionWarning("float64", "float32", "thresholds"))
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error(), "float64 to float32")
}

func TestRecover(t *testing.T) {
	t.Run("panic becomes PanicError", func(t *testing.T) {
		fn := func() (err error) {
			defer Recover(&err, "TestOperation")
			panic("boom")
		}
		err := fn()
		require.Error(t, err)

		var pe *PanicError
		require.True(t, As(err, &pe))
		assert.Equal(t, "TestOperation", pe.Operation)
		assert.Equal(t, "panic in TestOperation: boom", pe.Error())
		assert.NotEmpty(t, pe.StackTrace)
	})

	t.Run("no panic keeps nil", func(t *testing.T) {
		fn := func() (err error) {
			defer Recover(&err, "TestOperation")
			return nil
		}
		assert.NoError(t, fn())
	})

	t.Run("existing error is kept as cause", func(t *testing.T) {
		fn := func() (err error) {
			defer Recover(&err, "TestOperation")
			err = ErrEmptyData
			panic("after error")
		}
		err := fn()
		require.Error(t, err)
		assert.True(t, Is(err, ErrEmptyData))
		assert.Contains(t, err.Error(), "panic in TestOperation")
	})
}

func TestSafeExecute(t *testing.T) {
	assert.NoError(t, SafeExecute("ok", func() error { return nil }))
	assert.ErrorIs(t, SafeExecute("err", func() error { return ErrEmptyData }), ErrEmptyData)

	err := SafeExecute("index", func() error {
		var s []int
		_ = s[3]
		return nil
	})
	var pe *PanicError
	assert.True(t, As(err, &pe))
}
