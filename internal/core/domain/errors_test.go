package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrAlreadyExists", ErrAlreadyExists},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrUnsupportedType", ErrUnsupportedType},
		{"ErrStoreUnavailable", ErrStoreUnavailable},
		{"ErrExtractionFailed", ErrExtractionFailed},
		{"ErrExtractionTimeout", ErrExtractionTimeout},
		{"ErrMarkerDecode", ErrMarkerDecode},
		{"ErrInvalidIBAN", ErrInvalidIBAN},
		{"ErrEmptyBatch", ErrEmptyBatch},
		{"ErrUnreadableBatch", ErrUnreadableBatch},
		{"ErrNoDocuments", ErrNoDocuments},
		{"ErrWorkerStopped", ErrWorkerStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestErrStoreUnavailable(t *testing.T) {
	assert.Equal(t, "store unavailable", ErrStoreUnavailable.Error())
	assert.False(t, errors.Is(ErrStoreUnavailable, ErrNotFound))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassNone},
		{"store unavailable", ErrStoreUnavailable, ErrorClassTransientStore},
		{"wrapped store unavailable", fmt.Errorf("load mandate: %w", ErrStoreUnavailable), ErrorClassTransientStore},
		{"duplicate", ErrAlreadyExists, ErrorClassConflict},
		{"timeout", ErrExtractionTimeout, ErrorClassExtraction},
		{"extraction failed", fmt.Errorf("page 3: %w", ErrExtractionFailed), ErrorClassExtraction},
		{"marker decode", ErrMarkerDecode, ErrorClassMarkerDecode},
		{"invalid iban", ErrInvalidIBAN, ErrorClassValidation},
		{"invalid input", ErrInvalidInput, ErrorClassValidation},
		{"cancelled", context.Canceled, ErrorClassCancelled},
		{"unknown", errors.New("boom"), ErrorClassUnexpected},
		{"empty batch", ErrEmptyBatch, ErrorClassUnexpected},
		{"panic", &PanicError{Value: "nil map"}, ErrorClassUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("persist: %w", ErrStoreUnavailable)))
	assert.True(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(ErrEmptyBatch))
	assert.False(t, IsRetryable(nil))
}

func TestBatchError(t *testing.T) {
	t.Run("with underlying error", func(t *testing.T) {
		err := &BatchError{MandateID: "m1", BatchID: "b1", Op: "segment", Err: ErrEmptyBatch}

		assert.Equal(t, "mandate m1 batch b1: segment: batch has no pages", err.Error())
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("without underlying error", func(t *testing.T) {
		err := &BatchError{MandateID: "m1", BatchID: "b1", Op: "claim"}

		assert.Equal(t, "mandate m1 batch b1: claim", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("errors.As finds batch error through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("cycle: %w", &BatchError{MandateID: "m1", BatchID: "b1", Op: "persist", Err: ErrStoreUnavailable})

		var be *BatchError
		assert.True(t, errors.As(wrapped, &be))
		assert.Equal(t, "persist", be.Op)
		assert.Equal(t, ErrorClassTransientStore, Classify(wrapped))
	})
}

func TestPanicError(t *testing.T) {
	err := &PanicError{Value: "index out of range"}
	assert.Equal(t, "panic: index out of range", err.Error())
}
