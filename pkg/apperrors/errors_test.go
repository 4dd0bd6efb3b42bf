package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      Kind
		wantRetryable bool
	}{
		{"not found", fmt.Errorf("version v2: %w", ErrNotFound), KindNotFound, false},
		{"conflict is retryable", fmt.Errorf("branch head moved: %w", ErrConflict), KindConflict, true},
		{"duplicate is not retryable", fmt.Errorf("tag exists: %w", ErrDuplicate), KindDuplicate, false},
		{"validation", fmt.Errorf("missing subject id: %w", ErrValidation), KindValidation, false},
		{"store unavailable is retryable", fmt.Errorf("triple store: %w", ErrStoreUnavailable), KindStoreUnavailable, true},
		{"unknown is internal", errors.New("boom"), KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantRetryable, got.Retryable)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassifyPreservesStructuredError(t *testing.T) {
	orig := New(KindStoreUnavailable, "graph store down", true, errors.New("dial tcp"))
	wrapped := fmt.Errorf("sync run: %w", orig)

	got := Classify(wrapped)
	assert.Same(t, orig, got)
	assert.True(t, got.IsRetryable())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(KindStoreUnavailable, "bolt session", true, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "store_unavailable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPartialFailure(t *testing.T) {
	var pf PartialFailure
	assert.True(t, pf.Empty())

	pf.Add("urn:kg:entity:a", errors.New("bad literal"))
	pf.Add("urn:kg:entity:b", errors.New("missing type"))

	assert.False(t, pf.Empty())
	assert.Len(t, pf.Skipped, 2)
	assert.Contains(t, pf.Error(), "2 item(s) skipped")
	assert.Contains(t, pf.Error(), "urn:kg:entity:a")
}
