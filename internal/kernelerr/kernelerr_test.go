package kernelerr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFound(t *testing.T) {
	err := NotFound("tool %q not found", "nope")
	assert.Equal(t, KindNotFound, err.Kind)
	assert.Contains(t, err.Error(), "nope")
}

func TestExecutionWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Execution(cause, "collaborator failed")
	assert.Equal(t, KindExecution, err.Kind)
	assert.ErrorIs(t, err, cause)
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	base := Validation("bad field")
	withCtx := base.WithContext("field", "name")

	assert.Empty(t, base.Context)
	assert.Equal(t, "name", withCtx.Context["field"])
}

func TestWithElapsed(t *testing.T) {
	err := Timeout("deadline exceeded").WithElapsed(5 * time.Second)
	assert.True(t, err.HasElapsed())
	assert.Equal(t, 5*time.Second, err.Elapsed)
}

func TestAsAndKindOf(t *testing.T) {
	err := Internal("dual map inconsistency")

	ke, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindInternal, ke.Kind)
	assert.Equal(t, KindInternal, KindOf(err))

	plain := errors.New("unclassified")
	assert.Equal(t, KindInternal, KindOf(plain))
	_, ok = As(plain)
	assert.False(t, ok)
}

func TestWrappedErrorUnwraps(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := Transport(cause, "decode failed")

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}
