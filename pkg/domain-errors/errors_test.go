package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs(t *testing.T) {
	err := New(CodeNotFound, "consent request not found")
	assert.True(t, Is(err, CodeNotFound))
	assert.False(t, Is(err, CodeConflict))
	assert.False(t, Is(errors.New("plain"), CodeNotFound))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("sql: no rows")
	err := Wrap(cause, CodeNotFound, "card lookup failed")

	require.True(t, errors.Is(err, cause))
	assert.True(t, Is(err, CodeNotFound))
	assert.Contains(t, err.Error(), "card lookup failed")
	assert.Contains(t, err.Error(), "sql: no rows")
}

func TestIsSeesCodeThroughWrapping(t *testing.T) {
	inner := New(CodeExpired, "request past TTL")
	outer := fmt.Errorf("approve: %w", inner)

	assert.True(t, Is(outer, CodeExpired))
	assert.Equal(t, CodeExpired, CodeOf(outer))
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}
