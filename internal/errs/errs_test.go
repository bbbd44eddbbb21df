package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteError_MatchesRemoteRejected(t *testing.T) {
	err := fmt.Errorf("sync G1: %w", &RemoteError{Op: "list", StatusCode: 404, Body: "device unknown"})

	require.True(t, errors.Is(err, ErrRemoteRejected))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 404, StatusOf(err))
	assert.Contains(t, err.Error(), "remote returned 404: device unknown")
}

func TestRemoteError_Unreachable(t *testing.T) {
	err := &RemoteError{Op: "create", Body: "dial tcp: refused"}
	assert.Equal(t, "create: remote unreachable: dial tcp: refused", err.Error())
	assert.Equal(t, 0, StatusOf(err))
}

func TestDetailOf_TruncatesRemoteBody(t *testing.T) {
	err := &RemoteError{Op: "create", StatusCode: 400, Body: strings.Repeat("x", 500)}
	assert.Len(t, DetailOf(err), DetailLimit)
	assert.Equal(t, "", DetailOf(nil))
	assert.Equal(t, "boom", DetailOf(errors.New("boom")))
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	s := "aé" // 'é' is two bytes
	assert.Equal(t, "a", Truncate(s, 2))
	assert.Equal(t, s, Truncate(s, 3))
}

func TestSentinelHelpers(t *testing.T) {
	v := Validationf("serial is required")
	assert.True(t, errors.Is(v, ErrValidation))
	assert.Equal(t, "validation failure: serial is required", v.Error())

	nf := NotFoundf("template %s", "tpl_1")
	assert.True(t, errors.Is(nf, ErrNotFound))
	assert.Equal(t, "template tpl_1: not found", nf.Error())
}
