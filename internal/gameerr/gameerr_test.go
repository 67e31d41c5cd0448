package gameerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestNew_MatchesSentinel(t *testing.T) {
	err := New(ErrStateVersionMismatch, "expected %q, current is %q", "a", "b")

	assert.ErrorIs(t, err, ErrStateVersionMismatch)
	assert.NotErrorIs(t, err, ErrGameAlreadyCompleted)
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.Equal(t, `STATE_VERSION_MISMATCH: expected "a", current is "b"`, err.Error())
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("apply: %w", New(ErrChipInsufficient, "p1 has no chips"))
	ge, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeChipInsufficient, ge.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ge.Status)

	_, ok = As(errors.New("boom"))
	assert.False(t, ok)
}

func TestAs_Multierr(t *testing.T) {
	err := multierr.Combine(
		New(ErrPlayerIDInvalid, "players[0]"),
		New(ErrPlayerNameInvalid, "players[1]"),
	)
	ge, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodePlayerIDInvalid, ge.Code, "first error decides")
	assert.ErrorIs(t, err, ErrPlayerNameInvalid)
}
