package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:   http.StatusBadRequest,
		apperr.KindUnauthorized: http.StatusUnauthorized,
		apperr.KindForbidden:    http.StatusForbidden,
		apperr.KindConflict:     http.StatusConflict,
		apperr.KindNotFound:     http.StatusNotFound,
		apperr.KindDatabase:     http.StatusInternalServerError,
		apperr.KindRateLimit:    http.StatusTooManyRequests,
		apperr.KindInternal:     http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.Status(), kind.String())
	}
}

func TestKindOf_WrappedChain(t *testing.T) {
	base := apperr.Conflict("Email already in use")
	wrapped := fmt.Errorf("register: %w", base)

	assert.Equal(t, apperr.KindConflict, apperr.KindOf(wrapped))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(errors.New("boom")))
}

func TestDatabase_KeepsCauseOutOfMessage(t *testing.T) {
	cause := errors.New("pq: relation \"users\" does not exist")
	err := apperr.Database("find user", cause)

	assert.Equal(t, "Database operation failed", err.Message)
	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, err.Message, "relation")
}

func TestAs_UnclassifiedBecomesInternal(t *testing.T) {
	e := apperr.As(errors.New("nil pointer"))
	require.NotNil(t, e)
	assert.Equal(t, apperr.KindInternal, e.Kind)
	assert.Equal(t, "An unexpected error occurred", e.Message)
}

func TestWithDetail_DoesNotMutateOriginal(t *testing.T) {
	base := apperr.Forbidden("Insufficient permissions")
	d := base.WithDetail("userRole", "USER")

	assert.Nil(t, base.Details)
	assert.Equal(t, "USER", d.Details["userRole"])
	assert.Equal(t, "FORBIDDEN", d.ErrorCode())
	assert.Equal(t, "AUTH_RATE_LIMIT_EXCEEDED", apperr.RateLimit("slow down").WithCode("AUTH_RATE_LIMIT_EXCEEDED").ErrorCode())
}

func TestIs_SentinelComparison(t *testing.T) {
	sentinel := apperr.Unauthorized("Invalid credentials")
	err := fmt.Errorf("login: %w", apperr.Unauthorized("Invalid credentials"))

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, apperr.Unauthorized("User not found"))
}
