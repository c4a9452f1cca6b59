package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSample = New(KindRateLimited, "SAMPLE", "sample")

func TestWrapKeepsSentinelIdentity(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(errSample, cause))

	assert.ErrorIs(t, err, errSample)
	assert.ErrorIs(t, err, cause)

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "SAMPLE", e.Code)
	assert.Equal(t, "sample: boom", e.Error())
}

func TestIsDistinguishesCodes(t *testing.T) {
	other := New(KindRateLimited, "OTHER", "other")
	assert.False(t, errors.Is(errSample, other))
	assert.False(t, errors.Is(errors.New("plain"), errSample))
}

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:   http.StatusBadRequest,
		KindUnauthorized: http.StatusUnauthorized,
		KindForbidden:    http.StatusForbidden,
		KindNotFound:     http.StatusNotFound,
		KindConflict:     http.StatusConflict,
		KindRateLimited:  http.StatusTooManyRequests,
		KindUpstream:     http.StatusBadGateway,
		KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus())
	}
}
