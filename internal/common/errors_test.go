package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf_Classified(t *testing.T) {
	err := Conflictf("template %q already exists", "base")
	require.Equal(t, KindConflict, KindOf(err))
	require.True(t, IsKind(err, KindConflict))
	require.False(t, IsKind(err, KindNotFound))
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFoundf("session missing"))
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestKindOf_Unclassified(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestInternal_Unwrap(t *testing.T) {
	cause := errors.New("db down")
	err := Internal("load failed", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, KindInternal, KindOf(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindUnauthorized: http.StatusUnauthorized,
		KindForbidden:    http.StatusForbidden,
		KindNotFound:     http.StatusNotFound,
		KindConflict:     http.StatusConflict,
		KindBadRequest:   http.StatusBadRequest,
		KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}

func TestMakeRandHexString(t *testing.T) {
	a, err := MakeRandHexString(16)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := MakeRandHexString(16)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
