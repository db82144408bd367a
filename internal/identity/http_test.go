package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPVerifierAcceptsValidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer good-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(verifyResponse{UserID: "u1", DisplayName: "Ada", Email: "ada@example.com"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	user, err := v.Verify(context.Background(), "good-token")
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)
}

func TestHTTPVerifierRejectsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), "bad-token")
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestHTTPVerifierRejectsForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), "bad-token")
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestHTTPVerifierRejectsEmptyToken(t *testing.T) {
	v := NewHTTPVerifier("http://unused")
	_, err := v.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrAuthRequired)
}

func TestHTTPVerifierErrorsOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), "token")
	require.Error(t, err)
}
