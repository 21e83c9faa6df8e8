// ABOUTME: Tests for the bearer-token HTTP middleware.
// ABOUTME: Covers missing, malformed, invalid, and valid Authorization headers.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authedServer(t *testing.T, verifier TokenVerifier) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(HTTPAuthMiddleware(verifier)(handler))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPAuthMiddleware_MissingHeader(t *testing.T) {
	srv := authedServer(t, NewHMACKey([]byte("s")))

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPAuthMiddleware_MalformedHeader(t *testing.T) {
	srv := authedServer(t, NewHMACKey([]byte("s")))

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Basic abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPAuthMiddleware_InvalidToken(t *testing.T) {
	srv := authedServer(t, NewHMACKey([]byte("s")))

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Bearer bogus")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	v := NewHMACKey([]byte("s"))
	srv := authedServer(t, v)

	token, err := v.Mint("admin", time.Hour)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
