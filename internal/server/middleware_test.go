package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcite/corpuscore/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDMiddleware_GeneratesIDWhenAbsent(t *testing.T) {
	h := requestIDMiddleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_ReusesValidInboundID(t *testing.T) {
	h := requestIDMiddleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_RejectsControlCharacters(t *testing.T) {
	h := requestIDMiddleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc\ndef")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.NotEqual(t, "abc\ndef", w.Header().Get("X-Request-ID"))
}

func TestRequireAPIKey_AllowsNoAuthPaths(t *testing.T) {
	h := requireAPIKey("secret", nil)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAPIKey_RejectsMissingKey(t *testing.T) {
	h := requireAPIKey("secret", nil)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/query", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAPIKey_AcceptsMatchingKey(t *testing.T) {
	h := requireAPIKey("secret", nil)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/query", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAPIKey_RejectsAllWhenUnconfigured(t *testing.T) {
	h := requireAPIKey("", nil)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/query", nil)
	req.Header.Set("X-API-Key", "")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAPIKey_ReplayPacketAcceptsValidServiceToken(t *testing.T) {
	mgr, err := auth.NewManager("", "", time.Hour)
	require.NoError(t, err)
	token, _, err := mgr.IssueToken("eval-worker")
	require.NoError(t, err)

	h := requireAPIKey("secret", mgr)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/replay-packet/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAPIKey_ReplayPacketRejectsInvalidServiceToken(t *testing.T) {
	mgr, err := auth.NewManager("", "", time.Hour)
	require.NoError(t, err)

	h := requireAPIKey("secret", mgr)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/replay-packet/abc", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAPIKey_ServiceTokenDoesNotAuthorizeOtherRoutes(t *testing.T) {
	mgr, err := auth.NewManager("", "", time.Hour)
	require.NoError(t, err)
	token, _, err := mgr.IssueToken("eval-worker")
	require.NoError(t, err)

	h := requireAPIKey("secret", mgr)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/query", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSMiddleware_AllowsConfiguredOrigin(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example.com"})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_OmitsHeaderForUnknownOrigin(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example.com"})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_WildcardAllowsAnyOrigin(t *testing.T) {
	h := corsMiddleware([]string{"*"})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, "https://anything.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_OptionsShortCircuitsWithNoContent(t *testing.T) {
	called := false
	h := corsMiddleware([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, called, "OPTIONS preflight must not reach the wrapped handler")
}

func TestSecurityHeadersMiddleware_SetsHardeningHeaders(t *testing.T) {
	h := securityHeadersMiddleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}

func TestRecoveryMiddleware_ConvertsPanicToInternalError(t *testing.T) {
	h := recoveryMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))
	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	w := httptest.NewRecorder()

	assert.NotPanics(t, func() { h.ServeHTTP(w, req) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWriteInternalError_NeverLeaksErrorText(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/query", nil)

	writeInternalError(w, testLogger(), req, errors.New("raw database connection string leaked here"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "database connection string")
}
