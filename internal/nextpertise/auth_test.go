package nextpertise

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/mbb-usage-report/pkg/secrets"
)

// ─── Exchange returns the access token ───────────────────────────────────────

func TestTokenProvider_ReturnsAccessToken(t *testing.T) {
	api := newFakeAPI(t)
	api.token = "jwt-123"
	_, tokens := api.start(t)

	token, err := tokens.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt-123", token)
	assert.Equal(t, "api-user", api.basicUser)
	assert.Equal(t, "api-pass", api.basicPass)
}

// ─── Memoized: one exchange per process ──────────────────────────────────────

func TestTokenProvider_ExchangesOnce(t *testing.T) {
	api := newFakeAPI(t)
	_, tokens := api.start(t)

	first, err := tokens.AccessToken(context.Background())
	require.NoError(t, err)
	second, err := tokens.AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, api.loginCalls, "log-in must happen exactly once")
}

// ─── Missing access_token → AuthError with body ──────────────────────────────

func TestTokenProvider_MissingTokenIsAuthError(t *testing.T) {
	api := newFakeAPI(t)
	api.loginStatus = http.StatusUnauthorized
	api.loginBody = `{"detail":"Invalid username or password"}`
	_, tokens := api.start(t)

	_, err := tokens.AccessToken(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Contains(t, err.Error(), "invalid credentials")
	assert.Contains(t, err.Error(), `{"detail":"Invalid username or password"}`)
}

func TestTokenProvider_NonJSONBodyIsAuthError(t *testing.T) {
	api := newFakeAPI(t)
	api.loginBody = "<html>maintenance</html>"
	_, tokens := api.start(t)

	_, err := tokens.AccessToken(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "<html>maintenance</html>", authErr.Body)
}

func TestTokenProvider_EmptyTokenIsAuthError(t *testing.T) {
	api := newFakeAPI(t)
	api.loginBody = `{"access_token":""}`
	_, tokens := api.start(t)

	_, err := tokens.AccessToken(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

// ─── Failure is not cached ───────────────────────────────────────────────────

func TestTokenProvider_FailureNotCached(t *testing.T) {
	api := newFakeAPI(t)
	api.loginBody = `{"detail":"locked"}`
	_, tokens := api.start(t)

	_, err := tokens.AccessToken(context.Background())
	require.Error(t, err)

	api.mu.Lock()
	api.loginBody = ""
	api.mu.Unlock()

	token, err := tokens.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-bearer-token", token)
	assert.Equal(t, 2, api.loginCalls)
}

// ─── Transport failure → AuthError wrapping the cause ────────────────────────

func TestTokenProvider_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	logger := zap.NewNop()
	exec := NewExecutor(logger, http.DefaultClient, nil, 0)
	tokens := NewTokenProvider(logger, exec, url, secrets.Credentials{Username: "u", Password: "p"})

	_, err := tokens.AccessToken(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Error(t, authErr.Err)
	assert.Contains(t, err.Error(), "log-in failed")
}
