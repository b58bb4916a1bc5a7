package nextpertise

import (
	"context"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Checker-Finance/mbb-usage-report/internal/httpclient"
	"github.com/Checker-Finance/mbb-usage-report/pkg/secrets"
	"github.com/Checker-Finance/mbb-usage-report/pkg/utils"
)

const logInPath = "/jwt/log-in"

// TokenSource supplies the bearer token for API calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenProvider exchanges the API credentials for a bearer token once and keeps it for
// the lifetime of the process. Only a successful exchange is remembered; a failed one is
// attempted again on the next call.
//
// The token is never refreshed. A run that outlives the token's validity fails on the
// next API call; there is no expiry handling.
type TokenProvider struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	baseURL string
	creds   secrets.Credentials

	mu    sync.Mutex
	token string
}

// NewTokenProvider creates a TokenProvider for the API at baseURL.
func NewTokenProvider(logger *zap.Logger, exec *httpclient.Executor, baseURL string, creds secrets.Credentials) *TokenProvider {
	return &TokenProvider{
		logger:  logger,
		exec:    exec,
		baseURL: baseURL,
		creds:   creds,
	}
}

// AccessToken returns the memoized token, performing the log-in exchange on first use.
func (p *TokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" {
		return p.token, nil
	}

	token, err := p.logIn(ctx)
	if err != nil {
		return "", err
	}
	p.token = token

	p.logger.Info("nextpertise.token_acquired",
		zap.String("username", p.creds.Username),
		zap.String("token", utils.MaskSecret(token)))
	return token, nil
}

// logIn performs GET /jwt/log-in with basic auth and extracts access_token.
func (p *TokenProvider) logIn(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+logInPath, nil)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.SetBasicAuth(p.creds.Username, p.creds.Password)
	req.Header.Set("Accept", acceptHeader)

	resp, err := p.exec.Do(ctx, req, "log_in")
	if err != nil {
		return "", &AuthError{Err: err}
	}

	token := gjson.GetBytes(resp.Body, "access_token")
	if token.Type != gjson.String || token.Str == "" {
		p.logger.Warn("nextpertise.invalid_credentials",
			zap.Int("status", resp.StatusCode),
			zap.String("username", p.creds.Username))
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return token.Str, nil
}
