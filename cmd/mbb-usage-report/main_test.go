package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/mbb-usage-report/internal/nextpertise"
	"github.com/Checker-Finance/mbb-usage-report/pkg/config"
	"github.com/Checker-Finance/mbb-usage-report/pkg/secrets"
)

func TestLoadCredentials_FromConfig(t *testing.T) {
	cfg := &config.Config{APIUsername: "user", APIPassword: "pass", CredentialsSecret: "ignored"}

	creds, err := loadCredentials(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, secrets.Credentials{Username: "user", Password: "pass"}, creds)
}

func TestLoadCredentials_NoneConfigured(t *testing.T) {
	cfg := &config.Config{APIUsername: "user"}

	creds, err := loadCredentials(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "user", creds.Username)
	assert.Empty(t, creds.Password)
}

func TestRun_FailedRunStillPushesMetrics(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid credentials"}`))
	}))
	defer api.Close()

	var mu sync.Mutex
	var pushed []byte
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		pushed, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	dir := t.TempDir()
	cfg := &config.Config{
		ServiceName:    "mbb-usage-report",
		BaseURL:        api.URL,
		APIUsername:    "user",
		APIPassword:    "wrong",
		HTTPTimeout:    5 * time.Second,
		PageSize:       5,
		OutputDir:      dir,
		PushgatewayURL: gateway.URL,
	}

	err := run(context.Background(), cfg)

	var authErr *nextpertise.AuthError
	require.ErrorAs(t, err, &authErr)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, string(pushed), "mbb_report_last_failure_timestamp")
	assert.Contains(t, string(pushed), "mbb_report_errors_total")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no report on failure")
}
