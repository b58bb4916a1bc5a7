package nextpertise

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/mbb-usage-report/pkg/secrets"
)

// writeJSON encodes v as JSON into w.
func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic("test helper writeJSON: " + err.Error())
	}
}

// fakeAPI is an in-memory Nextpertise API. Listing pages are cut from connections using
// the page and page_size parameters of each request.
type fakeAPI struct {
	t *testing.T

	mu          sync.Mutex
	token       string
	loginBody   string // overrides the log-in response when set
	loginStatus int
	connections []Connection
	listStatus  int
	usage       map[string]string // uuid → raw JSON body
	usageStatus int

	loginCalls   int
	listQueries  []string
	listPages    []int
	usageCycles  []string
	authHeaders  []string
	basicUser    string
	basicPass    string
	acceptHeader string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	return &fakeAPI{
		t:     t,
		token: "test-bearer-token",
		usage: map[string]string{},
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case path == "/jwt/log-in":
		f.loginCalls++
		f.basicUser, f.basicPass, _ = r.BasicAuth()
		if f.loginStatus != 0 {
			w.WriteHeader(f.loginStatus)
		}
		if f.loginBody != "" {
			_, _ = w.Write([]byte(f.loginBody))
			return
		}
		writeJSON(w, map[string]string{"access_token": f.token})

	case path == "/mobile-broadband/connections/":
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		f.acceptHeader = r.Header.Get("Accept")
		q := r.URL.Query()
		f.listQueries = append(f.listQueries, q.Get("query"))
		page, _ := strconv.Atoi(q.Get("page"))
		size, _ := strconv.Atoi(q.Get("page_size"))
		f.listPages = append(f.listPages, page)
		if f.listStatus != 0 {
			w.WriteHeader(f.listStatus)
			_, _ = w.Write([]byte(`{"detail":"boom"}`))
			return
		}
		start := (page - 1) * size
		end := start + size
		if start > len(f.connections) {
			start = len(f.connections)
		}
		if end > len(f.connections) {
			end = len(f.connections)
		}
		writeJSON(w, connectionsPage{Results: f.connections[start:end]})

	case strings.HasSuffix(path, "/usage/month-to-date/"):
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		f.usageCycles = append(f.usageCycles, r.URL.RawQuery)
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/mobile-broadband/connections/"), "/usage/month-to-date/")
		if f.usageStatus != 0 {
			w.WriteHeader(f.usageStatus)
			_, _ = w.Write([]byte(`{"detail":"not found"}`))
			return
		}
		body, ok := f.usage[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))

	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL)
		w.WriteHeader(http.StatusNotFound)
	}
}

// start serves the fake API and returns a client and token provider wired to it.
func (f *fakeAPI) start(t *testing.T) (*Client, *TokenProvider) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	exec := NewExecutor(logger, srv.Client(), nil, 0)
	tokens := NewTokenProvider(logger, exec, srv.URL, secrets.Credentials{Username: "api-user", Password: "api-pass"})
	return NewClient(logger, exec, tokens, srv.URL+"/"), tokens
}

// makeConnections returns n connections with sequential ids.
func makeConnections(n int) []Connection {
	conns := make([]Connection, n)
	for i := range conns {
		conns[i] = Connection{
			UUID:     fmt.Sprintf("conn-%02d", i+1),
			IsActive: true,
			Carrier: Carrier{
				NID:  fmt.Sprintf("nid-%02d", i+1),
				IMSI: fmt.Sprintf("2040%011d", i+1),
				SIM:  SIM{ICCID: fmt.Sprintf("8931%015d", i+1)},
				Tags: []string{"fleet"},
			},
			Organization: Organization{DebtorCode: "NP1001"},
		}
	}
	return conns
}

func uuids(t *testing.T, conns []Connection) []string {
	t.Helper()
	require.NotNil(t, conns)
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.UUID
	}
	return ids
}
