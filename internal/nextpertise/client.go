package nextpertise

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Checker-Finance/mbb-usage-report/internal/httpclient"
	"github.com/Checker-Finance/mbb-usage-report/internal/rate"
	"github.com/Checker-Finance/mbb-usage-report/pkg/model"
)

const (
	acceptHeader    = "application/json, text/plain, */*"
	connectionsPath = "/mobile-broadband/connections/"
)

// NewExecutor builds the HTTP executor shared by the token provider and the client.
// httpClient may be nil, in which case a pooled client with the given timeout is used.
func NewExecutor(logger *zap.Logger, httpClient *http.Client, limiter *rate.Limiter, retryMax int) *httpclient.Executor {
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	return httpclient.New(logger, limiter, httpClient, retryMax, "nextpertise", func(req *http.Request, resp *httpclient.Response) error {
		logger.Warn("nextpertise.client_error",
			zap.Int("status", resp.StatusCode),
			zap.String("url", req.URL.Redacted()),
			zap.ByteString("body", resp.Body))
		return &HTTPError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	})
}

// Client wraps the mobile broadband endpoints of the Nextpertise API.
type Client struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	tokens  TokenSource
	baseURL string
}

// NewClient constructs a new Nextpertise API client.
func NewClient(logger *zap.Logger, exec *httpclient.Executor, tokens TokenSource, baseURL string) *Client {
	return &Client{
		logger:  logger,
		exec:    exec,
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// ActiveConnectionsQuery builds the listing filter: active connections, optionally
// restricted to organizations whose debtor code starts with debtorCode.
func ActiveConnectionsQuery(debtorCode string) string {
	query := "is_active:true"
	if debtorCode != "" {
		query += " AND organization.debtor_code:" + debtorCode + "*"
	}
	return query
}

// ListActiveConnections returns every active connection matching debtorCode, in API order.
func (c *Client) ListActiveConnections(ctx context.Context, debtorCode string, pageSize int) ([]Connection, error) {
	var all []Connection
	err := c.WalkActiveConnections(ctx, debtorCode, pageSize, func(page []Connection) error {
		all = append(all, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// WalkActiveConnections requests listing pages starting at 1 and hands each non-empty page
// to fn. It stops after an empty page (not passed to fn) or a page shorter than pageSize.
// An error from fn stops the walk and is returned as is.
func (c *Client) WalkActiveConnections(ctx context.Context, debtorCode string, pageSize int, fn func(page []Connection) error) error {
	if pageSize < 1 {
		return fmt.Errorf("nextpertise: page size must be positive, got %d", pageSize)
	}

	query := ActiveConnectionsQuery(debtorCode)
	total := 0
	for page := 1; ; page++ {
		conns, err := c.connectionsPage(ctx, query, page, pageSize)
		if err != nil {
			return fmt.Errorf("list connections page %d: %w", page, err)
		}
		if len(conns) == 0 {
			c.logListed(query, page, total)
			return nil
		}

		total += len(conns)
		if err := fn(conns); err != nil {
			return err
		}
		if len(conns) < pageSize {
			c.logListed(query, page, total)
			return nil
		}
	}
}

func (c *Client) logListed(query string, pages, total int) {
	c.logger.Info("nextpertise.connections_listed",
		zap.String("query", query),
		zap.Int("pages", pages),
		zap.Int("connections", total))
}

// connectionsPage fetches a single listing page.
// GET /mobile-broadband/connections/?page=&page_size=&query=
func (c *Client) connectionsPage(ctx context.Context, query string, page, pageSize int) ([]Connection, error) {
	params := url.Values{}
	params.Set("page_size", strconv.Itoa(pageSize))
	params.Set("page", strconv.Itoa(page))
	params.Set("query", query)

	req, err := c.newRequest(ctx, connectionsPath+"?"+encodeQuery(params))
	if err != nil {
		return nil, err
	}

	var resp connectionsPage
	if err := c.exec.DoJSON(ctx, req, "connections", &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// MonthToDateUsage fetches the usage of one connection. billingCycle is sent only when set.
// GET /mobile-broadband/connections/{uuid}/usage/month-to-date/
//
// The endpoint's status is checked and every field the report needs must be present;
// either failure is a *UsageLookupError.
func (c *Client) MonthToDateUsage(ctx context.Context, connectionID, billingCycle string) (*Usage, error) {
	path := connectionsPath + url.PathEscape(connectionID) + "/usage/month-to-date/"
	if billingCycle != "" {
		path += "?" + url.Values{"billing_cycle": []string{billingCycle}}.Encode()
	}

	req, err := c.newRequest(ctx, path)
	if err != nil {
		return nil, &UsageLookupError{ConnectionID: connectionID, Err: err}
	}

	resp, err := c.exec.Do(ctx, req, "usage")
	if err != nil {
		return nil, &UsageLookupError{ConnectionID: connectionID, Err: err}
	}
	if !resp.OK() {
		return nil, &UsageLookupError{ConnectionID: connectionID, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	usage := &Usage{ConnectionID: connectionID, BillingCycle: billingCycle}
	fields := []struct {
		path string
		dst  *model.UsageValue
	}{
		{"data.usage_in_bytes", &usage.UsageInBytes},
		{"data.i18n_usage", &usage.I18nUsage},
		{"sms.usage", &usage.SMSUsage},
	}
	for _, f := range fields {
		v, ok := usageValue(gjson.GetBytes(resp.Body, f.path))
		if !ok {
			return nil, &UsageLookupError{
				ConnectionID: connectionID,
				StatusCode:   resp.StatusCode,
				Field:        f.path,
				Body:         string(resp.Body),
			}
		}
		*f.dst = v
	}
	return usage, nil
}

// newRequest builds an authenticated GET request for path.
func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("nextpertise: get auth token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req, token)
	return req, nil
}

// setHeaders sets required headers for Nextpertise API requests.
func setHeaders(req *http.Request, bearerToken string) {
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Accept", acceptHeader)
}

// encodeQuery encodes spaces as %20 rather than '+'; the query filter is sent the way
// the API's own clients send it.
func encodeQuery(v url.Values) string {
	return strings.ReplaceAll(v.Encode(), "+", "%20")
}

// usageValue keeps a usage field with its JSON type. Numbers keep their exact text.
// Objects and arrays are kept as raw JSON text. ok is false only when the field is absent.
func usageValue(r gjson.Result) (model.UsageValue, bool) {
	switch {
	case !r.Exists():
		return model.UsageValue{}, false
	case r.Type == gjson.Null:
		return model.UsageValue{}, true
	case r.Type == gjson.True:
		return model.BoolValue(true), true
	case r.Type == gjson.False:
		return model.BoolValue(false), true
	case r.Type == gjson.Number:
		return model.NumberValue(r.Raw), true
	case r.Type == gjson.String:
		return model.TextValue(r.Str), true
	default:
		return model.TextValue(r.Raw), true
	}
}
