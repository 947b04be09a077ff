package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	tokenHeader  = "kodosumi_api_key"
	tokenField   = "KODOSUMI_API_KEY"
	maxBodyBytes = 10 << 20
)

// ClientConfig holds workflow service connection settings
type ClientConfig struct {
	BaseURL        string
	Username       string
	Password       string
	RequestTimeout time.Duration
}

// Flow is one workflow advertised by the service.
type Flow struct {
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsRedirect reports whether the response is a 3xx redirect.
func (r *Response) IsRedirect() bool {
	switch r.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// IsJSON reports whether the response declares a JSON body.
func (r *Response) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}

// Client talks to the workflow service over HTTP. It is created once at
// startup and shared by every job; redirects are never followed.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a new workflow service client
func NewClient(cfg *ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Login exchanges the stored credentials for a short-lived token.
func (c *Client) Login(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("name", c.username)
	q.Set("password", c.password)

	resp, err := c.do(ctx, http.MethodGet, c.resolve("/login")+"?"+q.Encode(), "", nil, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", wrap(ErrAuth, "login returned status %d: %s", resp.StatusCode, resp.Body)
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", wrap(ErrAuth, "decode login response: %v", err)
	}
	token, _ := body[tokenField].(string)
	if token == "" {
		return "", wrap(ErrAuth, "%s missing from login response", tokenField)
	}

	return token, nil
}

// ListFlows returns the workflows visible to token.
func (c *Client) ListFlows(ctx context.Context, token string) ([]Flow, error) {
	resp, err := c.do(ctx, http.MethodGet, c.resolve("/flow"), token, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, wrap(ErrDiscovery, "flow listing returned status %d: %s", resp.StatusCode, resp.Body)
	}

	var body struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, wrap(ErrDiscovery, "decode flow listing: %v", err)
	}

	flows := make([]Flow, 0, len(body.Items))
	for _, raw := range body.Items {
		var f Flow
		// items that are not objects are skipped
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		flows = append(flows, f)
	}

	return flows, nil
}

// Trigger submits form to the workflow at flowURL.
func (c *Client) Trigger(ctx context.Context, token, flowURL string, form url.Values) (*Response, error) {
	headers := http.Header{}
	headers.Set("Accept", "text/plain")
	headers.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(ctx, http.MethodPost, c.resolve(flowURL), token, headers, strings.NewReader(form.Encode()))
}

// Status fetches the poll target.
func (c *Client) Status(ctx context.Context, token, target string) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.resolve(target), token, nil, nil)
}

// resolve joins a service-relative path onto the base URL. Absolute URLs are
// returned unchanged.
func (c *Client) resolve(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

func (c *Client) do(ctx context.Context, method, target, token string, headers http.Header, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, wrap(ErrTask, "build request: %v", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, wrap(ErrTask, "connection error: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, wrap(ErrTask, "read response body: %v", err)
	}

	c.logger.Debug("Workflow service response",
		slog.String("method", method),
		slog.String("url", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Int("body_size", len(data)),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
