package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Welcome Home community-wide table export endpoint.
const DefaultBaseURL = "https://crm.welcomehomesoftware.com/api/exports/community/all/table"

// Client talks to the Welcome Home export API. It is safe for concurrent use
// by several extract units; they share one request budget.
type Client struct {
	HTTP    *http.Client
	BaseURL *url.URL
	Budget  *Budget
}

type options struct {
	verbose bool
	writer  io.Writer
	timeout time.Duration
	budget  int
}

type Option func(*options)

// WithVerbose logs one line per request and response to w (stderr when nil).
func WithVerbose(enabled bool, w io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = w
	}
}

// WithTimeout bounds a single HTTP request, including reading its body.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBudget sets the request allowance assumed before the API reports one.
func WithBudget(n int) Option {
	return func(o *options) { o.budget = n }
}

type loggingRoundTripper struct {
	base http.RoundTripper
	w    io.Writer
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	fmt.Fprintf(t.w, "[verbose] welcome home api: %s %s\n", req.Method, redactURL(req.URL))
	resp, err := t.base.RoundTrip(req)
	took := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		fmt.Fprintf(t.w, "[verbose] welcome home api: error after %s: %v\n", took, err)
		return resp, err
	}
	fmt.Fprintf(t.w, "[verbose] welcome home api: %d %s (%s)\n", resp.StatusCode, http.StatusText(resp.StatusCode), took)
	return resp, nil
}

// NewClient builds an API client authenticating with a static bearer key.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("welcome home api key is empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base url %q: scheme must be http or https", baseURL)
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.verbose && o.writer == nil {
		o.writer = os.Stderr
	}

	transport := http.DefaultTransport
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, w: o.writer}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})
	transport = &oauth2.Transport{Source: ts, Base: transport}

	return &Client{
		HTTP:    &http.Client{Transport: transport, Timeout: o.timeout},
		BaseURL: base,
		Budget:  NewBudget(o.budget),
	}, nil
}

// TableURL is the first export page for table.
func (c *Client) TableURL(table string) string {
	u := *c.BaseURL
	u.Path = u.Path + "/" + url.PathEscape(table)
	return u.String()
}

// StatusError is a non-200 answer from the export API.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// redactURL drops credentials and query values from u for display.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	if c.RawQuery != "" {
		c.RawQuery = "..."
	}
	return c.String()
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.Budget.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	c.Budget.Observe(resp)
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			URL:        redactURL(req.URL),
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	return resp, nil
}
