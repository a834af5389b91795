// Package dispatch re-triggers the export workflow on GitHub Actions with a
// narrowed selection, so a retry runs on the same runners and secrets as the
// scheduled job.
package dispatch

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/go-github/v81/github"
	"golang.org/x/oauth2"
)

type Client struct {
	GitHub *github.Client
	HTTP   *http.Client
}

type options struct {
	verbose bool
	writer  io.Writer
	baseURL string
}

type Option func(*options)

// WithVerbose logs one line per request and response to w (stderr when nil).
func WithVerbose(enabled bool, w io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = w
	}
}

// WithBaseURL points the client at a GitHub Enterprise Server API root.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

type loggingRoundTripper struct {
	base http.RoundTripper
	w    io.Writer
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	_, _ = fmt.Fprintf(t.w, "[verbose] github api: %s %s\n", req.Method, req.URL.String())
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		_, _ = fmt.Fprintf(t.w, "[verbose] github api: error after %s: %v\n", dur, err)
	} else {
		_, _ = fmt.Fprintf(t.w, "[verbose] github api: %d %s (%s)\n", resp.StatusCode, http.StatusText(resp.StatusCode), dur)
	}
	return resp, err
}

// NewClient builds an authenticated GitHub client. Dispatching a workflow
// requires a token, so an empty one is an error.
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required to dispatch workflows (set GITHUB_TOKEN or run `gh auth login`)")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	transport := http.DefaultTransport
	if o.verbose {
		w := o.writer
		if w == nil {
			w = os.Stderr
		}
		transport = &loggingRoundTripper{base: transport, w: w}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	hc := &http.Client{Transport: &oauth2.Transport{Source: ts, Base: transport}}

	gh := github.NewClient(hc)
	if o.baseURL != "" {
		var err error
		if gh, err = gh.WithEnterpriseURLs(o.baseURL, o.baseURL); err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
	}
	return &Client{GitHub: gh, HTTP: hc}, nil
}
