// Package hostapi talks to the remote hosting service's REST API.
package hostapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/reposync/internal/repo"
	"github.com/stacklok/reposync/internal/versions"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

const (
	// DefaultBaseURL is the API root of the default hosting service
	DefaultBaseURL = "https://api.github.com"

	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// maxDrainSize bounds how much of a response body is read before closing
	maxDrainSize = 64 * 1024

	acceptHeader = "application/vnd.github+json"
)

// Client reports how the hosting service answers for a repository or a credential.
// Both methods return the HTTP status code; an error means no response was received.
type Client interface {
	// RepositoryStatus requests the repository metadata endpoint
	RepositoryStatus(ctx context.Context, ref repo.Ref, credential string) (int, error)

	// IdentityStatus requests the authenticated-user endpoint
	IdentityStatus(ctx context.Context, credential string) (int, error)
}

// DefaultClient is the default Client implementation
type DefaultClient struct {
	baseURL *url.URL
	base    http.RoundTripper
	timeout time.Duration
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithTransport sets the underlying round tripper, used by tests
func WithTransport(rt http.RoundTripper) Option {
	return func(c *DefaultClient) {
		c.base = rt
	}
}

// NewDefaultClient creates a client for the API at baseURL.
// An empty baseURL uses DefaultBaseURL and a zero timeout uses DefaultTimeout.
func NewDefaultClient(baseURL string, timeout time.Duration, opts ...Option) (*DefaultClient, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", baseURL)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &DefaultClient{
		baseURL: u,
		base:    http.DefaultTransport,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RepositoryStatus performs GET /repos/{owner}/{name}
func (c *DefaultClient) RepositoryStatus(ctx context.Context, ref repo.Ref, credential string) (int, error) {
	return c.get(ctx, "/repos/"+url.PathEscape(ref.Owner)+"/"+url.PathEscape(ref.Name), credential)
}

// IdentityStatus performs GET /user
func (c *DefaultClient) IdentityStatus(ctx context.Context, credential string) (int, error) {
	return c.get(ctx, "/user", credential)
}

// httpClient returns a client that adds the credential as a bearer token
func (c *DefaultClient) httpClient(credential string) *http.Client {
	rt := c.base
	if credential != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"}),
			Base:   c.base,
		}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   c.timeout,
	}
}

func (c *DefaultClient) get(ctx context.Context, path, credential string) (int, error) {
	endpoint := c.baseURL.JoinPath(path).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", versions.UserAgent())
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpClient(credential).Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Drain a bounded amount so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainSize))

	return resp.StatusCode, nil
}
