package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	maxPayloadBytes = 4096
)

// Auth selects how requests to the feed are authenticated. Secret values
// are read from the named environment variables at request time.
type Auth struct {
	Mode        string // none | apikey | bearer | basic
	Header      string
	KeyEnv      string
	TokenEnv    string
	Username    string
	PasswordEnv string
}

// HTTPClient queries a status feed over HTTP.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	location *time.Location
}

// NewHTTPClient builds the http.Client once; it is reused across fetches.
func NewHTTPClient(endpoint string, auth Auth, timeout time.Duration, loc *time.Location) (*HTTPClient, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("feed endpoint %q: %w", endpoint, err)
	}
	switch auth.Mode {
	case "", "none", "apikey", "bearer", "basic":
	default:
		return nil, fmt.Errorf("feed: unknown auth mode %q", auth.Mode)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		endpoint: endpoint,
		client: &http.Client{
			Transport: &authRoundTripper{base: http.DefaultTransport, auth: auth},
			Timeout:   timeout,
		},
		location: loc,
	}, nil
}

// Fetch requests the latest status for a student and decodes it.
func (c *HTTPClient) Fetch(ctx context.Context, nationalCode, schoolID, classID string) (Result, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFeed, err)
	}
	q := u.Query()
	q.Set("national_code", nationalCode)
	q.Set("school_code", schoolID)
	q.Set("class_code", classID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", ErrFeed, err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrFeed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: unexpected status %d", ErrFeed, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %w", ErrFeed, err)
	}
	if len(body) > maxPayloadBytes {
		return Result{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrDecode, maxPayloadBytes)
	}
	return Parse(string(body), c.location)
}

type authRoundTripper struct {
	base http.RoundTripper
	auth Auth
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, os.Getenv(t.auth.KeyEnv))
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+os.Getenv(t.auth.TokenEnv))
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, os.Getenv(t.auth.PasswordEnv))
	}
	return t.base.RoundTrip(req)
}
