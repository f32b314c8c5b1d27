package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// refreshBuffer is how long before expiry a fetched token is replaced.
const refreshBuffer = 60 * time.Second

// Client talks to a ledgerd server over HTTP.
type Client struct {
	rc *resty.Client

	// token state, guarded by mu
	mu          sync.Mutex
	secret      string
	subject     string
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("nil http client")
		}
		base := c.rc.BaseURL
		c.rc = resty.NewWithClient(hc).
			SetBaseURL(base).
			SetHeader("Accept", "application/json")
		return nil
	}
}

// WithTimeout sets the per-request timeout. The default is 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.rc.SetTimeout(d)
		return nil
	}
}

// WithRetries retries failed requests up to n times with backoff.
func WithRetries(n int) Option {
	return func(c *Client) error {
		c.rc.SetRetryCount(n).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second)
		return nil
	}
}

// WithBearerToken attaches a pre-obtained writer token to every request.
// The token is never refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithAdminSecret lets the client exchange the admin secret for writer tokens
// on demand. subject is optional and is recorded in the issued token.
func WithAdminSecret(secret string, subject ...string) Option {
	return func(c *Client) error {
		c.secret = secret
		if len(subject) > 0 {
			c.subject = subject[0]
		}
		return nil
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("empty base URL")
	}
	c := &Client{
		rc: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Accept", "application/json"),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ── Chains ───────────────────────────────────────────────────────────────────

// List returns every chain on the server, sorted by name.
func (c *Client) List(ctx context.Context) ([]Info, error) {
	var out struct {
		Chains []Info `json:"chains"`
	}
	if err := c.do(ctx, c.rc.R().SetResult(&out), http.MethodGet, "/api/v1/chains"); err != nil {
		return nil, err
	}
	return out.Chains, nil
}

// Create starts a new chain. An empty name asks the server to generate one.
func (c *Client) Create(ctx context.Context, name string) (*Info, error) {
	var out Info
	req := c.rc.R().SetBody(map[string]string{"name": name}).SetResult(&out)
	if err := c.write(ctx, req, http.MethodPost, "/api/v1/chains"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Info returns the length and head hash of a chain.
func (c *Client) Info(ctx context.Context, name string) (*Info, error) {
	var out Info
	req := c.rc.R().SetPathParam("name", name).SetResult(&out)
	if err := c.do(ctx, req, http.MethodGet, "/api/v1/chains/{name}"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a chain.
func (c *Client) Delete(ctx context.Context, name string) error {
	req := c.rc.R().SetPathParam("name", name)
	return c.write(ctx, req, http.MethodDelete, "/api/v1/chains/{name}")
}

// ── Blocks ───────────────────────────────────────────────────────────────────

// Blocks returns up to limit blocks starting at index from. A limit of zero
// returns the rest of the chain.
func (c *Client) Blocks(ctx context.Context, name string, from, limit int) (*BlockPage, error) {
	var out BlockPage
	req := c.rc.R().SetPathParam("name", name).SetResult(&out)
	if from > 0 {
		req.SetQueryParam("from", strconv.Itoa(from))
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if err := c.do(ctx, req, http.MethodGet, "/api/v1/chains/{name}/blocks"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Block returns the block at idx.
func (c *Client) Block(ctx context.Context, name string, idx int) (*Block, error) {
	var out Block
	req := c.rc.R().
		SetPathParams(map[string]string{"name": name, "idx": strconv.Itoa(idx)}).
		SetResult(&out)
	if err := c.do(ctx, req, http.MethodGet, "/api/v1/chains/{name}/blocks/{idx}"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Append seals tx into a new block at the end of the chain.
func (c *Client) Append(ctx context.Context, name, tx string) (*Block, error) {
	var out Block
	req := c.rc.R().
		SetPathParam("name", name).
		SetBody(map[string]string{"transaction": tx}).
		SetResult(&out)
	if err := c.write(ctx, req, http.MethodPost, "/api/v1/chains/{name}/blocks"); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Integrity and history ────────────────────────────────────────────────────

// Verify checks the whole chain server-side. An invalid chain is not an
// error; inspect VerifyResult.Valid.
func (c *Client) Verify(ctx context.Context, name string) (*VerifyResult, error) {
	var out VerifyResult
	req := c.rc.R().SetPathParam("name", name).SetResult(&out)
	if err := c.do(ctx, req, http.MethodGet, "/api/v1/chains/{name}/verify"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fork stores blocks 0..point of src as a new chain named dst. A negative
// point copies the whole chain.
func (c *Client) Fork(ctx context.Context, src string, point int, dst string) (*Info, error) {
	body := map[string]any{"name": dst}
	if point >= 0 {
		body["point"] = point
	}
	var out Info
	req := c.rc.R().SetPathParam("name", src).SetBody(body).SetResult(&out)
	if err := c.write(ctx, req, http.MethodPost, "/api/v1/chains/{name}/fork"); err != nil {
		return nil, err
	}
	return &out, nil
}

// CommonAncestor returns the prefix chains a and b share.
func (c *Client) CommonAncestor(ctx context.Context, a, b string) (*Ancestor, error) {
	var out Ancestor
	req := c.rc.R().
		SetPathParams(map[string]string{"name": a, "other": b}).
		SetResult(&out)
	if err := c.do(ctx, req, http.MethodGet, "/api/v1/chains/{name}/ancestor/{other}"); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveCommonAncestor stores the prefix a and b share as a new chain.
func (c *Client) SaveCommonAncestor(ctx context.Context, a, b, dst string) (*Info, error) {
	var out Info
	req := c.rc.R().
		SetPathParams(map[string]string{"name": a, "other": b}).
		SetBody(map[string]string{"name": dst}).
		SetResult(&out)
	if err := c.write(ctx, req, http.MethodPost, "/api/v1/chains/{name}/ancestor/{other}"); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Tokens ───────────────────────────────────────────────────────────────────

// FetchToken exchanges the configured admin secret for a writer token,
// caches it, and returns it.
func (c *Client) FetchToken(ctx context.Context) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchTokenLocked(ctx)
}

func (c *Client) fetchTokenLocked(ctx context.Context) (*Token, error) {
	if c.secret == "" {
		return nil, fmt.Errorf("no admin secret configured")
	}
	var tok Token
	req := c.rc.R().
		SetBody(map[string]string{"secret": c.secret, "subject": c.subject}).
		SetResult(&tok)
	if err := c.do(ctx, req, http.MethodPost, "/api/v1/auth/token"); err != nil {
		return nil, err
	}
	c.bearerToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - refreshBuffer)
	return &tok, nil
}

// token returns the bearer token for a write, fetching a new one if the
// cached token is absent or close to expiry. Returns "" when the client has
// no credentials.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.secret == "" {
		return c.bearerToken, nil
	}
	tok, err := c.fetchTokenLocked(ctx)
	if err != nil {
		return "", fmt.Errorf("obtain writer token: %w", err)
	}
	return tok.AccessToken, nil
}

// ── Internal helpers ─────────────────────────────────────────────────────────

func (c *Client) write(ctx context.Context, req *resty.Request, method, path string) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	if tok != "" {
		req.SetAuthToken(tok)
	}
	return c.do(ctx, req, method, path)
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, path string) error {
	resp, err := req.SetContext(ctx).SetError(&errorBody{}).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if eb, ok := resp.Error().(*errorBody); ok && eb.Error != "" {
		apiErr.Message = eb.Error
	} else {
		apiErr.Message = resp.Status()
	}
	return apiErr
}
