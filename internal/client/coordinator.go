package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrAuthFailed = errors.New("authentication failed")

// Credential is the bearer token minted by one authentication cycle.
type Credential struct {
	Token  string
	Expiry time.Time
}

// Authenticator runs one interactive authentication cycle (the wallet
// signature prompt). The coordinator guarantees at most one cycle runs
// at a time, so the user is never prompted twice for concurrent calls.
type Authenticator interface {
	Authenticate(ctx context.Context) (Credential, error)
}

// Coordinator gates every outbound protected call from one client
// instance: one shared cached credential, single-flight authentication,
// and per-(method,URL) request deduplication.
type Coordinator struct {
	baseURL string
	httpc   *http.Client
	auth    Authenticator

	mu   sync.Mutex
	cred *Credential

	authFlight singleflight.Group
	reqFlight  singleflight.Group
}

func NewCoordinator(baseURL string, auth Authenticator) *Coordinator {
	return &Coordinator{
		baseURL: baseURL,
		auth:    auth,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Disconnect drops the cached credential; the next protected call will
// authenticate again.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	c.cred = nil
	c.mu.Unlock()
}

// UseAuthenticator swaps the signing identity and evicts the credential
// cached for the previous one.
func (c *Coordinator) UseAuthenticator(auth Authenticator) {
	c.mu.Lock()
	c.auth = auth
	c.cred = nil
	c.mu.Unlock()
}

func (c *Coordinator) Get(ctx context.Context, path string) ([]byte, int, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

func (c *Coordinator) Post(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Do issues one protected request. An identical (method, URL) call
// arriving while the first is still in flight shares its result instead
// of hitting the network again; each caller receives its own copy of
// the body.
func (c *Coordinator) Do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	key := method + " " + path
	v, err, _ := c.reqFlight.Do(key, func() (any, error) {
		return c.doOnce(ctx, method, path, body)
	})
	if err != nil {
		return nil, 0, err
	}

	res := v.(*response)
	out := make([]byte, len(res.body))
	copy(out, res.body)
	return out, res.status, nil
}

type response struct {
	status int
	body   []byte
}

func (c *Coordinator) doOnce(ctx context.Context, method, path string, body []byte) (*response, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.request(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	if res.status != http.StatusUnauthorized && res.status != http.StatusForbidden {
		return res, nil
	}

	// The cached credential was rejected: evict it, run one fresh
	// cycle, retry once.
	c.evict(token)
	token, err = c.token(ctx)
	if err != nil {
		return nil, err
	}
	res, err = c.request(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	if res.status == http.StatusUnauthorized || res.status == http.StatusForbidden {
		return nil, fmt.Errorf("%w: server rejected fresh credential (%d)", ErrAuthFailed, res.status)
	}
	return res, nil
}

// token returns the cached credential or joins the in-flight
// authentication cycle; concurrent callers all wait on the same cycle.
func (c *Coordinator) token(ctx context.Context) (string, error) {
	if t, ok := c.cachedToken(); ok {
		return t, nil
	}

	v, err, _ := c.authFlight.Do("auth", func() (any, error) {
		// A cycle that finished while we queued already filled the cache.
		if t, ok := c.cachedToken(); ok {
			return t, nil
		}
		cred, err := c.auth.Authenticate(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		c.mu.Lock()
		c.cred = &cred
		c.mu.Unlock()
		return cred.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Coordinator) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred != nil && time.Now().Before(c.cred.Expiry) {
		return c.cred.Token, true
	}
	return "", false
}

// evict clears the cache only when it still holds the rejected token,
// so a credential refreshed by a concurrent caller survives.
func (c *Coordinator) evict(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred != nil && c.cred.Token == token {
		c.cred = nil
	}
}

func (c *Coordinator) request(ctx context.Context, method, path string, body []byte, token string) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &response{status: resp.StatusCode, body: payload}, nil
}
