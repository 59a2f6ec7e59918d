// Package questrade provides a typed client for the Questrade REST API
package questrade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxConcurrent = 3
	DefaultMinSpacing    = 200 * time.Millisecond
	DefaultRetryBudget   = 3

	// ActivityWindowDays is the broker's cap on one activities request.
	ActivityWindowDays = 31
)

// Client implements the BrokerClient interface for one login. Calls are
// serialized through a bounded semaphore and a minimum-spacing limiter to
// stay inside the broker's published quota.
type Client struct {
	loginID    string
	tokens     interfaces.TokenStore
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	sem        chan struct{}
	retries    int
	sleep      func(context.Context, time.Duration) error

	mu        sync.Mutex
	symbolIDs map[string]int64 // symbol -> broker symbolId
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient sets the HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxConcurrent bounds in-flight calls for the login
func WithMaxConcurrent(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.sem = make(chan struct{}, n)
		}
	}
}

// WithMinSpacing sets the minimum gap between calls for the login
func WithMinSpacing(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithRetryBudget sets the attempt budget for rate-limited and transient errors
func WithRetryBudget(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// withSleep overrides backoff sleeping, for tests.
func withSleep(fn func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a broker client bound to one login.
func NewClient(loginID string, tokens interfaces.TokenStore, opts ...ClientOption) *Client {
	c := &Client{
		loginID:    loginID,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     common.NewSilentLogger(),
		limiter:    rate.NewLimiter(rate.Every(DefaultMinSpacing), 1),
		sem:        make(chan struct{}, DefaultMaxConcurrent),
		retries:    DefaultRetryBudget,
		symbolIDs:  make(map[string]int64),
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// credentials returns live access credentials, refreshing when none are cached.
func (c *Client) credentials(ctx context.Context, force bool) (*models.AccessCredentials, error) {
	type cachedSource interface {
		CachedCredentials(loginID string) *models.AccessCredentials
	}
	if !force {
		if cs, ok := c.tokens.(cachedSource); ok {
			if creds := cs.CachedCredentials(c.loginID); creds != nil {
				return creds, nil
			}
		}
	}
	creds, err := c.tokens.RefreshAccessToken(ctx, c.loginID)
	if err != nil {
		return nil, &models.BrokerError{Kind: models.ErrKindAuth, Payload: err.Error()}
	}
	return creds, nil
}

// get performs one rate-limited, retried GET against the login's api server
// and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	creds, err := c.credentials(ctx, false)
	if err != nil {
		return err
	}

	refreshed := false
	attempts := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		attempts++

		status, body, retryAfter, err := c.do(ctx, creds, path, params)
		if err != nil {
			// Network failure: transient, retry within budget.
			if attempts < c.retries {
				if serr := c.sleep(ctx, backoff(attempts)); serr != nil {
					return serr
				}
				continue
			}
			return &models.BrokerError{Kind: models.ErrKindTransient, Payload: err.Error()}
		}

		switch {
		case status == http.StatusOK:
			if err := json.Unmarshal(body, result); err != nil {
				return &models.BrokerError{Kind: models.ErrKindMalformed, HTTPStatus: status, Payload: err.Error()}
			}
			return nil

		case status == http.StatusUnauthorized:
			// One forced refresh, then one retry. A second 401 is an auth
			// failure that must surface to the operator.
			if refreshed {
				return &models.BrokerError{Kind: models.ErrKindAuth, HTTPStatus: status, Payload: string(body)}
			}
			refreshed = true
			creds, err = c.credentials(ctx, true)
			if err != nil {
				return err
			}
			continue

		case status == http.StatusTooManyRequests || status == 418:
			if attempts >= c.retries {
				return &models.BrokerError{Kind: models.ErrKindRateLimited, HTTPStatus: status, Payload: string(body)}
			}
			wait := backoff(attempts)
			if retryAfter > wait {
				wait = retryAfter
			}
			c.logger.Debug().Int("status", status).Dur("wait", wait).Str("path", path).Msg("Rate limited, backing off")
			if serr := c.sleep(ctx, wait); serr != nil {
				return serr
			}
			continue

		case status >= 500:
			if attempts >= c.retries {
				return &models.BrokerError{Kind: models.ErrKindTransient, HTTPStatus: status, Payload: string(body)}
			}
			if serr := c.sleep(ctx, backoff(attempts)); serr != nil {
				return serr
			}
			continue

		default:
			return &models.BrokerError{Kind: models.ErrKindPermanent, HTTPStatus: status, Payload: string(body)}
		}
	}
}

// do performs a single HTTP round trip. The caller owns classification.
func (c *Client) do(ctx context.Context, creds *models.AccessCredentials, path string, params url.Values) (int, []byte, time.Duration, error) {
	reqURL := creds.APIServer + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	c.logger.Trace().Str("login", c.loginID).Str("path", path).Msg("Broker API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, 0, err
	}

	var retryAfter time.Duration
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return resp.StatusCode, body, retryAfter, nil
}

// backoff returns the exponential delay for the given attempt (1-based).
func backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
