package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/circuitbreaker"
)

// DefaultTimeout bounds every call to the analytics backend.
const DefaultTimeout = 30 * time.Second

const ewmaAlpha = 0.2

// Client talks to the analytics backend. Besides issuing calls it tracks
// the backend health reported by the prober and a moving average of
// response times.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	breakers   *circuitbreaker.Registry

	mutex            sync.Mutex
	isHealthy        bool
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreakers guards each downstream path with a breaker from r.
func WithBreakers(r *circuitbreaker.Registry) Option {
	return func(c *Client) { c.breakers = r }
}

// NewClient creates a Client for the backend at baseURL. It starts healthy.
func NewClient(baseURL *url.URL, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		isHealthy:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchJSON issues GET {base}{path}?{params} and returns the body of a 2xx
// JSON answer untouched. Any other outcome is reported as *Error.
func (c *Client) FetchJSON(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	var breaker *circuitbreaker.CircuitBreaker
	if c.breakers != nil {
		breaker = c.breakers.GetBreaker(path)
		if !breaker.Allow() {
			return nil, &Error{Kind: KindUnavailable, Err: ErrCircuitOpen}
		}
	}

	body, ferr := c.fetch(ctx, path, params)

	if breaker != nil {
		switch {
		case ferr == nil:
			breaker.RecordSuccess()
		case ferr.StatusCode == 0 && ctx.Err() != nil:
			// The caller gave up or ran out of its own time; the backend
			// was never judged.
			breaker.Release()
		case ferr.StatusCode == 0 || ferr.StatusCode >= http.StatusInternalServerError:
			breaker.RecordFailure()
		default:
			// The backend answered; a 4xx says nothing about its health.
			breaker.RecordSuccess()
		}
	}

	if ferr != nil {
		return nil, ferr
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, path string, params url.Values) (json.RawMessage, *Error) {
	budget := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline).Round(time.Millisecond); left < budget {
			budget = left
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint(path, params), nil)
	if err != nil {
		return nil, &Error{Kind: KindFailure, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err, budget)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classifyTransport(err, budget)
	}
	c.RecordResponse(time.Since(start))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, statusError(res.StatusCode, body)
	}

	if !json.Valid(body) {
		return nil, &Error{Kind: KindFailure, StatusCode: res.StatusCode, Err: ErrMalformedBody}
	}

	return json.RawMessage(body), nil
}

// Probe issues GET {base}{path} and fails unless the backend answers 200.
func (c *Client) Probe(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint(path, nil), nil)
	if err != nil {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w %d", ErrStatus, res.StatusCode)
	}
	return nil
}

// Endpoint resolves path against the base URL and attaches params.
func (c *Client) Endpoint(path string, params url.Values) string {
	u := c.baseURL.JoinPath(path)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

// URL returns the backend base URL.
func (c *Client) URL() *url.URL {
	return c.baseURL
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// IsHealthy returns true if the last probe succeeded.
func (c *Client) IsHealthy() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.isHealthy
}

// SetHealthy updates the health status.
// Returns true if the status changed, false if it was already in that state.
func (c *Client) SetHealthy(healthy bool) (changed bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isHealthy == healthy {
		return false
	}

	c.isHealthy = healthy
	return true
}

// RecordResponse folds duration into the EWMA response time.
func (c *Client) RecordResponse(duration time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.hasEWMA {
		c.ewmaResponseTime = duration
		c.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	c.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(c.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns 0 until a response has been recorded.
func (c *Client) EWMATime() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ewmaResponseTime
}
