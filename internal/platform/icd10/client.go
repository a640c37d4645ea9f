// Package icd10 is a client for the NLM Clinical Tables ICD-10-CM search
// API. A single Lookup resolves one diagnosis code to its description.
package icd10

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public ICD-10-CM search endpoint.
const DefaultBaseURL = "https://clinicaltables.nlm.nih.gov/api/icd10cm/v3/search"

const (
	searchFields = "code,desc"
	maxList      = "1"

	// RequestIDHeader is sent on every lookup so that a request can be
	// correlated with the log line that describes it.
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 1 << 20
)

// ErrMalformedResponse is returned when the service answers 2xx but the body
// does not have the [count, fields, extra, rows] shape.
var ErrMalformedResponse = errors.New("icd10: malformed response")

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Code       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("icd10: lookup %q returned status %d", e.Code, e.StatusCode)
}

// Match is the first row returned for a search term.
type Match struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Total       int    `json:"total"`
}

// Option configures a Client.
type Option func(*options)

type options struct {
	timeout            time.Duration
	maxRetries         int
	insecureSkipVerify bool
	freshConnections   bool
	maxConnsPerHost    int
	httpClient         *http.Client
	logger             zerolog.Logger
	ratePerSecond      float64
	rateBurst          int
}

// WithTimeout bounds every individual lookup.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxRetries sets how many times a 5xx/429 or connection error is retried.
// Zero means a lookup is exactly one request.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(o *options) { o.insecureSkipVerify = skip }
}

// WithFreshConnections disables keep-alives so that every lookup opens a new
// connection (and a new TLS handshake).
func WithFreshConnections() Option {
	return func(o *options) { o.freshConnections = true }
}

// WithMaxConnsPerHost sizes the idle connection pool shared by concurrent lookups.
func WithMaxConnsPerHost(n int) Option {
	return func(o *options) { o.maxConnsPerHost = n }
}

// WithRateLimit caps outbound lookups at perSecond with the given burst,
// shared by every goroutine using the client. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.ratePerSecond = perSecond
		o.rateBurst = burst
	}
}

// WithHTTPClient replaces the underlying HTTP client. Transport related
// options are ignored when this is set.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger used for request and retry logging.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Client issues lookups against the search API. It is safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *retryablehttp.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse lookup base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("lookup base url scheme must be http or https, got %q", u.Scheme)
	}

	o := options{
		timeout:         10 * time.Second,
		maxConnsPerHost: 16,
		logger:          zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.maxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", o.maxRetries)
	}
	if o.ratePerSecond < 0 {
		return nil, fmt.Errorf("rate limit must not be negative, got %v", o.ratePerSecond)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = o.maxRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{o.logger}
	if o.httpClient != nil {
		rc.HTTPClient = o.httpClient
	} else {
		rc.HTTPClient = &http.Client{Transport: newTransport(&o)}
	}

	c := &Client{
		baseURL: u.String(),
		timeout: o.timeout,
		http:    rc,
		logger:  o.logger,
	}
	if o.ratePerSecond > 0 {
		burst := o.rateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(o.ratePerSecond), burst)
	}
	return c, nil
}

func newTransport(o *options) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DisableKeepAlives = o.freshConnections
	if o.maxConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = o.maxConnsPerHost
	}
	if o.insecureSkipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via LOOKUP_INSECURE_SKIP_VERIFY
	}
	return t
}

// SearchURL returns the request URL used to look up code.
func (c *Client) SearchURL(code string) string {
	params := url.Values{}
	params.Set("sf", searchFields)
	params.Set("terms", code)
	params.Set("maxList", maxList)
	return c.baseURL + "?" + params.Encode()
}

// Lookup resolves code to its first matching row. It returns (nil, nil) when
// the service reports zero matches.
func (c *Client) Lookup(ctx context.Context, code string) (*Match, error) {
	// the per-lookup timeout starts once the limiter lets the request through
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("icd10: lookup %q: rate limit wait: %w", code, err)
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.SearchURL(code), nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	rid := uuid.New().String()
	req.Header.Set(RequestIDHeader, rid)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	evt := c.logger.Debug().
		Str("request_id", rid).
		Str("code", code).
		Dur("latency", time.Since(start))
	if err != nil {
		evt.Err(err).Msg("icd10 lookup failed")
		return nil, fmt.Errorf("icd10: lookup %q: %w", code, err)
	}
	defer resp.Body.Close()
	evt.Int("status", resp.StatusCode).Msg("icd10 lookup")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Code: code}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("icd10: read lookup %q: %w", code, err)
	}
	m, err := ParseSearchResponse(body)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", code, err)
	}
	return m, nil
}
