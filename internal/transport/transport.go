// Package transport implements the one bounded network call every backend
// request goes through.
//
// Each attempt gets its own deadline. An attempt that times out is retried
// immediately while retries remain; every other failure is returned at
// once. Bodies are read in full as raw bytes before any decoding, and a
// non-2xx status always becomes an *errs.Error of kind ErrKindServer.
//
// Usage:
//
//	client, err := transport.New(transport.DefaultConfig("http://localhost:5000"))
//	env, err := transport.Call(ctx, client, transport.Request{
//	    Method:  http.MethodGet,
//	    Path:    "/summary-data",
//	    Retries: 2,
//	}, transport.DecodeEnvelope)
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/logger"
)

const (
	// RequestIDHeader carries the client-side operation id.
	RequestIDHeader = "X-Request-ID"

	msgOffline = "You appear to be offline. Check your connection and try again."
	msgNetwork = "Network error: could not reach the server."
	msgAborted = "Request was aborted."
)

// Config holds the settings shared by all requests of one Client.
type Config struct {
	// BaseURL is the backend root, e.g. "http://localhost:5000".
	BaseURL string

	// Timeout bounds each attempt when the Request does not set its own.
	Timeout time.Duration

	// HTTPClient is used for all attempts. Its own Timeout should be zero;
	// deadlines come from the per-attempt context.
	HTTPClient *http.Client

	// Connectivity tells offline failures apart from other network errors.
	Connectivity Connectivity

	Logger *logger.Logger
}

// DefaultConfig returns a 30 s per-attempt timeout against baseURL.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:      baseURL,
		Timeout:      30 * time.Second,
		HTTPClient:   &http.Client{},
		Connectivity: InterfaceProbe,
	}
}

// Client sends Requests to one backend. Safe for concurrent use.
type Client struct {
	base    *url.URL
	timeout time.Duration
	http    *http.Client
	online  Connectivity
	log     *logger.Logger
}

// New validates cfg and builds a Client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errs.New(errs.ErrKindConfig, "transport config is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errs.Wrap(errs.ErrKindConfig, "invalid backend URL "+cfg.BaseURL, err)
	}

	c := &Client{
		base:    base,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		online:  cfg.Connectivity,
		log:     cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.online == nil {
		c.online = InterfaceProbe
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.Component("transport")
	return c, nil
}

// Request describes one logical call. Body is replayed on every attempt.
type Request struct {
	Method      string
	Path        string
	Body        []byte
	ContentType string
	Retries     int           // extra attempts after a timed-out attempt
	Timeout     time.Duration // per attempt; 0 means the client default
	RequestID   string
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Attempts   int
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decoder turns a 2xx Response into a typed value.
type Decoder[T any] func(*Response) (T, error)

// Call performs req and decodes the result with decode.
func Call[T any](ctx context.Context, c *Client, req Request, decode Decoder[T]) (T, error) {
	var zero T
	resp, err := c.Do(ctx, req)
	if err != nil {
		return zero, err
	}
	return decode(resp)
}

// Do runs the retry loop. On a non-2xx status it returns both the Response
// and an ErrKindServer error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target := c.base.JoinPath(req.Path).String()
	attempts := req.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	log := c.log.ForRequest(req.RequestID).With().
		Str("method", req.Method).
		Str("path", req.Path).
		Logger()

	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, req, target)
		if err == nil {
			resp.Attempts = attempt
			if !resp.OK() {
				serr := ServerError(resp)
				log.WarnWith("backend returned an error status", serr, map[string]interface{}{
					"status":   resp.StatusCode,
					"attempts": attempt,
				})
				return resp, serr
			}
			log.Debugf("request completed in %d attempt(s)", attempt)
			return resp, nil
		}

		if !errs.IsTimeout(err) || ctx.Err() != nil || attempt >= attempts {
			log.WarnWith("request failed", err, map[string]interface{}{"attempts": attempt})
			return nil, err
		}
		log.WarnWith("attempt timed out, retrying", err, map[string]interface{}{
			"attempt":  attempt,
			"attempts": attempts,
		})
	}
}

func (c *Client) attempt(ctx context.Context, req Request, target string) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(actx, req.Method, target, body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindValidation, "could not build request", err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.RequestID != "" {
		httpReq.Header.Set(RequestIDHeader, req.RequestID)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classify(ctx, actx, timeout, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, c.classify(ctx, actx, timeout, err)
	}

	return &Response{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Header:     res.Header,
		Body:       raw,
	}, nil
}

// classify maps a failed attempt to Timeout or Network. The caller's own
// cancellation is reported as an abort and is never retried.
func (c *Client) classify(parent, attempt context.Context, timeout time.Duration, err error) *errs.Error {
	if perr := parent.Err(); perr != nil {
		if errors.Is(perr, context.DeadlineExceeded) {
			return errs.Wrap(errs.ErrKindTimeout, "Request timed out.", err)
		}
		return errs.Wrap(errs.ErrKindTimeout, msgAborted, err)
	}

	var nerr net.Error
	if errors.Is(attempt.Err(), context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return errs.Wrap(errs.ErrKindTimeout, fmt.Sprintf("Request timed out after %s.", timeout), err)
	}

	if !c.online.Online() {
		return errs.Wrap(errs.ErrKindNetwork, msgOffline, err)
	}
	return errs.Wrap(errs.ErrKindNetwork, msgNetwork, err)
}
