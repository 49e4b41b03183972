// Package duo implements a client for the Duo Auth API v2. It signs every
// request with the integration's secret key and exposes the health check,
// preauth capability check, and the asynchronous push authentication flow
// (start a challenge, then poll its status until the user allows or
// denies it on their device).
package duo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	checkPath      = "/auth/v2/check"
	preauthPath    = "/auth/v2/preauth"
	authPath       = "/auth/v2/auth"
	authStatusPath = "/auth/v2/auth_status"

	// defaultPollInterval is the documented wait between status polls for
	// an in-flight async authentication.
	defaultPollInterval = 2 * time.Second
)

// Client talks to one Duo API integration. All fields are fixed at
// construction, so a single Client is safe for concurrent use; concurrent
// operations share only the HTTP client's connection pool.
type Client struct {
	baseURL *url.URL
	ikey    string
	skey    string

	httpClient   *http.Client
	pollInterval time.Duration
	now          func() time.Time
}

// Option customizes a Client at construction time.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all API calls, e.g. one
// configured with a proxy. The client must be safe for concurrent use.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPollInterval overrides the wait between authentication status
// polls. Values <= 0 keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New creates a client for the given API domain and integration
// credentials. The domain must be an absolute URL with a host, e.g.
// "https://api-xxxxxxxx.duosecurity.com".
func New(apiDomain, ikey, skey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(apiDomain)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("malformed API domain %q: %v", apiDomain, err)}
	}
	if u.Host == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("API domain %q has no host", apiDomain)}
	}

	c := &Client{
		baseURL:      u,
		ikey:         ikey,
		skey:         skey,
		httpClient:   &http.Client{},
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check verifies connectivity and credentials against the health
// endpoint and returns the upstream server time as a Unix timestamp.
func (c *Client) Check(ctx context.Context) (int64, error) {
	res, err := call[checkResult](ctx, c, http.MethodGet, checkPath, &Parameters{})
	if err != nil {
		return 0, err
	}
	return res.Time, nil
}

// Preauth asks the upstream service whether and how the given user can
// authenticate, without starting a challenge.
func (c *Client) Preauth(ctx context.Context, userID string) (*PreauthResult, error) {
	var params Parameters
	params.Set("user_id", userID)

	res, err := call[PreauthResult](ctx, c, http.MethodPost, preauthPath, &params)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Auth starts an asynchronous push authentication for the user and polls
// its status until the user resolves it. It returns true when the user
// allowed the request and false when they denied it. shareN is shown on
// the user's device as "Share {n}" to identify what is being authorized.
//
// The challenge is started exactly once; a failed start is never retried
// because that would push a duplicate prompt to the user's device. There
// is no client-side deadline: the loop runs until the upstream service
// resolves or expires the challenge, or ctx is cancelled.
func (c *Client) Auth(ctx context.Context, userID string, shareN int) (bool, error) {
	txid, err := c.requestAuth(ctx, userID, shareN)
	if err != nil {
		return false, err
	}
	log.WithFields(log.Fields{"txid": txid}).Debug("authentication started, polling for resolution")

	for attempt := 1; ; attempt++ {
		status, err := c.requestAuthStatus(ctx, txid)
		if err != nil {
			return false, err
		}
		switch status {
		case statusAllowed:
			return true, nil
		case statusDenied:
			return false, nil
		}

		log.WithFields(log.Fields{"txid": txid, "attempt": attempt}).Debug("authentication still pending")
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// requestAuth starts an async authentication challenge for the user and
// returns its transaction ID. The upstream service pushes an approval
// prompt to the user's device as a side effect.
func (c *Client) requestAuth(ctx context.Context, userID string, shareN int) (string, error) {
	var params Parameters
	params.Set("user_id", userID)
	params.Set("factor", "auto")
	params.Set("async", "1")
	params.Set("type", "Authorize share")
	params.Set("device", "auto")
	params.Set("display_username", fmt.Sprintf("Share %d", shareN))

	res, err := call[authResult](ctx, c, http.MethodPost, authPath, &params)
	if err != nil {
		return "", err
	}
	return res.TxID, nil
}

// requestAuthStatus fetches the current status of the challenge
// identified by txid. Safe to call repeatedly with the same txid.
func (c *Client) requestAuthStatus(ctx context.Context, txid string) (authStatus, error) {
	var params Parameters
	params.Set("txid", txid)

	res, err := call[authStatusResult](ctx, c, http.MethodGet, authStatusPath, &params)
	if err != nil {
		return statusPending, err
	}

	switch res.Result {
	case "waiting":
		return statusPending, nil
	case "allow":
		return statusAllowed, nil
	case "deny":
		return statusDenied, nil
	default:
		return statusPending, &UnexpectedResultError{Result: res.Result}
	}
}

// call builds, signs and executes one API request and decodes the
// enveloped payload of type T. Every endpoint goes through here so the
// error taxonomy is applied uniformly.
func call[T any](ctx context.Context, c *Client, method, path string, params *Parameters) (T, error) {
	var zero T

	req, err := c.newRequest(ctx, method, path, params)
	if err != nil {
		return zero, err
	}

	requestID := uuid.NewString()[:8]
	logger := log.WithFields(log.Fields{"request_id": requestID, "method": method, "path": path})
	logger.Debug("calling Duo API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, &TransportError{Op: path, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, &TransportError{Op: path, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		upErr := upstreamError(resp.StatusCode, body)
		logger.WithFields(log.Fields{"status": resp.StatusCode, "error": upErr.Message}).Debug("Duo API rejected the request")
		return zero, upErr
	}

	var env envelope[T]
	if err = json.Unmarshal(body, &env); err != nil {
		return zero, &DecodeError{Err: err}
	}
	// A 200 whose envelope is not OK is still an upstream failure; the
	// payload must not be trusted.
	if env.Stat != "OK" {
		upErr := &UpstreamError{StatusCode: resp.StatusCode, Body: body}
		if env.Code != nil {
			upErr.Code = *env.Code
		}
		if env.Message != nil {
			upErr.Message = *env.Message
		}
		return zero, upErr
	}
	return env.Response, nil
}

// upstreamError builds an UpstreamError from a non-200 response,
// extracting the upstream code and message when the body happens to be a
// well-formed error envelope.
func upstreamError(statusCode int, body []byte) *UpstreamError {
	upErr := &UpstreamError{StatusCode: statusCode, Body: body}
	if code := gjson.GetBytes(body, "code"); code.Exists() {
		upErr.Code = code.Int()
	}
	if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String {
		upErr.Message = msg.String()
	}
	return upErr
}
