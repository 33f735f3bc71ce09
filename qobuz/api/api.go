// Package api implements the signed catalog client: metadata lookup, session
// login, and track resolution with quality negotiation.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/qbzgrab/qbzgrab/httputil"
	"github.com/qbzgrab/qbzgrab/qobuz/auth"
	"github.com/qbzgrab/qbzgrab/qobuz/signer"
)

const (
	DefaultBaseURL = "https://www.qobuz.com/api.json/0.2"

	defaultRequestTimeout   = 5 * time.Second
	defaultRetryAfterSecs   = 30
	requestsPerSecond       = 5
	requestBurst            = 5
	invalidSignatureMessage = "Invalid Request Signature parameter"
)

var (
	// ErrNotFound means the catalog has no such resource. Permanent.
	ErrNotFound = errors.New("resource not found")
	// ErrAuthRequired means the application or session credentials were
	// rejected. The caller decides whether to invalidate and retry.
	ErrAuthRequired = errors.New("authentication required")
	// ErrTransient marks upstream failures worth retrying: 5xx responses and
	// torn connections.
	ErrTransient = errors.New("transient upstream failure")
)

// RateLimitedError carries the server-issued throttle delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for %s", e.RetryAfter)
}

type Options struct {
	BaseURL       string
	UserAuthToken string
	Timeout       time.Duration
	// ResolveTimeout bounds track resolution calls separately from metadata
	// calls. Zero means Timeout applies.
	ResolveTimeout time.Duration
}

// Client is safe for concurrent use. All calls share one pacing limiter so
// parallel track downloads cannot stampede the catalog.
type Client struct {
	baseURL        string
	userAuthToken  string
	timeout        time.Duration
	resolveTimeout time.Duration
	limiter        *rate.Limiter
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = opts.Timeout
	}

	return &Client{
		baseURL:        opts.BaseURL,
		userAuthToken:  opts.UserAuthToken,
		timeout:        opts.Timeout,
		resolveTimeout: opts.ResolveTimeout,
		limiter:        rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
	}
}

// SetUserAuthToken attaches a session token to all subsequent calls. Intended
// for the login flow, before any concurrent use starts.
func (c *Client) SetUserAuthToken(token string) {
	c.userAuthToken = token
}

func (c *Client) get(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	endpoint string,
	query url.Values,
) ([]byte, error) {
	reqURL := c.baseURL + "/" + endpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		return nil, fmt.Errorf("create %s request: %w", endpoint, err)
	}

	return c.do(ctx, logger, creds, req)
}

// getSigned issues a signed request: params must already be in the endpoint's
// mandated order, and end up in the query alongside request_ts/request_sig.
func (c *Client) getSigned(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	endpoint string,
	params []signer.Param,
) ([]byte, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := signer.Sign(endpoint, params, creds.AppSecret, ts)
	if nil != err {
		return nil, fmt.Errorf("sign %s request: %w", endpoint, err)
	}

	query := make(url.Values, len(params)+2)
	for _, p := range params {
		query.Set(p.Key, p.Value)
	}
	query.Set("request_ts", ts)
	query.Set("request_sig", sig)

	return c.get(ctx, logger, creds, endpoint, query)
}

func (c *Client) postForm(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	endpoint string,
	form url.Values,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/"+endpoint,
		strings.NewReader(form.Encode()),
	)
	if nil != err {
		return nil, fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(ctx, logger, creds, req)
}

func (c *Client) do(
	ctx context.Context,
	logger zerolog.Logger,
	creds *auth.Credentials,
	req *http.Request,
) (b []byte, err error) {
	if err := c.limiter.Wait(ctx); nil != err {
		return nil, fmt.Errorf("wait for request slot: %w", err)
	}

	req.Header.Set("X-App-Id", creds.AppID)
	if c.userAuthToken != "" {
		req.Header.Set("X-User-Auth-Token", c.userAuthToken)
	}

	client := http.Client{Timeout: c.timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("%w: issue request: %v", ErrTransient, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close response body")
			err = errors.Join(err, fmt.Errorf("close response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; code {
	case http.StatusOK:
		respBytes, err := httputil.ReadResponseBody(resp)
		if nil != err {
			return nil, fmt.Errorf("%w: read 200 response body: %v", ErrTransient, err)
		}

		return respBytes, nil
	case http.StatusBadRequest:
		respBytes, err := io.ReadAll(resp.Body)
		if nil != err {
			return nil, fmt.Errorf("read 400 response body: %w", err)
		}

		if env, ok, envErr := httputil.ParseErrorEnvelope(respBytes); nil == envErr && ok {
			if strings.Contains(env.Message, invalidSignatureMessage) {
				return nil, fmt.Errorf("%w: %s", ErrAuthRequired, env.Message)
			}

			if env.Code.Present && env.Code.Value == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, env.Message)
			}

			return nil, fmt.Errorf("request rejected: %s", env.Message)
		}

		logger.Error().Bytes("response_body", respBytes).Msg("Unexpected 400 response")

		return nil, fmt.Errorf("received unknown 400 response with body: %s", string(respBytes))
	case http.StatusUnauthorized:
		return nil, ErrAuthRequired
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		retryAfter := httputil.RetryAfter(resp, defaultRetryAfterSecs)

		return nil, &RateLimitedError{RetryAfter: time.Duration(retryAfter) * time.Second}
	default:
		respBytes, err := io.ReadAll(resp.Body)
		if nil != err {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		if code >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: status code %d with body: %s", ErrTransient, code, string(respBytes))
		}

		logger.Error().Int("status_code", code).Bytes("response_body", respBytes).Msg("Unexpected response status code")

		return nil, fmt.Errorf("unexpected status code %d with body: %s", code, string(respBytes))
	}
}
