// Package transport implements C4: a one-shot request helper that never
// panics or returns an error (failures are synthesized as a 500
// Response), and a long-poll/batching primitive used by the communicator
// for its request loops.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"endpointagent/internal/model"
	"endpointagent/internal/pkg/logger"
)

// DialFunc is the injectable resolver/socket seam: tests substitute a
// fake dialer instead of touching the real network.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Client wraps *http.Client with the agent's default headers and an
// injectable dial function.
type Client struct {
	http      *http.Client
	userAgent string
}

// Options configures a new Client.
type Options struct {
	UserAgent   string
	DialContext DialFunc
	TLSConfig   *tls.Config
	Timeout     time.Duration
}

// New builds a Client. A nil DialContext uses the default net.Dialer.
func New(opts Options) *Client {
	dial := opts.DialContext
	if dial == nil {
		d := &net.Dialer{Timeout: 10 * time.Second}
		dial = d.DialContext
	}
	transport := &http.Transport{
		DialContext:     dial,
		TLSClientConfig: opts.TLSConfig,
	}
	// opts.Timeout of 0 is intentional: long-poll requests must not be
	// bounded by a client-wide timeout, only by the request's own context.
	ua := opts.UserAgent
	if ua == "" {
		ua = "endpoint-agent/0.1"
	}
	return &Client{http: &http.Client{Transport: transport, Timeout: opts.Timeout}, userAgent: ua}
}

// Params describes a one-shot request.
type Params struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        []byte
	BasicUser   string
	BasicPass   string
	BearerToken string
}

// Response is the result of Perform. Perform never returns an error: a
// connect/write/read failure is reported as a synthetic 500 whose body
// carries the error text.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

func (c *Client) buildRequest(ctx context.Context, p Params, body []byte) (*http.Request, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.BearerToken)
	} else if p.BasicUser != "" {
		req.SetBasicAuth(p.BasicUser, p.BasicPass)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Perform issues a single synchronous request and always returns a
// Response, synthesizing a 500 on any failure instead of propagating an
// error, so callers never need a parallel error-handling path for the
// one-shot entry point.
func (c *Client) Perform(ctx context.Context, p Params) *Response {
	req, err := c.buildRequest(ctx, p, p.Body)
	if err != nil {
		return synthesize500(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return synthesize500(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return synthesize500(err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Headers: resp.Header}
}

func synthesize500(err error) *Response {
	return &Response{StatusCode: 500, Body: []byte(err.Error())}
}

// CoPerformOptions configures the long-poll/batching primitive.
type CoPerformOptions struct {
	Method           string
	URL              func() string
	Token            *model.TokenState
	MessageGetter    func(ctx context.Context) ([]byte, error)
	OnSuccess        func(body []byte)
	OnUnauth         func()
	RetryInterval    time.Duration
	BatchingInterval time.Duration
	// LoopCondition, when non-nil, is consulted after each iteration; a
	// nil LoopCondition means single-shot.
	LoopCondition func() bool
}

// CoPerform is the long-poll / batching primitive behind C5's request
// loops. Each iteration: build the body via MessageGetter (if
// any), attach the current bearer (re-read every iteration so a token
// rotation is observed immediately), perform the request, dispatch
// OnSuccess/OnUnauth by status, then sleep before looping.
func (c *Client) CoPerform(ctx context.Context, opts CoPerformOptions) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var body []byte
		if opts.MessageGetter != nil {
			b, err := opts.MessageGetter(ctx)
			if err != nil {
				logger.Warnf("co_perform message getter failed: %v", err)
				if !sleepOrDone(ctx, opts.RetryInterval) {
					return ctx.Err()
				}
				if !keepLooping(opts.LoopCondition) {
					return nil
				}
				continue
			}
			body = b
		}

		params := Params{Method: opts.Method, URL: opts.URL()}
		req, err := c.buildRequest(ctx, params, body)
		if err != nil {
			logger.Warnf("co_perform build request failed: %v", err)
			if !sleepOrDone(ctx, opts.RetryInterval) {
				return ctx.Err()
			}
			if !keepLooping(opts.LoopCondition) {
				return nil
			}
			continue
		}
		if opts.Token != nil {
			if bearer, _ := opts.Token.Get(); bearer != "" {
				req.Header.Set("Authorization", "Bearer "+bearer)
			}
		}

		sleep := opts.BatchingInterval
		resp, err := c.http.Do(req)
		if err != nil {
			logger.Warnf("co_perform request failed: %v", err)
			sleep = opts.RetryInterval
		} else {
			respBody, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				logger.Warnf("co_perform read failed: %v", readErr)
				sleep = opts.RetryInterval
			case resp.StatusCode == http.StatusOK:
				if opts.OnSuccess != nil {
					opts.OnSuccess(respBody)
				}
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				if opts.OnUnauth != nil {
					opts.OnUnauth()
				}
				sleep = opts.RetryInterval
			default:
				sleep = opts.RetryInterval
			}
		}

		if !sleepOrDone(ctx, sleep) {
			return ctx.Err()
		}
		if !keepLooping(opts.LoopCondition) {
			return nil
		}
	}
}

func keepLooping(cond func() bool) bool {
	if cond == nil {
		return false
	}
	return cond()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type authUUIDKeyResponse struct {
	Token string `json:"token"`
}

// AuthenticateUUIDKey implements the §4.4 uuid/key authentication helper.
func (c *Client) AuthenticateUUIDKey(ctx context.Context, baseURL, uuid, key string) (string, bool) {
	payload, err := json.Marshal(map[string]string{"uuid": uuid, "key": key})
	if err != nil {
		return "", false
	}
	resp := c.Perform(ctx, Params{
		Method: http.MethodPost,
		URL:    baseURL + "/api/v1/authentication",
		Body:   payload,
	})
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	var out authUUIDKeyResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.Token == "" {
		return "", false
	}
	return out.Token, true
}

type authUserPasswordResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// AuthenticateUserPassword implements the §4.4 user/password helper.
func (c *Client) AuthenticateUserPassword(ctx context.Context, baseURL, user, password string) (string, bool) {
	resp := c.Perform(ctx, Params{
		Method:    http.MethodPost,
		URL:       baseURL + "/security/user/authenticate",
		BasicUser: user,
		BasicPass: password,
	})
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	var out authUserPasswordResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.Data.Token == "" {
		return "", false
	}
	return out.Data.Token, true
}

// Download streams a GET response body to dstPath, for the §4.4
// download(params, dst_path) helper (e.g. fetching group overlay files).
func (c *Client) Download(ctx context.Context, p Params, dstPath string) error {
	req, err := c.buildRequest(ctx, p, nil)
	if err != nil {
		return fmt.Errorf("download: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	f, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("download: create dst: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("download: copy: %w", err)
	}
	return nil
}
