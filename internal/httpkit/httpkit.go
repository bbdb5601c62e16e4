// Package httpkit builds the HTTP clients used for every outbound
// request: pooled connections, bounded handshake and header waits, a
// project User-Agent, and optional reconnect retries for endpoints
// that restart underneath us.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/buildinfo"
)

// DefaultTimeout is the whole-request deadline applied when Options
// leaves Timeout zero and NoTimeout unset.
const DefaultTimeout = 30 * time.Second

// Options configures NewClient. The zero value yields a pooled client
// with DefaultTimeout and the project User-Agent.
type Options struct {
	// Timeout bounds the whole request, body included. Zero means
	// DefaultTimeout; set NoTimeout for requests whose duration is
	// governed by the context instead (model calls can legitimately
	// run for minutes).
	Timeout   time.Duration
	NoTimeout bool

	// Transport replaces the default pooled transport. Callers that
	// need a tweaked transport should start from NewTransport so the
	// pool limits stay consistent.
	Transport *http.Transport

	// RetryConnect retries a request this many extra times when the
	// connection itself could not be established (refused, host or
	// network unreachable). Those failures happen before any byte
	// reaches the server, so the retry cannot duplicate work there.
	// Zero disables retries.
	RetryConnect int

	// RetryDelay is the pause before each connect retry.
	RetryDelay time.Duration

	// Logger receives retry diagnostics. Nil means silent retries.
	Logger *slog.Logger
}

// NewTransport returns the pooled transport all clients share the
// shape of: bounded dial, TLS, and header waits, a small idle pool.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client per opts. Every client sends the
// project User-Agent unless the request already carries one.
func NewClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout == 0 && !opts.NoTimeout {
		timeout = DefaultTimeout
	}
	if opts.NoTimeout {
		timeout = 0
	}

	base := opts.Transport
	if base == nil {
		base = NewTransport()
	}

	var rt http.RoundTripper = &agentTransport{next: base}
	if opts.RetryConnect > 0 {
		rt = &reconnectTransport{
			next:    rt,
			retries: opts.RetryConnect,
			delay:   opts.RetryDelay,
			logger:  opts.Logger,
		}
	}

	return &http.Client{Timeout: timeout, Transport: rt}
}

// agentTransport stamps the project User-Agent on requests that lack
// one. The request is cloned first; RoundTrippers must not mutate
// their input.
type agentTransport struct {
	next http.RoundTripper
}

func (t *agentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", buildinfo.UserAgent())
	}
	return t.next.RoundTrip(req)
}

// reconnectTransport re-sends requests whose connection never came up.
// A request with a body is only retried when GetBody can rewind it.
type reconnectTransport struct {
	next    http.RoundTripper
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

func (t *reconnectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)

	for attempt := 1; attempt <= t.retries; attempt++ {
		if err == nil || !connectFailed(err) {
			return resp, err
		}
		if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			return resp, err
		}
		if t.logger != nil {
			t.logger.Debug("connection failed, retrying request",
				"url", req.URL.String(),
				"attempt", attempt,
				"retries", t.retries,
				"error", err,
			)
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		retry := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("rewind request body for retry: %w", bodyErr)
			}
			retry.Body = body
		}
		resp, err = t.next.RoundTrip(retry)
	}
	return resp, err
}

// connectFailed reports whether err means the TCP connection was never
// established. ECONNRESET is deliberately absent: a reset can arrive
// after the server acted on the request, and retrying would repeat the
// side effect. errors.As walks through net.OpError wrappers on its own.
func connectFailed(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		return true
	}
	return false
}

// DrainAndClose consumes up to limit leftover bytes and closes the
// body so the connection goes back to the pool instead of being torn
// down.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns up to limit bytes of an error response body
// for diagnostics, draining and closing the rest.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(error body unreadable: %v)", err)
	}
	return string(body)
}
