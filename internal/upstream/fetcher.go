// Package upstream issues the outbound request to the media origin.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

var (
	ErrRedirectBlocked  = errors.New("redirect to disallowed host")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// StatusError is a response from the origin outside the 2xx range.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Status)
}

// TransportError covers everything that kept a response from arriving:
// DNS, connect, TLS, timeouts and refused redirects.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type HostGuard interface {
	IsAllowedHost(host string) bool
}

type Options struct {
	// Timeout bounds connect, TLS handshake and time to response headers.
	// Body transfer is bounded by the caller's context; the segment handler
	// cancels it when the body stalls.
	Timeout      time.Duration
	UserAgent    string
	MaxRedirects int
	// Guard re-checks every redirect target. Nil skips the check.
	Guard HostGuard
	// DialControl runs against each resolved address before connecting.
	DialControl func(network, address string, c syscall.RawConn) error
}

type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	// URL is the final location after redirects.
	URL *url.URL
}

type Client struct {
	http      *http.Client
	userAgent string
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}

	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
		Control:   opts.DialControl,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          1024,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
	}

	guard := opts.Guard
	maxRedirects := opts.MaxRedirects
	return &Client{
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				if guard != nil && !guard.IsAllowedHost(req.URL.Hostname()) {
					return fmt.Errorf("%w: %s", ErrRedirectBlocked, req.URL.Hostname())
				}
				return nil
			},
		},
		userAgent: opts.UserAgent,
	}
}

// Fetch performs a single attempt against targetURL. Only User-Agent and
// Cookie are taken from forwarded. A non-2xx status closes the body and
// returns *StatusError; the caller owns Body otherwise.
func (c *Client) Fetch(ctx context.Context, targetURL, method string, forwarded http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return nil, &TransportError{URL: targetURL, Err: err}
	}

	userAgent := forwarded.Get("User-Agent")
	if userAgent == "" {
		userAgent = c.userAgent
	}
	req.Header.Set("User-Agent", userAgent)
	if cookie := forwarded.Get("Cookie"); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: targetURL, Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		_ = res.Body.Close()
		return nil, &StatusError{Status: res.StatusCode, URL: targetURL}
	}

	return &Response{
		Status: res.StatusCode,
		Header: res.Header,
		Body:   res.Body,
		URL:    res.Request.URL,
	}, nil
}
