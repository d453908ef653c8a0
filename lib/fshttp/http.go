// Package fshttp contains the common http parts of the config, Transport and Client
package fshttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/pcloudkit/pcloud/lib/log"
	"golang.org/x/time/rate"
)

const (
	separatorReq  = ">>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>"
	separatorResp = "<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<"
)

// Options controls the http.Client returned by NewClient
type Options struct {
	ConnectTimeout time.Duration // Connect timeout
	// Timeout is the time to wait for response headers.  Keep it 0
	// or above any long poll block timeout.
	Timeout       time.Duration
	UserAgent     string
	TPSLimit      float64  // limit transactions per second, 0 to disable
	TPSLimitBurst int      // burst for TPSLimit
	Dump          bool     // dump requests and responses at debug level
	Metrics       *Metrics // may be nil
}

// DefaultOptions returns the defaults used when no Options are given
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 60 * time.Second,
		UserAgent:      "pcloud-go",
		TPSLimitBurst:  1,
	}
}

// NewTransportCustom returns an http.RoundTripper with the correct timeouts.
// The customize function is called if set to give the caller an opportunity to
// customize any defaults in the Transport.
func NewTransportCustom(opt Options, customize func(*http.Transport)) *Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = http.ProxyFromEnvironment
	t.TLSHandshakeTimeout = opt.ConnectTimeout
	t.ResponseHeaderTimeout = opt.Timeout
	t.DialContext = NewDialer(opt).DialContext
	t.IdleConnTimeout = 60 * time.Second

	// customize the transport if required
	if customize != nil {
		customize(t)
	}

	// Wrap that http.Transport in our own transport
	return newTransport(opt, t)
}

// NewClient returns an http.Client with the correct timeouts
func NewClient(opt Options) *http.Client {
	return &http.Client{
		Transport: NewTransportCustom(opt, nil),
	}
}

// Transport is our http Transport which wraps an http.RoundTripper
// * Sets the User Agent
// * Limits transactions per second
// * Does logging
// * Counts status codes
type Transport struct {
	wrapped   http.RoundTripper
	base      *http.Transport
	userAgent string
	dump      bool
	tpsBucket *rate.Limiter // for limiting number of http transactions per second
	metrics   *Metrics
}

// newTransport wraps the http.Transport passed in
func newTransport(opt Options, transport *http.Transport) *Transport {
	t := &Transport{
		wrapped:   transport,
		base:      transport,
		userAgent: opt.UserAgent,
		dump:      opt.Dump,
		metrics:   opt.Metrics,
	}
	if opt.TPSLimit > 0 {
		burst := opt.TPSLimitBurst
		if burst < 1 {
			burst = 1
		}
		t.tpsBucket = rate.NewLimiter(rate.Limit(opt.TPSLimit), burst)
		log.Infof(nil, "Starting HTTP transaction limiter: max %g transactions/s with burst %d", opt.TPSLimit, burst)
	}
	return t
}

// Base returns the underlying http.Transport
func (t *Transport) Base() *http.Transport {
	return t.base
}

// CloseIdleConnections closes idle connections of the base transport
func (t *Transport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}

// RoundTrip implements the RoundTripper interface.
func (t *Transport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	// Get transactions per second token first if limiting
	if t.tpsBucket != nil {
		tbErr := t.tpsBucket.Wait(req.Context())
		if tbErr != nil && !errors.Is(tbErr, context.Canceled) {
			log.Errorf(nil, "HTTP token bucket error: %v", tbErr)
		}
	}
	// RoundTrippers must not modify the request
	req = req.Clone(req.Context())
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if t.dump {
		buf, _ := httputil.DumpRequestOut(req, false)
		log.Debugf(nil, "%s", separatorReq)
		log.Debugf(nil, "%s (req %p)", "HTTP REQUEST", req)
		log.Debugf(nil, "%s", string(cleanQueryAuth(cleanAuths(buf))))
		log.Debugf(nil, "%s", separatorReq)
	}
	resp, err = t.wrapped.RoundTrip(req)
	if t.dump {
		log.Debugf(nil, "%s", separatorResp)
		log.Debugf(nil, "%s (req %p)", "HTTP RESPONSE", req)
		if err != nil {
			log.Debugf(nil, "Error: %v", err)
		} else {
			buf, _ := httputil.DumpResponse(resp, false)
			log.Debugf(nil, "%s", string(buf))
		}
		log.Debugf(nil, "%s", separatorResp)
	}
	t.metrics.onResponse(req, resp)
	return resp, err
}

// NewDialer creates a net.Dialer structure with Timeout and Keepalive
func NewDialer(opt Options) *net.Dialer {
	return &net.Dialer{
		Timeout:   opt.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
}
