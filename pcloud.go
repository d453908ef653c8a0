// Package pcloud is a client for the pcloud REST API built around the
// account change stream.
package pcloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pcloudkit/pcloud/api"
	"github.com/pcloudkit/pcloud/events"
	"github.com/pcloudkit/pcloud/lib/fshttp"
	"github.com/pcloudkit/pcloud/lib/log"
	"github.com/pcloudkit/pcloud/lib/neterrors"
	"github.com/pcloudkit/pcloud/lib/pacer"
	"github.com/pcloudkit/pcloud/lib/rest"
	"golang.org/x/oauth2"
)

const (
	minSleep      = 10 * time.Millisecond
	maxSleep      = 2 * time.Second
	decayConstant = 2 // bigger for slower decay, exponential

	// DefaultHostname is the API host for accounts in the US region.
	// Accounts in the EU region use "eapi.pcloud.com".
	DefaultHostname = "api.pcloud.com"
)

// Version of the module, reported in the User-Agent of the commands
var Version = "v0.1.0-DEV"

// ErrClosed is returned by calls made after Close
var ErrClosed = errors.New("pcloud: client closed")

// Options configures a Client
type Options struct {
	Hostname    string // host or URL of the API, DefaultHostname if empty
	AccessToken string // OAuth2 access token, sent as a bearer token
	AuthToken   string // session token, sent as the auth parameter
	// Logout revokes AuthToken on Close
	Logout bool
	// NoServerLookup keeps Hostname instead of asking /getapiserver
	// for the nearest API server
	NoServerLookup bool
	// Retries is the number of tries of each call, 0 for the pacer
	// default of 10
	Retries int
	HTTP    fshttp.Options
}

// Client is a connection to pcloud
type Client struct {
	opt       Options
	srv       *rest.Client
	pacer     *pacer.Pacer
	transport *fshttp.Transport

	mu     sync.Mutex
	closed bool
}

// retryErrorCodes is a slice of error codes that we will retry
var retryErrorCodes = []int{
	429, // Too Many Requests.
	500, // Internal Server Error
	502, // Bad Gateway
	503, // Service Unavailable
	504, // Gateway Timeout
	509, // Bandwidth Limit Exceeded
}

// shouldRetry returns a boolean as to whether this resp and err
// deserve to be retried.  It returns the err as a convenience
func shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if neterrors.ContextError(ctx, &err) {
		return false, err
	}
	doRetry := false

	// See https://docs.pcloud.com/errors/ for error treatment
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Result / 1000 {
		case 4: // 4xxx: rate limiting
			doRetry = true
		case 5: // 5xxx: internal errors
			doRetry = true
		}
	}
	return doRetry || neterrors.ShouldRetry(err) || neterrors.ShouldRetryHTTP(resp, retryErrorCodes), err
}

// Retryable reports whether an error returned by the client may
// succeed if the call is made again later
func Retryable(err error) bool {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		for _, code := range retryErrorCodes {
			if apiErr.Result == code {
				return true
			}
		}
	}
	retry, _ := shouldRetry(context.Background(), nil, err)
	return retry
}

// errorHandler parses a non 2xx error response into an error
func errorHandler(resp *http.Response) error {
	errResponse := new(api.Error)
	err := rest.DecodeJSON(resp, &errResponse)
	if err != nil {
		log.Debugf(nil, "Couldn't decode error response: %v", err)
	}
	if errResponse.ErrorString == "" {
		errResponse.ErrorString = resp.Status
	}
	if errResponse.Result == 0 {
		errResponse.Result = resp.StatusCode
	}
	return errResponse
}

// rootURL turns a hostname into the API root, keeping any scheme
// given and using https otherwise
func rootURL(host, scheme string) string {
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	return scheme + "://" + strings.TrimRight(host, "/")
}

// New connects to pcloud with opt
//
// Unless NoServerLookup is set the nearest API server is looked up
// first and used for all further calls.
func New(ctx context.Context, opt Options) (*Client, error) {
	if opt.Hostname == "" {
		opt.Hostname = DefaultHostname
	}
	transport := fshttp.NewTransportCustom(opt.HTTP, nil)
	var rt http.RoundTripper = transport
	if opt.AccessToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opt.AccessToken}),
			Base:   transport,
		}
	}
	pacerOpts := []pacer.Option{pacer.MinSleep(minSleep), pacer.MaxSleep(maxSleep), pacer.DecayConstant(decayConstant)}
	if opt.Retries > 0 {
		pacerOpts = append(pacerOpts, pacer.Retries(opt.Retries))
	}
	c := &Client{
		opt:       opt,
		srv:       rest.NewClient(&http.Client{Transport: rt}).SetRoot(rootURL(opt.Hostname, "https")),
		pacer:     pacer.New(pacerOpts...),
		transport: transport,
	}
	c.srv.SetErrorHandler(errorHandler)
	if opt.AuthToken != "" {
		c.srv.SetParameter("auth", opt.AuthToken)
	}
	if !opt.NoServerLookup {
		if err := c.useBestAPIServer(ctx); err != nil {
			return nil, fmt.Errorf("failed to find pcloud API server: %w", err)
		}
	}
	return c, nil
}

// String describes the client
func (c *Client) String() string {
	return "pcloud " + c.Root()
}

// Root returns the API root in use
func (c *Client) Root() string {
	return c.srv.Root()
}

// Caller returns the REST client with root and credentials set
func (c *Client) Caller() *rest.Client {
	return c.srv
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// callJSON makes a paced, retried call decoding into response whose
// embedded result envelope is apiErr
func (c *Client) callJSON(ctx context.Context, opts *rest.Opts, response interface{}, apiErr *api.Error) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.pacer.Call(func() (bool, error) {
		*apiErr = api.Error{}
		resp, err := c.srv.CallJSON(ctx, opts, nil, response)
		err = apiErr.Update(err)
		return shouldRetry(ctx, resp, err)
	})
}

// APIServers lists the API servers nearest to the client
func (c *Client) APIServers(ctx context.Context) (*api.APIServers, error) {
	var result api.APIServers
	opts := rest.Opts{
		Method: "GET",
		Path:   "/getapiserver",
	}
	err := c.callJSON(ctx, &opts, &result, &result.Error)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// useBestAPIServer switches the root to the first server returned by
// /getapiserver.  A result code error leaves the root alone.
func (c *Client) useBestAPIServer(ctx context.Context) error {
	servers, err := c.APIServers(ctx)
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		log.Debugf(c, "Keeping default API server: %v", err)
		return nil
	}
	if err != nil {
		return err
	}
	if len(servers.API) == 0 {
		return nil
	}
	scheme := "https"
	if u, err := url.Parse(c.srv.Root()); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	best := rootURL(servers.API[0], scheme)
	log.Debugf(c, "Found nearest API server %s for %s", best, c.opt.Hostname)
	c.srv.SetRoot(best)
	return nil
}

// UserInfo returns information about the account
func (c *Client) UserInfo(ctx context.Context) (*api.UserInfo, error) {
	var result api.UserInfo
	opts := rest.Opts{
		Method: "GET",
		Path:   "/userinfo",
	}
	err := c.callJSON(ctx, &opts, &result, &result.Error)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Fetcher returns an events.Fetcher making /diff calls with this
// client
func (c *Client) Fetcher() events.Fetcher {
	return events.FetcherFunc(func(ctx context.Context, cfg events.Config) (*api.Diff, error) {
		if err := c.checkOpen(); err != nil {
			return nil, events.Fatal(err)
		}
		return events.NewDiffFetcher(c.srv).Fetch(ctx, cfg)
	})
}

// Close releases the client.
//
// If Options.Logout is set the session token is revoked first and
// Close waits for that call.  Calls made after Close fail with
// ErrClosed.
func (c *Client) Close(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	defer c.transport.CloseIdleConnections()

	if !c.opt.Logout || c.opt.AuthToken == "" {
		return nil
	}
	var result api.Logout
	opts := rest.Opts{
		Method: "GET",
		Path:   "/logout",
	}
	_, err = c.srv.CallJSON(ctx, &opts, nil, &result)
	err = result.Error.Update(err)
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	if !result.AuthDeleted {
		return errors.New("logout failed: token not deleted")
	}
	log.Debugf(c, "Logged out")
	return nil
}
