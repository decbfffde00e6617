package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/net/publicsuffix"

	"github.com/angelmondragon/rankings-ingest/pkg/config"
	pkgerrors "github.com/angelmondragon/rankings-ingest/pkg/errors"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
)

const (
	defaultLoginPath     = "/Identity/Account/Login"
	defaultExportPath    = "/KeywordRanking"
	defaultTokenField    = "__RequestVerificationToken"
	fieldUserName        = "Input.UserName"
	fieldPassword        = "Input.Password"
	invalidLoginMarker   = "Invalid login attempt"
	exportHandler        = "Excel"
	exportDateLayout     = "2006-01-02"
	maxExportBytes       = 256 << 20
	defaultLoginTimeout  = 30 * time.Second
	defaultFetchTimeout  = 120 * time.Second
	defaultMaxAttempts   = 3
	defaultRetryInterval = 5 * time.Second
)

// ErrCredentialsRejected marks authentication failures that retrying will not fix.
var ErrCredentialsRejected = errors.New("portal rejected credentials")

var errSessionExpired = errors.New("portal session expired")

// Credentials are the portal login.
type Credentials struct {
	Email    string
	Password string
}

// Options configure a Client. Zero values fall back to the portal defaults.
type Options struct {
	BaseURL         string
	UserAgent       string
	TokenField      string
	LoginTimeout    time.Duration
	DownloadTimeout time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	Detector        ExpiryDetector
	Transport       http.RoundTripper
}

// Client holds one authenticated portal session and downloads ranking exports with it.
type Client struct {
	base   *url.URL
	creds  Credentials
	opts   Options
	logg   *logger.Logger
	http   *http.Client
	probe  *http.Client
	detect ExpiryDetector

	mu     sync.Mutex
	state  SessionState
	logins int
}

// NewClientFromConfig builds a Client from the portal settings.
func NewClientFromConfig(cfg config.PortalConfig, logg *logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewClient(Options{
		BaseURL:         cfg.BaseURL,
		UserAgent:       cfg.UserAgent,
		TokenField:      cfg.TokenField,
		LoginTimeout:    cfg.LoginTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		MaxAttempts:     cfg.MaxAttempts,
		RetryBackoff:    cfg.RetryBackoff,
	}, Credentials{Email: cfg.Email, Password: cfg.Password}, logg)
}

func NewClient(opts Options, creds Credentials, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "portal credentials are required")
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid portal base url %q", opts.BaseURL)
	}
	if opts.TokenField == "" {
		opts.TokenField = defaultTokenField
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = defaultLoginTimeout
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = defaultFetchTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryInterval
	}
	detect := opts.Detector
	if detect == nil {
		detect = LoginPageDetector{LoginPath: defaultLoginPath}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	// the probe shares the session cookies but stops at the first redirect
	probe := &http.Client{
		Jar:       jar,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Client{
		base:   base,
		creds:  creds,
		opts:   opts,
		logg:   logg,
		http:   &http.Client{Jar: jar, Transport: transport},
		probe:  probe,
		detect: detect,
		state:  LoggedOut,
	}, nil
}

// State returns the current session state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Logins returns how many login attempts the client has made.
func (c *Client) Logins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logins
}

func (c *Client) setState(s SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) resolve(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

// Authenticate logs in with the configured credentials. Rejected credentials or a login
// page without the anti-forgery token yield an AUTH_ERROR wrapping ErrCredentialsRejected.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	c.state = Authenticating
	c.logins++
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.LoginTimeout)
	defer cancel()

	if err := c.login(ctx); err != nil {
		c.setState(LoggedOut)
		return err
	}
	c.setState(Authenticated)
	c.logg.Info(c.logg.WithField(ctx, "portal_user", c.creds.Email), "portal login successful")
	return nil
}

func (c *Client) login(ctx context.Context) error {
	loginURL := c.resolve(defaultLoginPath)

	_, body, err := c.get(ctx, c.http, loginURL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeAuth, err, "fetch login page")
	}
	form, ok := parseLoginForm(body)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeAuth, ErrCredentialsRejected, "login form not found")
	}
	if _, ok := form.fields[c.opts.TokenField]; !ok {
		return pkgerrors.Wrap(pkgerrors.CodeAuth, ErrCredentialsRejected, "login form has no "+c.opts.TokenField)
	}

	values := url.Values{}
	for name, value := range form.fields {
		values.Set(name, value)
	}
	values.Set(fieldUserName, c.creds.Email)
	values.Set(fieldPassword, c.creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(values.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeAuth, err, "build login request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeAuth, err, "submit login")
	}
	postBody, err := readBody(resp)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeAuth, err, "read login response")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return pkgerrors.Newf(pkgerrors.CodeAuth, "login returned status %d", resp.StatusCode)
	}
	if bytes.Contains(postBody, []byte(invalidLoginMarker)) {
		return pkgerrors.Wrap(pkgerrors.CodeAuth, ErrCredentialsRejected, "invalid login attempt")
	}

	// the login POST can answer 200 either way; a protected page tells them apart
	probeResp, _, err := c.get(ctx, c.probe, c.resolve(defaultExportPath))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeAuth, err, "probe protected page")
	}
	if probeResp.StatusCode >= 300 && probeResp.StatusCode < 400 {
		location := probeResp.Header.Get("Location")
		if strings.Contains(strings.ToLower(location), "login") {
			return pkgerrors.Wrap(pkgerrors.CodeAuth, ErrCredentialsRejected, "redirected back to login")
		}
	}
	if probeResp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.Newf(pkgerrors.CodeAuth, "protected page returned status %d", probeResp.StatusCode)
	}
	return nil
}

// Download fetches the ranking export for one country and date range. Transport errors,
// non-2xx answers and expired sessions are retried with exponential backoff; an expired
// session forces a fresh login before the next attempt.
func (c *Client) Download(ctx context.Context, downloadCode string, from, to time.Time) ([]byte, error) {
	if strings.TrimSpace(downloadCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "download code is required")
	}
	if to.Before(from) {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "date range %s..%s is inverted", from.Format(exportDateLayout), to.Format(exportDateLayout))
	}

	exportURL := c.exportURL(downloadCode, from, to)
	ctx = c.logg.WithField(ctx, "download_code", downloadCode)

	var (
		payload  []byte
		attempt  int
		lastAuth bool
	)
	backoff := retry.WithMaxRetries(uint64(c.opts.MaxAttempts-1), retry.NewExponential(c.opts.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx := c.logg.WithField(ctx, "attempt", attempt)

		if c.State() != Authenticated {
			if err := c.Authenticate(ctx); err != nil {
				lastAuth = true
				if errors.Is(err, ErrCredentialsRejected) {
					return err
				}
				c.logg.Warn(attemptCtx, "portal login failed: "+err.Error())
				return retry.RetryableError(err)
			}
		}
		lastAuth = false

		c.setState(Downloading)
		body, err := c.fetchExport(ctx, exportURL)
		switch {
		case errors.Is(err, errSessionExpired):
			c.setState(LoggedOut)
			c.logg.Warn(attemptCtx, "portal session expired, re-authenticating")
			return retry.RetryableError(err)
		case err != nil:
			c.setState(Authenticated)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logg.Warn(attemptCtx, "export download failed: "+err.Error())
			return retry.RetryableError(err)
		}
		c.setState(Authenticated)
		payload = body
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if lastAuth || pkgerrors.Is(err, pkgerrors.CodeAuth) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDownload, err, fmt.Sprintf("download %s failed after %d attempts", downloadCode, attempt))
	}

	c.logg.Info(c.logg.WithField(ctx, "bytes", len(payload)), "export downloaded")
	return payload, nil
}

func (c *Client) exportURL(downloadCode string, from, to time.Time) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + defaultExportPath
	q := url.Values{}
	q.Set("countrycode", strings.ToUpper(strings.TrimSpace(downloadCode)))
	q.Set("from", from.Format(exportDateLayout))
	q.Set("to", to.Format(exportDateLayout))
	q.Set("handler", exportHandler)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) fetchExport(ctx context.Context, exportURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DownloadTimeout)
	defer cancel()

	resp, body, err := c.get(ctx, c.http, exportURL)
	if err != nil {
		return nil, err
	}
	if c.detect.Expired(resp, body) {
		return nil, errSessionExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("export returned status %d", resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("export returned an empty body")
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, client *http.Client, target string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, err
	}
	c.decorate(req)
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (c *Client) decorate(req *http.Request) {
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxExportBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxExportBytes)
	}
	return body, nil
}
