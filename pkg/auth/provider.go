package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	netrc "github.com/jdx/go-netrc"
	"golang.org/x/sync/singleflight"

	"github.com/psantana5/earthfetch/pkg/logging"
)

// DefaultLoginHost is the Earthdata Login host
const DefaultLoginHost = "urs.earthdata.nasa.gov"

var (
	ErrNoCredentials = errors.New("no Earthdata Login credentials available")
	ErrLoginRejected = errors.New("Earthdata Login rejected the credentials")
)

// LoginError is returned when the login host refuses to issue a token
type LoginError struct {
	StatusCode int
	Body       string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("earthdata login failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *LoginError) Is(target error) bool {
	return target == ErrLoginRejected && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// Config configures a Provider
type Config struct {
	LoginHost   string // defaults to DefaultLoginHost
	LoginScheme string // defaults to https
	Username    string
	Password    string
	Token       string // pre-issued bearer token; skips the login exchange
	NetrcPath   string // defaults to ~/.netrc (~/_netrc on Windows)
	FetchToken  bool   // exchange username/password for a bearer token
	Prompt      PromptFunc
	Transport   http.RoundTripper
	Timeout     time.Duration
	RefreshSkew time.Duration // refresh tokens this long before expiry
	Logger      *logging.Logger
}

// Provider owns the shared session. Callers read it concurrently through
// Session; only one refresh runs at a time.
type Provider struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	current *Session
	group   singleflight.Group
	now     func() time.Time
}

// NewProvider creates a credential provider. No network call is made until
// the first Session.
func NewProvider(cfg Config) *Provider {
	if cfg.LoginHost == "" {
		cfg.LoginHost = DefaultLoginHost
	}
	if cfg.LoginScheme == "" {
		cfg.LoginScheme = "https"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RefreshSkew == 0 {
		cfg.RefreshSkew = 5 * time.Minute
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Provider{cfg: cfg, logger: logger, now: time.Now}
}

// Session returns the current session, logging in or refreshing when needed
func (p *Provider) Session(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()

	if cur != nil && !cur.ExpiresWithin(p.now(), p.cfg.RefreshSkew) {
		return cur, nil
	}
	return p.Refresh(ctx, cur)
}

// Refresh replaces stale with a new session. Concurrent callers share a
// single login; if another caller already replaced stale, its result is
// returned without logging in again. The login outlives a cancelled caller
// so the others sharing it are unaffected; it is bounded by cfg.Timeout.
func (p *Provider) Refresh(ctx context.Context, stale *Session) (*Session, error) {
	loginCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan("refresh", func() (interface{}, error) {
		p.mu.Lock()
		cur := p.current
		p.mu.Unlock()
		if cur != nil && cur != stale && !cur.ExpiresWithin(p.now(), p.cfg.RefreshSkew) {
			return cur, nil
		}

		s, err := p.login(loginCtx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.current = s
		p.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}

func (p *Provider) login(ctx context.Context) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	if p.cfg.Token != "" {
		p.logger.Debug("Using pre-issued Earthdata token")
		client := &http.Client{Jar: jar, Timeout: p.cfg.Timeout, Transport: p.cfg.Transport}
		return &Session{client: client, token: p.cfg.Token, createdAt: p.now()}, nil
	}

	username, password, err := p.credentials()
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Jar:       jar,
		Timeout:   p.cfg.Timeout,
		Transport: p.cfg.Transport,
		// Earthdata data hosts redirect to the login host; credentials are
		// only ever attached to requests for that host.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			if req.URL.Hostname() == p.loginHostname() {
				req.SetBasicAuth(username, password)
			}
			return nil
		},
	}

	s := &Session{client: client, username: username, createdAt: p.now()}
	if !p.cfg.FetchToken {
		p.logger.Debug("Earthdata Login session ready", logging.Fields{"user": username})
		return s, nil
	}

	token, expires, err := p.fetchToken(ctx, client, username, password)
	if err != nil {
		return nil, err
	}
	s.token = token
	s.expiresAt = expires
	p.logger.Info("Obtained Earthdata Login token", logging.Fields{"user": username, "expires": expires.Format(time.RFC3339)})
	return s, nil
}

func (p *Provider) loginHostname() string {
	if u, err := url.Parse(p.cfg.LoginScheme + "://" + p.cfg.LoginHost); err == nil {
		return u.Hostname()
	}
	return p.cfg.LoginHost
}

type tokenResponse struct {
	AccessToken    string `json:"access_token"`
	TokenType      string `json:"token_type"`
	ExpirationDate string `json:"expiration_date"`
}

func (p *Provider) fetchToken(ctx context.Context, client *http.Client, username, password string) (string, time.Time, error) {
	tokenURL := fmt.Sprintf("%s://%s/api/users/find_or_create_token", p.cfg.LoginScheme, p.cfg.LoginHost)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, &LoginError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token response without access_token")
	}

	var expires time.Time
	if tr.ExpirationDate != "" {
		expires, err = time.Parse("1/2/2006", tr.ExpirationDate)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("invalid token expiration %q: %w", tr.ExpirationDate, err)
		}
	}
	return tr.AccessToken, expires, nil
}

// credentials resolves username/password: explicit config, then netrc, then prompt
func (p *Provider) credentials() (string, string, error) {
	if p.cfg.Username != "" && p.cfg.Password != "" {
		return p.cfg.Username, p.cfg.Password, nil
	}

	if user, pass, err := p.fromNetrc(); err == nil {
		return user, pass, nil
	} else {
		p.logger.Debug("No usable netrc entry", logging.Fields{"error": err})
	}

	if p.cfg.Prompt != nil {
		return p.cfg.Prompt(p.cfg.LoginHost)
	}
	return "", "", ErrNoCredentials
}

func (p *Provider) fromNetrc() (string, string, error) {
	path := p.cfg.NetrcPath
	if path == "" {
		path = DefaultNetrcPath()
	}
	if path == "" {
		return "", "", ErrNoCredentials
	}
	if _, err := os.Stat(path); err != nil {
		return "", "", err
	}

	n, err := netrc.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	m := n.Machine(p.loginHostname())
	if m == nil {
		return "", "", fmt.Errorf("%s has no entry for %s: %w", path, p.cfg.LoginHost, ErrNoCredentials)
	}
	user, pass := m.Get("login"), m.Get("password")
	if user == "" || pass == "" {
		return "", "", fmt.Errorf("%s entry for %s is incomplete: %w", path, p.cfg.LoginHost, ErrNoCredentials)
	}
	return user, pass, nil
}

// DefaultNetrcPath returns ~/.netrc, or ~/_netrc on Windows
func DefaultNetrcPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	name := ".netrc"
	if runtime.GOOS == "windows" {
		name = "_netrc"
	}
	return filepath.Join(home, name)
}
