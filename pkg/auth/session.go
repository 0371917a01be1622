package auth

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// UserAgent is sent on every request made through a Session
const UserAgent = "earthfetch/1.0"

// Session is an authenticated, read-only HTTP capability. A Session is never
// mutated after creation; refreshing produces a new one.
type Session struct {
	client    *http.Client
	username  string
	token     string
	expiresAt time.Time // zero when the token does not expire
	createdAt time.Time
}

// NewSession wraps client with an optional bearer token, mainly for tests
// and pre-issued tokens
func NewSession(client *http.Client, token string, expiresAt time.Time) *Session {
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{client: client, token: token, expiresAt: expiresAt, createdAt: time.Now()}
}

// Do sends req with the session credentials attached
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	if s.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	if req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", uuid.NewString())
	}
	return s.client.Do(req)
}

// Username returns the Earthdata Login user, if known
func (s *Session) Username() string { return s.username }

// Token returns the bearer token, empty for cookie-only sessions
func (s *Session) Token() string { return s.token }

// ExpiresAt returns the token expiry; zero means no expiry
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// ExpiresWithin reports whether the token expires within d of now
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s.expiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.expiresAt)
}
