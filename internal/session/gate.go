// Package session implements the admin session gate: a single shared admin code
// exchanged for a short-lived signed session token.
package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned for a wrong code and for any missing, expired,
// revoked or malformed session. Callers cannot tell these cases apart.
var ErrUnauthorized = errors.New("unauthorized")

const (
	// DefaultTTL is the session lifetime when none is configured.
	DefaultTTL = 12 * time.Hour
	subject    = "admin"
)

// Config configures a Gate. Exactly one of Code or CodeHash should be set;
// CodeHash is a bcrypt hash and wins when both are present.
type Config struct {
	Code          string
	CodeHash      string
	SigningSecret string
	TTL           time.Duration
}

// Session is an issued admin session.
type Session struct {
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claims struct {
	jwt.RegisteredClaims
}

// Gate checks admin codes and validates session tokens. Logout revokes the
// token id until the token would have expired anyway.
type Gate struct {
	codeDigest [sha256.Size]byte
	codeHash   []byte
	configured bool
	secret     []byte
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// Option customizes a Gate.
type Option func(*Gate)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate builds a Gate. A gate without any code configured rejects every login.
func NewGate(cfg Config, opts ...Option) (*Gate, error) {
	if cfg.SigningSecret == "" {
		return nil, errors.New("session signing secret is required")
	}
	g := &Gate{
		secret:  []byte(cfg.SigningSecret),
		ttl:     cfg.TTL,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	switch {
	case cfg.CodeHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.CodeHash)); err != nil {
			return nil, fmt.Errorf("admin code hash: %w", err)
		}
		g.codeHash = []byte(cfg.CodeHash)
		g.configured = true
	case cfg.Code != "":
		g.codeDigest = sha256.Sum256([]byte(cfg.Code))
		g.configured = true
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Configured reports whether an admin code is set.
func (g *Gate) Configured() bool { return g.configured }

// Login exchanges the admin code for a session.
func (g *Gate) Login(code string) (*Session, error) {
	if !g.matches(code) {
		return nil, ErrUnauthorized
	}

	now := g.now()
	expires := now.Add(g.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	return &Session{Token: signed, ExpiresAt: expires}, nil
}

// matches compares code against the configured secret without leaking how much
// of it matched. Both sides are hashed first so lengths never differ.
// The comparison runs even for an empty code or an unconfigured gate, which
// holds a zero digest, so rejections take the same path as mismatches.
func (g *Gate) matches(code string) bool {
	var ok bool
	if g.codeHash != nil {
		ok = bcrypt.CompareHashAndPassword(g.codeHash, []byte(code)) == nil
	} else {
		digest := sha256.Sum256([]byte(code))
		ok = subtle.ConstantTimeCompare(digest[:], g.codeDigest[:]) == 1
	}
	return ok && g.configured && code != ""
}

// Check reports whether token is a live session.
func (g *Gate) Check(token string) bool {
	c, err := g.parse(token)
	if err != nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, revoked := g.revoked[c.ID]
	return !revoked
}

// Logout invalidates token immediately. Unknown or expired tokens are ignored.
func (g *Gate) Logout(token string) {
	c, err := g.parse(token)
	if err != nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked()
	g.revoked[c.ID] = c.ExpiresAt.Time
}

func (g *Gate) parse(token string) (*claims, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return g.secret, nil
	},
		jwt.WithTimeFunc(g.now),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid || c.ID == "" {
		return nil, ErrUnauthorized
	}
	return &c, nil
}

func (g *Gate) pruneLocked() {
	now := g.now()
	for id, exp := range g.revoked {
		if now.After(exp) {
			delete(g.revoked, id)
		}
	}
}
