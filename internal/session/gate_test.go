package session

import (
	"crypto/sha256"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGate(t *testing.T, cfg Config) (*Gate, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	if cfg.SigningSecret == "" {
		cfg.SigningSecret = "test-secret"
	}
	g, err := NewGate(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return g, clock
}

func TestNewGate_RequiresSecret(t *testing.T) {
	_, err := NewGate(Config{Code: "letmein"})
	assert.Error(t, err)
}

func TestNewGate_RejectsMalformedHash(t *testing.T) {
	_, err := NewGate(Config{CodeHash: "not-a-bcrypt-hash", SigningSecret: "s"})
	assert.Error(t, err)
}

func TestGate_LoginAndCheck(t *testing.T) {
	g, _ := newTestGate(t, Config{Code: "letmein"})
	assert.True(t, g.Configured())

	s, err := g.Login("letmein")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.True(t, g.Check(s.Token))

	_, err = g.Login("letmeout")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = g.Login("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGate_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	g, _ := newTestGate(t, Config{Code: "ignored", CodeHash: string(hash)})

	_, err = g.Login("ignored")
	assert.ErrorIs(t, err, ErrUnauthorized)
	s, err := g.Login("hunter2")
	require.NoError(t, err)
	assert.True(t, g.Check(s.Token))
}

func TestGate_UnconfiguredRejectsEverything(t *testing.T) {
	g, _ := newTestGate(t, Config{})
	assert.False(t, g.Configured())

	for _, code := range []string{"", "anything"} {
		_, err := g.Login(code)
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
}

func TestGate_MatchesNeverAcceptsEmptyOrUnconfigured(t *testing.T) {
	g, _ := newTestGate(t, Config{})
	// Even a digest that would compare equal is refused while the gate is unconfigured.
	g.codeDigest = sha256.Sum256([]byte("anything"))
	assert.False(t, g.matches("anything"))

	g.codeDigest = sha256.Sum256(nil)
	g.configured = true
	assert.False(t, g.matches(""))

	hash, err := bcrypt.GenerateFromPassword(nil, bcrypt.MinCost)
	require.NoError(t, err)
	g.codeHash = hash
	assert.False(t, g.matches(""))
}

func TestGate_SessionExpires(t *testing.T) {
	g, clock := newTestGate(t, Config{Code: "letmein", TTL: time.Hour})

	s, err := g.Login("letmein")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), s.ExpiresAt)

	clock.Advance(59 * time.Minute)
	assert.True(t, g.Check(s.Token))
	clock.Advance(2 * time.Minute)
	assert.False(t, g.Check(s.Token))
}

func TestGate_LogoutRevokesOnlyThatSession(t *testing.T) {
	g, _ := newTestGate(t, Config{Code: "letmein"})

	first, err := g.Login("letmein")
	require.NoError(t, err)
	second, err := g.Login("letmein")
	require.NoError(t, err)

	g.Logout(first.Token)
	assert.False(t, g.Check(first.Token))
	assert.True(t, g.Check(second.Token))

	// Unknown tokens are ignored.
	g.Logout("garbage")
	g.Logout("")
}

func TestGate_LogoutPrunesExpiredRevocations(t *testing.T) {
	g, clock := newTestGate(t, Config{Code: "letmein", TTL: time.Minute})

	old, err := g.Login("letmein")
	require.NoError(t, err)
	g.Logout(old.Token)

	clock.Advance(2 * time.Minute)
	fresh, err := g.Login("letmein")
	require.NoError(t, err)
	g.Logout(fresh.Token)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Len(t, g.revoked, 1)
}

func TestGate_RejectsForgedTokens(t *testing.T) {
	g, clock := newTestGate(t, Config{Code: "letmein"})
	other, _ := newTestGate(t, Config{Code: "letmein", SigningSecret: "other-secret"})

	foreign, err := other.Login("letmein")
	require.NoError(t, err)
	assert.False(t, g.Check(foreign.Token), "signed with another secret")

	s, err := g.Login("letmein")
	require.NoError(t, err)
	parts := strings.Split(s.Token, ".")
	require.Len(t, parts, 3)
	assert.False(t, g.Check(parts[0]+"."+parts[1]+"."), "signature stripped")

	now := clock.Now()
	wrongSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        "x",
		Subject:   "builder",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err := wrongSubject.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	assert.False(t, g.Check(signed), "wrong subject")

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: "x", Subject: subject})
	signed, err = noExpiry.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	assert.False(t, g.Check(signed), "no expiry")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		ID:        "x",
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err = unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.False(t, g.Check(signed), "alg none")
}
