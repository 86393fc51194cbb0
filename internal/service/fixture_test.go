package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/metrics"
	"github.com/sakif/identity-service/internal/repository/kv"
	"github.com/sakif/identity-service/internal/storage/sqlite"
	"github.com/sakif/identity-service/internal/wechat"
)

// =========================================================================
// FAKES
// =========================================================================

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

// fakeSender remembers the last code sent to each address.
type fakeSender struct {
	mu    sync.Mutex
	last  map[string]string
	sends int
	err   error
}

func (s *fakeSender) SendVerifyCode(_ context.Context, to, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.last == nil {
		s.last = make(map[string]string)
	}
	s.last[to] = code
	s.sends++
	return nil
}

func (s *fakeSender) code(to string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[to]
}

// fakeExchanger maps js_codes to sessions; unknown codes fail like WeChat.
type fakeExchanger struct {
	sessions map[string]*wechat.Session
}

func (e *fakeExchanger) Exchange(_ context.Context, jsCode string) (*wechat.Session, error) {
	if s, ok := e.sessions[jsCode]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, apperror.Upstream("wechat", "invalid code")
}

var errStoreDown = errors.New("store down")

// =========================================================================
// FIXTURE
// =========================================================================

// fixture wires the real services over an in-memory SQLite store. One fake
// clock drives the store's TTLs, the code manager and the token issuer.
type fixture struct {
	clock    *fakeClock
	store    *sqlite.DB
	sender   *fakeSender
	wx       *fakeExchanger
	tokens   *auth.TokenIssuer
	accounts *kv.Accounts
	codes    *CodeManager
	registry *Registry
	linker   *WeChatLinker
	identity *Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCap(t, DefaultMaxAccounts)
}

func newFixtureWithCap(t *testing.T, maxAccounts int) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store, err := sqlite.New(":memory:", sqlite.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tokens, err := auth.NewTokenIssuer("test-secret-at-least-16-chars!!", "example.com", auth.WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := metrics.New(prometheus.NewRegistry())
	sender := &fakeSender{}
	wx := &fakeExchanger{sessions: map[string]*wechat.Session{}}
	accounts := kv.NewAccounts(store)

	codes := NewCodeManager(kv.NewCodes(store), sender, rec, logger, clock.Now)
	registry := NewRegistry(accounts, codes, tokens, auth.NewPasswordsWithCost(bcrypt.MinCost), maxAccounts, rec, logger)
	linker := NewWeChatLinker(kv.NewWeChatUsers(store), wx, rec, logger)

	return &fixture{
		clock:    clock,
		store:    store,
		sender:   sender,
		wx:       wx,
		tokens:   tokens,
		accounts: accounts,
		codes:    codes,
		registry: registry,
		linker:   linker,
		identity: NewIdentity(codes, registry, linker, accounts, tokens, logger),
	}
}

// codeFor requests a code for email and returns what was "mailed".
func (f *fixture) codeFor(t *testing.T, email string) string {
	t.Helper()
	res := f.codes.Request(context.Background(), email)
	if res.Status != "Success" {
		t.Fatalf("Request(%s) = %+v, want Success", email, res)
	}
	return f.sender.code(email)
}
