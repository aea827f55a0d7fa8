package codex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Credentials are the tokens the runtime authenticates with.
type Credentials struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	IDToken      string    `json:"idToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// Valid reports whether there is an access token at all.
func (c Credentials) Valid() bool {
	return c.AccessToken != ""
}

// Expired reports whether the access token's lifetime has passed. Unknown
// expiry counts as not expired.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// CredentialStore persists credentials across runs.
type CredentialStore interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// MemoryCredentialStore keeps credentials in memory. Useful for tests and
// for hosts that manage persistence themselves.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds Credentials
}

func (s *MemoryCredentialStore) Load(context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	return nil
}

func (s *MemoryCredentialStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
	return nil
}

// FileCredentialStore persists credentials as JSON at Path. A missing file
// loads as empty credentials, not an error.
type FileCredentialStore struct {
	Path string
}

func (s *FileCredentialStore) Load(context.Context) (Credentials, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	return creds, nil
}

func (s *FileCredentialStore) Save(_ context.Context, creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *FileCredentialStore) Clear(context.Context) error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// TokenRefresher renews expired credentials. Returning an error that wraps
// ErrInvalidRefreshToken marks the stored tokens as definitively dead;
// any other error is treated as transient.
type TokenRefresher interface {
	Refresh(ctx context.Context, current Credentials) (Credentials, error)
}

// TokenRefresherFunc adapts a function to a TokenRefresher.
type TokenRefresherFunc func(ctx context.Context, current Credentials) (Credentials, error)

func (f TokenRefresherFunc) Refresh(ctx context.Context, current Credentials) (Credentials, error) {
	return f(ctx, current)
}

type refreshFlight struct {
	done  chan struct{}
	creds Credentials
	err   error
}

// refreshGate coordinates credential refresh so concurrent auth failures
// trigger exactly one refresh. The first caller performs it; everyone else
// waits, bounded, for that flight's outcome.
type refreshGate struct {
	logger         *slog.Logger
	store          CredentialStore
	refresher      TokenRefresher
	waitTimeout    time.Duration
	onAuthRequired func()

	mu     sync.Mutex
	flight *refreshFlight
}

func newRefreshGate(cfg *agentConfig) *refreshGate {
	return &refreshGate{
		logger:         cfg.logger,
		store:          cfg.store,
		refresher:      cfg.refresher,
		waitTimeout:    cfg.refreshWait,
		onAuthRequired: cfg.onAuthRequired,
	}
}

// refresh obtains fresh credentials, collapsing concurrent callers onto a
// single refresh operation.
func (g *refreshGate) refresh(ctx context.Context) (Credentials, error) {
	g.mu.Lock()
	if f := g.flight; f != nil {
		g.mu.Unlock()
		timer := time.NewTimer(g.waitTimeout)
		defer timer.Stop()
		select {
		case <-f.done:
			return f.creds, f.err
		case <-timer.C:
			return Credentials{}, ErrRefreshWaitTimeout
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		}
	}
	f := &refreshFlight{done: make(chan struct{})}
	g.flight = f
	g.mu.Unlock()

	f.creds, f.err = g.doRefresh(ctx)

	g.mu.Lock()
	g.flight = nil
	g.mu.Unlock()
	close(f.done)
	return f.creds, f.err
}

func (g *refreshGate) doRefresh(ctx context.Context) (Credentials, error) {
	if g.store == nil {
		return Credentials{}, errors.New("no credential store configured")
	}
	if g.refresher == nil {
		g.logger.Warn("credentials rejected and no refresher configured")
		if g.onAuthRequired != nil {
			g.onAuthRequired()
		}
		return Credentials{}, fmt.Errorf("%w: no token refresher configured", ErrReauthRequired)
	}

	current, err := g.store.Load(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}

	fresh, err := g.refresher.Refresh(ctx, current)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			// The token is dead for good. Clear it and tell the host a fresh
			// sign-in is needed.
			if cerr := g.store.Clear(ctx); cerr != nil {
				g.logger.Warn("clear rejected credentials failed", "err", cerr)
			}
			if g.onAuthRequired != nil {
				g.onAuthRequired()
			}
			return Credentials{}, fmt.Errorf("%w: %s", ErrReauthRequired, err)
		}
		// Transient failure: the stored credentials stay untouched so a
		// later attempt can retry.
		return Credentials{}, fmt.Errorf("refresh credentials: %w", err)
	}

	if err := g.store.Save(ctx, fresh); err != nil {
		g.logger.Warn("save refreshed credentials failed", "err", err)
	}
	g.logger.Debug("credentials refreshed")
	return fresh, nil
}
