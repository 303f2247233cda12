// Package token validates credentials before a sync and refreshes them when
// they are expired or revoked.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/stacklok/reposync/internal/hostapi"
	"github.com/stacklok/reposync/internal/syncerr"
)

// DefaultRefreshTimeout bounds a single refresh callback
const DefaultRefreshTimeout = 10 * time.Second

// State is a credential as held by the caller. ExpiresAt accepts every form ParseExpiry does.
type State struct {
	Credential     string
	ExpiresAt      any
	LastVerifiedAt *time.Time
}

// Refreshed is the credential to use after WithRefresh
type Refreshed struct {
	Credential string

	// Refreshed is true when Credential was obtained from the refresher and must be persisted by the caller
	Refreshed bool

	// VerifiedAt is when the credential was last found valid
	VerifiedAt time.Time
}

// Guard validates credentials against expiry and the host's identity endpoint
type Guard struct {
	client         hostapi.Client
	clock          clock.PassiveClock
	refreshTimeout time.Duration
	group          singleflight.Group
}

// Option configures a Guard
type Option func(*Guard)

// WithClock sets the clock used for expiry comparisons
func WithClock(c clock.PassiveClock) Option {
	return func(g *Guard) {
		g.clock = c
	}
}

// WithRefreshTimeout bounds each refresher call. Zero keeps DefaultRefreshTimeout.
func WithRefreshTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.refreshTimeout = d
		}
	}
}

// NewGuard creates a Guard that performs live checks through client
func NewGuard(client hostapi.Client, opts ...Option) *Guard {
	g := &Guard{
		client:         client,
		clock:          clock.RealClock{},
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate reports whether credential is usable. A known expiry in the past
// short-circuits to false without a network call. Otherwise the identity
// endpoint decides: 401 means invalid regardless of the stated expiry. When the
// host cannot be reached the credential is assumed valid and the transfer
// stage surfaces the failure.
func (g *Guard) Validate(ctx context.Context, credential string, expiresAt any) (bool, error) {
	if credential == "" {
		return false, nil
	}

	exp, ok, err := ParseExpiry(expiresAt)
	if err != nil {
		// An unreadable expiry is treated as unknown; the live check still runs
		slog.WarnContext(ctx, "Ignoring unparseable credential expiry", "error", err)
	} else if ok && !g.clock.Now().Before(exp) {
		slog.DebugContext(ctx, "Credential expired", "expires_at", exp)
		return false, nil
	}

	return g.live(ctx, credential), nil
}

func (g *Guard) live(ctx context.Context, credential string) bool {
	code, err := g.client.IdentityStatus(ctx, credential)
	if err != nil {
		slog.WarnContext(ctx, "Credential liveness check did not complete, assuming valid", "error", err)
		return true
	}
	switch code {
	case http.StatusUnauthorized:
		return false
	case http.StatusOK:
		return true
	default:
		slog.WarnContext(ctx, "Unexpected status from credential liveness check, assuming valid", "status", code)
		return true
	}
}

// WithRefresh returns a usable credential. A valid credential is returned as is.
// An invalid one is replaced by the refresher's result, which is validated in
// turn. Without a refresher, or when refreshing fails or times out, the error is
// a non-retryable syncerr.KindTokenExpired.
func (g *Guard) WithRefresh(ctx context.Context, credential string, expiresAt any, refresher Refresher) (Refreshed, error) {
	valid, err := g.Validate(ctx, credential, expiresAt)
	if err != nil {
		return Refreshed{}, err
	}
	if valid {
		return Refreshed{Credential: credential, VerifiedAt: g.clock.Now()}, nil
	}

	if refresher == nil {
		return Refreshed{}, syncerr.TokenExpired("credential unusable, no recovery: expired or revoked and no refresher available", nil)
	}

	fresh, err := g.refresh(ctx, credential, refresher)
	if err != nil {
		return Refreshed{}, syncerr.TokenExpired("credential unusable, no recovery: refresh failed", err)
	}

	// A refreshed credential carries no expiry of its own, only the live check applies
	valid, err = g.Validate(ctx, fresh, nil)
	if err != nil {
		return Refreshed{}, err
	}
	if !valid {
		return Refreshed{}, syncerr.TokenExpired("credential unusable, no recovery: refreshed credential was rejected", nil)
	}

	slog.InfoContext(ctx, "Credential refreshed")
	return Refreshed{Credential: fresh, Refreshed: true, VerifiedAt: g.clock.Now()}, nil
}

// refresh runs the refresher under the refresh timeout. Concurrent refreshes
// of the same credential share one call.
func (g *Guard) refresh(ctx context.Context, credential string, refresher Refresher) (string, error) {
	sum := sha256.Sum256([]byte(credential))
	key := hex.EncodeToString(sum[:])

	v, err, _ := g.group.Do(key, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(ctx, g.refreshTimeout)
		defer cancel()

		type result struct {
			credential string
			err        error
		}
		done := make(chan result, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- result{err: fmt.Errorf("refresher panicked: %v", r)}
				}
			}()
			c, err := refresher.Refresh(refreshCtx)
			done <- result{credential: c, err: err}
		}()

		select {
		case r := <-done:
			if r.err != nil {
				return "", r.err
			}
			if r.credential == "" {
				return "", errors.New("refresher returned an empty credential")
			}
			return r.credential, nil
		case <-refreshCtx.Done():
			return "", fmt.Errorf("refresh did not complete within %s: %w", g.refreshTimeout, refreshCtx.Err())
		}
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
