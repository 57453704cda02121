// Package gate holds the idempotency and rate-limit state that rejects
// duplicate or abusive registration attempts before any verification or
// on-chain work happens.
//
// State lives behind the Store interface so a single-process deployment can
// run on the in-memory store while multi-instance deployments point at
// Redis without touching pipeline logic.
package gate

import (
	"context"
	"strings"
	"time"
)

// DefaultCooldown is the per-caller window between registration attempts.
const DefaultCooldown = 60 * time.Second

// Store provides atomic per-key access to gate state.
type Store interface {
	// IsProcessed reports whether the lower-cased name was already handled
	// by this service (submitted on-chain, or discovered pre-existing).
	IsProcessed(ctx context.Context, name string) (bool, error)
	// MarkProcessed records the name so it is never re-submitted, even if
	// the earlier attempt's outcome is unknown.
	MarkProcessed(ctx context.Context, name string) error
	// LastAttempt returns the caller's last recorded attempt time.
	LastAttempt(ctx context.Context, caller string) (time.Time, bool, error)
	// RecordAttempt stamps the caller's attempt time.
	RecordAttempt(ctx context.Context, caller string, t time.Time) error
}

// Gate evaluates both checks against a Store.
type Gate struct {
	store    Store
	cooldown time.Duration
	now      func() time.Time
}

// New builds a gate over the given store. A zero cooldown gets the default.
func New(store Store, cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{store: store, cooldown: cooldown, now: time.Now}
}

// Outcome of a gate check.
type Outcome int

const (
	// Pass means the request may proceed to verification.
	Pass Outcome = iota
	// Cooldown means the caller attempted again inside the cooldown window.
	Cooldown
	// Duplicate means the name was already processed by this service.
	Duplicate
)

// Check applies the per-caller cooldown and the local idempotency check, in
// that order. It records nothing; callers that proceed past the gate commit
// their slot via Admit and MarkProcessed.
func (g *Gate) Check(ctx context.Context, caller, name string) (Outcome, error) {
	last, ok, err := g.store.LastAttempt(ctx, caller)
	if err != nil {
		return Pass, err
	}
	if ok && g.now().Sub(last) < g.cooldown {
		return Cooldown, nil
	}

	seen, err := g.store.IsProcessed(ctx, strings.ToLower(name))
	if err != nil {
		return Pass, err
	}
	if seen {
		return Duplicate, nil
	}
	return Pass, nil
}

// Admit records the caller's attempt time. Called only once a registration
// is actually submitted, so rejected requests do not consume the slot.
func (g *Gate) Admit(ctx context.Context, caller string) error {
	return g.store.RecordAttempt(ctx, caller, g.now())
}

// MarkProcessed pins the name against re-submission.
func (g *Gate) MarkProcessed(ctx context.Context, name string) error {
	return g.store.MarkProcessed(ctx, strings.ToLower(name))
}

// CooldownWindow reports the configured window, for Retry-After headers.
func (g *Gate) CooldownWindow() time.Duration {
	return g.cooldown
}
