// Package quota implements the sliding-window admission gate for expensive
// reasoning calls. One counter exists per (identity, action class); the
// window is a rolling period anchored to first use, not a calendar day.
//
// The counter store is the only shared mutable state in the service, so its
// increment must be atomic: two simultaneous requests from one identity must
// never both be admitted when a single slot remains.
package quota

import (
	"context"
	"fmt"
	"time"
)

// ActionClass separates budgets for plain scoring and web-augmented scoring.
type ActionClass string

const (
	ClassScoring ActionClass = "scoring"
	ClassWeb     ActionClass = "web"
)

// IdentityKind distinguishes the two budget namespaces.
type IdentityKind string

const (
	KindAuthenticated IdentityKind = "auth"
	KindAnonymous     IdentityKind = "anon"
)

// Identity is the caller principal used as the quota key: an authenticated
// user id, or an anonymous network identifier.
type Identity struct {
	Kind IdentityKind
	ID   string
}

// Key builds the counter-store key for an (identity, class) pair. Kind is
// part of the key so authenticated and anonymous callers never collide.
func Key(class ActionClass, id Identity) string {
	return fmt.Sprintf("%s:%s:%s", class, id.Kind, id.ID)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Budgets holds the per-window allowances. Reference policy: authenticated
// identities get a materially larger allowance than anonymous ones.
type Budgets struct {
	ScoringAuth int
	ScoringAnon int
	WebAuth     int
	WebAnon     int
	Window      time.Duration
}

// DefaultBudgets returns the reference policy: 50/5 scoring, 10/2 web, over
// a rolling 24 hours.
func DefaultBudgets() Budgets {
	return Budgets{
		ScoringAuth: 50,
		ScoringAnon: 5,
		WebAuth:     10,
		WebAnon:     2,
		Window:      24 * time.Hour,
	}
}

// budget selects the allowance for one (class, kind) pair.
func (b Budgets) budget(class ActionClass, kind IdentityKind) int {
	switch {
	case class == ClassWeb && kind == KindAuthenticated:
		return b.WebAuth
	case class == ClassWeb:
		return b.WebAnon
	case kind == KindAuthenticated:
		return b.ScoringAuth
	default:
		return b.ScoringAnon
	}
}

// Counter is the atomic windowed counter store behind the gate.
//
// IncrAndGet increments the counter for key, starting a new window when none
// is active, and returns the post-increment count and the window's reset
// time. The read-increment must be atomic across concurrent callers.
// Peek reads without incrementing; a key with no active window reports count
// 0 and a reset one full window from now.
type Counter interface {
	IncrAndGet(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
	Peek(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// ExceededError is returned when an identity is out of budget for a class.
// The expensive downstream call must not be issued at all.
type ExceededError struct {
	Class   ActionClass
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: %s budget exhausted, resets at %s", e.Class, e.ResetAt.UTC().Format(time.RFC3339))
}

// Gate applies budgets on top of a Counter.
type Gate struct {
	counter Counter
	budgets Budgets
}

// NewGate creates a Gate over the given counter store.
func NewGate(counter Counter, budgets Budgets) *Gate {
	if budgets.Window <= 0 {
		budgets.Window = DefaultBudgets().Window
	}
	return &Gate{counter: counter, budgets: budgets}
}

// Check consumes one slot for (id, class) and reports the decision. The slot
// is consumed even when the caller later aborts: increments are never
// refunded, failing closed against quota leakage.
func (g *Gate) Check(ctx context.Context, id Identity, class ActionClass) (Decision, error) {
	count, resetAt, err := g.counter.IncrAndGet(ctx, Key(class, id), g.budgets.Window)
	if err != nil {
		return Decision{}, err
	}

	budget := g.budgets.budget(class, id.Kind)
	remaining := budget - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   int(count) <= budget,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Status reports the current decision state without consuming a slot.
func (g *Gate) Status(ctx context.Context, id Identity, class ActionClass) (Decision, error) {
	count, resetAt, err := g.counter.Peek(ctx, Key(class, id), g.budgets.Window)
	if err != nil {
		return Decision{}, err
	}

	budget := g.budgets.budget(class, id.Kind)
	remaining := budget - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   int(count) < budget,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
