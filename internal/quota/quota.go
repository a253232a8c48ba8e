// Package quota resolves subscription tiers to processing ceilings and tracks
// per-caller daily usage.
package quota

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

type Tier string

const (
	TierGuest      Tier = "guest"
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
	TierUnlimited  Tier = "unlimited"
)

// Unbounded marks a tier without a daily ceiling.
const Unbounded = -1

var tierLimits = map[Tier]int{
	TierGuest:      5,
	TierFree:       50,
	TierPremium:    100,
	TierEnterprise: Unbounded,
	TierUnlimited:  Unbounded,
}

// ParseTier is case-insensitive. Anything unrecognized, including an empty
// value, is the most restrictive tier.
func ParseTier(raw string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tierLimits[t]; ok {
		return t
	}
	return TierGuest
}

// Limit is the daily ceiling of t, or Unbounded.
func (t Tier) Limit() int {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierGuest]
}

func (t Tier) Unbounded() bool { return t.Limit() == Unbounded }

// UsageStore keeps per-caller counters for one day. Reserve must be atomic:
// it grants min(want, limit-used) and never lets used exceed limit.
type UsageStore interface {
	Used(ctx context.Context, callerID string, day time.Time) (int, error)
	// Reserve adds up to want to the counter, bounded by limit (Unbounded for
	// none), and returns the amount granted and the counter after the update.
	Reserve(ctx context.Context, callerID string, day time.Time, want, limit int) (granted, used int, err error)
	Release(ctx context.Context, callerID string, day time.Time, n int) error
}

// Usage is what callers see about their allowance.
type Usage struct {
	Tier           Tier `json:"tier"`
	DailyLimit     int  `json:"dailyLimit"`
	DailyUsed      int  `json:"dailyUsed"`
	DailyRemaining int  `json:"dailyRemaining"`
	Unlimited      bool `json:"unlimited"`
}

// Reservation is a granted slice of a caller's allowance.
type Reservation struct {
	CallerID string
	Tier     Tier
	Day      time.Time
	Granted  int
}

// Gatekeeper enforces tier ceilings against a UsageStore.
type Gatekeeper struct {
	store UsageStore
	now   func() time.Time
}

func NewGatekeeper(store UsageStore) *Gatekeeper {
	return &Gatekeeper{store: store, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (g *Gatekeeper) WithClock(now func() time.Time) *Gatekeeper {
	g.now = now
	return g
}

func (g *Gatekeeper) today() time.Time {
	return Day(g.now())
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Usage reports the caller's allowance for today.
func (g *Gatekeeper) Usage(ctx context.Context, callerID, rawTier string) (*Usage, error) {
	tier := ParseTier(rawTier)
	used, err := g.store.Used(ctx, callerID, g.today())
	if err != nil {
		return nil, eris.Wrapf(err, "read usage for %s", callerID)
	}
	return usageOf(tier, used), nil
}

func usageOf(tier Tier, used int) *Usage {
	u := &Usage{Tier: tier, DailyLimit: tier.Limit(), DailyUsed: used, Unlimited: tier.Unbounded()}
	if u.Unlimited {
		u.DailyRemaining = Unbounded
		return u
	}
	u.DailyRemaining = u.DailyLimit - used
	if u.DailyRemaining < 0 {
		u.DailyRemaining = 0
	}
	return u
}

// Reserve claims up to want units of today's allowance. A request is clamped
// to what remains; it is rejected with ErrQuotaExceeded only when nothing
// remains. want <= 0 reserves nothing.
func (g *Gatekeeper) Reserve(ctx context.Context, callerID, rawTier string, want int) (*Reservation, error) {
	tier := ParseTier(rawTier)
	day := g.today()
	res := &Reservation{CallerID: callerID, Tier: tier, Day: day}
	if want <= 0 {
		return res, nil
	}
	granted, used, err := g.store.Reserve(ctx, callerID, day, want, tier.Limit())
	if err != nil {
		return nil, eris.Wrapf(err, "reserve %d for %s", want, callerID)
	}
	if granted == 0 {
		return nil, appErrors.NewQuotaExceeded(string(tier), used, tier.Limit())
	}
	res.Granted = granted
	return res, nil
}

// Release returns n unused units of a reservation.
func (g *Gatekeeper) Release(ctx context.Context, r *Reservation, n int) error {
	if r == nil || n <= 0 {
		return nil
	}
	if n > r.Granted {
		n = r.Granted
	}
	if err := g.store.Release(ctx, r.CallerID, r.Day, n); err != nil {
		return eris.Wrapf(err, "release %d for %s", n, r.CallerID)
	}
	r.Granted -= n
	return nil
}

// Ceiling is the effective batch size: the requested count (0 meaning all)
// clamped to the tier's static ceiling and to the eligible companies.
func Ceiling(requested int, tier Tier, eligible int) int {
	n := eligible
	if requested > 0 && requested < n {
		n = requested
	}
	if l := tier.Limit(); l != Unbounded && l < n {
		n = l
	}
	if n < 0 {
		return 0
	}
	return n
}
