package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/kv"
	"github.com/antoniostano/monadchat/internal/logging"
	"github.com/antoniostano/monadchat/internal/pubsub"
)

// Ledger tracks the daily message quota and premium grants per identity.
//
// Storage failures never reach callers: reads fall back to zero/false and
// writes are dropped after being logged. The quota resets lazily, on read,
// by comparing the stored calendar date with today's.
type Ledger struct {
	store      kv.Store
	log        *zap.Logger
	now        func() time.Time
	loc        *time.Location
	dailyLimit int
	broker     *pubsub.Broker[Notification]
	onDrop     func(Notification)

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLocation sets the zone whose midnight resets the quota.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

func WithDailyLimit(limit int) Option {
	return func(l *Ledger) {
		if limit > 0 {
			l.dailyLimit = limit
		}
	}
}

// WithDropHook is called for every notification a slow subscriber misses.
func WithDropHook(hook func(Notification)) Option {
	return func(l *Ledger) { l.onDrop = hook }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		l.log = logging.OrNop(log)
	}
}

func New(store kv.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		log:        zap.NewNop(),
		now:        time.Now,
		loc:        time.Local,
		dailyLimit: DefaultDailyLimit,
		broker:     pubsub.NewBroker[Notification](),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Named("usage")
	if l.onDrop != nil {
		hook := l.onDrop
		l.broker.SetDropHook(func(ev pubsub.Event[Notification]) { hook(ev.Payload) })
	}
	return l
}

// DailyLimit returns the configured per-day message allowance.
func (l *Ledger) DailyLimit() int { return l.dailyLimit }

// IsPremium reports whether a grant exists for identity.
func (l *Ledger) IsPremium(ctx context.Context, identity string) bool {
	grants, err := l.loadGrants(ctx)
	if err != nil {
		l.log.Error("check premium status", zap.String("identity", NormalizeIdentity(identity)), zap.Error(err))
		return false
	}
	return hasGrant(grants, NormalizeIdentity(identity))
}

// Count returns today's message count for identity. A record from an earlier
// day reads as zero and is left untouched.
func (l *Ledger) Count(ctx context.Context, identity string) int {
	return l.count(ctx, NormalizeIdentity(identity))
}

// Increment records one more message for identity today.
func (l *Ledger) Increment(ctx context.Context, identity string) {
	id := NormalizeIdentity(identity)

	l.mu.Lock()
	rec := Record{Count: l.count(ctx, id) + 1, Date: l.today()}
	err := l.saveJSON(ctx, messageCountKeyPrefix+id, rec)
	l.mu.Unlock()

	if err != nil {
		l.log.Error("increment message count", zap.String("identity", id), zap.Error(err))
		return
	}
	l.broker.Publish(Notification{Kind: KindUsageChanged, Identity: id, Count: rec.Count})
}

// CanSend reports whether identity may send another message now.
func (l *Ledger) CanSend(ctx context.Context, identity string) bool {
	if l.IsPremium(ctx, identity) {
		return true
	}
	return l.Count(ctx, identity) < l.dailyLimit
}

// Remaining returns how many messages identity has left today; unlimited is
// true for premium identities and n is then meaningless.
func (l *Ledger) Remaining(ctx context.Context, identity string) (n int, unlimited bool) {
	if l.IsPremium(ctx, identity) {
		return 0, true
	}
	return max(0, l.dailyLimit-l.Count(ctx, identity)), false
}

// TimeUntilReset is the time left until the next midnight in the ledger's location.
func (l *Ledger) TimeUntilReset() time.Duration {
	now := l.now().In(l.loc)
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, l.loc)
	return next.Sub(now)
}

// GrantPremium records a permanent unlock for identity. It returns true only
// when a new grant was written; an existing grant makes it a no-op.
func (l *Ledger) GrantPremium(ctx context.Context, identity, proofReference string) bool {
	id := NormalizeIdentity(identity)

	l.mu.Lock()
	grants, err := l.loadGrants(ctx)
	if err != nil {
		l.mu.Unlock()
		l.log.Error("load premium grants", zap.String("identity", id), zap.Error(err))
		return false
	}
	if hasGrant(grants, id) {
		l.mu.Unlock()
		return false
	}
	grants = append(grants, PremiumGrant{
		Address:     id,
		PurchasedAt: l.now().UnixMilli(),
		TxHash:      proofReference,
	})
	err = l.saveJSON(ctx, premiumUsersKey, grants)
	l.mu.Unlock()

	if err != nil {
		l.log.Error("save premium grant", zap.String("identity", id), zap.Error(err))
		return false
	}
	l.log.Info("identity upgraded to premium", zap.String("identity", id), zap.String("tx_hash", proofReference))
	l.broker.Publish(Notification{Kind: KindPremiumChanged, Identity: id, Premium: true})
	return true
}

// Snapshot gathers the quota view shown to clients.
func (l *Ledger) Snapshot(ctx context.Context, identity string) Status {
	id := NormalizeIdentity(identity)
	reset := l.TimeUntilReset()
	st := Status{
		Identity:   id,
		Premium:    l.IsPremium(ctx, id),
		Count:      l.Count(ctx, id),
		DailyLimit: l.dailyLimit,
		ResetIn:    FormatResetIn(reset),
		ResetInMS:  reset.Milliseconds(),
	}
	if st.Premium {
		st.Unlimited = true
	} else {
		st.Remaining = max(0, l.dailyLimit-st.Count)
	}
	st.CanSend = l.CanSend(ctx, id)
	return st
}

// Subscribe streams usage and premium notifications until ctx is done.
func (l *Ledger) Subscribe(ctx context.Context) <-chan pubsub.Event[Notification] {
	return l.broker.Subscribe(ctx)
}

// Close ends all subscriptions.
func (l *Ledger) Close() {
	l.broker.Close()
}

// FormatResetIn renders d as "<hours>h <minutes>m".
func FormatResetIn(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func (l *Ledger) today() string {
	return l.now().In(l.loc).Format(dateLayout)
}

func (l *Ledger) count(ctx context.Context, id string) int {
	raw, ok, err := l.store.Get(ctx, messageCountKeyPrefix+id)
	if err != nil {
		l.log.Error("get message count", zap.String("identity", id), zap.Error(err))
		return 0
	}
	if !ok {
		return 0
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		l.log.Error("decode message count", zap.String("identity", id), zap.Error(err))
		return 0
	}
	if rec.Date != l.today() {
		return 0
	}
	return rec.Count
}

func (l *Ledger) loadGrants(ctx context.Context) ([]PremiumGrant, error) {
	raw, ok, err := l.store.Get(ctx, premiumUsersKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var grants []PremiumGrant
	if err := json.Unmarshal(raw, &grants); err != nil {
		return nil, fmt.Errorf("decode premium grants: %w", err)
	}
	return grants, nil
}

func (l *Ledger) saveJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return l.store.Set(ctx, key, raw)
}

func hasGrant(grants []PremiumGrant, id string) bool {
	for _, g := range grants {
		if NormalizeIdentity(g.Address) == id {
			return true
		}
	}
	return false
}
