package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/chat"
	"github.com/antoniostano/monadchat/internal/completion"
	"github.com/antoniostano/monadchat/internal/logging"
	"github.com/antoniostano/monadchat/internal/observability"
	"github.com/antoniostano/monadchat/internal/policy"
	"github.com/antoniostano/monadchat/internal/reliability"
)

const logPreviewRunes = 80

// Quota is the subset of the usage ledger the controller consults.
type Quota interface {
	IsPremium(ctx context.Context, identity string) bool
	Remaining(ctx context.Context, identity string) (n int, unlimited bool)
	Increment(ctx context.Context, identity string)
}

// Stores resolves the conversation store owned by an identity.
type Stores interface {
	For(owner string) chat.Store
}

// Controller runs the quota-check, persist, stream and finalize sequence for
// each user message. At most one send per conversation is in flight.
type Controller struct {
	quota    Quota
	stores   Stores
	client   completion.Client
	provider string
	metrics  *observability.Metrics
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]State

	// reserved counts sends per identity that passed the quota check and
	// have not been charged yet.
	quotaMu  sync.Mutex
	reserved map[string]int
}

type Option func(*Controller)

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) { c.log = logging.OrNop(log) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithProvider names the completion backend in error metrics.
func WithProvider(name string) Option {
	return func(c *Controller) {
		if name != "" {
			c.provider = name
		}
	}
}

func NewController(quota Quota, stores Stores, client completion.Client, opts ...Option) *Controller {
	c := &Controller{
		quota:    quota,
		stores:   stores,
		client:   client,
		provider: "completion",
		log:      zap.NewNop(),
		now:      time.Now,
		inFlight: make(map[string]State),
		reserved: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("session")
	return c
}

// State reports the current state of a conversation's send, idle when none
// is in flight.
func (c *Controller) State(identity, conversationID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.inFlight[flightKey(identity, conversationID)]; ok {
		return st
	}
	return StateIdle
}

// Send appends content to the conversation and streams the assistant reply
// through onFragment. It returns ErrQuotaExceeded without touching the
// conversation or the model when the identity is out of messages.
//
// ctx bounds only the lookup and quota check. Once the user message is
// stored the reply is generated, stored and charged even if ctx is
// cancelled; onFragment keeps being called and should drop output the caller
// can no longer receive.
func (c *Controller) Send(ctx context.Context, req SendRequest, onFragment FragmentHandler) (Result, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return Result{State: StateIdle}, ErrEmptyMessage
	}
	identity := strings.ToLower(strings.TrimSpace(req.Identity))
	key := flightKey(identity, req.ConversationID)
	log := c.log.With(zap.String("identity", identity), zap.String("chat_id", req.ConversationID))

	if !c.acquire(key) {
		c.countOutcome("in_flight")
		log.Debug("send dropped, reply in flight")
		return Result{State: c.State(identity, req.ConversationID)}, ErrInFlight
	}
	defer c.release(key)

	store := c.stores.For(identity)
	conv, ok := store.Get(ctx, req.ConversationID)
	if !ok {
		c.countOutcome("not_found")
		return Result{State: StateIdle}, ErrConversationNotFound
	}

	c.transition(log, key, StateQuotaCheck)
	quota, ok := c.reserve(ctx, identity)
	if !ok {
		c.transition(log, key, StateBlocked)
		c.countOutcome("blocked")
		return Result{State: StateBlocked, Conversation: conv}, ErrQuotaExceeded
	}
	// Past this point a caller going away stops receiving fragments, not the
	// reply.
	detached := context.WithoutCancel(ctx)
	defer quota.settle(detached, false)

	c.transition(log, key, StateSending)
	started := c.now()
	conv = conv.Clone()
	first := !conv.HasUserMessage()
	conv.Messages = append(conv.Messages, chat.NewUserMessage(content, started))
	if first {
		conv.Title = chat.DeriveTitle(content)
	}
	conv.UpdatedAt = started.UnixMilli()
	store.Save(detached, conv)
	log.Debug("user message stored", zap.String("preview", policy.Preview(content, logPreviewRunes)))

	c.transition(log, key, StateStreaming)
	reply, err := c.stream(detached, conv.Messages, started, onFragment)
	if err != nil {
		class := reliability.Classify(err)
		c.transition(log, key, StateFailed)
		c.countOutcome("failed")
		if c.metrics != nil {
			c.metrics.CompletionErrors.WithLabelValues(c.provider, string(class)).Inc()
		}
		log.Warn("completion failed", zap.String("class", string(class)), zap.Error(err))

		apology := chat.NewAssistantMessage(completion.ApologyText, c.now())
		conv.Messages = append(conv.Messages, apology)
		conv.UpdatedAt = apology.Timestamp
		store.Save(detached, conv)
		return Result{State: StateFailed, Conversation: conv, Reply: apology, Failed: true}, nil
	}

	c.transition(log, key, StateFinalizing)
	msg := chat.NewAssistantMessage(reply, c.now())
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.Timestamp
	store.Save(detached, conv)
	quota.settle(detached, true)
	c.countOutcome("completed")
	if c.metrics != nil {
		c.metrics.ObserveStage("send_total", c.now().Sub(started))
	}
	log.Debug("reply stored", zap.Int("reply_len", len(reply)))
	return Result{State: StateIdle, Conversation: conv, Reply: msg}, nil
}

func (c *Controller) stream(ctx context.Context, history []chat.Message, started time.Time, onFragment FragmentHandler) (string, error) {
	if c.metrics != nil {
		c.metrics.ActiveStreams.Inc()
		defer c.metrics.ActiveStreams.Dec()
	}

	s, err := c.client.Stream(ctx, history)
	if err != nil {
		return "", err
	}
	defer s.Close()

	var acc strings.Builder
	gotFirst := false
	for {
		fragment, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return acc.String(), nil
		}
		if err != nil {
			return "", err
		}
		if fragment == "" {
			continue
		}
		if !gotFirst {
			gotFirst = true
			if c.metrics != nil {
				c.metrics.ObserveFirstFragmentLatency(c.now().Sub(started))
			}
		}
		acc.WriteString(fragment)
		if c.metrics != nil {
			c.metrics.StreamFragments.Inc()
		}
		if onFragment != nil {
			onFragment(fragment, acc.String())
		}
	}
}

// reservation holds one of an identity's remaining messages between the
// quota check and the charge at finalizing, so concurrent sends from one
// process cannot spend past the daily limit.
type reservation struct {
	c         *Controller
	identity  string
	unlimited bool
	settled   bool
}

func (c *Controller) reserve(ctx context.Context, identity string) (*reservation, bool) {
	c.quotaMu.Lock()
	defer c.quotaMu.Unlock()

	remaining, unlimited := c.quota.Remaining(ctx, identity)
	if !unlimited {
		if remaining-c.reserved[identity] <= 0 {
			return nil, false
		}
		c.reserved[identity]++
	}
	return &reservation{c: c, identity: identity, unlimited: unlimited}, true
}

// settle releases the reservation, charging the ledger first when charge is
// set and the identity is not premium. Only the first call has an effect.
func (r *reservation) settle(ctx context.Context, charge bool) {
	if r.settled {
		return
	}
	r.settled = true

	c := r.c
	c.quotaMu.Lock()
	defer c.quotaMu.Unlock()
	if charge && !c.quota.IsPremium(ctx, r.identity) {
		c.quota.Increment(ctx, r.identity)
	}
	if r.unlimited {
		return
	}
	c.reserved[r.identity]--
	if c.reserved[r.identity] <= 0 {
		delete(c.reserved, r.identity)
	}
}

func (c *Controller) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = StateIdle
	return true
}

func (c *Controller) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

func (c *Controller) transition(log *zap.Logger, key string, to State) {
	c.mu.Lock()
	c.inFlight[key] = to
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SessionTransitions.WithLabelValues(string(to)).Inc()
	}
	log.Debug("session transition", zap.String("state", string(to)))
}

func (c *Controller) countOutcome(outcome string) {
	if c.metrics != nil {
		c.metrics.Messages.WithLabelValues(outcome).Inc()
	}
}

func flightKey(identity, conversationID string) string {
	return strings.ToLower(strings.TrimSpace(identity)) + "/" + conversationID
}
