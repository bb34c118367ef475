package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/kv"
	"github.com/antoniostano/monadchat/internal/logging"
)

const historyKey = "monad-chat-history"

// Store persists conversations, newest first. Implementations swallow
// persistence failures after logging them, so callers cannot assume
// durability.
type Store interface {
	Create() Conversation
	List(ctx context.Context) []Conversation
	Get(ctx context.Context, id string) (Conversation, bool)
	Save(ctx context.Context, c Conversation)
	Delete(ctx context.Context, id string)
}

// KVStore keeps an owner's whole conversation list as a single JSON blob.
type KVStore struct {
	kv  kv.Store
	key string
	log *zap.Logger
	now func() time.Time

	mu *sync.Mutex
}

// Directory hands out one KVStore per owner, sharing the underlying kv store.
type Directory struct {
	kv  kv.Store
	log *zap.Logger
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDirectory(store kv.Store, log *zap.Logger) *Directory {
	return &Directory{
		kv:    store,
		log:   logging.OrNop(log).Named("chat"),
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// For returns the store for owner. An empty owner maps to the unscoped
// history key, which is what a single-user client uses.
func (d *Directory) For(owner string) Store {
	owner = strings.ToLower(strings.TrimSpace(owner))
	key := historyKey
	if owner != "" {
		key = historyKey + "-" + owner
	}

	d.mu.Lock()
	lock, ok := d.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[key] = lock
	}
	d.mu.Unlock()

	return &KVStore{kv: d.kv, key: key, log: d.log.With(zap.String("key", key)), now: d.now, mu: lock}
}

// NewKVStore returns a store over the unscoped history key.
func NewKVStore(store kv.Store, log *zap.Logger) *KVStore {
	return &KVStore{
		kv:  store,
		key: historyKey,
		log: logging.OrNop(log).Named("chat"),
		now: time.Now,
		mu:  &sync.Mutex{},
	}
}

func (s *KVStore) Create() Conversation {
	return NewConversation(s.now())
}

func (s *KVStore) List(ctx context.Context) []Conversation {
	list, err := s.load(ctx)
	if err != nil {
		s.log.Error("load chat history", zap.Error(err))
		return []Conversation{}
	}
	return list
}

func (s *KVStore) Get(ctx context.Context, id string) (Conversation, bool) {
	for _, c := range s.List(ctx) {
		if c.ID == id {
			return c, true
		}
	}
	return Conversation{}, false
}

// Save replaces the conversation in place when its id exists and prepends it otherwise.
func (s *KVStore) Save(ctx context.Context, c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	switch {
	case errors.Is(err, errCorruptHistory):
		// An unreadable blob is overwritten rather than wedging the owner.
		s.log.Warn("save chat: discarding unreadable history", zap.String("chat_id", c.ID), zap.Error(err))
		list = []Conversation{}
	case err != nil:
		s.log.Error("save chat", zap.String("chat_id", c.ID), zap.Error(err))
		return
	}
	replaced := false
	for i := range list {
		if list[i].ID == c.ID {
			list[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		list = append([]Conversation{c}, list...)
	}
	if err := s.store(ctx, list); err != nil {
		s.log.Error("save chat", zap.String("chat_id", c.ID), zap.Error(err))
	}
}

func (s *KVStore) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	switch {
	case errors.Is(err, errCorruptHistory):
		// An unreadable blob is overwritten rather than wedging the owner.
		s.log.Warn("delete chat: discarding unreadable history", zap.String("chat_id", id), zap.Error(err))
		list = []Conversation{}
	case err != nil:
		s.log.Error("delete chat", zap.String("chat_id", id), zap.Error(err))
		return
	}
	filtered := list[:0]
	for _, c := range list {
		if c.ID != id {
			filtered = append(filtered, c)
		}
	}
	if err := s.store(ctx, filtered); err != nil {
		s.log.Error("delete chat", zap.String("chat_id", id), zap.Error(err))
	}
}

var errCorruptHistory = errors.New("decode chat history")

func (s *KVStore) load(ctx context.Context) ([]Conversation, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return []Conversation{}, nil
	}
	var list []Conversation
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptHistory, err)
	}
	return list, nil
}

func (s *KVStore) store(ctx context.Context, list []Conversation) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}
	return s.kv.Set(ctx, s.key, raw)
}
