package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/chat"
	"github.com/antoniostano/monadchat/internal/completion"
	"github.com/antoniostano/monadchat/internal/config"
	"github.com/antoniostano/monadchat/internal/httpapi"
	"github.com/antoniostano/monadchat/internal/kv"
	"github.com/antoniostano/monadchat/internal/logging"
	"github.com/antoniostano/monadchat/internal/observability"
	"github.com/antoniostano/monadchat/internal/session"
	"github.com/antoniostano/monadchat/internal/usage"
	"github.com/antoniostano/monadchat/internal/wallet"
)

// Core is the chat stack shared by the server and the terminal client.
type Core struct {
	Config         config.Config
	Store          kv.Store
	StoreMode      string
	Ledger         *usage.Ledger
	Chats          *chat.Directory
	Completion     completion.Client
	CompletionMode string
	Controller     *session.Controller
	Metrics        *observability.Metrics
}

type BuildResult struct {
	*Core
	API      *httpapi.Server
	Gate     *wallet.Gate
	Verifier *wallet.Verifier

	// Cleanup should be called on shutdown to release external resources (DB, RPC client).
	Cleanup func() error
}

// BuildCore wires storage, the usage ledger, the completion client and the
// session controller from cfg.
func BuildCore(ctx context.Context, cfg config.Config, log *zap.Logger) (*Core, error) {
	log = logging.OrNop(log)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := kv.NewStore(ctx, cfg.DatabaseURL, cfg.KVSQLitePath)
	if err != nil {
		return nil, fmt.Errorf("kv store init failed: %w", err)
	}
	storeMode := kv.Mode(cfg.DatabaseURL, cfg.KVSQLitePath)

	completionCfg := completion.Config{
		Mode:        cfg.CompletionMode,
		APIKey:      cfg.GoogleAIAPIKey,
		Model:       cfg.ChatModel,
		EndpointURL: cfg.ChatEndpointURL,
		Logger:      log,
	}
	client, err := completion.NewClient(completionCfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("completion client init failed: %w", err)
	}
	completionMode := completion.ResolveMode(completionCfg)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	ledger := usage.New(store,
		usage.WithLocation(loc),
		usage.WithDailyLimit(cfg.DailyMessageLimit),
		usage.WithLogger(log),
		usage.WithDropHook(func(usage.Notification) { metrics.NotificationsDropped.Inc() }),
	)
	chats := chat.NewDirectory(store, log)
	controller := session.NewController(ledger, chats, client,
		session.WithLogger(log),
		session.WithMetrics(metrics),
		session.WithProvider(completionMode),
	)

	log.Info("chat core ready",
		zap.String("store_mode", storeMode),
		zap.String("completion_mode", completionMode),
		zap.Int("daily_limit", ledger.DailyLimit()),
	)

	return &Core{
		Config:         cfg,
		Store:          store,
		StoreMode:      storeMode,
		Ledger:         ledger,
		Chats:          chats,
		Completion:     client,
		CompletionMode: completionMode,
		Controller:     controller,
		Metrics:        metrics,
	}, nil
}

// Close ends ledger subscriptions and releases the store.
func (c *Core) Close() error {
	c.Ledger.Close()
	return c.Store.Close()
}

// Build wires the full HTTP service: the chat core plus the chain gate and
// payment verifier.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*BuildResult, error) {
	log = logging.OrNop(log)

	core, err := BuildCore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	price, err := cfg.PremiumPrice()
	if err != nil {
		_ = core.Close()
		return nil, err
	}

	deps := httpapi.Deps{
		Ledger:         core.Ledger,
		Chats:          core.Chats,
		Controller:     core.Controller,
		Completion:     core.Completion,
		Metrics:        core.Metrics,
		Logger:         log,
		StoreMode:      core.StoreMode,
		CompletionMode: core.CompletionMode,
	}

	result := &BuildResult{Core: core}
	closeChain := func() {}
	chain, err := wallet.Dial(ctx, cfg.ChainRPCURL)
	if err != nil {
		// The chat itself does not need the chain; only the gate and premium
		// endpoints report unavailable.
		log.Warn("chain rpc unavailable", zap.String("rpc_url", cfg.ChainRPCURL), zap.Error(err))
	} else {
		result.Gate = wallet.NewGate(chain, cfg.MinWalletTransactions, log)
		result.Verifier = wallet.NewVerifier(chain, cfg.PremiumReceiverAddress, price, log)
		deps.Gate = result.Gate
		deps.Payments = result.Verifier
		closeChain = chain.Close
	}

	result.API = httpapi.New(cfg, deps)
	result.Cleanup = func() error {
		closeChain()
		var errs []error
		if err := core.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
	return result, nil
}
