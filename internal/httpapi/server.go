package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/chat"
	"github.com/antoniostano/monadchat/internal/completion"
	"github.com/antoniostano/monadchat/internal/config"
	"github.com/antoniostano/monadchat/internal/logging"
	"github.com/antoniostano/monadchat/internal/observability"
	"github.com/antoniostano/monadchat/internal/session"
	"github.com/antoniostano/monadchat/internal/usage"
	"github.com/antoniostano/monadchat/internal/wallet"
)

const addressHeader = "X-Wallet-Address"

// EligibilityChecker answers the wallet activity gate.
type EligibilityChecker interface {
	Check(ctx context.Context, address string) wallet.Eligibility
}

// PaymentVerifier confirms premium payments on chain and names the terms a
// payment must meet.
type PaymentVerifier interface {
	Verify(ctx context.Context, claimedAddress, txHash string) (wallet.Payment, error)
	Receiver() string
	Price() *big.Int
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Ledger     *usage.Ledger
	Chats      *chat.Directory
	Controller *session.Controller
	// Completion answers /api/chat directly, outside any stored conversation.
	Completion completion.Client
	Gate       EligibilityChecker
	Payments   PaymentVerifier
	Metrics    *observability.Metrics
	Logger     *zap.Logger

	StoreMode      string
	CompletionMode string
}

type Server struct {
	cfg      config.Config
	deps     Deps
	metrics  *observability.Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		log:     logging.OrNop(deps.Logger).Named("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may subscribe to someone's quota events.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/chat", s.handleChat)

	r.Post("/v1/conversations", s.handleCreateConversation)
	r.Get("/v1/conversations", s.handleListConversations)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Delete("/v1/conversations/{id}", s.handleDeleteConversation)
	r.Post("/v1/conversations/{id}/messages", s.handleSendMessage)

	r.Get("/v1/usage/{address}", s.handleUsage)
	r.Get("/v1/wallet/{address}/eligibility", s.handleEligibility)
	r.Get("/v1/premium", s.handlePremiumTerms)
	r.Post("/v1/premium", s.handlePremium)
	r.Get("/v1/events/ws", s.handleEventsWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfReset)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"store_mode":      s.deps.StoreMode,
		"completion_mode": s.deps.CompletionMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.deps.Ledger != nil && s.deps.Chats != nil && s.deps.Controller != nil
	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	respondJSON(w, status, map[string]any{
		"status":          state,
		"store_mode":      s.deps.StoreMode,
		"completion_mode": s.deps.CompletionMode,
		"daily_limit":     s.cfg.DailyMessageLimit,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var (
	errEmptyBody      = errors.New("empty body")
	errInvalidAddress = errors.New("a valid wallet address is required")
)

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// requestIdentity reads the caller's wallet address from the header, then
// the address query parameter.
func requestIdentity(r *http.Request) (string, error) {
	addr := strings.TrimSpace(r.Header.Get(addressHeader))
	if addr == "" {
		addr = strings.TrimSpace(r.URL.Query().Get("address"))
	}
	return parseAddress(addr)
}

func parseAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", errInvalidAddress
	}
	return usage.NormalizeIdentity(common.HexToAddress(addr).Hex()), nil
}
