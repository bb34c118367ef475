package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/wallet"
)

type premiumRequest struct {
	Address string `json:"address"`
	TxHash  string `json:"tx_hash"`
}

type premiumResponse struct {
	Address string         `json:"address"`
	Premium bool           `json:"premium"`
	Granted bool           `json:"granted"`
	Payment wallet.Payment `json:"payment"`
}

type premiumTermsResponse struct {
	Receiver string `json:"receiver"`
	PriceWei string `json:"price_wei"`
}

// handlePremiumTerms tells clients where to send the premium payment and how
// much it must be.
func (s *Server) handlePremiumTerms(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Payments == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "payment verification not configured")
		return
	}
	respondJSON(w, http.StatusOK, premiumTermsResponse{
		Receiver: s.deps.Payments.Receiver(),
		PriceWei: s.deps.Payments.Price().String(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	identity, err := parseAddress(strings.TrimSpace(chi.URLParam(r, "address")))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Ledger.Snapshot(r.Context(), identity))
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	identity, err := parseAddress(strings.TrimSpace(chi.URLParam(r, "address")))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	if s.deps.Gate == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "chain gate not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Gate.Check(r.Context(), identity))
}

// handlePremium verifies a payment on chain and records the grant. Posting
// the same payment twice is harmless; granted is false the second time.
func (s *Server) handlePremium(w http.ResponseWriter, r *http.Request) {
	var req premiumRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if s.deps.Payments == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "payment verification not configured")
		return
	}

	started := time.Now()
	payment, err := s.deps.Payments.Verify(r.Context(), req.Address, req.TxHash)
	if s.metrics != nil {
		s.metrics.ObserveStage("premium_verify", time.Since(started))
	}
	if err != nil {
		s.countPremium(premiumResult(err))
		status, code := premiumErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("verify premium payment", zap.String("tx_hash", req.TxHash), zap.Error(err))
		}
		respondError(w, status, code, err.Error())
		return
	}

	identity, _ := parseAddress(req.Address)
	granted := s.deps.Ledger.GrantPremium(r.Context(), identity, payment.TxHash)
	if granted {
		s.countPremium("granted")
	} else {
		s.countPremium("already_premium")
	}
	respondJSON(w, http.StatusOK, premiumResponse{
		Address: identity,
		Premium: s.deps.Ledger.IsPremium(r.Context(), identity),
		Granted: granted,
		Payment: payment,
	})
}

func (s *Server) countPremium(result string) {
	if s.metrics != nil {
		s.metrics.PremiumGrants.WithLabelValues(result).Inc()
	}
}

func premiumErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, wallet.ErrInvalidAddress), errors.Is(err, wallet.ErrInvalidTxHash):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, wallet.ErrPaymentPending):
		return http.StatusConflict, "payment_pending"
	case errors.Is(err, wallet.ErrPaymentFailed),
		errors.Is(err, wallet.ErrWrongRecipient),
		errors.Is(err, wallet.ErrInsufficientValue),
		errors.Is(err, wallet.ErrSenderMismatch):
		return http.StatusPaymentRequired, "payment_invalid"
	default:
		return http.StatusBadGateway, "chain_unavailable"
	}
}

func premiumResult(err error) string {
	status, _ := premiumErrorStatus(err)
	switch status {
	case http.StatusConflict:
		return "pending"
	case http.StatusPaymentRequired:
		return "rejected"
	case http.StatusBadRequest:
		return "invalid"
	default:
		return "error"
	}
}
