package crowdsaled

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tokensale/native/crowdsale"
)

const maxBodyBytes = 1 << 16

type buyRequest struct {
	Buyer string `json:"buyer"`
	Value string `json:"value"`
}

type buyResponse struct {
	ContributionID string `json:"contributionId"`
	Buyer          string `json:"buyer"`
	Incoming       string `json:"incoming"`
	Spent          string `json:"spent"`
	Overpaid       string `json:"overpaid"`
	Units          string `json:"units"`
	ReceiptID      string `json:"receiptId,omitempty"`
}

type refundRequest struct {
	Buyer string `json:"buyer"`
}

type refundResponse struct {
	Buyer       string `json:"buyer"`
	Sale        string `json:"sale"`
	Overpayment string `json:"overpayment"`
	Total       string `json:"total"`
	ReceiptID   string `json:"receiptId,omitempty"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type finalizeResponse struct {
	GoalReached bool   `json:"goalReached"`
	TotalRaised string `json:"totalRaised"`
	ReceiptID   string `json:"receiptId,omitempty"`
}

type rateRequest struct {
	Caller string `json:"caller"`
	Rate   string `json:"rate"`
}

type rateResponse struct {
	Previous  string `json:"previous"`
	Rate      string `json:"rate"`
	ReceiptID string `json:"receiptId,omitempty"`
}

type statusResponse struct {
	UnitPrice        string `json:"unitPrice"`
	Rate             string `json:"rate"`
	CapUsdCents      string `json:"capUsdCents"`
	GoalUsdCents     string `json:"goalUsdCents"`
	CapWei           string `json:"capWei"`
	GoalWei          string `json:"goalWei"`
	TotalRaised      string `json:"totalRaised"`
	CapReached       bool   `json:"capReached"`
	GoalReached      bool   `json:"goalReached"`
	Finalized        bool   `json:"finalized"`
	Purchases        uint64 `json:"purchases"`
	SaleVault        string `json:"saleVault"`
	SaleHeld         string `json:"saleHeld"`
	OverpaymentVault string `json:"overpaymentVault"`
	OverpaymentHeld  string `json:"overpaymentHeld"`
	Wallet           string `json:"wallet"`
	Paused           bool   `json:"paused"`
	TokenSupply      string `json:"tokenSupply"`
}

type balancesResponse struct {
	Address     string `json:"address"`
	Tokens      string `json:"tokens"`
	Sale        string `json:"sale"`
	Overpayment string `json:"overpayment"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.degraded.Load() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	const op = "buy"
	var req buyRequest
	if err := decode(w, r, &req); err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx, span := s.startSpan(r.Context(), op,
		attribute.String("buyer", buyer.Hex()),
		attribute.String("value", value.String()))
	defer span.End()

	s.mu.Lock()
	contribution, err := s.ledger.Buy(buyer, value)
	if err == nil {
		s.persistLocked(op)
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, span, op, err)
		return
	}

	receiptID := s.recordReceipt(ctx, &Receipt{
		Kind:           ReceiptPurchase,
		Account:        buyer.Hex(),
		ContributionID: contribution.ID.Hex(),
		Incoming:       contribution.Incoming.String(),
		Spent:          contribution.Spent.String(),
		Overpaid:       contribution.Overpaid.String(),
		Units:          contribution.Units.String(),
	})
	span.SetAttributes(attribute.String("contribution", contribution.ID.Hex()))
	writeJSON(w, http.StatusOK, buyResponse{
		ContributionID: contribution.ID.Hex(),
		Buyer:          buyer.Hex(),
		Incoming:       contribution.Incoming.String(),
		Spent:          contribution.Spent.String(),
		Overpaid:       contribution.Overpaid.String(),
		Units:          contribution.Units.String(),
		ReceiptID:      receiptID,
	})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	const op = "refund"
	var req refundRequest
	if err := decode(w, r, &req); err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx, span := s.startSpan(r.Context(), op, attribute.String("buyer", buyer.Hex()))
	defer span.End()

	s.mu.Lock()
	s.payouts.key = payoutKey(payoutKindRefund, buyer)
	refund, err := s.ledger.ClaimRefund(buyer)
	s.payouts.key = ""
	if err == nil {
		s.persistLocked(op)
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, span, op, err)
		return
	}

	total := refund.Total()
	resp := refundResponse{
		Buyer:       buyer.Hex(),
		Sale:        refund.Sale.String(),
		Overpayment: refund.Overpayment.String(),
		Total:       total.String(),
	}
	if total.Sign() > 0 {
		resp.ReceiptID = s.recordReceipt(ctx, &Receipt{
			Kind:     ReceiptRefund,
			Account:  buyer.Hex(),
			Refunded: total.String(),
			Detail:   fmt.Sprintf("sale=%s overpayment=%s", refund.Sale, refund.Overpayment),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	const op = "finalize"
	var req callerRequest
	if err := decode(w, r, &req); err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx, span := s.startSpan(r.Context(), op, attribute.String("caller", caller.Hex()))
	defer span.End()

	s.mu.Lock()
	s.payouts.key = payoutKey(payoutKindForward, s.ledger.Wallet())
	err = s.ledger.Finalize(caller)
	s.payouts.key = ""
	var status crowdsale.Status
	if err == nil {
		s.persistLocked(op)
		status, err = s.ledger.Status()
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, span, op, err)
		return
	}

	span.SetAttributes(attribute.Bool("goal_reached", status.GoalReached))
	receiptID := s.recordReceipt(ctx, &Receipt{
		Kind:    ReceiptFinalize,
		Account: caller.Hex(),
		Detail:  fmt.Sprintf("goalReached=%t totalRaised=%s", status.GoalReached, status.TotalRaised),
	})
	writeJSON(w, http.StatusOK, finalizeResponse{
		GoalReached: status.GoalReached,
		TotalRaised: status.TotalRaised.String(),
		ReceiptID:   receiptID,
	})
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	const op = "set_rate"
	var req rateRequest
	if err := decode(w, r, &req); err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	rate, err := parseAmount(req.Rate)
	if err != nil {
		s.reject(w, op, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx, span := s.startSpan(r.Context(), op,
		attribute.String("caller", caller.Hex()),
		attribute.String("rate", rate.String()))
	defer span.End()

	s.mu.Lock()
	previous, err := s.ledger.SetRate(caller, rate)
	if err == nil {
		s.persistLocked(op)
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, span, op, err)
		return
	}

	receiptID := s.recordReceipt(ctx, &Receipt{
		Kind:    ReceiptRate,
		Account: caller.Hex(),
		Detail:  fmt.Sprintf("previous=%s rate=%s", previous, rate),
	})
	writeJSON(w, http.StatusOK, rateResponse{
		Previous:  previous.String(),
		Rate:      rate.String(),
		ReceiptID: receiptID,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.pauses.Pause(crowdsale.ModuleName)
	s.logger.Warn("crowdsale paused")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.pauses.Resume(crowdsale.ModuleName)
	s.logger.Info("crowdsale resumed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status, err := s.ledger.Status()
	wallet := s.ledger.Wallet()
	supply := s.tokens.TotalSupply()
	s.mu.Unlock()
	if err != nil {
		code, _ := statusFor(err)
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		UnitPrice:        status.UnitPrice.String(),
		Rate:             status.Rate.String(),
		CapUsdCents:      status.CapUsdCents.String(),
		GoalUsdCents:     status.GoalUsdCents.String(),
		CapWei:           status.CapWei.String(),
		GoalWei:          status.GoalWei.String(),
		TotalRaised:      status.TotalRaised.String(),
		CapReached:       status.CapReached,
		GoalReached:      status.GoalReached,
		Finalized:        status.Finalized,
		Purchases:        status.Purchases,
		SaleVault:        status.SaleVault,
		SaleHeld:         status.SaleHeld.String(),
		OverpaymentVault: status.OverpaymentVault,
		OverpaymentHeld:  status.OverpaymentHeld.String(),
		Wallet:           wallet.Hex(),
		Paused:           s.pauses.IsPaused(crowdsale.ModuleName),
		TokenSupply:      supply.String(),
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	resp := balancesResponse{
		Address:     addr.Hex(),
		Tokens:      s.tokens.BalanceOf(addr).String(),
		Sale:        s.ledger.SaleBalanceOf(addr).String(),
		Overpayment: s.ledger.OverpaymentBalanceOf(addr).String(),
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid receipt id")
		return
	}
	receipt, err := s.receipts.Get(r.Context(), id)
	if errors.Is(err, ErrReceiptNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("load receipt failed", slog.String("id", id.String()), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "receipt lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleAccountReceipts(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	receipts, err := s.receipts.ListByAccount(r.Context(), addr, limit)
	if err != nil {
		s.logger.Error("list receipts failed", slog.String("account", addr.Hex()), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "receipt lookup failed")
		return
	}
	if receipts == nil {
		receipts = []Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Recent())
}

func (s *Server) handlePayouts(w http.ResponseWriter, r *http.Request) {
	status := PayoutStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "", PayoutPending, PayoutSettled:
	default:
		writeError(w, http.StatusBadRequest, "unknown payout status")
		return
	}
	payouts, err := s.receipts.Payouts(r.Context(), status)
	if err != nil {
		s.logger.Error("list payouts failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "payout lookup failed")
		return
	}
	if payouts == nil {
		payouts = []Payout{}
	}
	writeJSON(w, http.StatusOK, payouts)
}

func (s *Server) handleSettlePayout(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payout id")
		return
	}
	if err := s.receipts.MarkSettled(r.Context(), id); err != nil {
		if errors.Is(err, ErrPayoutNotPending) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("settle payout failed", slog.String("id", id.String()), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "settle payout failed")
		return
	}
	s.logger.Info("payout settled", slog.String("id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "crowdsale."+op, trace.WithAttributes(attrs...))
}

// fail reports a ledger error on the span, the metrics and the response.
func (s *Server) fail(w http.ResponseWriter, span trace.Span, op string, err error) {
	code, reason := statusFor(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		s.logger.Error("ledger operation failed", slog.String("operation", op), slog.Any("error", err))
	}
	s.metrics.ObserveRejection(op, reason)
	writeError(w, code, err.Error())
}

func (s *Server) reject(w http.ResponseWriter, op string, code int, reason string, err error) {
	s.metrics.ObserveRejection(op, reason)
	writeError(w, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: trailing data")
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount accepts a non-negative base-10 integer string.
func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write response failed", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
