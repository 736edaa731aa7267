package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pegvault/internal/model"
)

// --- public reads ---

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	rate, at := s.vault.Rate()
	buyBps, sellBps := s.vault.Fees()
	writeJSON(w, http.StatusOK, map[string]any{
		"rate":         rate,
		"updated_at":   at.UTC().Format(time.RFC3339),
		"buy_fee_bps":  buyBps,
		"sell_fee_bps": sellBps,
	})
}

func (s *Server) handleOracleInfo(w http.ResponseWriter, r *http.Request) {
	rate, at := s.oracle.Rate()
	maxDev, minInterval := s.oracle.Bounds()
	writeJSON(w, http.StatusOK, map[string]any{
		"rate":                rate,
		"updated_at":          at.UTC().Format(time.RFC3339),
		"max_deviation_bps":   maxDev,
		"min_update_interval": minInterval.String(),
		"updaters":            s.oracle.Updaters(),
	})
}

func (s *Server) handleReserves(w http.ResponseWriter, r *http.Request) {
	native, stable := s.vault.Reserves()
	writeJSON(w, http.StatusOK, map[string]any{
		"native": native,
		"stable": stable,
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pegged": s.pegged.TotalSupply(),
		"native": s.native.TotalSupply(),
		"stable": s.stable.TotalSupply(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := model.Address(chi.URLParam(r, "address"))
	if addr.IsZero() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing address"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"pegged":  s.pegged.BalanceOf(addr),
		"native":  s.native.BalanceOf(addr),
		"stable":  s.stable.BalanceOf(addr),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "history not enabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.journal.Recent(r.URL.Query().Get("kind"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ops": recs})
}

// --- conversions ---

type amountReq struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleBuy(method model.PayMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := caller(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		var req amountReq
		if err := decode(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}

		var minted uint64
		if method == model.MethodNative {
			minted, err = s.vault.BuyWithNative(c, req.Amount)
		} else {
			minted, err = s.vault.BuyWithStable(c, req.Amount)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		if s.metrics != nil {
			s.metrics.BuysTotal.WithLabelValues(string(method)).Inc()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"buyer":  c,
			"in":     req.Amount,
			"minted": minted,
			"method": method,
		})
	}
}

func (s *Server) handleSell(method model.PayMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := caller(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		var req amountReq
		if err := decode(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}

		var payout uint64
		if method == model.MethodNative {
			payout, err = s.vault.SellForNative(c, req.Amount)
		} else {
			payout, err = s.vault.SellForStable(c, req.Amount)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		if s.metrics != nil {
			s.metrics.SellsTotal.WithLabelValues(string(method)).Inc()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"seller": c,
			"burned": req.Amount,
			"payout": payout,
			"method": method,
		})
	}
}

// --- token ops ---

type approveReq struct {
	Currency string `json:"currency"` // "pegged", "native", or "stable"
	Spender  string `json:"spender"`
	Amount   uint64 `json:"amount"`
}

func (s *Server) book(currency string) (bookFor, bool) {
	switch currency {
	case "pegged":
		return s.pegged, true
	case "native":
		return s.native, true
	case "stable":
		return s.stable, true
	}
	return nil, false
}

// bookFor is the subset of token.Book the HTTP layer drives directly.
type bookFor interface {
	Approve(caller, spender model.Address, amount uint64) error
	Transfer(caller, to model.Address, amount uint64) error
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req approveReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	b, ok := s.book(req.Currency)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown currency"})
		return
	}
	if err := b.Approve(c, model.Address(req.Spender), req.Amount); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": req.Amount})
}

type transferReq struct {
	Currency string `json:"currency"`
	To       string `json:"to"`
	Amount   uint64 `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req transferReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	b, ok := s.book(req.Currency)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown currency"})
		return
	}
	if err := b.Transfer(c, model.Address(req.To), req.Amount); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transferred": req.Amount})
}

// --- oracle ---

type rateReq struct {
	Rate uint64 `json:"rate"`
}

func (s *Server) handleOracleUpdate(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req rateReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.oracle.UpdatePrice(c, req.Rate); err != nil {
		if s.metrics != nil {
			s.metrics.PriceRejectsTotal.WithLabelValues(rejectReason(err)).Inc()
		}
		writeErr(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.PriceUpdatesTotal.WithLabelValues("oracle").Inc()
		s.metrics.RefRate.Set(float64(req.Rate))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rate": req.Rate})
}

// --- admin ---

type feeReq struct {
	Side string `json:"side"` // "buy" or "sell"
	Bps  uint64 `json:"bps"`
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req feeReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	switch req.Side {
	case "buy":
		err = s.vault.SetBuyFee(c, req.Bps)
	case "sell":
		err = s.vault.SetSellFee(c, req.Bps)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "side must be buy or sell"})
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"side": req.Side, "bps": req.Bps})
}

type drawReq struct {
	Native uint64 `json:"native"`
	Stable uint64 `json:"stable"`
}

func (s *Server) handleCollectFees(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req drawReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.vault.CollectFees(c, req.Native, req.Stable); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"native": req.Native, "stable": req.Stable})
}

type withdrawReq struct {
	To     string `json:"to"`
	Native uint64 `json:"native"`
	Stable uint64 `json:"stable"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req withdrawReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.vault.EmergencyWithdraw(c, model.Address(req.To), req.Native, req.Stable); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"to": req.To, "native": req.Native, "stable": req.Stable})
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	native, stable := s.vault.ReserveDrift()
	writeJSON(w, http.StatusOK, map[string]any{"native": native, "stable": stable})
}

type updaterReq struct {
	Updater string `json:"updater"`
}

func (s *Server) handleListUpdaters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"updaters": s.oracle.Updaters()})
}

func (s *Server) handleAddUpdater(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req updaterReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.oracle.AddUpdater(c, model.Address(req.Updater)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updater": req.Updater})
}

func (s *Server) handleRemoveUpdater(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	updater := model.Address(chi.URLParam(r, "address"))
	if err := s.oracle.RemoveUpdater(c, updater); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updater": updater})
}

func (s *Server) handleForceUpdate(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req rateReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.oracle.ForceUpdatePrice(c, req.Rate); err != nil {
		writeErr(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.PriceUpdatesTotal.WithLabelValues("oracle_force").Inc()
		s.metrics.RefRate.Set(float64(req.Rate))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rate": req.Rate})
}

type boundsReq struct {
	MaxDeviationBps *uint64 `json:"max_deviation_bps"`
	MinIntervalSecs *uint64 `json:"min_interval_secs"`
}

func (s *Server) handleOracleBounds(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req boundsReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req.MaxDeviationBps != nil {
		if err := s.oracle.SetMaxDeviation(c, *req.MaxDeviationBps); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.MinIntervalSecs != nil {
		if err := s.oracle.SetMinInterval(c, time.Duration(*req.MinIntervalSecs)*time.Second); err != nil {
			writeErr(w, err)
			return
		}
	}
	maxDev, minInterval := s.oracle.Bounds()
	writeJSON(w, http.StatusOK, map[string]any{
		"max_deviation_bps": maxDev,
		"min_interval":      minInterval.String(),
	})
}

func (s *Server) handleVaultPrice(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req rateReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.vault.UpdateRefPrice(c, req.Rate); err != nil {
		if s.metrics != nil {
			s.metrics.PriceRejectsTotal.WithLabelValues(rejectReason(err)).Inc()
		}
		writeErr(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.PriceUpdatesTotal.WithLabelValues("vault_owner").Inc()
		s.metrics.RefRate.Set(float64(req.Rate))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rate": req.Rate})
}

func (s *Server) handleVaultBounds(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req boundsReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req.MaxDeviationBps != nil {
		if err := s.vault.SetMaxPriceDeviation(c, *req.MaxDeviationBps); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.MinIntervalSecs != nil {
		if err := s.vault.SetMinPriceUpdatePeriod(c, time.Duration(*req.MinIntervalSecs)*time.Second); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

type addrReq struct {
	Address string `json:"address"`
}

func (s *Server) handleSetCollector(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req addrReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.vault.SetFeeCollector(c, model.Address(req.Address)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collector": req.Address})
}

func (s *Server) handleSetPriceSource(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req addrReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.vault.SetPriceSource(c, model.Address(req.Address)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"price_source": req.Address})
}

type ownerReq struct {
	Component string `json:"component"` // "vault" or "oracle"
	Candidate string `json:"candidate,omitempty"`
}

func (s *Server) handleProposeOwner(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req ownerReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	switch req.Component {
	case "vault":
		err = s.vault.ProposeOwner(c, model.Address(req.Candidate))
	case "oracle":
		err = s.oracle.ProposeOwner(c, model.Address(req.Candidate))
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "component must be vault or oracle"})
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"component": req.Component, "candidate": req.Candidate})
}

func (s *Server) handleAcceptOwner(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var req ownerReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	switch req.Component {
	case "vault":
		err = s.vault.AcceptOwner(c)
	case "oracle":
		err = s.oracle.AcceptOwner(c)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "component must be vault or oracle"})
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"component": req.Component, "owner": c})
}
