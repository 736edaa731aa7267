// Package api exposes the vault and oracle over HTTP. Caller identity is
// carried in the X-Caller header; the engines themselves enforce every
// authorization rule, so the API never needs to pre-check ownership.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"pegvault/internal/journal"
	"pegvault/internal/metrics"
	"pegvault/internal/model"
	"pegvault/internal/oracle"
	"pegvault/internal/token"
	"pegvault/internal/vault"
)

// Server bundles the engines behind the HTTP API.
type Server struct {
	vault  *vault.Vault
	oracle *oracle.Oracle

	pegged *token.Book
	native *token.Book
	stable *token.Book

	journal *journal.Journal // nil disables /history
	metrics *metrics.Metrics // nil disables instrumentation

	totpSecret string
	log        *slog.Logger
}

// Config wires a Server.
type Config struct {
	Vault  *vault.Vault
	Oracle *oracle.Oracle

	Pegged *token.Book
	Native *token.Book
	Stable *token.Book

	Journal *journal.Journal
	Metrics *metrics.Metrics

	// AdminTOTPSecret protects /api/v1/admin. Empty disables the check;
	// only do that in development.
	AdminTOTPSecret string

	Logger *slog.Logger
}

// NewServer builds the API server.
func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.AdminTOTPSecret == "" {
		log.Warn("admin TOTP secret not set, admin endpoints unprotected")
	}
	return &Server{
		vault:      cfg.Vault,
		oracle:     cfg.Oracle,
		pegged:     cfg.Pegged,
		native:     cfg.Native,
		stable:     cfg.Stable,
		journal:    cfg.Journal,
		metrics:    cfg.Metrics,
		totpSecret: cfg.AdminTOTPSecret,
		log:        log,
	}
}

// Router sets up HTTP routes for the API server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Route("/api/v1", func(r chi.Router) {
		// Public reads
		r.Get("/price", s.handlePrice)
		r.Get("/oracle", s.handleOracleInfo)
		r.Get("/reserves", s.handleReserves)
		r.Get("/supply", s.handleSupply)
		r.Get("/balance/{address}", s.handleBalance)
		r.Get("/history/ops", s.handleHistory)

		// Conversions
		r.Post("/buy/native", s.handleBuy(model.MethodNative))
		r.Post("/buy/stable", s.handleBuy(model.MethodStable))
		r.Post("/sell/native", s.handleSell(model.MethodNative))
		r.Post("/sell/stable", s.handleSell(model.MethodStable))

		// Token ops against the reserve ledgers
		r.Post("/approve", s.handleApprove)
		r.Post("/transfer", s.handleTransfer)

		// Oracle updater path
		r.Post("/oracle/price", s.handleOracleUpdate)

		// Owner/collector operations, TOTP-gated
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireTOTP)
			r.Post("/fees", s.handleSetFee)
			r.Post("/collect", s.handleCollectFees)
			r.Post("/withdraw", s.handleWithdraw)
			r.Get("/drift", s.handleDrift)

			r.Get("/updaters", s.handleListUpdaters)
			r.Post("/updaters", s.handleAddUpdater)
			r.Delete("/updaters/{address}", s.handleRemoveUpdater)

			r.Post("/oracle/force", s.handleForceUpdate)
			r.Post("/oracle/bounds", s.handleOracleBounds)
			r.Post("/vault/price", s.handleVaultPrice)
			r.Post("/vault/bounds", s.handleVaultBounds)
			r.Post("/collector", s.handleSetCollector)
			r.Post("/price-source", s.handleSetPriceSource)

			r.Post("/owner/propose", s.handleProposeOwner)
			r.Post("/owner/accept", s.handleAcceptOwner)
		})
	})

	return r
}

// caller extracts the identity the request acts as.
func caller(r *http.Request) (model.Address, error) {
	c := model.Address(r.Header.Get("X-Caller"))
	if c.IsZero() {
		return model.ZeroAddress, errors.New("missing X-Caller header")
	}
	return c, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeErr maps the engine error taxonomy onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, model.ErrRateLimited):
		code = http.StatusTooManyRequests
	case errors.Is(err, model.ErrDeviationExceeded):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, model.ErrInsufficientAllowance),
		errors.Is(err, model.ErrInsufficientReserve):
		code = http.StatusConflict
	case errors.Is(err, model.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, model.ErrExternalCall):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
