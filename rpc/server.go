package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftlend/core/events"
	"nftlend/native/liquidation"
	"nftlend/native/loan"
	"nftlend/native/otc"
	"nftlend/native/pool"
	"nftlend/native/vault"
)

// Server exposes the protocol engines over HTTP. Read endpoints are open;
// mutating endpoints require a bearer token, matching the admin surface of
// the engines.
type Server struct {
	pool         *pool.Engine
	loans        *loan.Engine
	liquidations *liquidation.Engine
	otc          *otc.Engine
	vault        *vault.Engine

	collector *events.Collector
	logger    *slog.Logger

	authToken      string
	metricsEnabled bool
}

// Options configures optional server collaborators.
type Options struct {
	Collector      *events.Collector
	Logger         *slog.Logger
	AuthToken      string
	MetricsEnabled bool
}

// NewServer wires the engines into an HTTP server.
func NewServer(poolEngine *pool.Engine, loanEngine *loan.Engine, liquidationEngine *liquidation.Engine, otcEngine *otc.Engine, vaultEngine *vault.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pool:           poolEngine,
		loans:          loanEngine,
		liquidations:   liquidationEngine,
		otc:            otcEngine,
		vault:          vaultEngine,
		collector:      opts.Collector,
		logger:         logger,
		authToken:      strings.TrimSpace(opts.AuthToken),
		metricsEnabled: opts.MetricsEnabled,
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pool", s.handleGetPool)
		r.Get("/pool/lenders/{address}", s.handleGetLender)
		r.Get("/loans/{borrower}/{loanID}", s.handleGetLoan)
		r.Get("/liquidations/{lid}", s.handleGetLiquidation)
		r.Get("/liquidations/loan/{borrower}/{loanID}", s.handleLoanLiquidations)
		r.Get("/otc/instances", s.handleListInstances)
		r.Get("/otc/instances/{id}", s.handleGetInstance)
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/pool/deposit", s.handleDeposit)
			r.Post("/pool/withdraw", s.handleWithdraw)
			r.Post("/pool/deprecate", s.handleDeprecate)
			r.Post("/loans/reserve", s.handleReserve)
			r.Post("/loans/{borrower}/{loanID}/start", s.handleStart)
			r.Post("/loans/{borrower}/{loanID}/pay", s.handlePay)
			r.Post("/loans/{borrower}/{loanID}/cancel", s.handleCancel)
			r.Post("/loans/{borrower}/{loanID}/default", s.handleSettleDefault)
			r.Post("/liquidations/loan/{borrower}/{loanID}/buyback", s.handleBuyBack)
			r.Post("/liquidations/{lid}/lender-purchase", s.handleLenderPurchase)
			r.Post("/liquidations/{lid}/marketplace-sell", s.handleMarketplaceSell)
			r.Post("/liquidations/{lid}/admin-resolve", s.handleAdminResolve)
			r.Post("/otc/instances", s.handleCreateInstance)
			r.Post("/otc/instances/{id}/initialize", s.handleInitializeInstance)
			r.Post("/otc/instances/{id}/claim", s.handleClaim)
			r.Post("/vault/admin-withdraw", s.handleAdminWithdraw)
		})
	})
	return r
}

// Serve blocks on ListenAndServe.
func (s *Server) Serve(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("rpc listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			writeError(w, http.StatusUnauthorized, "rpc authentication token not configured")
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "authorization header must use Bearer scheme")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid rpc credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
