package crowdsaled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"tokensale/config"
	nativecommon "tokensale/native/common"
	"tokensale/native/crowdsale"
	"tokensale/observability/metrics"
	telemetry "tokensale/observability/otel"
	"tokensale/storage"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Sale         config.SaleParams
	BearerToken  string
	RateLimit    RateLimit
	PauseOnStart bool
	Logger       *slog.Logger
	Metrics      *metrics.CrowdsaleMetrics
	// TrustProxyHeaders mounts RealIP so X-Real-IP and X-Forwarded-For
	// replace the socket address. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
	// LedgerOptions are appended after the options derived from Sale.
	LedgerOptions []crowdsale.Option
}

// Server exposes one crowdsale ledger over HTTP. Every ledger call runs
// under mu together with the persistence that follows it.
type Server struct {
	mu     sync.Mutex
	ledger *crowdsale.Ledger
	tokens *crowdsale.TokenBalances
	pauses *nativecommon.Pauses

	state    *StateStore
	receipts *ReceiptStore
	payouts  *payoutSink
	feed     *eventFeed
	auth     *Authenticator
	limiter  *RateLimiter
	metrics  *metrics.CrowdsaleMetrics
	logger   *slog.Logger
	tracer   trace.Tracer
	degraded atomic.Bool

	trustProxy bool

	router http.Handler
}

// New restores the ledger from db when a snapshot exists and creates it
// from cfg.Sale otherwise.
func New(cfg Config, db storage.Database, receipts *ReceiptStore) (*Server, error) {
	if db == nil || receipts == nil {
		return nil, fmt.Errorf("crowdsaled: state and receipt stores required")
	}
	auth, err := NewAuthenticator(cfg.BearerToken)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Crowdsale()
	}
	srv := &Server{
		pauses:   nativecommon.NewPauses(),
		state:    NewStateStore(db),
		receipts: receipts,
		payouts:  &payoutSink{store: receipts},
		feed:     newEventFeed(logger.With(slog.String("component", "events")), m, 0),
		auth:     auth,
		limiter:  NewRateLimiter(cfg.RateLimit, logger, m),
		metrics:  m,
		logger:   logger,
		tracer:   telemetry.Tracer("tokensale/crowdsaled"),

		trustProxy: cfg.TrustProxyHeaders,
	}
	if cfg.PauseOnStart {
		srv.pauses.Pause(crowdsale.ModuleName)
	}
	if err := srv.openLedger(cfg); err != nil {
		return nil, err
	}
	srv.metrics.SetRate(srv.ledger.Rate())
	srv.metrics.SetTotalRaised(srv.ledger.TotalRaised())
	srv.router = srv.buildRouter()
	return srv, nil
}

func (s *Server) openLedger(cfg Config) error {
	opts := []crowdsale.Option{
		crowdsale.WithAuthorizer(crowdsale.NewControllers(cfg.Sale.Controllers...)),
		crowdsale.WithEmitter(s.feed),
		crowdsale.WithPauses(s.pauses),
	}
	if cfg.Sale.HasWindow() {
		window, err := crowdsale.NewWindow(cfg.Sale.Opening, cfg.Sale.Closing)
		if err != nil {
			return err
		}
		opts = append(opts, crowdsale.WithWindow(window))
	}
	opts = append(opts, cfg.LedgerOptions...)

	persisted, found, err := s.state.Load()
	if err != nil {
		return err
	}
	if !found {
		s.tokens = crowdsale.NewTokenBalances(cfg.Sale.MaxSupply)
		s.ledger, err = crowdsale.NewLedger(crowdsale.Params{
			UnitPrice:         cfg.Sale.UnitPrice,
			CapUsdCents:       cfg.Sale.CapUsdCents,
			GoalUsdCents:      cfg.Sale.GoalUsdCents,
			RateWeiPerUsdCent: cfg.Sale.RateWeiPerUsdCent,
			Wallet:            cfg.Sale.Wallet,
		}, s.tokens, s.payouts, opts...)
		if err != nil {
			return err
		}
		s.logger.Info("crowdsale ledger created", slog.String("wallet", cfg.Sale.Wallet.Hex()))
		return s.state.Save(s.ledger.Snapshot(), s.tokens.Holders())
	}

	if err := matchesConfig(persisted.Ledger, cfg.Sale); err != nil {
		return err
	}
	s.tokens, err = crowdsale.RestoreTokenBalances(cfg.Sale.MaxSupply, persisted.Tokens)
	if err != nil {
		return fmt.Errorf("restore token balances: %w", err)
	}
	s.ledger, err = crowdsale.Restore(persisted.Ledger, s.tokens, s.payouts, opts...)
	if err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	s.logger.Info("crowdsale ledger restored",
		slog.Uint64("purchases", s.ledger.Purchases()),
		slog.Bool("finalized", s.ledger.Finalized()))
	return nil
}

// matchesConfig refuses to resume a persisted sale whose fixed economics
// differ from the configuration. The rate is exempt because controllers
// change it at runtime.
func matchesConfig(snapshot crowdsale.Snapshot, sale config.SaleParams) error {
	checks := []struct {
		name       string
		persisted  *big.Int
		configured *big.Int
	}{
		{"UnitPriceWei", snapshot.UnitPrice, sale.UnitPrice},
		{"CapUsdCents", snapshot.CapUsdCents, sale.CapUsdCents},
		{"GoalUsdCents", snapshot.GoalUsdCents, sale.GoalUsdCents},
	}
	for _, check := range checks {
		if check.persisted == nil || check.configured == nil || check.persisted.Cmp(check.configured) != 0 {
			return fmt.Errorf("crowdsaled: persisted %s %v differs from configured %v", check.name, check.persisted, check.configured)
		}
	}
	if snapshot.Wallet != sale.Wallet {
		return fmt.Errorf("crowdsaled: persisted wallet %s differs from configured %s", snapshot.Wallet.Hex(), sale.Wallet.Hex())
	}
	return nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if s.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.With(s.limiter.Middleware("buy")).Post("/buy", s.handleBuy)
		api.With(s.limiter.Middleware("refund")).Post("/refund", s.handleRefund)
		api.Get("/status", s.handleStatus)
		api.Get("/balances/{address}", s.handleBalances)
		api.Get("/receipts/{id}", s.handleReceipt)
		api.Get("/accounts/{address}/receipts", s.handleAccountReceipts)
		api.Get("/events", s.handleEvents)

		api.Group(func(admin chi.Router) {
			admin.Use(s.auth.Middleware)
			admin.Post("/finalize", s.handleFinalize)
			admin.Post("/rate", s.handleSetRate)
			admin.Post("/pause", s.handlePause)
			admin.Post("/resume", s.handleResume)
			admin.Get("/payouts", s.handlePayouts)
			admin.Post("/payouts/{id}/settle", s.handleSettlePayout)
		})
	})
	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(route, status, time.Since(start))
	})
}

// persistLocked writes the committed state. The caller holds mu. A failed
// write leaves the in-memory ledger authoritative and marks the service
// degraded until a later write succeeds.
func (s *Server) persistLocked(operation string) {
	s.metrics.SetTotalRaised(s.ledger.TotalRaised())
	if err := s.state.Save(s.ledger.Snapshot(), s.tokens.Holders()); err != nil {
		s.degraded.Store(true)
		s.logger.Error("persist ledger state failed",
			slog.String("operation", operation),
			slog.Any("error", err))
		return
	}
	s.degraded.Store(false)
}

func (s *Server) recordReceipt(ctx context.Context, receipt *Receipt) string {
	receipt.RequestID = chimw.GetReqID(ctx)
	if err := s.receipts.Record(ctx, receipt); err != nil {
		s.logger.Warn("record receipt failed",
			slog.String("kind", string(receipt.Kind)),
			slog.Any("error", err))
		return ""
	}
	return receipt.ID.String()
}

// statusFor maps ledger errors onto HTTP statuses and stable metric reasons.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, crowdsale.ErrZeroAddress):
		return http.StatusBadRequest, "zero_address"
	case errors.Is(err, crowdsale.ErrZeroValue):
		return http.StatusBadRequest, "zero_value"
	case errors.Is(err, crowdsale.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, crowdsale.ErrInvalidRate):
		return http.StatusBadRequest, "invalid_rate"
	case errors.Is(err, crowdsale.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, crowdsale.ErrCapExceeded):
		return http.StatusConflict, "cap_exceeded"
	case errors.Is(err, crowdsale.ErrSaleNotOpen):
		return http.StatusConflict, "sale_not_open"
	case errors.Is(err, crowdsale.ErrSaleStillOpen):
		return http.StatusConflict, "sale_still_open"
	case errors.Is(err, crowdsale.ErrAlreadyFinalized):
		return http.StatusConflict, "already_finalized"
	case errors.Is(err, crowdsale.ErrNotFinalized):
		return http.StatusConflict, "not_finalized"
	case errors.Is(err, crowdsale.ErrNotRefunding), errors.Is(err, crowdsale.ErrVaultClosed):
		return http.StatusConflict, "vault_state"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, crowdsale.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity, "overflow"
	case errors.Is(err, crowdsale.ErrMintFailed):
		return http.StatusBadGateway, "mint_failed"
	case errors.Is(err, crowdsale.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
