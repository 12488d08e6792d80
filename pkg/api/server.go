// Package api exposes the ledger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"accounts-ledger/pkg/account"
	"accounts-ledger/pkg/ledger"
	"accounts-ledger/pkg/logging"
	"accounts-ledger/pkg/metrics"
	metricsmem "accounts-ledger/pkg/metrics/memory"
	"accounts-ledger/pkg/transfer"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the subset of *ledger.Coordinator the handlers use.
type Ledger interface {
	CreateAccount(ctx context.Context, req ledger.CreateAccountRequest) (*account.Account, error)
	GetAccount(ctx context.Context, number int64) (*account.Account, error)
	Deposit(ctx context.Context, number int64, amount decimal.Decimal) error
	Withdrawal(ctx context.Context, number int64, amount decimal.Decimal) (ledger.Result, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*transfer.Intent, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CircuitReporter is implemented by health backends guarded by a circuit
// breaker. An open circuit reports the service unhealthy.
type CircuitReporter interface {
	CircuitState() metrics.CircuitState
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds each ledger call made by a handler
	RequestTimeout time.Duration

	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	// Registerer receives the HTTP metrics. Nil disables them.
	Registerer prometheus.Registerer

	// Snapshot serves /metrics/json when set.
	Snapshot func() metricsmem.Snapshot
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Server routes HTTP requests to the ledger.
type Server struct {
	ledger Ledger
	health Pinger
	config ServerConfig
	router *mux.Router
	server *http.Server
	logger *logging.Logger
}

// NewServer wires the routes. health may be nil.
func NewServer(l Ledger, health Pinger, config ServerConfig) (*Server, error) {
	s := &Server{
		ledger: l,
		health: health,
		config: config,
		router: mux.NewRouter(),
		logger: logging.Global().Named("api"),
	}

	if config.Registerer != nil {
		m, err := newHTTPMetrics(config.Registerer)
		if err != nil {
			return nil, err
		}
		s.router.Use(m.middleware)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	s.router.HandleFunc("/accounts/{accountNumber}", s.handleGetAccount).Methods(http.MethodGet)
	s.router.HandleFunc("/accounts/{accountNumber}/deposit", s.handleDeposit).Methods(http.MethodPatch)
	s.router.HandleFunc("/accounts/{accountNumber}/withdrawal", s.handleWithdrawal).Methods(http.MethodPatch)
	s.router.HandleFunc("/transfers/{id}", s.handleGetTransfer).Methods(http.MethodGet)

	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if config.Snapshot != nil {
		s.router.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

// Handler returns the router, used by tests and embedding servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine. Fatal listen errors are sent
// on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	body := map[string]interface{}{}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		if reporter, ok := s.health.(CircuitReporter); ok {
			state := reporter.CircuitState()
			body["circuit"] = state.String()
			if state == metrics.CircuitOpen {
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
	}

	body["status"] = status
	body["timestamp"] = time.Now().Unix()
	writeJSON(w, code, body)
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Snapshot())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
