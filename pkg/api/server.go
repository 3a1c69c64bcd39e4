package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/tulipdesk/params"
	"github.com/uhyunpark/tulipdesk/pkg/app/orders"
	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
)

const maxBodyBytes = 1 << 20

// Server handles REST API and WebSocket connections
type Server struct {
	cfg      *params.Config
	orders   *orders.Service
	personas *personas.Directory
	router   *mux.Router
	hub      *Hub
	gatherer prometheus.Gatherer
	logger   *zap.SugaredLogger
}

func NewServer(cfg *params.Config, orderSvc *orders.Service, dir *personas.Directory, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		cfg:      cfg,
		orders:   orderSvc,
		personas: dir,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		gatherer: gatherer,
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// /api routes sit on the root router so a wrong method on a known path
	// resolves to 405 rather than a subrouter 404
	r.HandleFunc("/api/config", s.handleConfig).Methods(http.MethodGet)

	r.HandleFunc("/api/orders", s.handleListOrders).Methods(http.MethodGet)
	r.HandleFunc("/api/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	r.HandleFunc("/api/metrics/pulse", s.handlePulse).Methods(http.MethodGet)

	r.HandleFunc("/api/personas", s.handleListPersonas).Methods(http.MethodGet)
	r.HandleFunc("/api/personas", s.handleCreatePersona).Methods(http.MethodPost)
	r.HandleFunc("/api/personas/{id}", s.handleGetPersona).Methods(http.MethodGet)
	r.HandleFunc("/api/personas/{id}", s.handleUpdatePersona).Methods(http.MethodPut)
	r.HandleFunc("/api/personas/{id}", s.handleDeletePersona).Methods(http.MethodDelete)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws", s.handleWebSocket)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Path: r.URL.Path})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// Handler returns the router wrapped with CORS and request logging.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.logRequests(s.router))
}

// Start serves until ctx is done, then drains in-flight requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_server_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// BroadcastOrder pushes an accepted order to websocket subscribers of its market.
func (s *Server) BroadcastOrder(v orders.View) {
	s.hub.BroadcastToChannel(OrdersChannel(v.Market), OrderUpdate{Type: "order", Order: v})
}

// ==============================
// Probes
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	b := s.cfg.Build
	w.Header().Set("x-api-region", b.Region)
	respondJSON(w, http.StatusOK, ConfigResponse{
		Version:   b.Version,
		Env:       b.Env,
		Region:    b.Region,
		Commit:    b.Commit,
		BuildTime: b.BuildTime,
	})
}

// ==============================
// Orders
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	var req orders.SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	res, err := s.orders.Submit(r.Context(), &req)
	if err != nil {
		s.respondOrderError(w, err, "")
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, res.Order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := orders.ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		var verr *orders.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, strings.Join(verr.Details, "; "))
			return
		}
		s.respondOrderError(w, err, "")
		return
	}
	items, err := s.orders.List(r.Context(), limit)
	if err != nil {
		s.respondOrderError(w, err, "Failed to load orders")
		return
	}
	respondJSON(w, http.StatusOK, OrderListResponse{Items: items})
}

func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	report, err := s.orders.ComputePulse(r.Context())
	if err != nil {
		s.respondOrderError(w, err, "Unable to compute pulse")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// respondOrderError maps the order error taxonomy onto HTTP statuses.
// scanMsg overrides the message for failed reads.
func (s *Server) respondOrderError(w http.ResponseWriter, err error, scanMsg string) {
	var verr *orders.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: verr.Details})
	case errors.Is(err, orders.ErrNotConfigured):
		respondError(w, http.StatusInternalServerError, "Orders infrastructure not configured")
	case errors.Is(err, orders.ErrDuplicateOrder):
		respondError(w, http.StatusConflict, "Order already exists")
	case errors.Is(err, orders.ErrIdempotencyLookup):
		respondError(w, http.StatusInternalServerError, "Failed to check idempotency")
	case errors.Is(err, orders.ErrStoreUnavailable):
		respondError(w, http.StatusInternalServerError, "Failed to store order")
	case errors.Is(err, orders.ErrEnqueueFailed):
		respondError(w, http.StatusBadGateway, "Failed to enqueue order event")
	case errors.Is(err, orders.ErrScanFailed) && scanMsg != "":
		respondError(w, http.StatusInternalServerError, scanMsg)
	default:
		s.logger.Errorw("unhandled_order_error", "err", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}
