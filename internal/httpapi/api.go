// Package httpapi exposes the auth, catalog and delivery services over HTTP
// on a chi router, plus the gRPC health service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"pagehall.org/internal/audit"
	"pagehall.org/internal/auth"
	"pagehall.org/internal/catalog"
	"pagehall.org/internal/delivery"
	"pagehall.org/internal/gateway"
	"pagehall.org/internal/obs"
)

const serviceName = "pagehall-api"

// Pinger is satisfied by both stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks that the backing store answers.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Services are the domain services served by the API.
type Services struct {
	Auth     *auth.Service
	Catalog  *catalog.Service
	Delivery *delivery.Service
	Gateway  *gateway.Gateway
}

// Config tunes the HTTP surface.
type Config struct {
	Version      string
	MaxBodyBytes int64
	CORSOrigins  []string
}

// API is the HTTP layer.
type API struct {
	auth     *auth.Service
	catalog  *catalog.Service
	delivery *delivery.Service
	gateway  *gateway.Gateway

	ready readinessChecker
	cfg   Config
	log   *zap.Logger
}

func New(svc Services, ready readinessChecker, cfg Config) *API {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if ready == nil {
		ready = ReadyProbe{}
	}
	return &API{
		auth:     svc.Auth,
		catalog:  svc.Catalog,
		delivery: svc.Delivery,
		gateway:  svc.Gateway,
		ready:    ready,
		cfg:      cfg,
		log:      obs.Logger(),
	}
}

// Handler builds the router. Instrumentation runs inside chi so metrics are
// labelled by route pattern; tracing wraps the whole router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(a.logging)
	r.Use(a.recoverer)
	r.Use(obs.Instrument)
	r.Use(CORS(a.cfg.CORSOrigins))
	r.Use(MaxBodyBytes(a.cfg.MaxBodyBytes))
	r.Use(SecurityHeaders)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Post("/register", a.handleRegister)
	r.Post("/login", a.handleLogin)
	r.Post("/refresh", a.handleRefresh)
	r.With(a.requireAuth).Post("/logout", a.handleLogout)

	r.Route("/api", func(r chi.Router) {
		a.catalogRoutes(r)
		a.deliveryRoutes(r)
	})

	return otelhttp.NewHandler(r, serviceName)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

// Envelope is the uniform body of entity operations.
type Envelope struct {
	ResultCd    int    `json:"resultCd"`
	MessageCode string `json:"MessageCode,omitempty"`
	Data        any    `json:"Data,omitempty"`
	Count       *int   `json:"count,omitempty"`
}

const (
	codeCreated = "I201"
	codeDeleted = "I203"
)

func writeEnvelope(w http.ResponseWriter, code string, data any) {
	writeJSON(w, http.StatusOK, Envelope{MessageCode: code, Data: data})
}

func writePage(w http.ResponseWriter, data any, total int) {
	writeJSON(w, http.StatusOK, Envelope{Data: data, Count: &total})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	body := map[string]any{"error": msg}
	if id := audit.RequestID(r.Context()); id != "" {
		body["request_id"] = id
	}
	writeJSON(w, code, body)
}

// internalError logs err and answers with an opaque 500.
func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Error("request failed",
		zap.String("request_id", audit.RequestID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		default:
			return fmt.Errorf("invalid JSON: %v", err)
		}
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
