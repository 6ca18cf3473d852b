// Package server exposes the HTTP surface of spec.md §6 over a gorilla/mux
// router, logged by a logrus request-logging middleware in the same shape as
// the retrieval pack's orbas1-Synnergy walletserver (routes.Register +
// middleware.Logger), enriched with Prometheus request metrics — already a
// direct dependency of the teacher's own module.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/apierror"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/completion"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/dispatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/execution"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/locationmatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/query"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/wasmstore"
)

// Server wires every component package into the HTTP surface.
type Server struct {
	registry     *contracts.Registry
	ruleStore    *rules.Store
	matcher      *locationmatch.Matcher
	dispatcher   *dispatch.Dispatcher
	completion   *completion.Manager
	queries      *query.Store
	wasm         *wasmstore.Store
	executorImpl *execution.Executor
	jwtSecret    []byte

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New builds a Server.
func New(
	registry *contracts.Registry,
	ruleStore *rules.Store,
	matcher *locationmatch.Matcher,
	dispatcher *dispatch.Dispatcher,
	completionMgr *completion.Manager,
	queries *query.Store,
	wasm *wasmstore.Store,
	executor *execution.Executor,
	jwtSecret []byte,
) *Server {
	return &Server{
		registry:     registry,
		ruleStore:    ruleStore,
		matcher:      matcher,
		dispatcher:   dispatcher,
		completion:   completionMgr,
		queries:      queries,
		wasm:         wasm,
		executorImpl: executor,
		jwtSecret:    jwtSecret,
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "geolink_http_requests_total",
			Help: "Total HTTP requests by route and status.",
		}, []string{"route", "status"}),
		latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geolink_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Routes builds the gorilla/mux router for the endpoints registered below,
// in the same shape the retrieval pack's orbas1-Synnergy walletserver wires
// its own routes.Register (r.Use(middleware.Logger) + r.HandleFunc(...)).
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/contracts/discover", s.instrument("discover", s.requireAuth(s.handleDiscover))).Methods(http.MethodPost)
	r.HandleFunc("/contracts", s.instrument("contracts.create", s.requireAuth(s.handleUpsertContract))).Methods(http.MethodPost)
	r.HandleFunc("/contracts", s.instrument("contracts.list", s.requireAuth(s.handleListContracts))).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}", s.instrument("contracts.get", s.requireAuth(s.handleGetContract))).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}/mappings", s.instrument("contracts.mappings", s.requireAuth(s.handleUpdateMappings))).Methods(http.MethodPut)
	r.HandleFunc("/contracts/upload-wasm", s.instrument("contracts.uploadWasm", s.requireAuth(s.handleUploadWasm))).Methods(http.MethodPost)
	r.HandleFunc("/contracts/{id}/wasm", s.instrument("contracts.downloadWasm", s.requireAuth(s.handleDownloadWasm))).Methods(http.MethodGet)

	r.HandleFunc("/contracts/rules", s.instrument("rules.create", s.requireAuth(s.handleCreateRule))).Methods(http.MethodPost)
	r.HandleFunc("/contracts/rules", s.instrument("rules.list", s.requireAuth(s.handleListRules))).Methods(http.MethodGet)
	r.HandleFunc("/contracts/rules/{id}", s.instrument("rules.update", s.requireAuth(s.handleUpdateRule))).Methods(http.MethodPatch)
	r.HandleFunc("/contracts/rules/{id}", s.instrument("rules.delete", s.requireAuth(s.handleDeleteRule))).Methods(http.MethodDelete)
	r.HandleFunc("/contracts/rules/{id}/quorum", s.instrument("rules.quorum", s.requireAuth(s.handleQuorum))).Methods(http.MethodGet)

	r.HandleFunc("/contracts/execution-rules/locations", s.instrument("locations.ingest", s.requireAuth(s.handleIngestLocation))).Methods(http.MethodPost)
	r.HandleFunc("/contracts/execution-rules/locations/public", s.instrument("locations.ingestPublic", s.handleIngestLocationPublic)).Methods(http.MethodPost)
	r.HandleFunc("/contracts/nearby", s.instrument("nearby", s.handleNearby)).Methods(http.MethodGet)

	r.HandleFunc("/contracts/rules/pending", s.instrument("rules.pending", s.requireAuth(s.handlePending))).Methods(http.MethodGet)
	r.HandleFunc("/contracts/rules/completed", s.instrument("rules.completed", s.requireAuth(s.handleCompleted))).Methods(http.MethodGet)
	r.HandleFunc("/contracts/rules/rejected", s.instrument("rules.rejected", s.requireAuth(s.handleRejected))).Methods(http.MethodGet)
	r.HandleFunc("/contracts/rules/pending/{ruleId}/reject", s.instrument("rules.reject", s.requireAuth(s.handleReject))).Methods(http.MethodPost)
	r.HandleFunc("/contracts/rules/pending/{ruleId}/complete", s.instrument("rules.complete", s.requireAuth(s.handleComplete))).Methods(http.MethodPost)

	r.HandleFunc("/contracts/{id}/execute", s.instrument("contracts.execute", s.requireAuth(s.handleExecute))).Methods(http.MethodPost)
	r.HandleFunc("/contracts/{id}/test-function", s.instrument("contracts.testFunction", s.requireAuth(s.handleTestFunction))).Methods(http.MethodPost)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// loggingMiddleware logs every request's method, path, and duration via
// logrus, the same shape as orbas1-Synnergy's walletserver/middleware.Logger.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.Infof("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.requests.WithLabelValues(route, http.StatusText(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type userIDKey struct{}

// requireAuth validates a JWT bearer token and stashes the subject claim
// (the userId) into the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			writeError(w, apierror.AuthRequired("missing bearer token"))
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(header[7:], claims, func(t *jwt.Token) (interface{}, error) {
			return s.jwtSecret, nil
		})
		if err != nil || claims.Subject == "" {
			writeError(w, apierror.AuthRequired("invalid or expired token"))
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, claims.Subject)
		next(w, r.WithContext(ctx))
	}
}

func userIDFrom(r *http.Request) string {
	if v, ok := r.Context().Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders an apierror.Error as {error, message, details?,
// suggestions?} with its mapped HTTP status (spec.md §7); any other error is
// rendered as an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierror.Error)
	if !ok {
		apiErr = apierror.Internal("internal error", err)
	}
	body := map[string]interface{}{
		"error":   string(apiErr.Kind),
		"message": apiErr.Message,
	}
	if apiErr.Details != nil {
		body["details"] = apiErr.Details
	}
	if len(apiErr.Suggestions) > 0 {
		body["suggestions"] = apiErr.Suggestions
	}
	writeJSON(w, statusFor(apiErr.Kind), body)
}

func statusFor(kind apierror.Kind) int {
	switch kind {
	case apierror.KindValidation:
		return http.StatusBadRequest
	case apierror.KindNotFound:
		return http.StatusNotFound
	case apierror.KindAuthRequired:
		return http.StatusUnauthorized
	case apierror.KindQuorumUnmet, apierror.KindRateLimited, apierror.KindPasskeyMismatch, apierror.KindPaymentRejected:
		return http.StatusConflict
	case apierror.KindExecutionFailed:
		return http.StatusUnprocessableEntity
	case apierror.KindPendingConfirm:
		return http.StatusAccepted
	case apierror.KindChainError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
