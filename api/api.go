// Package api implements the gateway's status HTTP API.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/metrics"
)

const (
	moduleName = "api"

	defaultRecentLimit = uint64(10)
	maxRecentLimit     = uint64(100)
)

// StatusAPI serves the ledger extension status.
type StatusAPI struct {
	router *chi.Mux
	source StatusSource
	logger *log.Logger
}

// NewStatusAPI creates the status API. allowedOrigins configures CORS.
func NewStatusAPI(source StatusSource, allowedOrigins []string, m metrics.RequestMetrics, l *log.Logger) *StatusAPI {
	a := &StatusAPI{
		router: chi.NewRouter(),
		source: source,
		logger: l.WithModule(moduleName),
	}
	a.router.Use(MetricsMiddleware(m, a.logger))
	a.router.Use(middleware.Recoverer)
	a.router.Use(CorsMiddleware(allowedOrigins))

	a.router.Get("/health", a.health)
	a.router.Route("/v1", func(r chi.Router) {
		r.Get("/status", a.status)
	})
	return a
}

// Router gets the router for this API.
func (a *StatusAPI) Router() *chi.Mux {
	return a.router
}

func (a *StatusAPI) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *StatusAPI) status(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			HumanReadableJsonErrorHandler(w, r, ErrBadRequest)
			return
		}
		if v > maxRecentLimit {
			v = maxRecentLimit
		}
		limit = v
	}

	watermark, err := a.source.Watermark(r.Context())
	if err != nil {
		a.logger.Error("loading watermark", "err", err)
		HumanReadableJsonErrorHandler(w, r, ErrStorageError{Err: err})
		return
	}
	recent, err := a.source.RecentTransactions(r.Context(), limit)
	if err != nil {
		a.logger.Error("loading recent transactions", "err", err)
		HumanReadableJsonErrorHandler(w, r, ErrStorageError{Err: err})
		return
	}
	if recent == nil {
		recent = []TransactionSummary{}
	}

	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Status{
		LedgerState:        newLedgerState(watermark),
		RecentTransactions: recent,
	})
}
