package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"flight_fence/internal/models"
	"flight_fence/internal/query"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Querier produces the aircraft view for one request
type Querier interface {
	Query(ctx context.Context) query.Result
}

// Pinger reports storage health
type Pinger interface {
	Ping(ctx context.Context) error
}

// aircraftJSON is one entry of the read response
type aircraftJSON struct {
	models.StateVector
	RetrievedAt time.Time    `json:"retrieved_at"`
	Source      query.Source `json:"source"`
}

type aircraftResponse struct {
	Aircraft []aircraftJSON `json:"aircraft"`
	Count    int            `json:"count"`
	Source   query.Source   `json:"source"`
}

// Handler serves the read endpoint
type Handler struct {
	querier Querier
	store   Pinger
}

// NewHandler creates the HTTP handler
func NewHandler(querier Querier, store Pinger) *Handler {
	return &Handler{querier: querier, store: store}
}

// Router wires the routes. gatherer may be nil to omit /metrics.
func (h *Handler) Router(gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/aircraft", h.HandleAircraft).Methods(http.MethodGet)
	r.HandleFunc("/aircrafts", h.HandleAircraft).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
	)(r)
}

// HandleAircraft answers with live data, stored data, or an empty error result
func (h *Handler) HandleAircraft(w http.ResponseWriter, r *http.Request) {
	result := h.querier.Query(r.Context())

	resp := aircraftResponse{
		Aircraft: make([]aircraftJSON, 0, len(result.Aircraft)),
		Source:   result.Source,
	}
	for _, rec := range result.Aircraft {
		resp.Aircraft = append(resp.Aircraft, aircraftJSON{
			StateVector: rec.StateVector,
			RetrievedAt: rec.RetrievedAt,
			Source:      result.Source,
		})
	}
	resp.Count = len(resp.Aircraft)

	status := http.StatusOK
	if result.Source == query.SourceError {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// HandleHealth reports whether the store is reachable
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
