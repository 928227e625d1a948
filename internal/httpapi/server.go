package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"scanwatch/internal/broker"
	"scanwatch/internal/scan"
	"scanwatch/internal/store"
	"scanwatch/internal/viewmodel"
	"scanwatch/pkg/ttscanner"
)

// Catalog is the read side of the scanner backend used by the API.
// *ttscanner.Client implements it.
type Catalog interface {
	Algos(ctx context.Context) ([]ttscanner.Algo, error)
	Groups(ctx context.Context, algoID int64) ([]ttscanner.Group, error)
	Intervals(ctx context.Context, algoID int64, group *ttscanner.Group) ([]ttscanner.Interval, error)
	CSVHeaders(ctx context.Context, source scan.SourceID) ([]string, error)
	SymbolIntervals(ctx context.Context, source scan.SourceID) ([]string, error)
	FavoriteBatches(ctx context.Context) ([]ttscanner.FavoriteBatch, error)
}

// DashboardServer serves the view model HTTP API.
type DashboardServer struct {
	vm      *viewmodel.Orchestrator
	catalog Catalog
	log     *slog.Logger

	// Optional collaborators; nil disables the matching routes' data.
	archive   store.SnapshotStore
	watchlist broker.Watchlist

	// keepAlive is the SSE comment interval.
	keepAlive time.Duration
}

// NewDashboardServer creates a new dashboard HTTP server. archive and
// watchlist may be nil.
func NewDashboardServer(
	vm *viewmodel.Orchestrator,
	catalog Catalog,
	archive store.SnapshotStore,
	watchlist broker.Watchlist,
	log *slog.Logger,
) *DashboardServer {
	if log == nil {
		log = slog.Default()
	}
	return &DashboardServer{
		vm:        vm,
		catalog:   catalog,
		archive:   archive,
		watchlist: watchlist,
		log:       log,
		keepAlive: 15 * time.Second,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *DashboardServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/view", s.handleView)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /api/algos", s.handleAlgos)
	mux.HandleFunc("GET /api/algos/{algo}/groups", s.handleGroups)
	mux.HandleFunc("GET /api/algos/{algo}/groups/{group}/intervals", s.handleIntervals)
	mux.HandleFunc("PUT /api/source", s.handleSelectSource)

	mux.HandleFunc("PUT /api/filters/{column}", s.handleSetFilter)
	mux.HandleFunc("PUT /api/filters/{column}/bounds", s.handleSetBounds)
	mux.HandleFunc("POST /api/filters/{column}/toggle/{value}", s.handleToggleValue)
	mux.HandleFunc("DELETE /api/filters/{column}", s.handleClearFilter)
	mux.HandleFunc("DELETE /api/filters", s.handleClearAll)
	mux.HandleFunc("PUT /api/targets/{pos}", s.handleSetTarget)
	mux.HandleFunc("PUT /api/sort", s.handleSetSort)
	mux.HandleFunc("DELETE /api/sort", s.handleClearSort)
	mux.HandleFunc("PUT /api/columns", s.handleSetColumns)

	mux.HandleFunc("POST /api/favorites/toggle", s.handleToggleFavorite)
	mux.HandleFunc("GET /api/favorites", s.handleFavorites)

	mux.HandleFunc("GET /api/metadata/headers", s.handleHeaders)
	mux.HandleFunc("GET /api/metadata/sym-int", s.handleSymbolIntervals)
	mux.HandleFunc("GET /api/export.parquet", s.handleExport)
	mux.HandleFunc("GET /api/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/watchlist", s.handleWatchlist)
}

// Handler returns an http.Handler with CORS middleware.
func (s *DashboardServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// readJSON decodes the request body into v, writing a 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
