package web

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cellar-network/cvm/internal/cellar"
	"github.com/cellar-network/cvm/internal/logger"
	"github.com/cellar-network/cvm/internal/oracle"
	"github.com/cellar-network/cvm/internal/pricerouter"
	"github.com/cellar-network/cvm/internal/state"
	"github.com/cellar-network/cvm/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for vault data visualization
type WebServer struct {
	router *mux.Router
	port   string

	vault       *cellar.Cellar
	priceRouter *pricerouter.Router
	oracle      *oracle.Oracle
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, vault *cellar.Cellar, priceRouter *pricerouter.Router, shareOracle *oracle.Oracle) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:      mux.NewRouter(),
		port:        port,
		vault:       vault,
		priceRouter: priceRouter,
		oracle:      shareOracle,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/assets", ws.handleGetAssets).Methods("GET")
	api.HandleFunc("/positions", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/observations", ws.handleGetObservations).Methods("GET")
	api.HandleFunc("/rebalances", ws.handleGetRebalances).Methods("GET")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns comprehensive server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Get runtime memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	// Get database connection status
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	// The cached share price doubles as a liveness probe for the keeper.
	cached := ws.oracle.Latest()
	if !cached.SafeToUse {
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":            runtime.Version(),
			"goroutines_count":   runtime.NumGoroutine(),
			"total_alloc_bytes":  memStats.TotalAlloc,
			"heap_objects_count": memStats.HeapObjects,
			"alloc_bytes":        memStats.Alloc,
			"sys_bytes":          memStats.Sys,
			"gc_cycles":          memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "cvm-cellar-vault-manager",
			"version": "1.0.0",
		},
		"cvm_status": map[string]interface{}{
			"database_healthy":       dbHealthy,
			"share_price_safe":       cached.SafeToUse,
			"share_price_updated_at": cached.UpdatedAt,
			"kill_switch_active":     ws.oracle.KillSwitchActive(),
		},
	}

	// Set appropriate HTTP status code
	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetAssets returns every registered asset with its live settings and
// any pending source edit.
func (ws *WebServer) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets := ws.priceRouter.Assets()

	rows := make([]map[string]interface{}, 0, len(assets))
	for _, asset := range assets {
		settings, err := ws.priceRouter.Settings(asset.Denom)
		if err != nil {
			webLogger.Error().Err(err).Str("denom", asset.Denom).Msg("Failed to get asset settings")
			ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve asset settings")
			return
		}
		row := map[string]interface{}{
			"asset":    asset,
			"settings": settings,
		}
		if edit, ok := ws.priceRouter.PendingEdit(asset.Denom); ok {
			row["pending_edit"] = edit
		}
		rows = append(rows, row)
	}

	response := map[string]interface{}{
		"assets": rows,
		"count":  len(rows),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPositions returns the vault's active positions with balances
func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	positions, err := ws.vault.ActivePositions(ctx)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get active positions")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve positions")
		return
	}

	response := map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaultSummary returns vault summary statistics
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	totalAssets, err := ws.vault.TotalAssets(ctx)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to compute total assets")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute total assets")
		return
	}

	baseAsset := ws.vault.BaseAsset()
	cached := ws.oracle.Latest()
	response := map[string]interface{}{
		"base_asset":         baseAsset,
		"total_assets":       totalAssets.String(),
		"total_shares":       ws.vault.TotalShares().String(),
		"holding_position":   ws.vault.HoldingPosition(),
		"cached_share_price": cached,
		"timestamp":          time.Now().UTC(),
	}
	// Display-only float rendering of the raw integer amounts.
	if display, err := utils.SDKIntToFloat64(totalAssets, int(baseAsset.Decimals)); err == nil {
		response["total_assets_display"] = display
	}
	if display, err := utils.SDKIntToFloat64(cached.SharePrice, int(baseAsset.Decimals)); err == nil {
		response["share_price_display"] = display
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetObservations returns recent share-price observations
func (ws *WebServer) handleGetObservations(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 100, 1000)

	observations, err := state.GetRecentObservations(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get observations")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve observations")
		return
	}

	response := map[string]interface{}{
		"observations": observations,
		"count":        len(observations),
		"limit":        limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetRebalances returns recent rebalance receipts
func (ws *WebServer) handleGetRebalances(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20, 100)

	receipts, err := state.GetRecentRebalances(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get rebalance receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve rebalances")
		return
	}

	response := map[string]interface{}{
		"rebalances": receipts,
		"count":      len(receipts),
		"limit":      limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetParameters returns the active protocol parameters
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	params, err := state.LoadActiveParameters()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get protocol parameters")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve protocol parameters")
		return
	}

	response := map[string]interface{}{
		"parameters": params,
		"timestamp":  time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// parseLimit reads the limit query parameter with a default and a cap.
func (ws *WebServer) parseLimit(r *http.Request, fallback, max int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= max {
			limit = parsedLimit
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
