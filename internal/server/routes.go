package server

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/bobmcallan/tally/internal/common"
)

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)
	mux.HandleFunc("/debug/memstats", s.handleMemstats)

	// Aggregation
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/accounts/", s.routeAccounts)

	// Market analytics
	mux.HandleFunc("/api/qqq-temperature", s.handleQQQTemperature)
	mux.HandleFunc("/api/investment-model-temperature", s.handleModelTemperature)
	mux.HandleFunc("/api/benchmark-returns", s.handleBenchmarkReturns)
	mux.HandleFunc("/api/portfolio-news", s.handlePortfolioNews)
}

// routeAccounts dispatches /api/accounts/{id}/{action} to the appropriate handler.
func (s *Server) routeAccounts(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	accountID, action := parts[0], parts[1]

	switch action {
	case "total-pnl-series":
		s.handleTotalPnlSeries(w, r, accountID)
	case "total-pnl-series/chart.png":
		s.handleTotalPnlChart(w, r, accountID)
	case "mark-rebalanced":
		s.handleMarkRebalanced(w, r, accountID)
	case "target-proportions":
		s.handleTargetProportions(w, r, accountID)
	case "symbol-notes":
		s.handleSymbolNotes(w, r, accountID)
	case "planning-context":
		s.handlePlanningContext(w, r, accountID)
	case "invest-evenly":
		s.handleInvestEvenly(w, r, accountID)
	case "deployment":
		s.handleDeployment(w, r, accountID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.app.Config

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"environment":       cfg.Environment,
		"accounts_file":     cfg.Storage.AccountsFile,
		"token_store_path":  cfg.Storage.TokenStorePath,
		"price_cache_dir":   cfg.Storage.PriceCacheDir,
		"broker_login_url":  cfg.Broker.LoginURL,
		"history_years":     cfg.Broker.HistoryYears,
		"activity_window":   cfg.Broker.ActivityWindow,
		"retry_budget":      cfg.Broker.RetryBudget,
		"logging_level":     cfg.Logging.Level,
		"gemini_api_key":    maskSecret(cfg.Clients.Gemini.APIKey),
		"gemini_configured": s.app.News != nil,
	})
}

func (s *Server) handleMemstats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"heap_alloc_bytes": m.HeapAlloc,
		"heap_inuse_bytes": m.HeapInuse,
		"heap_idle_bytes":  m.HeapIdle,
		"sys_bytes":        m.Sys,
		"num_gc":           m.NumGC,
		"heap_alloc_mb":    float64(m.HeapAlloc) / 1024 / 1024,
		"heap_inuse_mb":    float64(m.HeapInuse) / 1024 / 1024,
		"heap_idle_mb":     float64(m.HeapIdle) / 1024 / 1024,
		"sys_mb":           float64(m.Sys) / 1024 / 1024,
	})
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
