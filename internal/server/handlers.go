package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/aggregator"
)

// --- Aggregation handlers ---

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	selector := r.URL.Query().Get("accountId")
	refreshKey := r.URL.Query().Get("refreshKey")

	summary, err := s.app.Aggregator.Summary(r.Context(), selector, refreshKey)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTotalPnlSeries(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	apply := true
	if v := r.URL.Query().Get("applyAccountCagrStartDate"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest,
				"applyAccountCagrStartDate must be true or false", string(models.CodeParseError))
			return
		}
		apply = parsed
	}

	series, err := s.app.Aggregator.TotalPnlSeries(r.Context(), accountID, apply)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, series)
}

func (s *Server) handleTotalPnlChart(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	apply := true
	if v := r.URL.Query().Get("applyAccountCagrStartDate"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			apply = parsed
		}
	}

	series, err := s.app.Aggregator.TotalPnlSeries(r.Context(), accountID, apply)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	png, err := aggregator.RenderTotalPnlChart(series)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Chart render failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// --- Market analytics handlers ---

func (s *Server) handleQQQTemperature(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	report, err := s.app.Aggregator.TemperatureReport(r.Context(), "QQQ")
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleModelTemperature(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	report, err := s.app.Aggregator.TemperatureReport(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleBenchmarkReturns(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	startDate := q.Get("startDate")
	if startDate == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "startDate is required", string(models.CodeParseError))
		return
	}

	var symbols []string
	if raw := q.Get("symbols"); raw != "" {
		for _, sym := range strings.Split(raw, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				symbols = append(symbols, sym)
			}
		}
	}

	returns, err := s.app.Aggregator.BenchmarkReturns(r.Context(), symbols, startDate, q.Get("endDate"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"returns": returns})
}

func (s *Server) handlePortfolioNews(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if s.app.News == nil {
		WriteError(w, http.StatusNotImplemented, "News summaries not configured")
		return
	}

	symbols, err := s.app.Aggregator.HeldSymbols(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if len(symbols) == 0 {
		WriteError(w, http.StatusNotFound, "No held symbols to summarize")
		return
	}

	summary, err := s.app.News.Summarize(r.Context(), symbols)
	if err != nil {
		WriteError(w, http.StatusBadGateway, "News summary failed: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
		"symbols": symbols,
		"updated": time.Now().UTC(),
	})
}

// --- Account configuration handlers ---

func (s *Server) handleMarkRebalanced(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Model string `json:"model"`
	}
	if r.ContentLength != 0 && !DecodeJSON(w, r, &req) {
		return
	}

	today := time.Now().UTC()
	if err := s.app.Accounts.MarkAccountRebalanced(accountID, req.Model, today); err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"lastRebalance": common.DateKey(today),
	})
}

func (s *Server) handleTargetProportions(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var percents map[string]float64
	if !DecodeJSON(w, r, &percents) {
		return
	}

	if err := s.app.Accounts.SetTargetProportions(accountID, percents); err != nil {
		WriteServiceError(w, err)
		return
	}

	symbols := map[string]models.SymbolSettings{}
	if overlay, err := s.app.Accounts.Accounts(); err == nil {
		for _, acc := range overlay {
			if acc != nil && acc.MatchesID(accountID) {
				symbols = acc.Symbols
				break
			}
		}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"symbols": symbols})
}

func (s *Server) handleSymbolNotes(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Symbol string `json:"symbol"`
		Note   string `json:"note"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Symbol == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "symbol is required", string(models.CodeInvalidSymbol))
		return
	}

	if err := s.app.Accounts.SetSymbolNotes(accountID, req.Symbol, req.Note); err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  req.Symbol,
		"note":    req.Note,
		"updated": time.Now().UTC(),
	})
}

func (s *Server) handlePlanningContext(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		PlanningContext string `json:"planningContext"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := s.app.Accounts.SetPlanningContext(accountID, req.PlanningContext); err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"planningContext": req.PlanningContext,
		"updated":         time.Now().UTC(),
	})
}

// --- Planning handlers ---

func (s *Server) handleInvestEvenly(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req aggregator.InvestEvenlyRequest
	if r.ContentLength != 0 && !DecodeJSON(w, r, &req) {
		return
	}

	plan, err := s.app.Aggregator.InvestEvenly(r.Context(), accountID, req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeployment(w http.ResponseWriter, r *http.Request, accountID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req aggregator.DeploymentRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	plan, err := s.app.Aggregator.AdjustDeployment(r.Context(), accountID, req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, plan)
}
