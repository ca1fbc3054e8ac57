package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"finledger/internal/core"
)

type transactionResponse struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	Note      string `json:"note,omitempty"`
}

func toTransactionResponse(txn core.Transaction) transactionResponse {
	return transactionResponse{
		ID:        txn.ID,
		Type:      string(txn.Kind),
		Amount:    txn.Amount.String(),
		Category:  txn.Category,
		Timestamp: txn.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		Note:      txn.Note,
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTransaction(w, r)
	case http.MethodGet:
		s.handleListTransactions(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		Type   string `json:"type"`
		Amount string `json:"amount"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	kind, err := core.ParseKind(req.Type)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "type must be expense or income")
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}

	category, err := s.service.Record(r.Context(), req.UserID, kind, core.Money{Cents: cents}, strings.TrimSpace(req.Note))
	if err != nil {
		s.writeServiceError(w, r, err, "create transaction")
		return
	}

	// The new row lands in the current month; drop its cached summary.
	s.summaryCache.Delete(summaryKey(req.UserID, core.PeriodOf(time.Now().UTC())))

	writeJSON(w, http.StatusCreated, map[string]string{
		"category": category,
		"type":     string(kind),
		"amount":   core.Money{Cents: cents}.String(),
	})
}

func summaryKey(userID int64, period core.Period) string {
	return fmt.Sprintf("%d:%s", userID, period.Key())
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	txns, err := s.service.ListRecent(r.Context(), userID, parsePeriod(r), parseLimit(r))
	if err != nil {
		s.writeServiceError(w, r, err, "list transactions")
		return
	}

	out := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, toTransactionResponse(txn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := parseUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	period := parsePeriod(r)
	key := summaryKey(userID, period)
	totals, ok := s.summaryCache.Get(key)
	if !ok {
		var err error
		totals, err = s.service.MonthTotals(r.Context(), userID, period)
		if err != nil {
			s.writeServiceError(w, r, err, "summary")
			return
		}
		s.summaryCache.Set(key, totals)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"period":  period.Key(),
		"income":  totals.Income.String(),
		"expense": totals.Expense.String(),
		"net":     totals.Net.String(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := parseUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	period := parsePeriod(r)

	// Buffer the export so a storage failure can still produce a clean
	// error response.
	var buf bytes.Buffer
	rows, err := s.service.WriteCSV(r.Context(), &buf, userID, period)
	if err != nil {
		s.writeServiceError(w, r, err, "export")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "ledger-"+period.Key()+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())

	slog.InfoContext(r.Context(), "Exported transactions",
		"user_id", userID, "period", period.Key(), "rows", rows)
}

func (s *Server) handleBudgets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSetBudget(w, r)
	case http.MethodGet:
		s.handleListBudgets(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   int64  `json:"user_id"`
		Category string `json:"category"`
		Limit    string `json:"limit"`
		Period   string `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Category) == "" {
		writeError(w, http.StatusUnprocessableEntity, "category is required")
		return
	}
	cents, err := core.ParseDecimalToCents(req.Limit)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid limit")
		return
	}

	period := core.ParsePeriod(req.Period, time.Now().UTC())
	committed, err := s.service.SetBudget(r.Context(), req.UserID, req.Category, core.Money{Cents: cents}, period)
	if err != nil {
		s.writeServiceError(w, r, err, "set budget")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"category": core.NormalizeCategory(req.Category),
		"limit":    committed.String(),
		"period":   period.Key(),
	})
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	period := parsePeriod(r)
	statuses, err := s.service.ViewBudgets(r.Context(), userID, period)
	if err != nil {
		s.writeServiceError(w, r, err, "list budgets")
		return
	}

	type budgetResponse struct {
		Category  string `json:"category"`
		Limit     string `json:"limit"`
		Spent     string `json:"spent"`
		Remaining string `json:"remaining"`
		Percent   int    `json:"percent"`
	}
	out := make([]budgetResponse, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, budgetResponse{
			Category:  st.Category,
			Limit:     st.Limit.String(),
			Spent:     st.Spent.String(),
			Remaining: st.Remaining.String(),
			Percent:   st.Percent,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period":  period.Key(),
		"budgets": out,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpdateSettings(w, r)
	case http.MethodGet:
		s.handleGetSettings(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     int64   `json:"user_id"`
		DigestHour *int    `json:"digest_hour"`
		Currency   *string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if req.DigestHour != nil {
		if err := s.service.SetDigestHour(r.Context(), req.UserID, *req.DigestHour); err != nil {
			s.writeServiceError(w, r, err, "set digest hour")
			return
		}
	}
	if req.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if currency == "" {
			writeError(w, http.StatusUnprocessableEntity, "currency must not be empty")
			return
		}
		if err := s.service.SetCurrency(r.Context(), req.UserID, currency); err != nil {
			s.writeServiceError(w, r, err, "set currency")
			return
		}
	}

	s.writeUser(w, r, req.UserID)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	s.writeUser(w, r, userID)
}

func (s *Server) writeUser(w http.ResponseWriter, r *http.Request, userID int64) {
	user, err := s.service.GetUser(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err, "get user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"currency":    user.Currency,
		"digest_hour": user.DigestHour,
	})
}

// writeServiceError maps domain errors to status codes and logs the rest.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidKind),
		errors.Is(err, core.ErrInvalidHour):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
