package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// ListFraudCases handles GET /fraud-cases?limit=&offset=.
func (h *Handler) ListFraudCases(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	cases, err := h.repo.ListFraudCases(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// CaseResponse is a fraud case with its work log.
type CaseResponse struct {
	*domain.FraudCase
	Actions []*domain.CaseAction `json:"actions"`
}

// GetFraudCase returns a case and its analyst actions.
func (h *Handler) GetFraudCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	c, err := h.repo.GetFraudCase(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	actions, err := h.repo.ListCaseActions(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CaseResponse{FraudCase: c, Actions: actions})
}

// CaseActionRequest is the body for POST /fraud-cases/{id}/actions.
type CaseActionRequest struct {
	ActionType string `json:"actionType"`
	Actor      string `json:"actor"`
	Note       string `json:"note,omitempty"`
}

// AddCaseAction appends to a case's work log and applies any status change.
func (h *Handler) AddCaseAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CaseActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	action := &domain.CaseAction{
		ID:         uuid.New().String(),
		CaseID:     chi.URLParam(r, "id"),
		ActionType: strings.ToUpper(strings.TrimSpace(req.ActionType)),
		Actor:      req.Actor,
		Note:       req.Note,
		Timestamp:  time.Now().UTC(),
	}
	if err := h.repo.AddCaseAction(ctx, action); err != nil {
		writeErr(w, err)
		return
	}

	c, err := h.repo.GetFraudCase(ctx, action.CaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"action": action,
		"case":   c,
	})
}
