package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/riskguard/internal/condition"
	"github.com/opensource-finance/riskguard/internal/decision"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/rules"
)

// RuleRequest is the request body for creating or replacing a rule.
type RuleRequest struct {
	ID        string `json:"ruleId,omitempty"`
	Condition string `json:"condition"`
	Action    string `json:"action"`
	Priority  int    `json:"priority"`
	Active    *bool  `json:"isActive,omitempty"`
	Signal    string `json:"signal,omitempty"`
	RiskScore int    `json:"riskScore"`
}

func (req *RuleRequest) toRule(id string) *domain.RiskRule {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &domain.RiskRule{
		ID:        id,
		Condition: req.Condition,
		Action:    decision.Normalize(req.Action),
		Priority:  req.Priority,
		Active:    active,
		Signal:    req.Signal,
		RiskScore: req.RiskScore,
	}
}

// ListRules returns every stored rule in fetch order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListRules(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and stores a new rule. It takes effect on the next event.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	} else if _, err := h.repo.GetRule(r.Context(), id); err == nil {
		writeError(w, http.StatusConflict, "rule already exists")
		return
	}

	h.saveRule(w, r, req.toRule(id), http.StatusCreated)
}

// UpdateRule replaces an existing rule.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if _, err := h.repo.GetRule(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}

	h.saveRule(w, r, req.toRule(id), http.StatusOK)
}

func (h *Handler) saveRule(w http.ResponseWriter, r *http.Request, rule *domain.RiskRule, status int) {
	if err := rules.ValidateRule(rule); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.repo.SaveRule(r.Context(), rule); err != nil {
		writeErr(w, err)
		return
	}

	resp := map[string]any{"rule": rule}
	if !decision.Known(rule.Action) {
		resp["warning"] = "action is not in the severity hierarchy and ranks at the default severity"
	}
	writeJSON(w, status, resp)
}

// DeleteRule deactivates a rule; decisions keep referring to it.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteRule(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deactivated": id})
}

// ValidateRequest is the body for POST /rules/validate.
type ValidateRequest struct {
	Condition string `json:"condition"`
}

// ValidateResponse reports whether a condition parses.
type ValidateResponse struct {
	Valid      bool   `json:"valid"`
	Error      string `json:"error,omitempty"`
	Position   *int   `json:"position,omitempty"`
	Condition  string `json:"condition,omitempty"`
}

// ValidateCondition parses a condition without storing anything.
func (h *Handler) ValidateCondition(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	expr, err := condition.Parse(req.Condition)
	if err != nil {
		resp := ValidateResponse{Error: err.Error()}
		var se *condition.SyntaxError
		if errors.As(err, &se) {
			pos := se.Pos
			resp.Position = &pos
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: true, Condition: expr.String()})
}
