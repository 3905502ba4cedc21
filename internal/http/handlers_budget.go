package http

import (
	"net/http"

	"bilancio/internal/core"
)

type refreshResponse struct {
	Status string     `json:"status"`
	Spent  core.Money `json:"spent_amount"`
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	b, err := req.toBudget()
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}

	id, err := s.budgets.Create(r.Context(), b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var req budgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	b, err := req.toBudget()
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	b.ID = id

	if err := s.budgets.Update(r.Context(), b); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}

func (s *Server) handleBudgetMetrics(w http.ResponseWriter, r *http.Request) {
	id, owner, ok := s.budgetScope(w, r)
	if !ok {
		return
	}
	report, err := s.budgets.Metrics(r.Context(), owner, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBudgetBreakdown(w http.ResponseWriter, r *http.Request) {
	id, owner, ok := s.budgetScope(w, r)
	if !ok {
		return
	}
	shares, err := s.budgets.CategoryBreakdown(r.Context(), owner, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

func (s *Server) handleBudgetRefresh(w http.ResponseWriter, r *http.Request) {
	id, owner, ok := s.budgetScope(w, r)
	if !ok {
		return
	}
	spent, err := s.budgets.Refresh(r.Context(), owner, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Status: "refreshed", Spent: spent})
}

func (s *Server) handleBudgetClear(w http.ResponseWriter, r *http.Request) {
	id, owner, ok := s.budgetScope(w, r)
	if !ok {
		return
	}
	if err := s.budgets.Clear(r.Context(), owner, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "cleared"})
}

func (s *Server) handleBudgetRefreshAll(w http.ResponseWriter, r *http.Request) {
	owner, err := queryInt64(r, "owner")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.budgets.RefreshAll(r.Context(), owner); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "refreshed"})
}

func (s *Server) handleBudgetClearAll(w http.ResponseWriter, r *http.Request) {
	owner, err := queryInt64(r, "owner")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.budgets.ClearAll(r.Context(), owner); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "cleared"})
}

// budgetScope reads the {id} wildcard and the optional owner query
// parameter shared by the per-budget routes.
func (s *Server) budgetScope(w http.ResponseWriter, r *http.Request) (id, owner int64, ok bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, r, err)
		return 0, 0, false
	}
	owner, err = queryInt64(r, "owner")
	if err != nil {
		writeBadRequest(w, r, err)
		return 0, 0, false
	}
	return id, owner, true
}
