package http

import (
	"net/http"

	"bilancio/internal/services"
)

type balancesResponse struct {
	Consistent    bool                          `json:"consistent"`
	Discrepancies []services.BalanceDiscrepancy `json:"discrepancies"`
}

func (s *Server) handleValidateBalances(w http.ResponseWriter, r *http.Request) {
	owner, err := queryInt64(r, "owner")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}

	discrepancies, err := s.ledger.ValidateAccountBalances(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if discrepancies == nil {
		discrepancies = []services.BalanceDiscrepancy{}
	}
	writeJSON(w, http.StatusOK, balancesResponse{
		Consistent:    len(discrepancies) == 0,
		Discrepancies: discrepancies,
	})
}

func (s *Server) handleReconcileAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}

	result, err := s.ledger.ReconcileAccountBalance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
