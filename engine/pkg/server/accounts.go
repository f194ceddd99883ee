package server

import (
	"net/http"

	"github.com/quizpot/quizpot/engine/pkg/ledger"
	"github.com/quizpot/quizpot/engine/pkg/metrics"
)

type creditRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// creditAccountHandler records a confirmed external deposit against an
// owner's custodial account.
func (s *Server) creditAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parsePubkey("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if err := ledger.Credit(r.Context(), s.pool, owner, asset, req.Amount); err != nil {
		s.writeServiceError(w, "credit_account", err)
		return
	}
	metrics.RecordOperation("credit_account", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getBalanceHandler(w http.ResponseWriter, r *http.Request) {
	owner, err := pubkeyParam(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	assetParam := r.URL.Query().Get("asset")
	if assetParam == "" {
		assetParam = "native"
	}
	asset, err := ledger.ParseAsset(assetParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := ledger.Balance(r.Context(), s.pool, owner, asset)
	if err != nil {
		s.writeServiceError(w, "get_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner.String(),
		"asset":   asset.String(),
		"balance": balance,
	})
}
