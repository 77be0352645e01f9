package api

import (
	"net/http"

	"tweetattest-backend/core"
)

// handleAssertion serves /api/assertions/{id}[/result|/dispute|/resolve].
func (s *Server) handleAssertion(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/api/assertions/")
	if len(parts) == 0 {
		Error(w, http.StatusBadRequest, "INVALID_INPUT", "assertion id required")
		return
	}
	id, err := core.ParseHash(parts[0])
	if err != nil {
		Fail(w, err, nil)
		return
	}
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		a, err := s.svc.Assertion(r.Context(), id)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		JSON(w, http.StatusOK, a)
	case "result":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		result, err := s.svc.AssertionResult(r.Context(), id)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"assertion_id": id, "result": result})
	case "dispute":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			From string `json:"from,omitempty"`
		}
		if err := decodeBody(r, &body); err != nil {
			Fail(w, err, nil)
			return
		}
		from, err := s.sender(r, body.From)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		receipt, err := s.svc.Dispute(r.Context(), from, id)
		if err != nil {
			Fail(w, err, receipt)
			return
		}
		JSON(w, http.StatusOK, TxResponse{TxHash: receipt.TxHash, AssertionID: &id, Receipt: receipt})
	case "resolve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.isAdmin(r) {
			Fail(w, core.ErrUnauthorized, nil)
			return
		}
		var body struct {
			Truthful *bool  `json:"truthful"`
			From     string `json:"from,omitempty"`
		}
		if err := decodeBody(r, &body); err != nil {
			Fail(w, err, nil)
			return
		}
		if body.Truthful == nil {
			Error(w, http.StatusBadRequest, "INVALID_INPUT", "truthful is required")
			return
		}
		from, err := s.sender(r, body.From)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		receipt, err := s.svc.ResolveDispute(r.Context(), from, id, *body.Truthful)
		if err != nil {
			Fail(w, err, receipt)
			return
		}
		JSON(w, http.StatusOK, TxResponse{TxHash: receipt.TxHash, AssertionID: &id, Truthful: body.Truthful, Receipt: receipt})
	default:
		Error(w, http.StatusNotFound, "NOT_FOUND", "unknown assertion action")
	}
}
