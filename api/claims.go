package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
	"tweetattest-backend/core/claims"
	"tweetattest-backend/middleware"
)

// SubmitClaimBody is the POST /api/claims payload.
type SubmitClaimBody struct {
	TwitterHandle string `json:"twitter_handle"`
	TweetText     string `json:"tweet_text"`
	From          string `json:"from,omitempty"`
}

// TxResponse wraps a committed transaction.
type TxResponse struct {
	TxHash      common.Hash   `json:"tx_hash"`
	AssertionID *common.Hash  `json:"assertion_id,omitempty"`
	Truthful    *bool         `json:"truthful,omitempty"`
	Receipt     *core.Receipt `json:"receipt"`
}

// ClaimResponse is a claim record plus an existence flag; unknown ids give the zero record.
type ClaimResponse struct {
	core.Claim
	Exists bool `json:"exists"`
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitClaim(w, r)
	case http.MethodGet:
		s.listClaims(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) submitClaim(w http.ResponseWriter, r *http.Request) {
	var body SubmitClaimBody
	if err := decodeBody(r, &body); err != nil {
		Fail(w, err, nil)
		return
	}
	handle := strings.TrimPrefix(strings.TrimSpace(body.TwitterHandle), "@")
	text := strings.TrimSpace(body.TweetText)
	if handle == "" || text == "" {
		Fail(w, fmt.Errorf("%w: twitter_handle and tweet_text are required", core.ErrInvalidInput), nil)
		return
	}
	from, err := s.sender(r, body.From)
	if err != nil {
		Fail(w, err, nil)
		return
	}
	receipt, err := s.svc.SubmitClaim(r.Context(), from, handle, text)
	if err != nil {
		Fail(w, err, receipt)
		return
	}
	resp := TxResponse{TxHash: receipt.TxHash, Receipt: receipt}
	if id, ok := submittedID(receipt); ok {
		resp.AssertionID = &id
	}
	JSON(w, http.StatusCreated, resp)
}

func (s *Server) listClaims(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("claimer"))
	var claimer common.Address
	switch {
	case raw != "":
		addr, err := core.ParseAddress(raw)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		claimer = addr
	default:
		rec, ok := middleware.APIKeyFromContext(r.Context())
		if !ok {
			Fail(w, fmt.Errorf("%w: claimer query parameter required", core.ErrInvalidInput), nil)
			return
		}
		claimer = rec.Wallet
	}

	ids, err := s.svc.ClaimsByClaimer(r.Context(), claimer)
	if err != nil {
		Fail(w, err, nil)
		return
	}
	out := make([]ClaimResponse, 0, len(ids))
	for _, id := range ids {
		c, err := s.svc.Claim(r.Context(), id)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		out = append(out, ClaimResponse{Claim: c, Exists: c.Exists()})
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"claimer": claimer,
		"claims":  out,
		"total":   len(out),
	})
}

// handleClaim serves /api/claims/{id}[/verified|/settleable|/settle].
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/api/claims/")
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
		c, err := s.svc.Claim(r.Context(), id)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		c.AssertionID = id
		JSON(w, http.StatusOK, ClaimResponse{Claim: c, Exists: c.Exists()})
	case "verified":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		ok, err := s.svc.IsClaimVerified(r.Context(), id)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"assertion_id": id, "verified": ok})
	case "settleable":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		ok, err := s.svc.CanBeSettled(r.Context(), id)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"assertion_id": id, "can_be_settled": ok})
	case "settle":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.settleClaim(w, r, id)
	default:
		Error(w, http.StatusNotFound, "NOT_FOUND", "unknown claim action")
	}
}

func (s *Server) settleClaim(w http.ResponseWriter, r *http.Request, id common.Hash) {
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
	receipt, err := s.svc.Settle(r.Context(), from, id)
	if err != nil {
		Fail(w, err, receipt)
		return
	}
	resp := TxResponse{TxHash: receipt.TxHash, AssertionID: &id, Receipt: receipt}
	if truthful, ok := settledResult(receipt); ok {
		resp.Truthful = &truthful
	}
	JSON(w, http.StatusOK, resp)
}

func submittedID(r *core.Receipt) (common.Hash, bool) {
	for _, l := range r.Logs {
		ev, err := claims.DecodeLog(l)
		if err == nil && ev.Name == claims.EventClaimSubmitted {
			return ev.AssertionID, true
		}
	}
	return common.Hash{}, false
}

func settledResult(r *core.Receipt) (bool, bool) {
	for _, l := range r.Logs {
		ev, err := claims.DecodeLog(l)
		if err == nil && ev.Name == claims.EventClaimResolved {
			return ev.Truthful, true
		}
	}
	return false, false
}
