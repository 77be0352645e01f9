package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
	auth "tweetattest-backend/storage/auth"
)

// IssueKeyBody is the POST /api/keys payload. The wallet may be bound later via login.
type IssueKeyBody struct {
	Label  string `json:"label"`
	Wallet string `json:"wallet_address,omitempty"`
	Admin  bool   `json:"admin,omitempty"`
}

// handleIssueKey issues a new API key. Admin only.
func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.isAdmin(r) {
		Fail(w, core.ErrUnauthorized, nil)
		return
	}
	issuer, ok := s.apiKeys.(auth.APIKeyIssuer)
	if !ok {
		Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "key store cannot issue keys")
		return
	}
	var body IssueKeyBody
	if err := decodeBody(r, &body); err != nil {
		Fail(w, err, nil)
		return
	}
	var wallet common.Address
	if strings.TrimSpace(body.Wallet) != "" {
		addr, err := core.ParseAddress(body.Wallet)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		wallet = addr
	}
	rec, err := issuer.Issue(strings.TrimSpace(body.Label), wallet, body.Admin)
	if err != nil {
		Fail(w, fmt.Errorf("issue api key: %w", err), nil)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"api_key":    rec.Key,
		"label":      rec.Label,
		"wallet":     rec.Wallet,
		"admin":      rec.Admin,
		"created_at": rec.CreatedAt,
	})
}

// handleKeyLogin verifies a key and binds a wallet to it if none is bound yet.
// Request: {"api_key":"...","wallet_address":"0x..."}
func (s *Server) handleKeyLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		APIKey string `json:"api_key"`
		Wallet string `json:"wallet_address"`
	}
	if err := decodeBody(r, &body); err != nil {
		Fail(w, err, nil)
		return
	}
	key := strings.TrimSpace(body.APIKey)
	rec, ok := s.apiKeys.Get(key)
	if !ok {
		Error(w, http.StatusForbidden, "UNAUTHORIZED", "invalid api key")
		return
	}

	if strings.TrimSpace(body.Wallet) != "" {
		wallet, err := core.ParseAddress(body.Wallet)
		if err != nil {
			Fail(w, err, nil)
			return
		}
		switch {
		case rec.Wallet == wallet:
		case rec.Wallet != (common.Address{}):
			Error(w, http.StatusForbidden, "UNAUTHORIZED", "wallet already bound to this key")
			return
		default:
			updater, ok := s.apiKeys.(auth.APIKeyWalletUpdater)
			if !ok {
				Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "key store cannot bind wallets")
				return
			}
			if rec, err = updater.UpdateWallet(key, wallet); err != nil {
				Fail(w, err, nil)
				return
			}
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"valid":  true,
		"wallet": rec.Wallet,
		"admin":  rec.Admin,
	})
}
