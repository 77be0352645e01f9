// Package api serves the claim registry over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tweetattest-backend/core"
	"tweetattest-backend/core/claims"
	"tweetattest-backend/core/oracle"
	"tweetattest-backend/events"
	"tweetattest-backend/middleware"
	auth "tweetattest-backend/storage/auth"
)

// Server exposes a claims.Service. With no key validator configured every
// request is accepted and the sender comes from the request body.
type Server struct {
	svc     *claims.Service
	apiKeys auth.APIKeyValidator
	bus     *events.Bus
}

// NewServer builds a Server. apiKeys and bus may be nil.
func NewServer(svc *claims.Service, apiKeys auth.APIKeyValidator, bus *events.Bus) *Server {
	return &Server{svc: svc, apiKeys: apiKeys, bus: bus}
}

// RegisterRoutes attaches handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/abi", s.handleABI)
	mux.HandleFunc("/api/claims", s.authWrap(s.handleClaims))
	mux.HandleFunc("/api/claims/", s.authWrap(s.handleClaim))
	mux.HandleFunc("/api/assertions/", s.authWrap(s.handleAssertion))
	mux.HandleFunc("/api/deposit", s.authWrap(s.handleDeposit))
	mux.HandleFunc("/api/deposit/qr", s.handleDepositQR)
	mux.HandleFunc("/api/balances/", s.authWrap(s.handleBalance))
	mux.HandleFunc("/api/tx/", s.authWrap(s.handleTx))
	mux.HandleFunc("/api/events", s.authWrap(s.handleEvents))
	if s.apiKeys != nil {
		mux.HandleFunc("/api/keys", s.authWrap(s.handleIssueKey))
		mux.HandleFunc("/api/keys/login", s.handleKeyLogin)
	}
}

func (s *Server) authWrap(next http.HandlerFunc) http.HandlerFunc {
	if s.apiKeys == nil {
		return next
	}
	return middleware.APIAuth(s.apiKeys)(next).ServeHTTP
}

// sender resolves the transaction sender: the wallet bound to the API key,
// or the from field when keys are not configured.
func (s *Server) sender(r *http.Request, from string) (common.Address, error) {
	if s.apiKeys != nil {
		rec, ok := middleware.APIKeyFromContext(r.Context())
		if !ok {
			return common.Address{}, core.ErrUnauthorized
		}
		if rec.Wallet == (common.Address{}) {
			return common.Address{}, fmt.Errorf("%w: api key has no wallet bound; POST /api/keys/login first", core.ErrInvalidInput)
		}
		return rec.Wallet, nil
	}
	if strings.TrimSpace(from) == "" {
		return common.Address{}, fmt.Errorf("%w: from address required", core.ErrInvalidInput)
	}
	return core.ParseAddress(from)
}

func (s *Server) isAdmin(r *http.Request) bool {
	if s.apiKeys == nil {
		return true
	}
	rec, ok := middleware.APIKeyFromContext(r.Context())
	return ok && rec.Admin
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		return fmt.Errorf("%w: Content-Type must be application/json", core.ErrInvalidInput)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", core.ErrInvalidInput, err)
	}
	return nil
}

// pathParts returns the segments after prefix.
func pathParts(r *http.Request, prefix string) []string {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ConfigResponse describes the deployment to clients.
type ConfigResponse struct {
	core.ChainInfo
	RewardEther string `json:"reward_ether"`
	AuthEnabled bool   `json:"auth_enabled"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	info, err := s.svc.Info(r.Context())
	if err != nil {
		Fail(w, err, nil)
		return
	}
	JSON(w, http.StatusOK, ConfigResponse{
		ChainInfo:   info,
		RewardEther: core.FormatEther(info.RewardWei),
		AuthEnabled: s.apiKeys != nil,
	})
}

func (s *Server) handleABI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	JSON(w, http.StatusOK, map[string]json.RawMessage{
		"registry": json.RawMessage(claims.RegistryABIJSON),
		"oracle":   json.RawMessage(oracle.ABIJSON),
	})
}
