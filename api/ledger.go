package api

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"tweetattest-backend/core"
)

// DepositBody funds the registry. Exactly one of the amounts is expected.
type DepositBody struct {
	AmountWei   string `json:"amount_wei,omitempty"`
	AmountEther string `json:"amount_ether,omitempty"`
	From        string `json:"from,omitempty"`
}

func parseAmount(wei, ether string) (*big.Int, error) {
	wei, ether = strings.TrimSpace(wei), strings.TrimSpace(ether)
	switch {
	case wei != "" && ether != "":
		return nil, fmt.Errorf("%w: give amount_wei or amount_ether, not both", core.ErrInvalidInput)
	case wei != "":
		return core.ParseWei(wei)
	case ether != "":
		return core.ParseEther(ether)
	default:
		return nil, fmt.Errorf("%w: amount required", core.ErrInvalidInput)
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body DepositBody
	if err := decodeBody(r, &body); err != nil {
		Fail(w, err, nil)
		return
	}
	amount, err := parseAmount(body.AmountWei, body.AmountEther)
	if err != nil {
		Fail(w, err, nil)
		return
	}
	from, err := s.sender(r, body.From)
	if err != nil {
		Fail(w, err, nil)
		return
	}
	receipt, err := s.svc.Deposit(r.Context(), from, amount)
	if err != nil {
		Fail(w, err, receipt)
		return
	}
	JSON(w, http.StatusOK, TxResponse{TxHash: receipt.TxHash, Receipt: receipt})
}

// handleDepositQR renders an EIP-681 payment URI for funding the registry.
func (s *Server) handleDepositQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	info, err := s.svc.Info(r.Context())
	if err != nil {
		Fail(w, err, nil)
		return
	}
	q := r.URL.Query()
	amount := info.RewardWei
	if q.Get("amount_wei") != "" || q.Get("amount_ether") != "" {
		amount, err = parseAmount(q.Get("amount_wei"), q.Get("amount_ether"))
		if err != nil {
			Fail(w, err, nil)
			return
		}
	}
	uri := fmt.Sprintf("ethereum:%s@%d?value=%s", info.RegistryAddress.Hex(), info.ChainID, amount.String())
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		Fail(w, fmt.Errorf("failed to generate QR code: %w", err), nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Payment-URI", uri)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts := pathParts(r, "/api/balances/")
	if len(parts) != 1 {
		Error(w, http.StatusBadRequest, "INVALID_INPUT", "address required")
		return
	}
	addr, err := core.ParseAddress(parts[0])
	if err != nil {
		Fail(w, err, nil)
		return
	}
	bal, err := s.svc.Balance(r.Context(), addr)
	if err != nil {
		Fail(w, err, nil)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"address":       addr,
		"balance_wei":   bal.String(),
		"balance_ether": core.FormatEther(bal),
	})
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts := pathParts(r, "/api/tx/")
	if len(parts) != 1 {
		Error(w, http.StatusBadRequest, "INVALID_INPUT", "transaction hash required")
		return
	}
	hash, err := core.ParseHash(parts[0])
	if err != nil {
		Fail(w, err, nil)
		return
	}
	receipt, err := s.svc.Receipt(r.Context(), hash)
	if err != nil {
		Fail(w, err, nil)
		return
	}
	JSON(w, http.StatusOK, receipt)
}
