package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"tweetattest-backend/client"
	"tweetattest-backend/core"
)

// registerTools registers all MCP tools with the server
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_config",
		mcp.WithDescription("Describe the registry deployment: chain id, contract addresses, reward and challenge window"),
	), s.handleGetConfig)

	s.mcpServer.AddTool(mcp.NewTool("submit_claim",
		mcp.WithDescription("Submit a tweet attestation claim. Returns the transaction hash and the oracle assertion id."),
		mcp.WithString("twitter_handle", mcp.Required(), mcp.Description("Twitter handle, with or without @")),
		mcp.WithString("tweet_text", mcp.Required(), mcp.Description("Exact text of the tweet")),
		mcp.WithString("from", mcp.Description("Sender address; defaults to the server wallet")),
	), s.handleSubmitClaim)

	s.mcpServer.AddTool(mcp.NewTool("find_claim_by_tx",
		mcp.WithDescription("Recover the assertion id of a claim from its submission transaction hash"),
		mcp.WithString("tx_hash", mcp.Required(), mcp.Description("0x-prefixed transaction hash")),
	), s.handleFindClaimByTx)

	s.mcpServer.AddTool(mcp.NewTool("get_claim_status",
		mcp.WithDescription("Read claim details, the oracle assertion and whether the claim can be settled now"),
		mcp.WithString("assertion_id", mcp.Required(), mcp.Description("0x-prefixed assertion id")),
	), s.handleGetClaimStatus)

	s.mcpServer.AddTool(mcp.NewTool("settle_claim",
		mcp.WithDescription("Settle a claim once its challenge window has passed; pays the reward when the assertion is true"),
		mcp.WithString("assertion_id", mcp.Required(), mcp.Description("0x-prefixed assertion id")),
		mcp.WithString("from", mcp.Description("Sender address; defaults to the server wallet")),
	), s.handleSettleClaim)
}

func (s *Server) handleGetConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.backend.Info(ctx)
	if err != nil {
		return toolError("get_config", err), nil
	}
	return jsonResult(map[string]interface{}{
		"chain_id":         info.ChainID,
		"registry_address": info.RegistryAddress,
		"oracle_address":   info.OracleAddress,
		"reward_wei":       info.RewardWei.String(),
		"reward_ether":     core.FormatEther(info.RewardWei),
		"liveness_seconds": info.LivenessSeconds,
		"block_number":     info.BlockNumber,
	})
}

func (s *Server) handleSubmitClaim(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handle := request.GetString("twitter_handle", "")
	text := request.GetString("tweet_text", "")
	session, err := s.session(ctx, request.GetString("from", ""))
	if err != nil {
		return toolError("submit_claim", err), nil
	}
	if _, err := session.Submit(ctx, handle, text); err != nil {
		return toolError("submit_claim", err), nil
	}
	return jsonResult(session.Snapshot())
}

func (s *Server) handleFindClaimByTx(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("tx_hash")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hash, err := core.ParseHash(raw)
	if err != nil {
		return toolError("find_claim_by_tx", err), nil
	}
	session := client.NewSession(s.backend, s.wallet, s.chainID)
	if _, err := session.FindByTxHash(ctx, hash); err != nil {
		return toolError("find_claim_by_tx", err), nil
	}
	return jsonResult(session.Snapshot())
}

func (s *Server) handleGetClaimStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessionFor(ctx, request, "")
	if err != nil {
		return toolError("get_claim_status", err), nil
	}
	if _, err := session.CheckStatus(ctx); err != nil {
		return toolError("get_claim_status", err), nil
	}
	return jsonResult(session.Snapshot())
}

func (s *Server) handleSettleClaim(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessionFor(ctx, request, request.GetString("from", ""))
	if err != nil {
		return toolError("settle_claim", err), nil
	}
	if _, err := session.Settle(ctx); err != nil {
		// Already resolved is informational; the refreshed status is the answer.
		if client.Categorize(err) != client.CategoryIdempotency {
			return toolError("settle_claim", err), nil
		}
	}
	return jsonResult(session.Snapshot())
}

// sessionFor builds a session pointed at the assertion_id argument.
func (s *Server) sessionFor(ctx context.Context, request mcp.CallToolRequest, from string) (*client.Session, error) {
	raw, err := request.RequireString("assertion_id")
	if err != nil {
		return nil, client.ErrNoAssertion
	}
	id, err := core.ParseHash(raw)
	if err != nil {
		return nil, err
	}
	session, err := s.session(ctx, from)
	if err != nil {
		return nil, err
	}
	if err := session.UseAssertionID(id); err != nil {
		return nil, err
	}
	return session, nil
}
