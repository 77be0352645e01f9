// Package mcp exposes the claim workflow as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"tweetattest-backend/client"
	"tweetattest-backend/core"
)

const (
	serverName    = "Tweet Attestation MCP Server"
	serverVersion = "1.0.0"
)

// Server wraps the mcp-go server with the claim tools
type Server struct {
	mcpServer *server.MCPServer
	backend   client.Backend
	wallet    common.Address
	chainID   uint64
	signer    func(ctx context.Context) (common.Address, bool)
}

// NewServer creates an MCP server over backend. wallet signs transactions
// when a tool call gives no from address; chainID zero accepts any network.
func NewServer(backend client.Backend, wallet common.Address, chainID uint64) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(true)),
		backend:   backend,
		wallet:    wallet,
		chainID:   chainID,
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// SetSigner installs a per-call wallet lookup, e.g. the wallet bound to the
// caller's API key. When it reports a wallet, the from argument is ignored.
func (s *Server) SetSigner(fn func(ctx context.Context) (common.Address, bool)) {
	s.signer = fn
}

// HTTPHandler serves the tools over streamable HTTP.
func (s *Server) HTTPHandler(opts ...server.StreamableHTTPOption) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcpServer, opts...)
}

// ServeStdio blocks serving the tools on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ToolError is the JSON body of a failed tool call.
type ToolError struct {
	Code     string `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Tool     string `json:"tool"`
	Hint     string `json:"hint,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func toolError(tool string, err error) *mcp.CallToolResult {
	code, _ := core.Code(err)
	te := &ToolError{
		Code:     code,
		Category: client.Categorize(err).String(),
		Message:  err.Error(),
		Tool:     tool,
		Hint:     client.UserMessage(err),
	}
	// Client-side failures have no wire code; fall back to the category.
	if code == "INTERNAL" {
		te.Code = strings.ToUpper(strings.ReplaceAll(te.Category, "-", "_"))
	}
	body, merr := json.Marshal(te)
	if merr != nil {
		return mcp.NewToolResultError(te.Error())
	}
	return mcp.NewToolResultError(string(body))
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

// session builds a one-shot session; from overrides the configured wallet.
func (s *Server) session(ctx context.Context, from string) (*client.Session, error) {
	if s.signer != nil {
		if wallet, ok := s.signer(ctx); ok {
			return client.NewSession(s.backend, wallet, s.chainID), nil
		}
	}
	wallet := s.wallet
	if strings.TrimSpace(from) != "" {
		addr, err := core.ParseAddress(from)
		if err != nil {
			return nil, err
		}
		wallet = addr
	}
	return client.NewSession(s.backend, wallet, s.chainID), nil
}
