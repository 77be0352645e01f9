package main

import (
	"context"
	"flag"
	"log"
	"os"

	"tweetattest-backend/client"
	"tweetattest-backend/config"
	"tweetattest-backend/mcp"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default: ./attest.yaml or $HOME/.attest/attest.yaml)")
	flag.Parse()

	// stdout carries the MCP protocol; keep logs on stderr.
	log.SetOutput(os.Stderr)

	v, err := config.New(*cfgFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg, err := config.LoadClient(v)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	backend := client.NewHTTPBackend(cfg.Server, cfg.APIKey, cfg.Timeout)
	info, err := backend.Info(context.Background())
	if err != nil {
		log.Printf("registry at %s not reachable yet: %v", cfg.Server, err)
	} else {
		log.Printf("registry %s on chain %d", info.RegistryAddress.Hex(), info.ChainID)
	}

	mcpServer := mcp.NewServer(backend, cfg.Wallet(), cfg.ChainID)

	log.Printf("Tweet attestation MCP server starting (server=%s)", cfg.Server)
	if err := mcpServer.ServeStdio(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
