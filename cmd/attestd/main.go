// Command attestd runs the tweet attestation registry: the HTTP API, the MCP
// endpoint and the browser form, over a single ledger.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"tweetattest-backend/config"
)

var (
	cfgFile string
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "attestd",
	Short: "Tweet attestation registry daemon",
	Long: `attestd hosts a claim registry backed by an optimistic oracle.

Claims are submitted over HTTP, MCP or the browser form, wait out the
oracle challenge window, and pay a fixed reward when settled as true.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		v, err = config.New(cfgFile)
		return err
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML (API keys redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		for i := range cfg.APIKeys {
			cfg.APIKeys[i].Key = redact(cfg.APIKeys[i].Key)
		}
		if cfg.Store.DSN != "" {
			cfg.Store.DSN = "<redacted>"
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func redact(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return key[:6] + "***"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./attest.yaml or $HOME/.attest/attest.yaml)")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(serveCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
