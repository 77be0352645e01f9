package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tweetattest-backend/client"
	"tweetattest-backend/config"
	"tweetattest-backend/core"
)

// backend is the registry plus the operator calls a session does not make.
type backend interface {
	client.Backend
	Deposit(ctx context.Context, from common.Address, amount *big.Int) (*core.Receipt, error)
	Dispute(ctx context.Context, from common.Address, id common.Hash) (*core.Receipt, error)
	ResolveDispute(ctx context.Context, from common.Address, id common.Hash, truthful bool) (*core.Receipt, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

type backendFunc func(cfg *config.ClientConfig) backend

func httpBackend(cfg *config.ClientConfig) backend {
	return client.NewHTTPBackend(cfg.Server, cfg.APIKey, cfg.Timeout)
}

// cli carries the state shared by every subcommand.
type cli struct {
	cfgFile    string
	cfg        *config.ClientConfig
	newBackend backendFunc
	backend    backend
}

// newRootCmd builds the command tree. A nil newBackend talks HTTP to cfg.Server.
func newRootCmd(newBackend backendFunc) *cobra.Command {
	if newBackend == nil {
		newBackend = httpBackend
	}
	c := &cli{newBackend: newBackend}

	root := &cobra.Command{
		Use:   "attestctl",
		Short: "Submit and settle tweet attestation claims",
		Long: `attestctl drives one claim at a time against an attestd server.

Submit a claim, wait for the oracle challenge window to pass, then settle it
to collect the reward. Results are printed as JSON.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default: ./attest.yaml or $HOME/.attest/attest.yaml)")
	flags.String("server", "http://localhost:8080", "attestd base URL")
	flags.String("api-key", "", "API key sent as X-API-Key")
	flags.String("from", "", "wallet address that signs transactions")
	flags.Uint64("chain-id", 31337, "expected chain id, 0 accepts any")

	root.AddCommand(
		c.submitCmd(), c.findCmd(), c.statusCmd(), c.settleCmd(),
		c.depositCmd(), c.balanceCmd(), c.disputeCmd(), c.resolveCmd(),
		c.configCmd(),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command, args []string) error {
	v, err := config.New(c.cfgFile)
	if err != nil {
		return err
	}
	for key, flag := range map[string]string{
		"server":   "server",
		"api_key":  "api-key",
		"from":     "from",
		"chain_id": "chain-id",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	cfg, err := config.LoadClient(v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.backend = c.newBackend(cfg)
	return nil
}

func (c *cli) session() *client.Session {
	return client.NewSession(c.backend, c.cfg.Wallet(), c.cfg.ChainID)
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), c.cfg.Timeout)
}

func (c *cli) signer() (common.Address, error) {
	if w := c.cfg.Wallet(); w != (common.Address{}) {
		return w, nil
	}
	return common.Address{}, fmt.Errorf("%w: set --from or ATTEST_FROM", client.ErrNoWallet)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func (c *cli) submitCmd() *cobra.Command {
	var handle, text string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a claim that a Twitter handle posted a tweet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			s := c.session()
			if _, err := s.Submit(ctx, handle, text); err != nil {
				return err
			}
			return printJSON(cmd, s.Snapshot())
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "Twitter handle, with or without @")
	cmd.Flags().StringVar(&text, "text", "", "exact tweet text")
	return cmd
}

func (c *cli) findCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <tx-hash>",
		Short: "Recover the assertion id from a submission transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := core.ParseHash(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			s := c.session()
			if _, err := s.FindByTxHash(ctx, hash); err != nil {
				return err
			}
			return printJSON(cmd, s.Snapshot())
		},
	}
}

// sessionAt returns a session pointed at the assertion id in arg.
func (c *cli) sessionAt(arg string) (*client.Session, error) {
	id, err := core.ParseHash(arg)
	if err != nil {
		return nil, err
	}
	s := c.session()
	if err := s.UseAssertionID(id); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <assertion-id>",
		Short: "Show claim details and whether it can be settled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.sessionAt(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			if _, err := s.CheckStatus(ctx); err != nil {
				return err
			}
			return printJSON(cmd, s.Snapshot())
		},
	}
}

func (c *cli) settleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <assertion-id>",
		Short: "Settle a claim and collect the reward when it is true",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.sessionAt(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			if _, err := s.Settle(ctx); err != nil && client.Categorize(err) != client.CategoryIdempotency {
				return err
			}
			return printJSON(cmd, s.Snapshot())
		},
	}
}

func (c *cli) depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <ether>",
		Short: "Fund the registry's reward pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := core.ParseEther(args[0])
			if err != nil {
				return err
			}
			from, err := c.signer()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			receipt, err := c.backend.Deposit(ctx, from, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show an account balance; defaults to --from",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr common.Address
			var err error
			if len(args) == 1 {
				addr, err = core.ParseAddress(args[0])
			} else {
				addr, err = c.signer()
			}
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			wei, err := c.backend.Balance(ctx, addr)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"address":       addr.Hex(),
				"balance_wei":   wei.String(),
				"balance_ether": core.FormatEther(wei),
			})
		},
	}
}

func (c *cli) disputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispute <assertion-id>",
		Short: "Dispute a claim during its challenge window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseHash(args[0])
			if err != nil {
				return err
			}
			from, err := c.signer()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			receipt, err := c.backend.Dispute(ctx, from, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}
}

func (c *cli) resolveCmd() *cobra.Command {
	var truthful bool
	cmd := &cobra.Command{
		Use:   "resolve <assertion-id>",
		Short: "Resolve a disputed claim (admin keys only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseHash(args[0])
			if err != nil {
				return err
			}
			from, err := c.signer()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			receipt, err := c.backend.ResolveDispute(ctx, from, id, truthful)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}
	cmd.Flags().BoolVar(&truthful, "truthful", false, "resolve the assertion as true")
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective client configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged client configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *c.cfg
			if shown.APIKey != "" {
				shown.APIKey = "<redacted>"
			}
			out, err := yaml.Marshal(shown)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}
