package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/server"
	"github.com/natefinch/lumberjack"
	"github.com/spf13/cobra"

	"tweetattest-backend/api"
	"tweetattest-backend/config"
	"tweetattest-backend/core"
	"tweetattest-backend/core/claims"
	"tweetattest-backend/core/ledger"
	"tweetattest-backend/core/oracle"
	"tweetattest-backend/events"
	"tweetattest-backend/mcp"
	"tweetattest-backend/metrics"
	"tweetattest-backend/middleware"
	"tweetattest-backend/storage"
	auth "tweetattest-backend/storage/auth"
	"tweetattest-backend/web"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	eventBacklog    = 512
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry HTTP server",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		for key, flag := range map[string]string{
			"listen":       "listen",
			"store.driver": "store",
			"store.path":   "store-path",
			"store.dsn":    "dsn",
			"log.file":     "log-file",
		} {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return fmt.Errorf("bind --%s: %w", flag, err)
			}
		}
		return nil
	},
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("store", "memory", "state store: memory, leveldb or postgres")
	serveCmd.Flags().String("store-path", "data/attest.db", "leveldb directory")
	serveCmd.Flags().String("dsn", "", "postgres connection string")
	serveCmd.Flags().String("log-file", "", "also write logs to this rotated file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if closer := setupLogging(cfg.Log); closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("attestd listening on %s (chain %d, store %s)", cfg.Listen, cfg.ChainID, cfg.Store.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupLogging tees the standard logger into a rotated file when one is configured.
func setupLogging(cfg config.LogConfig) io.Closer {
	if cfg.File == "" {
		return nil
	}
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, fileWriter))
	return fileWriter
}

// app is everything serve wires together.
type app struct {
	handler http.Handler
	service *claims.Service
	bus     *events.Bus
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	})

	chain, err := ledger.NewChain(store, ledger.SystemClock{}, cfg.ChainID)
	if err != nil {
		return nil, err
	}
	alloc, err := cfg.GenesisAlloc()
	if err != nil {
		return nil, err
	}
	if err := chain.Genesis(ctx, alloc); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	orc := oracle.New(cfg.OracleAddr(), cfg.Oracle.Liveness)
	svc := claims.NewService(chain, claims.NewRegistry(cfg.RegistryAddr(), orc, cfg.Reward()), orc)
	a.service = svc

	m := metrics.New()
	bus := events.NewBus(eventBacklog)
	a.bus = bus
	svc.OnReceipt(bus.PublishReceipt)
	bus.Subscribe(m.Observe)
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		cancel := bus.Subscribe(sink.Publish)
		a.closers = append(a.closers, func() {
			cancel()
			if err := sink.Close(); err != nil {
				log.Printf("close kafka producer: %v", err)
			}
		})
		log.Printf("publishing events to kafka topic %s", cfg.Kafka.Topic)
	}

	keys, closeKeys, err := openKeys(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeKeys != nil {
		a.closers = append(a.closers, closeKeys)
	}

	mux := http.NewServeMux()
	api.NewServer(svc, keys, bus).RegisterRoutes(mux)
	api.RegisterDocs(mux)
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/mcp", mcpHandler(svc, cfg, keys))
	if cfg.Web.Enabled {
		if keys != nil {
			log.Printf("web form disabled: api keys are configured and browsers cannot present them")
		} else {
			mux.Handle("/", web.NewHandler(svc, cfg.ChainID, cfg.MCPWallet(), cfg.Web.SessionTTL))
		}
	}

	a.handler = middleware.Chain(mux,
		middleware.Recovery,
		middleware.Logging,
		middleware.Metrics(m),
		middleware.CORS(cfg.CORS),
		middleware.SecurityHeaders,
		middleware.ContentType,
		middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute).WithKeys(keys)),
		middleware.Timeout(requestTimeout),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (core.Store, error) {
	switch cfg.Driver {
	case "leveldb":
		return storage.NewLevelStore(cfg.Path)
	case "postgres":
		return storage.NewPGStore(ctx, cfg.DSN)
	default:
		return storage.NewMemoryStore(), nil
	}
}

// openKeys returns a nil validator when no keys are configured, which leaves
// the API open and takes the sender from each request.
func openKeys(ctx context.Context, cfg *config.Config) (auth.APIKeyValidator, func(), error) {
	if len(cfg.APIKeys) == 0 {
		return nil, nil, nil
	}
	if cfg.Store.Driver == "postgres" {
		pg, err := auth.NewPGAPIKeyStore(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		for _, k := range cfg.APIKeys {
			pg.Seed(k.Key, common.HexToAddress(k.Wallet), k.Admin)
		}
		log.Printf("api key auth enabled (postgres, %d configured keys)", len(cfg.APIKeys))
		return pg, pg.Close, nil
	}
	mem := auth.NewAPIKeyStore()
	for _, k := range cfg.APIKeys {
		mem.Seed(k.Key, common.HexToAddress(k.Wallet), k.Admin)
	}
	log.Printf("api key auth enabled (%d keys)", mem.Len())
	return mem, nil, nil
}

// mcpHandler serves the MCP tools over streamable HTTP. With keys configured
// every call must present one and transactions are signed by its wallet.
func mcpHandler(svc *claims.Service, cfg *config.Config, keys auth.APIKeyValidator) http.Handler {
	s := mcp.NewServer(svc, cfg.MCPWallet(), cfg.ChainID)
	if keys == nil {
		return s.HTTPHandler()
	}
	s.SetSigner(func(ctx context.Context) (common.Address, bool) {
		// A key without a bound wallet yields a disconnected session.
		rec, ok := middleware.APIKeyFromContext(ctx)
		return rec.Wallet, ok
	})
	h := s.HTTPHandler(server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
		if rec, ok := middleware.APIKeyFromContext(r.Context()); ok {
			return middleware.WithAPIKey(ctx, rec)
		}
		return ctx
	}))
	return middleware.APIAuth(keys)(h)
}
