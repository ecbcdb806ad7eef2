// Command anchoring-node runs the Bitcoin-anchoring auditor/API process:
// the relay connection, the persistent KV schema, the read-only chain
// observer, and the public HTTP API of spec.md §6. It does not run the
// anchoring state machine itself — anchor.Machine.HandleCommit is driven
// per-block by the embedding BFT host chain framework, which is out of
// this binary's scope; a host integration wires pkg/hostchain's
// BlockOracle/ValidatorRoster/ServiceTxBroadcaster and calls into
// anchor.Machine directly from its own commit hook.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/btc-anchoring/pkg/api"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/config"
	"github.com/certen/btc-anchoring/pkg/database"
	"github.com/certen/btc-anchoring/pkg/hostchain"
	"github.com/certen/btc-anchoring/pkg/kvdb"
	"github.com/certen/btc-anchoring/pkg/ledger"
	"github.com/certen/btc-anchoring/pkg/metrics"
	"github.com/certen/btc-anchoring/pkg/observer"
	"github.com/certen/btc-anchoring/pkg/relay"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configPath = flag.String("config", "", "path to YAML config file (falls back to environment variables if empty)")
		showHelp   = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	log.Printf("anchoring-node starting, environment=%s validator=%s", cfg.Environment, cfg.Validator.ID)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	rl := metrics.NewTimedRelay(relay.NewRPCClient(cfg.Relay.URL, cfg.Relay.User, cfg.Relay.Password), m)

	backend, err := dbm.NewDB("anchoring", dbm.GoLevelDBBackend, cfg.Validator.DataDir)
	if err != nil {
		log.Fatalf("open KV store at %s: %v", cfg.Validator.DataDir, err)
	}
	kv := kvdb.NewKVAdapter(backend)
	defer func() {
		if err := kv.Close(); err != nil {
			log.Printf("close KV store: %v", err)
		}
	}()
	schema := ledger.NewSchema(kv)

	var repos *database.Repositories
	if cfg.Database.URL != "" {
		dbClient, err := database.NewClient(cfg.Database)
		if err != nil {
			if cfg.Database.Required {
				log.Fatalf("connect to read-model database: %v", err)
			}
			log.Printf("read-model database unavailable, continuing without it: %v", err)
		} else {
			defer dbClient.Close()
			if err := dbClient.MigrateUp(context.Background()); err != nil {
				log.Fatalf("run read-model migrations: %v", err)
			}
			repos = database.NewRepositories(dbClient)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	oracle, err := newBlockOracle(ctx, cfg)
	if err != nil {
		log.Fatalf("set up block oracle: %v", err)
	}

	obs := observer.New(schema, rl, oracle, currentAddressSource(schema, oracle))
	obs.Config.PollInterval = cfg.Anchoring.ObserverInterval.Duration()

	if err := obs.Start(ctx); err != nil {
		log.Fatalf("start observer: %v", err)
	}

	apiServer := api.NewServer(schema, nil, oracle, repos)

	httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: apiServer}
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}

	go func() {
		log.Printf("HTTP API listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP API server: %v", err)
		}
	}()
	go func() {
		log.Printf("metrics listening on %s%s", cfg.Server.MetricsAddr, cfg.Monitoring.MetricsPath)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	cancel()
	obs.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown: %v", err)
	}
	log.Printf("anchoring-node stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv(), nil
	}
	return config.Load(path)
}

// currentAddressSource resolves the address pkg/observer should audit on
// each poll: the P2WSH address of the config active at the oracle's
// current height.
func currentAddressSource(schema *ledger.Schema, oracle hostchain.BlockOracle) observer.AddressSource {
	return func() (string, error) {
		cfg, err := schema.ActiveConfig(oracle.Height())
		if err != nil {
			return "", fmt.Errorf("resolve active config: %w", err)
		}
		return cfg.Address()
	}
}

// newBlockOracle wires a hostchain.BlockOracle from cfg: a CometClient
// against the configured host chain RPC endpoint if one is set, or a
// zero-height placeholder for standalone observer/API operation
// otherwise. The placeholder only weakens the observer's optional
// payload-hash cross-check, never its height-monotonicity check, and
// ActiveConfig(0) still resolves the chain's genesis config correctly
// for a freshly bootstrapped deployment.
func newBlockOracle(ctx context.Context, cfg *config.Config) (hostchain.BlockOracle, error) {
	if _, err := bitcoin.ParseNetwork(cfg.Relay.Network); err != nil {
		log.Printf("relay.network %q not recognized", cfg.Relay.Network)
	}

	if cfg.HostChain.RPCURL == "" {
		return &placeholderOracle{}, nil
	}

	comet, err := hostchain.NewCometClient(cfg.HostChain.RPCURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to host chain rpc at %s: %w", cfg.HostChain.RPCURL, err)
	}
	if err := comet.Refresh(ctx); err != nil {
		log.Printf("initial host chain status query failed, continuing: %v", err)
	}
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := comet.Refresh(ctx); err != nil {
					log.Printf("host chain status query failed: %v", err)
				}
			}
		}
	}()
	return comet, nil
}

// placeholderOracle is a zero-height hostchain.BlockOracle for
// standalone operation with no configured host chain RPC endpoint.
type placeholderOracle struct{}

func (o *placeholderOracle) Height() uint64 { return 0 }

func (o *placeholderOracle) BlockHash(uint64) ([32]byte, bool) { return [32]byte{}, false }
