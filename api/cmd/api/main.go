package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/rewards/api/config"
	"github.com/malbeclabs/rewards/api/handlers"
	"github.com/malbeclabs/rewards/api/metrics"
	"github.com/malbeclabs/rewards/api/server"
	"github.com/malbeclabs/rewards/rewards/pkg/chain"
	"github.com/malbeclabs/rewards/rewards/pkg/claim"
	"github.com/malbeclabs/rewards/rewards/pkg/ipfs"
	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
	"github.com/malbeclabs/rewards/rewards/pkg/resolver"
	"github.com/malbeclabs/rewards/rewards/pkg/sources"
	"github.com/malbeclabs/rewards/utils/pkg/logger"
	"github.com/malbeclabs/rewards/utils/pkg/retry"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultListenAddr = "0.0.0.0:8080"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	jsonLogsFlag := flag.Bool("json-logs", false, "emit logs as JSON (or set LOG_FORMAT=json env var)")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "address to listen on (or set LISTEN_ADDR env var)")
	envFileFlag := flag.StringSlice("env-file", []string{".env", ".env.local"}, "dotenv files to load if present")
	refreshIntervalFlag := flag.Duration("refresh-interval", 15*time.Second, "how often to re-read the distributor root and manifest digest")
	manifestBaseURLFlag := flag.String("manifest-base-url", "", "origin serving /api/ipfs/ for manifest fetches (default: this server)")
	corsOriginsFlag := flag.String("cors-origins", "", "comma-separated allowed CORS origins (default: all)")
	sourceTimeoutFlag := flag.Duration("source-timeout", 10*time.Second, "timeout for each reward source balance lookup")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "maximum time to wait for in-flight requests during shutdown")

	flag.Parse()

	if envListenAddr := os.Getenv("LISTEN_ADDR"); envListenAddr != "" {
		*listenAddrFlag = envListenAddr
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		*jsonLogsFlag = true
	}

	log := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, JSON: *jsonLogsFlag})

	cfg, err := config.Load(*envFileFlag...)
	if err != nil {
		return err
	}
	if err := cfg.RequireDistributor(); err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized", "environment", cfg.SentryEnvironment)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, _, err := chain.Dial(ctx, log, cfg.RPCURL, retry.DefaultConfig())
	if err != nil {
		return err
	}
	defer client.Close()

	reader := chain.NewReader(client, retry.DefaultConfig())
	distributor := chain.NewDistributor(cfg.DistributorAddress, reader, client)

	cache, err := ipfs.NewCache(ipfs.CacheConfig{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create cid cache: %w", err)
	}

	baseURL := *manifestBaseURLFlag
	if baseURL == "" {
		baseURL = loopbackURL(*listenAddrFlag)
	}
	fetcher, err := manifest.NewFetcher(manifest.FetcherConfig{
		Logger:        log,
		Cache:         cache,
		BaseURL:       baseURL,
		VerifyContent: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create manifest fetcher: %w", err)
	}

	view, err := resolver.NewView(resolver.ViewConfig{
		Logger:          log,
		Distributor:     distributor,
		Cache:           cache,
		Fetcher:         fetcher,
		RefreshInterval: *refreshIntervalFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create distributor view: %w", err)
	}

	aggregator, err := sources.NewAggregator(sources.AggregatorConfig{
		Logger:  log,
		Balance: reader,
		Timeout: *sourceTimeoutFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create source aggregator: %w", err)
	}

	sessCfg := resolver.SessionConfig{
		Logger:       log,
		View:         view,
		Distributor:  distributor,
		Sources:      aggregator,
		VerifyProofs: cfg.VerifyProofs,
	}
	if cfg.ClaimsEnabled() {
		tx, err := chain.NewTransactor(chain.TransactorConfig{
			Logger:     log,
			Backend:    client,
			PrivateKey: cfg.RelayerKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create transactor: %w", err)
		}
		sessCfg.Submitter = claim.NewSubmitter(log, tx)
		log.Info("claim relay enabled", "relayer", tx.From().Hex())
	}
	sessions, err := resolver.NewSessions(sessCfg)
	if err != nil {
		return fmt.Errorf("failed to create sessions: %w", err)
	}

	rewards, err := handlers.NewRewards(handlers.RewardsConfig{
		Logger:             log,
		DistributorAddress: cfg.DistributorAddress,
		View:               view,
		Sessions:           sessions,
		Tokens:             reader,
	})
	if err != nil {
		return fmt.Errorf("failed to create rewards handlers: %w", err)
	}

	proxy, err := handlers.NewIPFSProxy(handlers.IPFSProxyConfig{
		Logger:     log,
		GatewayURL: cfg.IPFSGatewayURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create ipfs proxy: %w", err)
	}
	if cfg.IPFSGatewayURL == "" {
		log.Warn("IPFS_GATEWAY_URL is not set, the ipfs proxy will reject all requests")
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     handlers.VersionInfo{Version: version, Commit: commit, Date: date},
		PublicConfig:    handlers.NewPublicConfig(cfg),
		View:            view,
		Rewards:         rewards,
		IPFSProxy:       proxy,
		CORSOrigins:     splitList(*corsOriginsFlag),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("rewards api starting",
		"version", version,
		"network", cfg.NetworkName,
		"distributor", cfg.DistributorAddress.Hex(),
		"rpc_url", cfg.RPCURL,
		"manifest_base_url", baseURL,
	)
	return srv.Run(ctx)
}

// loopbackURL turns a listen address into a URL this process can reach
// itself on.
func loopbackURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
