package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/rewards/admin/internal/admin"
	"github.com/malbeclabs/rewards/api/config"
	"github.com/malbeclabs/rewards/rewards/pkg/chain"
	"github.com/malbeclabs/rewards/rewards/pkg/claim"
	"github.com/malbeclabs/rewards/rewards/pkg/ipfs"
	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
	"github.com/malbeclabs/rewards/rewards/pkg/resolver"
	"github.com/malbeclabs/rewards/utils/pkg/logger"
	"github.com/malbeclabs/rewards/utils/pkg/retry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.StringSlice("env-file", []string{".env", ".env.local"}, "dotenv files to load if present")
	privateKeyFlag := flag.String("private-key", "", "operator private key (or set ADMIN_PRIVATE_KEY env var, falls back to RELAYER_PRIVATE_KEY)")
	apiURLFlag := flag.String("api-url", "http://127.0.0.1:8080", "rewards api serving /api/ipfs/ for manifest fetches (or set API_URL env var)")

	// Commands
	mintNFTFlag := flag.Bool("mint-nft", false, "Mint a reward source NFT")
	mintRewardTokensFlag := flag.Bool("mint-reward-tokens", false, "Mint reward tokens to the distributor")
	faucetFlag := flag.Bool("faucet", false, "Set an account's ETH balance (Anvil only)")
	addTriggerFlag := flag.Bool("add-trigger", false, "Register a trigger for the reward token and reward source NFT")
	listTriggersFlag := flag.Bool("list-triggers", false, "List triggers created by --account (default: operator)")
	ethBalanceFlag := flag.Bool("eth-balance", false, "Show the ETH balance of --account (default: operator)")
	showFlag := flag.Bool("show", false, "Show the pending reward and claim history of --account")
	claimFlag := flag.Bool("claim", false, "Claim the pending reward of --account, paying gas from the operator key")
	cidOfDigestFlag := flag.String("cid-of-digest", "", "Print the CID for an on-chain ipfsHash digest")
	digestOfCIDFlag := flag.String("digest-of-cid", "", "Print the on-chain digest for a CID")

	// Options
	accountFlag := flag.String("account", "", "Account to act on (default: operator)")
	tokenIDFlag := flag.Int64("token-id", 1, "Token id for --mint-nft")
	amountFlag := flag.String("amount", "1000", "Reward token amount in ether units for --mint-reward-tokens")
	ethAmountFlag := flag.String("eth-amount", "10", "ETH amount for --faucet")
	timeoutFlag := flag.Duration("timeout", 2*time.Minute, "Timeout for the whole command")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if envAPIURL := os.Getenv("API_URL"); envAPIURL != "" {
		*apiURLFlag = envAPIURL
	}

	// Conversions need neither config nor chain.
	if *cidOfDigestFlag != "" || *digestOfCIDFlag != "" {
		a, err := admin.New(admin.Config{Logger: log})
		if err != nil {
			return err
		}
		if *cidOfDigestFlag != "" {
			return a.CIDOfDigest(*cidOfDigestFlag)
		}
		return a.DigestOfCID(*digestOfCIDFlag)
	}

	cfg, err := config.Load(*envFileFlag...)
	if err != nil {
		return err
	}

	key := cfg.RelayerKey
	if *privateKeyFlag == "" {
		*privateKeyFlag = os.Getenv("ADMIN_PRIVATE_KEY")
	}
	if *privateKeyFlag != "" {
		if key, err = chain.ParsePrivateKey(*privateKeyFlag); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeoutFlag)
	defer cancelTimeout()

	client, _, err := chain.Dial(ctx, log, cfg.RPCURL, retry.DefaultConfig())
	if err != nil {
		return err
	}
	defer client.Close()

	reader := chain.NewReader(client, retry.DefaultConfig())
	distributor := chain.NewDistributor(cfg.DistributorAddress, reader, client)

	adminCfg := admin.Config{
		Logger:                 log,
		Triggers:               distributor,
		Balances:               client,
		RPC:                    client.Client(),
		DistributorAddress:     cfg.DistributorAddress,
		RewardTokenAddress:     cfg.RewardTokenAddress,
		RewardSourceNFTAddress: cfg.RewardSourceNFTAddress,
	}
	var tx *chain.Transactor
	if key != nil {
		if tx, err = chain.NewTransactor(chain.TransactorConfig{Logger: log, Backend: client, PrivateKey: key}); err != nil {
			return fmt.Errorf("failed to create transactor: %w", err)
		}
		adminCfg.Tx = tx
	}
	a, err := admin.New(adminCfg)
	if err != nil {
		return err
	}

	account, accountErr := resolveAccount(*accountFlag, tx)
	needAccount := func(action string) error {
		if accountErr != nil {
			return fmt.Errorf("--account is required for %s: %w", action, accountErr)
		}
		return nil
	}

	switch {
	case *mintNFTFlag:
		if err := needAccount("--mint-nft"); err != nil {
			return err
		}
		return a.MintNFT(ctx, account, big.NewInt(*tokenIDFlag))

	case *mintRewardTokensFlag:
		return a.MintRewardTokens(ctx, *amountFlag)

	case *faucetFlag:
		if err := needAccount("--faucet"); err != nil {
			return err
		}
		return a.Faucet(ctx, account, *ethAmountFlag)

	case *addTriggerFlag:
		return a.AddTrigger(ctx)

	case *listTriggersFlag:
		if err := needAccount("--list-triggers"); err != nil {
			return err
		}
		return a.ListTriggers(ctx, account)

	case *ethBalanceFlag:
		if err := needAccount("--eth-balance"); err != nil {
			return err
		}
		return a.ETHBalance(ctx, account)

	case *showFlag, *claimFlag:
		if err := needAccount("--show/--claim"); err != nil {
			return err
		}
		sess, err := newSession(ctx, log, distributor, tx, *apiURLFlag, cfg.VerifyProofs, account)
		if err != nil {
			return err
		}
		if *claimFlag {
			return a.Claim(ctx, sess)
		}
		return a.Show(ctx, sess)
	}

	flag.Usage()
	return nil
}

func resolveAccount(s string, tx *chain.Transactor) (common.Address, error) {
	if s != "" {
		if !common.IsHexAddress(s) {
			return common.Address{}, fmt.Errorf("%q is not an address", s)
		}
		return common.HexToAddress(s), nil
	}
	if tx != nil {
		return tx.From(), nil
	}
	return common.Address{}, admin.ErrNoSigner
}

// newSession builds the same resolution pipeline the api runs, refreshed once.
func newSession(
	ctx context.Context,
	log *slog.Logger,
	distributor *chain.Distributor,
	tx *chain.Transactor,
	apiURL string,
	verifyProofs bool,
	account common.Address,
) (*resolver.Session, error) {
	cache, err := ipfs.NewCache(ipfs.CacheConfig{Logger: log})
	if err != nil {
		return nil, err
	}
	fetcher, err := manifest.NewFetcher(manifest.FetcherConfig{
		Logger:        log,
		Cache:         cache,
		BaseURL:       apiURL,
		VerifyContent: true,
	})
	if err != nil {
		return nil, err
	}
	// The view is refreshed once by hand and never started.
	view, err := resolver.NewView(resolver.ViewConfig{
		Logger:          log,
		Distributor:     distributor,
		Cache:           cache,
		Fetcher:         fetcher,
		RefreshInterval: time.Minute,
	})
	if err != nil {
		return nil, err
	}
	if err := view.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to read distributor: %w", err)
	}

	sessCfg := resolver.SessionConfig{
		Logger:       log,
		View:         view,
		Distributor:  distributor,
		VerifyProofs: verifyProofs,
	}
	if tx != nil {
		sessCfg.Submitter = claim.NewSubmitter(log, tx)
	}
	return resolver.NewSession(sessCfg, account)
}
