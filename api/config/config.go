package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/malbeclabs/rewards/rewards/pkg/chain"
)

const (
	DefaultRPCURL                 = "http://localhost:8545"
	DefaultNetworkName            = "Local"
	DefaultPublicGatewayURL       = "https://ipfs.io/ipfs/"
	DefaultWalletConnectProjectID = "demo-project-id"
	DefaultSentryEnvironment      = "development"

	// Variables may also be spelled with this prefix, as the dashboard's
	// browser build expects them.
	publicPrefix = "NEXT_PUBLIC_"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the service configuration read from the environment.
type Config struct {
	DistributorAddress     common.Address
	RewardTokenAddress     common.Address
	RewardSourceNFTAddress common.Address
	RPCURL                 string
	NetworkName            string
	// IPFSGatewayURL is the explicitly configured gateway, empty when unset.
	// The proxy refuses to serve without it.
	IPFSGatewayURL         string
	WalletConnectProjectID string

	// RelayerKey signs relayed claims and admin transactions. Optional.
	RelayerKey *ecdsa.PrivateKey

	SentryDSN         string
	SentryEnvironment string
	VerifyProofs      bool
}

// PublicGatewayURL is the gateway reported to clients, falling back to the
// public ipfs.io gateway.
func (c Config) PublicGatewayURL() string {
	if c.IPFSGatewayURL != "" {
		return c.IPFSGatewayURL
	}
	return DefaultPublicGatewayURL
}

func (c Config) ClaimsEnabled() bool { return c.RelayerKey != nil }

// RequireDistributor fails when no distributor address is configured. The
// zero address default only suits tools that never read the distributor.
func (c Config) RequireDistributor() error {
	if c.DistributorAddress == (common.Address{}) {
		return fmt.Errorf("%w: REWARD_DISTRIBUTOR_ADDRESS is required", ErrInvalidConfig)
	}
	return nil
}

// Load reads any of the given .env files that exist into the process
// environment, without overriding variables already set, and then builds the
// config from the environment.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the config from lookup. Each variable is read under its
// plain name first and then with the NEXT_PUBLIC_ prefix.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(name string) string {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if v, ok := lookup(publicPrefix + name); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	orDefault := func(name, def string) string {
		if v := get(name); v != "" {
			return v
		}
		return def
	}

	var (
		cfg Config
		err error
	)
	if cfg.DistributorAddress, err = address(get, "REWARD_DISTRIBUTOR_ADDRESS"); err != nil {
		return Config{}, err
	}
	if cfg.RewardTokenAddress, err = address(get, "REWARD_TOKEN_ADDRESS"); err != nil {
		return Config{}, err
	}
	if cfg.RewardSourceNFTAddress, err = address(get, "REWARD_SOURCE_NFT_ADDRESS"); err != nil {
		return Config{}, err
	}

	cfg.RPCURL = orDefault("RPC_URL", DefaultRPCURL)
	cfg.NetworkName = orDefault("NETWORK_NAME", DefaultNetworkName)
	cfg.IPFSGatewayURL = get("IPFS_GATEWAY_URL")
	cfg.WalletConnectProjectID = orDefault("WALLETCONNECT_PROJECT_ID", DefaultWalletConnectProjectID)
	cfg.SentryDSN = get("SENTRY_DSN")
	cfg.SentryEnvironment = orDefault("SENTRY_ENVIRONMENT", DefaultSentryEnvironment)

	if key := get("RELAYER_PRIVATE_KEY"); key != "" {
		if cfg.RelayerKey, err = chain.ParsePrivateKey(key); err != nil {
			return Config{}, fmt.Errorf("%w: RELAYER_PRIVATE_KEY: %w", ErrInvalidConfig, err)
		}
	}

	cfg.VerifyProofs = true
	if v := get("VERIFY_PROOFS"); v != "" {
		if cfg.VerifyProofs, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("%w: VERIFY_PROOFS: %q is not a boolean", ErrInvalidConfig, v)
		}
	}

	return cfg, nil
}

// address parses an optional address variable; unset means the zero address.
func address(get func(string) string, name string) (common.Address, error) {
	v := get(name)
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s: %q is not an address", ErrInvalidConfig, name, v)
	}
	return common.HexToAddress(v), nil
}
