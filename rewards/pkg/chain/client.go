package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/malbeclabs/rewards/utils/pkg/retry"
)

// Dial connects to rpcURL and checks the endpoint answers eth_chainId,
// retrying transient failures. It returns the client and the chain id.
func Dial(ctx context.Context, log *slog.Logger, rpcURL string, retryCfg retry.Config) (*ethclient.Client, *big.Int, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	ec := ethclient.NewClient(rc)

	retryCfg.OnRetry = func(attempt int, err error) {
		log.Warn("chain: rpc not ready, retrying", "url", rpcURL, "attempt", attempt, "error", err)
	}
	chainID, err := retry.DoValue(ctx, retryCfg, func() (*big.Int, error) {
		return ec.ChainID(ctx)
	})
	if err != nil {
		ec.Close()
		return nil, nil, fmt.Errorf("failed to get chain id from %s: %w", rpcURL, err)
	}

	log.Info("chain: connected", "url", rpcURL, "chain_id", chainID.String())
	return ec, chainID, nil
}
