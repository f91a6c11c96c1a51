package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/malbeclabs/rewards/rewards/pkg/chain"
)

const etherDecimals = 18

var (
	ErrNoSigner      = errors.New("a private key is required for this action")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrTxReverted    = errors.New("transaction reverted")
)

// Transactor sends transactions from the operator key.
type Transactor interface {
	Transact(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	From() common.Address
}

type TriggerReader interface {
	TriggerIDsByCreator(ctx context.Context, creator common.Address) ([]uint64, error)
	Trigger(ctx context.Context, id uint64) (chain.Trigger, error)
}

// BalanceReader is satisfied by *ethclient.Client.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Config struct {
	Logger *slog.Logger
	Out    io.Writer

	// Tx is optional; actions that send transactions fail with ErrNoSigner
	// without it.
	Tx       Transactor
	Triggers TriggerReader
	Balances BalanceReader
	RPC      chain.RPCCaller

	DistributorAddress     common.Address
	RewardTokenAddress     common.Address
	RewardSourceNFTAddress common.Address
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return nil
}

// Admin runs operator actions against a dev deployment.
type Admin struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Admin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Admin{log: cfg.Logger, cfg: cfg}, nil
}

func (a *Admin) printf(format string, args ...any) {
	fmt.Fprintf(a.cfg.Out, format, args...)
}

// send submits data to `to` and waits for it to be mined.
func (a *Admin) send(ctx context.Context, action string, to common.Address, data []byte) (common.Hash, error) {
	if a.cfg.Tx == nil {
		return common.Hash{}, ErrNoSigner
	}
	hash, err := a.cfg.Tx.Transact(ctx, to, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", action, err)
	}
	a.log.Info("admin: transaction sent", "action", action, "hash", hash.Hex())

	receipt, err := a.cfg.Tx.WaitReceipt(ctx, hash)
	if err != nil {
		return hash, fmt.Errorf("%s: %w", action, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%s: %w: %s", action, ErrTxReverted, hash.Hex())
	}
	return hash, nil
}

// ParseEther converts a decimal ether amount such as "1.5" to wei.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.IsInteger() || wei.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return wei.BigInt(), nil
}

func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}
