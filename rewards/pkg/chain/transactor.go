package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
)

var ErrInvalidPrivateKey = errors.New("invalid private key")

// Sender is the subset of an RPC client used to sign, send and track
// transactions.
type Sender interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type TransactorConfig struct {
	Logger     *slog.Logger
	Backend    Sender
	PrivateKey *ecdsa.PrivateKey
	Clock      clockwork.Clock
	// PollInterval is how often WaitReceipt checks for a receipt.
	PollInterval time.Duration
	// GasMarginPercent is added on top of the node's gas estimate.
	GasMarginPercent uint64
}

func (cfg *TransactorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.PrivateKey == nil {
		return errors.New("private key is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.GasMarginPercent == 0 {
		cfg.GasMarginPercent = 20
	}
	return nil
}

// Transactor signs and broadcasts transactions from a single key. Sends are
// serialized so nonces are allocated in order.
type Transactor struct {
	log  *slog.Logger
	cfg  TransactorConfig
	from common.Address

	mu      sync.Mutex
	chainID *big.Int
}

func NewTransactor(cfg TransactorConfig) (*Transactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transactor{
		log:  cfg.Logger,
		cfg:  cfg,
		from: crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
	}, nil
}

// ParsePrivateKey decodes a hex private key, with or without 0x.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

func (t *Transactor) From() common.Address { return t.from }

// Transact sends a call to `to` with the given calldata and returns the
// transaction hash once the node has accepted it into its pool. It is never
// retried.
func (t *Transactor) Transact(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chainID, err := t.loadChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := t.cfg.Backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := t.cfg.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	gas, err := t.cfg.Backend.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gas += gas * t.cfg.GasMarginPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), t.cfg.PrivateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := t.cfg.Backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	t.log.Info("chain: transaction sent", "hash", signed.Hash().Hex(), "to", to.Hex(), "nonce", nonce, "gas", gas)
	return signed.Hash(), nil
}

// WaitReceipt polls until the transaction is mined or ctx is done.
func (t *Transactor) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return WaitReceipt(ctx, t.cfg.Backend, t.cfg.Clock, t.cfg.PollInterval, hash)
}

func (t *Transactor) loadChainID(ctx context.Context) (*big.Int, error) {
	if t.chainID != nil {
		return t.chainID, nil
	}
	id, err := t.cfg.Backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	t.chainID = id
	return id, nil
}

type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitReceipt polls r for the receipt of hash every interval. A nil clock
// means the real clock.
func WaitReceipt(ctx context.Context, r ReceiptReader, clock clockwork.Clock, interval time.Duration, hash common.Hash) (*types.Receipt, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := r.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt for %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt of %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.Chan():
		}
	}
}

// RPCCaller is satisfied by *rpc.Client.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// SetBalance sets the ETH balance of account on an Anvil dev chain.
func SetBalance(ctx context.Context, rpc RPCCaller, account common.Address, wei *big.Int) error {
	if err := rpc.CallContext(ctx, nil, "anvil_setBalance", account, hexutil.EncodeBig(wei)); err != nil {
		return fmt.Errorf("anvil_setBalance: %w", err)
	}
	return nil
}
