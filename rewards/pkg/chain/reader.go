package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/rewards/rewards/pkg/metrics"
	"github.com/malbeclabs/rewards/utils/pkg/retry"
)

var (
	ErrEmptyResult    = errors.New("call returned no data (is a contract deployed at this address?)")
	ErrUnexpectedType = errors.New("unexpected return type")
)

// Caller is the read-only subset of an RPC client used for contract calls.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader issues read-only contract calls, retrying transient RPC failures.
type Reader struct {
	caller Caller
	retry  retry.Config
}

func NewReader(caller Caller, retryCfg retry.Config) *Reader {
	return &Reader{caller: caller, retry: retryCfg}
}

func (r *Reader) call(ctx context.Context, contract common.Address, a abi.ABI, method string, args ...any) ([]any, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := retry.DoValue(ctx, r.retry, func() ([]byte, error) {
		return r.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	})
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, contract.Hex(), err)
	}
	if len(out) == 0 {
		metrics.ChainCallsTotal.WithLabelValues(method, "empty").Inc()
		return nil, fmt.Errorf("%s on %s: %w", method, contract.Hex(), ErrEmptyResult)
	}
	vals, err := a.Unpack(method, out)
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	metrics.ChainCallsTotal.WithLabelValues(method, "ok").Inc()
	return vals, nil
}

func (r *Reader) callBigInt(ctx context.Context, contract common.Address, a abi.ABI, method string, args ...any) (*big.Int, error) {
	vals, err := r.call(ctx, contract, a, method, args...)
	if err != nil {
		return nil, err
	}
	return first[*big.Int](vals, method)
}

func (r *Reader) callHash(ctx context.Context, contract common.Address, a abi.ABI, method string) (common.Hash, error) {
	vals, err := r.call(ctx, contract, a, method)
	if err != nil {
		return common.Hash{}, err
	}
	b, err := first[[32]byte](vals, method)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(b), nil
}

// BalanceOf works for both ERC20 and ERC721 contracts since they share the
// balanceOf(address) selector.
func (r *Reader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return r.callBigInt(ctx, token, ERC20ABI, "balanceOf", owner)
}

type TokenInfo struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

func (r *Reader) TokenInfo(ctx context.Context, token common.Address) (TokenInfo, error) {
	info := TokenInfo{Address: token}

	vals, err := r.call(ctx, token, ERC20ABI, "name")
	if err != nil {
		return info, err
	}
	if info.Name, err = first[string](vals, "name"); err != nil {
		return info, err
	}
	if vals, err = r.call(ctx, token, ERC20ABI, "symbol"); err != nil {
		return info, err
	}
	if info.Symbol, err = first[string](vals, "symbol"); err != nil {
		return info, err
	}
	if vals, err = r.call(ctx, token, ERC20ABI, "decimals"); err != nil {
		return info, err
	}
	if info.Decimals, err = first[uint8](vals, "decimals"); err != nil {
		return info, err
	}
	return info, nil
}

func first[T any](vals []any, method string) (T, error) {
	var zero T
	if len(vals) == 0 {
		return zero, fmt.Errorf("%s: %w: no values", method, ErrUnexpectedType)
	}
	v, ok := vals[0].(T)
	if !ok {
		return zero, fmt.Errorf("%s: %w: %T", method, ErrUnexpectedType, vals[0])
	}
	return v, nil
}
