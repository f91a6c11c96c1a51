package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
	"github.com/malbeclabs/rewards/rewards/pkg/metrics"
)

const (
	// SourceERC721 is a source whose rewards accrue per NFT held.
	SourceERC721 = "ERC721"

	defaultConcurrency = 4
)

var ErrInvalidSourceMetadata = errors.New("invalid source metadata")

// BalanceReader returns token balances. *chain.Reader implements it.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Balance is the account's standing in one reward source. Balance and
// ExpectedReward are nil for sources without an on-chain balance.
type Balance struct {
	Source         manifest.Source `json:"source"`
	Token          *common.Address `json:"token,omitempty"`
	Balance        *big.Int        `json:"balance,omitempty"`
	RewardsPerUnit *big.Int        `json:"rewardsPerToken,omitempty"`
	ExpectedReward *big.Int        `json:"expectedReward,omitempty"`
	Error          string          `json:"error,omitempty"`
}

type AggregatorConfig struct {
	Logger  *slog.Logger
	Balance BalanceReader
	// Concurrency bounds the number of sources resolved at once.
	Concurrency int
	// Timeout bounds each source's balance lookup. Zero means no timeout.
	Timeout time.Duration
}

func (cfg *AggregatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Balance == nil {
		return errors.New("balance reader is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return nil
}

type Aggregator struct {
	log *slog.Logger
	cfg AggregatorConfig
}

func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{log: cfg.Logger, cfg: cfg}, nil
}

// Aggregate resolves every source for account and returns the results in
// manifest order. A source that fails carries its error and does not affect
// the others.
func (a *Aggregator) Aggregate(ctx context.Context, srcs []manifest.Source, account common.Address) []Balance {
	out := make([]Balance, len(srcs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, src := range srcs {
		g.Go(func() error {
			out[i] = a.resolve(gctx, src, account)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (a *Aggregator) resolve(ctx context.Context, src manifest.Source, account common.Address) Balance {
	b := Balance{Source: src}
	if src.Name != SourceERC721 {
		return b
	}

	token, rate, err := tokenRate(src.Metadata)
	if err != nil {
		b.Error = err.Error()
		return b
	}
	b.Token = &token
	b.RewardsPerUnit = rate

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	bal, err := a.cfg.Balance.BalanceOf(ctx, token, account)
	if err != nil {
		metrics.SourceBalanceErrorsTotal.WithLabelValues(src.Name).Inc()
		a.log.Warn("sources: balance lookup failed", "source", src.Name, "token", token.Hex(), "account", account.Hex(), "error", err)
		b.Error = err.Error()
		return b
	}
	b.Balance = bal
	if rate != nil {
		b.ExpectedReward = new(big.Int).Mul(bal, rate)
	}
	return b
}

// tokenRate reads "address" and the optional "rewards_per_token" from source
// metadata.
func tokenRate(md map[string]any) (common.Address, *big.Int, error) {
	raw, ok := md["address"].(string)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("%w: missing address", ErrInvalidSourceMetadata)
	}
	token, err := manifest.ParseAddress(raw)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %w", ErrInvalidSourceMetadata, err)
	}

	v, ok := md["rewards_per_token"]
	if !ok || v == nil {
		return token, nil, nil
	}
	rate, err := parseInt(v)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: rewards_per_token: %w", ErrInvalidSourceMetadata, err)
	}
	return token, rate, nil
}

// parseInt accepts the shapes a JSON integer can take after decoding into
// map[string]any.
func parseInt(v any) (*big.Int, error) {
	switch x := v.(type) {
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(x), 10)
		if !ok {
			return nil, fmt.Errorf("not an integer: %q", x)
		}
		return n, nil
	case json.Number:
		return parseInt(x.String())
	case float64:
		f := big.NewFloat(x)
		if !f.IsInt() {
			return nil, fmt.Errorf("not an integer: %v", x)
		}
		n, _ := f.Int(nil)
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}
