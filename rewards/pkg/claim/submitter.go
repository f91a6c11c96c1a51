package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/malbeclabs/rewards/rewards/pkg/chain"
	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
	"github.com/malbeclabs/rewards/rewards/pkg/metrics"
)

var ErrClaimReverted = errors.New("claim transaction reverted")

// Request is a claim against the distributor. Proof must be the manifest's
// sibling hashes in manifest order.
type Request struct {
	Distributor common.Address
	Account     common.Address
	Reward      common.Address
	Claimable   *big.Int
	Proof       []common.Hash
}

func NewRequest(distributor common.Address, e manifest.Entry) (Request, error) {
	p, err := e.Parse()
	if err != nil {
		return Request{}, fmt.Errorf("invalid manifest entry: %w", err)
	}
	return Request{
		Distributor: distributor,
		Account:     p.Account,
		Reward:      p.Reward,
		Claimable:   p.Claimable,
		Proof:       p.Proof,
	}, nil
}

// Transactor signs and broadcasts calldata. *chain.Transactor implements it.
type Transactor interface {
	Transact(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type Submitter struct {
	log *slog.Logger
	tx  Transactor
}

func NewSubmitter(log *slog.Logger, tx Transactor) *Submitter {
	return &Submitter{log: log, tx: tx}
}

// Submit sends claim(account, reward, claimable, proof) once. Failures are
// returned as-is and never resubmitted, since a send that errored may still
// have landed.
func (s *Submitter) Submit(ctx context.Context, req Request) (common.Hash, error) {
	data, err := chain.PackClaim(req.Account, req.Reward, req.Claimable, req.Proof)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode claim: %w", err)
	}

	hash, err := s.tx.Transact(ctx, req.Distributor, data)
	if err != nil {
		metrics.ClaimSubmissionsTotal.WithLabelValues("error").Inc()
		s.log.Error("claim: submission failed", "account", req.Account.Hex(), "reward", req.Reward.Hex(), "error", err)
		return common.Hash{}, err
	}

	metrics.ClaimSubmissionsTotal.WithLabelValues("submitted").Inc()
	s.log.Info("claim: submitted", "account", req.Account.Hex(), "reward", req.Reward.Hex(),
		"claimable", req.Claimable.String(), "proof_len", len(req.Proof), "tx", hash.Hex())
	return hash, nil
}

// Wait blocks until the claim transaction is mined and reports a revert as
// ErrClaimReverted.
func (s *Submitter) Wait(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := s.tx.WaitReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.ClaimSubmissionsTotal.WithLabelValues("reverted").Inc()
		return receipt, fmt.Errorf("%w: %s", ErrClaimReverted, hash.Hex())
	}
	metrics.ClaimSubmissionsTotal.WithLabelValues("accepted").Inc()
	return receipt, nil
}
