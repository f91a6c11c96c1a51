package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/malbeclabs/rewards/rewards/pkg/chain"
	"github.com/malbeclabs/rewards/rewards/pkg/resolver"
)

// AccountSession is the per-account resolver state the account actions read.
type AccountSession interface {
	Pending(ctx context.Context) (*resolver.Pending, error)
	History(ctx context.Context) ([]resolver.ClaimRecord, error)
	Claim(ctx context.Context) (*resolver.ClaimRecord, error)
}

// Show prints the account's pending reward and its claim history.
func (a *Admin) Show(ctx context.Context, sess AccountSession) error {
	p, err := sess.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve pending reward: %w", err)
	}

	a.printf("Account:   %s\n", p.Account.Hex())
	a.printf("Root:      %s\n", p.Root.Hex())
	a.printf("Manifest:  %s\n", p.CID)
	switch {
	case p.NoManifest:
		a.printf("No manifest published yet\n")
	case p.Entry == nil:
		a.printf("No reward allocated in the current manifest\n")
	default:
		a.printf("Reward:    %s\n", p.Entry.Reward)
		a.printf("Claimable: %s\n", FormatEther(p.Claimable))
		a.printf("Claimed:   %s\n", FormatEther(p.Claimed))
		a.printf("Remaining: %s\n", FormatEther(p.Remaining))
		if p.Stale {
			a.printf("Claimed exceeds the allocation in the current manifest\n")
		}
	}

	records, err := sess.History(ctx)
	if err != nil && !errors.Is(err, chain.ErrLogsUnsupported) {
		a.log.Warn("admin: history incomplete", "error", err)
	}
	if len(records) == 0 {
		a.printf("No claims\n")
		return nil
	}
	a.printf("History:\n")
	for _, r := range records {
		ts := time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339)
		a.printf("  %s %s claimed=%s tx=%s (%s)\n", ts, r.Reward.Hex(), r.Claimed, r.TransactionHash.Hex(), r.Origin)
	}
	return nil
}

// Claim submits the account's claim and prints the resulting record.
func (a *Admin) Claim(ctx context.Context, sess AccountSession) error {
	rec, err := sess.Claim(ctx)
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	a.printf("Claimed %s of %s for %s (tx %s)\n", rec.Claimed, rec.Reward.Hex(), rec.Account.Hex(), rec.TransactionHash.Hex())
	return nil
}
