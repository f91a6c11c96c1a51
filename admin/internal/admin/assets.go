package admin

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/rewards/rewards/pkg/chain"
)

// MintNFT mints reward source NFT tokenID to `to`.
func (a *Admin) MintNFT(ctx context.Context, to common.Address, tokenID *big.Int) error {
	if tokenID == nil || tokenID.Sign() < 0 {
		return fmt.Errorf("%w: token id must be non-negative", ErrInvalidAmount)
	}
	data, err := chain.PackERC721Mint(to, tokenID)
	if err != nil {
		return fmt.Errorf("failed to pack mint: %w", err)
	}
	hash, err := a.send(ctx, "mint nft", a.cfg.RewardSourceNFTAddress, data)
	if err != nil {
		return err
	}
	a.printf("Minted NFT #%s to %s (tx %s)\n", tokenID, to.Hex(), hash.Hex())
	return nil
}

// MintRewardTokens mints amount reward tokens, in ether units, to the
// distributor so claims can be paid out.
func (a *Admin) MintRewardTokens(ctx context.Context, amount string) error {
	wei, err := ParseEther(amount)
	if err != nil {
		return err
	}
	data, err := chain.PackERC20Mint(a.cfg.DistributorAddress, wei)
	if err != nil {
		return fmt.Errorf("failed to pack mint: %w", err)
	}
	hash, err := a.send(ctx, "mint reward tokens", a.cfg.RewardTokenAddress, data)
	if err != nil {
		return err
	}
	a.printf("Minted %s reward tokens to distributor %s (tx %s)\n", FormatEther(wei), a.cfg.DistributorAddress.Hex(), hash.Hex())
	return nil
}

// Faucet sets account's ETH balance on an Anvil chain.
func (a *Admin) Faucet(ctx context.Context, account common.Address, amount string) error {
	if a.cfg.RPC == nil {
		return fmt.Errorf("faucet: rpc client is required")
	}
	wei, err := ParseEther(amount)
	if err != nil {
		return err
	}
	if err := chain.SetBalance(ctx, a.cfg.RPC, account, wei); err != nil {
		return fmt.Errorf("faucet: %w", err)
	}
	a.printf("Set ETH balance of %s to %s\n", account.Hex(), FormatEther(wei))
	return nil
}

func (a *Admin) ETHBalance(ctx context.Context, account common.Address) error {
	if a.cfg.Balances == nil {
		return fmt.Errorf("eth balance: rpc client is required")
	}
	wei, err := a.cfg.Balances.BalanceAt(ctx, account, nil)
	if err != nil {
		return fmt.Errorf("failed to get balance of %s: %w", account.Hex(), err)
	}
	a.printf("%s: %s ETH\n", account.Hex(), FormatEther(wei))
	return nil
}

// AddTrigger registers a trigger pairing the reward token with the reward
// source NFT.
func (a *Admin) AddTrigger(ctx context.Context) error {
	data, err := chain.PackAddTrigger(a.cfg.RewardTokenAddress, a.cfg.RewardSourceNFTAddress)
	if err != nil {
		return fmt.Errorf("failed to pack addTrigger: %w", err)
	}
	hash, err := a.send(ctx, "add trigger", a.cfg.DistributorAddress, data)
	if err != nil {
		return err
	}
	a.printf("Added trigger (tx %s)\n", hash.Hex())
	return nil
}

// ListTriggers prints the triggers created by creator.
func (a *Admin) ListTriggers(ctx context.Context, creator common.Address) error {
	if a.cfg.Triggers == nil {
		return fmt.Errorf("list triggers: distributor reader is required")
	}
	ids, err := a.cfg.Triggers.TriggerIDsByCreator(ctx, creator)
	if err != nil {
		return fmt.Errorf("failed to list trigger ids: %w", err)
	}
	if len(ids) == 0 {
		a.printf("No triggers for %s\n", creator.Hex())
		return nil
	}
	for _, id := range ids {
		t, err := a.cfg.Triggers.Trigger(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get trigger %d: %w", id, err)
		}
		a.printf("  #%d creator=%s data=0x%x\n", t.ID, t.Creator.Hex(), t.Data)
	}
	return nil
}
