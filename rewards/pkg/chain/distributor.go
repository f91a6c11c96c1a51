package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrLogsUnsupported = errors.New("distributor has no log reader configured")

// LogReader is the subset of an RPC client used to rebuild claim history.
type LogReader interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Distributor reads the reward distributor contract.
type Distributor struct {
	address common.Address
	reader  *Reader
	logs    LogReader
}

// NewDistributor returns a distributor reader. logs may be nil, in which case
// ClaimedEvents is unavailable.
func NewDistributor(address common.Address, reader *Reader, logs LogReader) *Distributor {
	return &Distributor{address: address, reader: reader, logs: logs}
}

func (d *Distributor) Address() common.Address { return d.address }

// Root returns the merkle root currently committed on chain.
func (d *Distributor) Root(ctx context.Context) (common.Hash, error) {
	return d.reader.callHash(ctx, d.address, DistributorABI, "root")
}

// IPFSHash returns the sha2-256 digest of the manifest for the current root.
func (d *Distributor) IPFSHash(ctx context.Context) (common.Hash, error) {
	return d.reader.callHash(ctx, d.address, DistributorABI, "ipfsHash")
}

// Claimed returns how much of token account has already withdrawn.
func (d *Distributor) Claimed(ctx context.Context, account, token common.Address) (*big.Int, error) {
	return d.reader.callBigInt(ctx, d.address, DistributorABI, "claimed", account, token)
}

type Trigger struct {
	ID      uint64         `json:"id"`
	Creator common.Address `json:"creator"`
	Data    []byte         `json:"data"`
}

func (d *Distributor) TriggerIDsByCreator(ctx context.Context, creator common.Address) ([]uint64, error) {
	vals, err := d.reader.call(ctx, d.address, DistributorABI, "triggerIdsByCreator", creator)
	if err != nil {
		return nil, err
	}
	return first[[]uint64](vals, "triggerIdsByCreator")
}

func (d *Distributor) Trigger(ctx context.Context, id uint64) (Trigger, error) {
	vals, err := d.reader.call(ctx, d.address, DistributorABI, "getTrigger", id)
	if err != nil {
		return Trigger{}, err
	}
	if len(vals) != 3 {
		return Trigger{}, fmt.Errorf("getTrigger: %w: %d values", ErrUnexpectedType, len(vals))
	}
	tid, ok1 := vals[0].(uint64)
	creator, ok2 := vals[1].(common.Address)
	data, ok3 := vals[2].([]byte)
	if !ok1 || !ok2 || !ok3 {
		return Trigger{}, fmt.Errorf("getTrigger: %w", ErrUnexpectedType)
	}
	return Trigger{ID: tid, Creator: creator, Data: data}, nil
}

// ClaimedEvent is a decoded Claimed log.
type ClaimedEvent struct {
	Account     common.Address
	Reward      common.Address
	Amount      *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	Time        time.Time
}

// ClaimedEvents returns the Claimed events emitted for account since
// fromBlock, oldest first.
func (d *Distributor) ClaimedEvents(ctx context.Context, account common.Address, fromBlock uint64) ([]ClaimedEvent, error) {
	if d.logs == nil {
		return nil, ErrLogsUnsupported
	}

	logs, err := d.logs.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{d.address},
		Topics: [][]common.Hash{
			{ClaimedEventID},
			{common.BytesToHash(account.Bytes())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter claimed logs: %w", err)
	}

	blockTimes := make(map[uint64]time.Time)
	events := make([]ClaimedEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := decodeClaimed(lg)
		if err != nil {
			return nil, err
		}
		ts, ok := blockTimes[lg.BlockNumber]
		if !ok {
			header, err := d.logs.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("failed to get header %d: %w", lg.BlockNumber, err)
			}
			ts = time.Unix(int64(header.Time), 0).UTC()
			blockTimes[lg.BlockNumber] = ts
		}
		ev.Time = ts
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

func decodeClaimed(lg types.Log) (ClaimedEvent, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != ClaimedEventID {
		return ClaimedEvent{}, fmt.Errorf("log %s/%d is not a Claimed event", lg.TxHash.Hex(), lg.Index)
	}
	vals, err := DistributorABI.Unpack("Claimed", lg.Data)
	if err != nil {
		return ClaimedEvent{}, fmt.Errorf("failed to unpack Claimed: %w", err)
	}
	amount, err := first[*big.Int](vals, "Claimed")
	if err != nil {
		return ClaimedEvent{}, err
	}
	return ClaimedEvent{
		Account:     common.BytesToAddress(lg.Topics[1].Bytes()),
		Reward:      common.BytesToAddress(lg.Topics[2].Bytes()),
		Amount:      amount,
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}, nil
}

// PackClaim encodes claim(account, reward, claimable, proof). The argument
// order is fixed by the contract.
func PackClaim(account, reward common.Address, claimable *big.Int, proof []common.Hash) ([]byte, error) {
	p := make([][32]byte, len(proof))
	for i, h := range proof {
		p[i] = h
	}
	return DistributorABI.Pack("claim", account, reward, claimable, p)
}

func PackAddTrigger(rewardToken, rewardSourceNFT common.Address) ([]byte, error) {
	return DistributorABI.Pack("addTrigger", rewardToken, rewardSourceNFT)
}

func PackERC20Mint(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("mint", to, amount)
}

func PackERC721Mint(to common.Address, tokenID *big.Int) ([]byte, error) {
	return ERC721ABI.Pack("mint", to, tokenID)
}
