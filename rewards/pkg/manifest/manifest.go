package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrManifestUnavailable = errors.New("manifest unavailable")
	ErrMalformedManifest   = errors.New("malformed manifest")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidClaimable    = errors.New("invalid claimable amount")
	ErrInvalidProofElement = errors.New("invalid proof element")
)

// Manifest is the reward document published to IPFS for a distributor root.
type Manifest struct {
	ID       string   `json:"id"`
	Root     string   `json:"root"`
	Metadata Metadata `json:"metadata"`
	Tree     []Entry  `json:"tree"`
}

type Metadata struct {
	NumAccounts        int      `json:"num_accounts"`
	RewardTokenAddress string   `json:"reward_token_address"`
	TotalRewards       string   `json:"total_rewards"`
	Sources            []Source `json:"sources"`
}

// Source describes where rewards come from. Metadata is free-form; token-rate
// sources carry "address" and "rewards_per_token".
type Source struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

// Entry is one leaf of the reward tree. Claimable is the cumulative amount
// ever allocated to the account, as a base-10 integer string.
type Entry struct {
	Account   string   `json:"account"`
	Reward    string   `json:"reward"`
	Claimable string   `json:"claimable"`
	Proof     []string `json:"proof"`
}

// Decode parses a manifest. Only JSON well-formedness is checked.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	return &m, nil
}

// FindEntry returns the first entry whose account matches, ignoring case, or
// nil if the account has no allocation.
func FindEntry(m *Manifest, account string) *Entry {
	if m == nil {
		return nil
	}
	for i := range m.Tree {
		if strings.EqualFold(m.Tree[i].Account, account) {
			return &m.Tree[i]
		}
	}
	return nil
}

// ParsedEntry is an Entry with its fields decoded into chain types.
type ParsedEntry struct {
	Account   common.Address
	Reward    common.Address
	Claimable *big.Int
	Proof     []common.Hash
}

func (e Entry) Parse() (ParsedEntry, error) {
	account, err := ParseAddress(e.Account)
	if err != nil {
		return ParsedEntry{}, fmt.Errorf("account: %w", err)
	}
	reward, err := ParseAddress(e.Reward)
	if err != nil {
		return ParsedEntry{}, fmt.Errorf("reward: %w", err)
	}
	claimable, err := ParseAmount(e.Claimable)
	if err != nil {
		return ParsedEntry{}, err
	}
	proof := make([]common.Hash, 0, len(e.Proof))
	for i, p := range e.Proof {
		b, err := hexutil.Decode(p)
		if err != nil || len(b) > common.HashLength {
			return ParsedEntry{}, fmt.Errorf("%w: index %d: %q", ErrInvalidProofElement, i, p)
		}
		proof = append(proof, common.BytesToHash(b))
	}
	return ParsedEntry{Account: account, Reward: reward, Claimable: claimable, Proof: proof}, nil
}

func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// ParseAmount parses a non-negative base-10 integer of any size.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClaimable, s)
	}
	return v, nil
}
