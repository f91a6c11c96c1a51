package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidProof = errors.New("merkle proof does not match root")
	ErrInvalidRoot  = errors.New("invalid merkle root")
)

// Leaves are encoded like OpenZeppelin's StandardMerkleTree with the value
// types (address account, address reward, uint256 claimable).
var leafArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// LeafHash is keccak256(keccak256(abi.encode(account, reward, claimable))).
func LeafHash(account, reward common.Address, claimable *big.Int) (common.Hash, error) {
	enc, err := leafArgs.Pack(account, reward, claimable)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode leaf: %w", err)
	}
	return crypto.Keccak256Hash(crypto.Keccak256(enc)), nil
}

// HashPair hashes two nodes in sorted order.
func HashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

// ProcessProof folds proof into leaf and returns the implied root.
func ProcessProof(leaf common.Hash, proof []common.Hash) common.Hash {
	node := leaf
	for _, sibling := range proof {
		node = HashPair(node, sibling)
	}
	return node
}

// ParseRoot decodes a 0x-prefixed 32-byte root.
func ParseRoot(s string) (common.Hash, error) {
	if len(s) != 2+2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidRoot, s)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidRoot, s)
	}
	return common.BytesToHash(b), nil
}

// VerifyEntry recomputes the leaf of e and checks its proof against root.
func VerifyEntry(root common.Hash, e Entry) error {
	p, err := e.Parse()
	if err != nil {
		return err
	}
	leaf, err := LeafHash(p.Account, p.Reward, p.Claimable)
	if err != nil {
		return err
	}
	if got := ProcessProof(leaf, p.Proof); got != root {
		return fmt.Errorf("%w: computed %s, expected %s", ErrInvalidProof, got.Hex(), root.Hex())
	}
	return nil
}
