package claim_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/rewards/rewards/pkg/chain"
	"github.com/malbeclabs/rewards/rewards/pkg/claim"
	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
	rewardstesting "github.com/malbeclabs/rewards/utils/pkg/testing"
)

var distributor = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeTransactor struct {
	calls   int
	to      common.Address
	data    []byte
	err     error
	receipt *types.Receipt
}

func (f *fakeTransactor) Transact(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	f.calls++
	f.to, f.data = to, data
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return common.HexToHash("0xabc"), nil
}

func (f *fakeTransactor) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return f.receipt, nil
}

func testEntry() manifest.Entry {
	return manifest.Entry{
		Account:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Reward:    "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		Claimable: "100",
		Proof: []string{
			"0x01",
			"0x6b3e4a1ed51f0e7d4b0ed2f0f8f51b9d8c5c3f4ad7b4a1d0c3b2a19080706050",
			"0x02",
		},
	}
}

func TestClaim_Submit_FixedArgumentOrder(t *testing.T) {
	t.Parallel()

	req, err := claim.NewRequest(distributor, testEntry())
	require.NoError(t, err)

	tx := &fakeTransactor{}
	hash, err := claim.NewSubmitter(rewardstesting.NewLogger(), tx).Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xabc"), hash)
	assert.Equal(t, distributor, tx.to)

	m := chain.DistributorABI.Methods["claim"]
	require.Equal(t, m.ID, tx.data[:4])
	args, err := m.Inputs.Unpack(tx.data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testEntry().Account), args[0])
	assert.Equal(t, common.HexToAddress(testEntry().Reward), args[1])
	assert.Equal(t, "100", args[2].(*big.Int).String())

	proof := args[3].([][32]byte)
	require.Len(t, proof, 3)
	assert.Equal(t, common.HexToHash("0x01"), common.Hash(proof[0]))
	assert.Equal(t, common.HexToHash(testEntry().Proof[1]), common.Hash(proof[1]))
	assert.Equal(t, common.HexToHash("0x02"), common.Hash(proof[2]))
}

func TestClaim_Submit_NoRetryOnFailure(t *testing.T) {
	t.Parallel()

	req, err := claim.NewRequest(distributor, testEntry())
	require.NoError(t, err)

	sendErr := errors.New("connection reset by peer")
	tx := &fakeTransactor{err: sendErr}
	_, err = claim.NewSubmitter(rewardstesting.NewLogger(), tx).Submit(context.Background(), req)
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, 1, tx.calls)
}

func TestClaim_Wait_Reverted(t *testing.T) {
	t.Parallel()

	tx := &fakeTransactor{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}
	_, err := claim.NewSubmitter(rewardstesting.NewLogger(), tx).Wait(context.Background(), common.HexToHash("0x1"))
	assert.ErrorIs(t, err, claim.ErrClaimReverted)

	tx.receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	_, err = claim.NewSubmitter(rewardstesting.NewLogger(), tx).Wait(context.Background(), common.HexToHash("0x1"))
	assert.NoError(t, err)
}

func TestClaim_NewRequest_RejectsBadEntry(t *testing.T) {
	t.Parallel()

	e := testEntry()
	e.Claimable = "lots"
	_, err := claim.NewRequest(distributor, e)
	assert.ErrorIs(t, err, manifest.ErrInvalidClaimable)
}
