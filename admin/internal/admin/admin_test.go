package admin_test

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/rewards/admin/internal/admin"
	"github.com/malbeclabs/rewards/rewards/pkg/chain"
	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
	"github.com/malbeclabs/rewards/rewards/pkg/resolver"
	rewardstesting "github.com/malbeclabs/rewards/utils/pkg/testing"
)

var (
	distributorAddr = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	tokenAddr       = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	nftAddr         = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	operator        = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	alice           = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

type sentTx struct {
	to   common.Address
	data []byte
}

type fakeTx struct {
	sent   []sentTx
	status uint64
}

func (f *fakeTx) Transact(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	f.sent = append(f.sent, sentTx{to: to, data: data})
	return common.BigToHash(big.NewInt(int64(len(f.sent)))), nil
}

func (f *fakeTx) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{TxHash: hash, Status: f.status}, nil
}

func (f *fakeTx) From() common.Address { return operator }

type fakeRPC struct {
	method string
	args   []any
}

func (f *fakeRPC) CallContext(ctx context.Context, result any, method string, args ...any) error {
	f.method, f.args = method, args
	return nil
}

type fakeBalances map[common.Address]*big.Int

func (f fakeBalances) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f[account], nil
}

type fakeTriggers struct {
	ids      []uint64
	triggers map[uint64]chain.Trigger
}

func (f *fakeTriggers) TriggerIDsByCreator(ctx context.Context, creator common.Address) ([]uint64, error) {
	return f.ids, nil
}

func (f *fakeTriggers) Trigger(ctx context.Context, id uint64) (chain.Trigger, error) {
	return f.triggers[id], nil
}

type fakeSession struct {
	pending    *resolver.Pending
	history    []resolver.ClaimRecord
	historyErr error
	claim      *resolver.ClaimRecord
	claimErr   error
}

func (f *fakeSession) Pending(ctx context.Context) (*resolver.Pending, error) { return f.pending, nil }
func (f *fakeSession) History(ctx context.Context) ([]resolver.ClaimRecord, error) {
	return f.history, f.historyErr
}
func (f *fakeSession) Claim(ctx context.Context) (*resolver.ClaimRecord, error) {
	return f.claim, f.claimErr
}

func newAdmin(t *testing.T, cfg admin.Config) (*admin.Admin, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	cfg.Logger = rewardstesting.NewLogger()
	cfg.Out = out
	cfg.DistributorAddress = distributorAddr
	cfg.RewardTokenAddress = tokenAddr
	cfg.RewardSourceNFTAddress = nftAddr
	a, err := admin.New(cfg)
	require.NoError(t, err)
	return a, out
}

func TestParseEther(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "1", want: "1000000000000000000"},
		{in: "0.6", want: "600000000000000000"},
		{in: "1000000", want: "1000000000000000000000000"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0.0000000000000000001", err: true},
		{in: "0", err: true},
		{in: "-1", err: true},
		{in: "abc", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := admin.ParseEther(tt.in)
			if tt.err {
				require.ErrorIs(t, err, admin.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0.6", admin.FormatEther(big.NewInt(600000000000000000)))
	assert.Equal(t, "0", admin.FormatEther(nil))
}

func TestAdmin_MintNFT(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{status: types.ReceiptStatusSuccessful}
	a, out := newAdmin(t, admin.Config{Tx: tx})

	require.NoError(t, a.MintNFT(context.Background(), alice, big.NewInt(7)))
	require.Len(t, tx.sent, 1)
	assert.Equal(t, nftAddr, tx.sent[0].to)

	args, err := chain.ERC721ABI.Methods["mint"].Inputs.Unpack(tx.sent[0].data[4:])
	require.NoError(t, err)
	assert.Equal(t, alice, args[0])
	assert.Equal(t, "7", args[1].(*big.Int).String())
	assert.Contains(t, out.String(), "Minted NFT #7")
}

func TestAdmin_MintRewardTokensToDistributor(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{status: types.ReceiptStatusSuccessful}
	a, out := newAdmin(t, admin.Config{Tx: tx})

	require.NoError(t, a.MintRewardTokens(context.Background(), "2.5"))
	require.Len(t, tx.sent, 1)
	assert.Equal(t, tokenAddr, tx.sent[0].to)

	args, err := chain.ERC20ABI.Methods["mint"].Inputs.Unpack(tx.sent[0].data[4:])
	require.NoError(t, err)
	assert.Equal(t, distributorAddr, args[0])
	assert.Equal(t, "2500000000000000000", args[1].(*big.Int).String())
	assert.Contains(t, out.String(), "Minted 2.5 reward tokens")
}

func TestAdmin_AddTrigger(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{status: types.ReceiptStatusSuccessful}
	a, _ := newAdmin(t, admin.Config{Tx: tx})

	require.NoError(t, a.AddTrigger(context.Background()))
	require.Len(t, tx.sent, 1)
	assert.Equal(t, distributorAddr, tx.sent[0].to)

	args, err := chain.DistributorABI.Methods["addTrigger"].Inputs.Unpack(tx.sent[0].data[4:])
	require.NoError(t, err)
	assert.Equal(t, tokenAddr, args[0])
	assert.Equal(t, nftAddr, args[1])
}

func TestAdmin_RevertedTransaction(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{status: types.ReceiptStatusFailed}
	a, _ := newAdmin(t, admin.Config{Tx: tx})

	err := a.AddTrigger(context.Background())
	require.ErrorIs(t, err, admin.ErrTxReverted)
}

func TestAdmin_NoSigner(t *testing.T) {
	t.Parallel()

	a, _ := newAdmin(t, admin.Config{})
	require.ErrorIs(t, a.MintNFT(context.Background(), alice, big.NewInt(1)), admin.ErrNoSigner)
	require.ErrorIs(t, a.MintRewardTokens(context.Background(), "1"), admin.ErrNoSigner)
	require.ErrorIs(t, a.AddTrigger(context.Background()), admin.ErrNoSigner)
}

func TestAdmin_Faucet(t *testing.T) {
	t.Parallel()

	rpc := &fakeRPC{}
	a, out := newAdmin(t, admin.Config{RPC: rpc})

	require.NoError(t, a.Faucet(context.Background(), alice, "10"))
	assert.Equal(t, "anvil_setBalance", rpc.method)
	require.Len(t, rpc.args, 2)
	assert.Equal(t, alice, rpc.args[0])
	assert.Equal(t, "0x8ac7230489e80000", rpc.args[1])
	assert.Contains(t, out.String(), "to 10")
}

func TestAdmin_ETHBalance(t *testing.T) {
	t.Parallel()

	a, out := newAdmin(t, admin.Config{Balances: fakeBalances{alice: big.NewInt(1500000000000000000)}})
	require.NoError(t, a.ETHBalance(context.Background(), alice))
	assert.Contains(t, out.String(), "1.5 ETH")
}

func TestAdmin_ListTriggers(t *testing.T) {
	t.Parallel()

	triggers := &fakeTriggers{
		ids: []uint64{1, 2},
		triggers: map[uint64]chain.Trigger{
			1: {ID: 1, Creator: operator, Data: []byte{0xab}},
			2: {ID: 2, Creator: operator, Data: []byte{0xcd}},
		},
	}
	a, out := newAdmin(t, admin.Config{Triggers: triggers})

	require.NoError(t, a.ListTriggers(context.Background(), operator))
	assert.Contains(t, out.String(), "#1 creator="+operator.Hex()+" data=0xab")
	assert.Contains(t, out.String(), "#2 creator="+operator.Hex()+" data=0xcd")
}

func TestAdmin_ListTriggersEmpty(t *testing.T) {
	t.Parallel()

	a, out := newAdmin(t, admin.Config{Triggers: &fakeTriggers{}})
	require.NoError(t, a.ListTriggers(context.Background(), operator))
	assert.Contains(t, out.String(), "No triggers")
}

func TestAdmin_Show(t *testing.T) {
	t.Parallel()

	entry := &manifest.Entry{Account: alice.Hex(), Reward: tokenAddr.Hex(), Claimable: "1000000000000000000"}
	sess := &fakeSession{
		pending: &resolver.Pending{
			Account:   alice,
			CID:       "bafkreicf7wptzvb5nni4lhtk2z7gzxjdkjm26ka525ljday42j5pri3w4u",
			Entry:     entry,
			Claimable: big.NewInt(1000000000000000000),
			Claimed:   big.NewInt(400000000000000000),
			Remaining: big.NewInt(600000000000000000),
		},
		history: []resolver.ClaimRecord{{
			Account:   alice,
			Reward:    tokenAddr,
			Claimed:   "400000000000000000",
			Timestamp: 1700000000000,
			Origin:    resolver.OriginChain,
		}},
		historyErr: chain.ErrLogsUnsupported,
	}
	a, out := newAdmin(t, admin.Config{})

	require.NoError(t, a.Show(context.Background(), sess))
	assert.Contains(t, out.String(), "Remaining: 0.6")
	assert.Contains(t, out.String(), "Claimed:   0.4")
	assert.Contains(t, out.String(), "2023-11-14T22:13:20Z")
	assert.Contains(t, out.String(), "(chain)")
}

func TestAdmin_ShowWithoutEntry(t *testing.T) {
	t.Parallel()

	a, out := newAdmin(t, admin.Config{})
	require.NoError(t, a.Show(context.Background(), &fakeSession{pending: &resolver.Pending{Account: alice}}))
	assert.Contains(t, out.String(), "No reward allocated")
	assert.Contains(t, out.String(), "No claims")
}

func TestAdmin_ShowWithoutManifest(t *testing.T) {
	t.Parallel()

	a, out := newAdmin(t, admin.Config{})
	require.NoError(t, a.Show(context.Background(), &fakeSession{pending: &resolver.Pending{Account: alice, NoManifest: true}}))
	assert.Contains(t, out.String(), "No manifest published yet")
	assert.NotContains(t, out.String(), "No reward allocated")
}

func TestAdmin_Claim(t *testing.T) {
	t.Parallel()

	a, out := newAdmin(t, admin.Config{})
	rec := &resolver.ClaimRecord{Account: alice, Reward: tokenAddr, Claimed: "600000000000000000"}
	require.NoError(t, a.Claim(context.Background(), &fakeSession{claim: rec}))
	assert.Contains(t, out.String(), "Claimed 600000000000000000")

	err := a.Claim(context.Background(), &fakeSession{claimErr: resolver.ErrNothingToClaim})
	require.ErrorIs(t, err, resolver.ErrNothingToClaim)
}

func TestAdmin_CIDConversions(t *testing.T) {
	t.Parallel()

	a, out := newAdmin(t, admin.Config{})
	require.NoError(t, a.CIDOfDigest("0x45fd9f3cd43d6b51c59e6ad67e6cdd235259af281dd75691831cd27af8a376e5"))
	assert.Equal(t, "bafkreicf7wptzvb5nni4lhtk2z7gzxjdkjm26ka525ljday42j5pri3w4u\n", out.String())

	out.Reset()
	require.NoError(t, a.DigestOfCID("bafkreicf7wptzvb5nni4lhtk2z7gzxjdkjm26ka525ljday42j5pri3w4u"))
	assert.Equal(t, "0x45fd9f3cd43d6b51c59e6ad67e6cdd235259af281dd75691831cd27af8a376e5\n", out.String())

	require.Error(t, a.CIDOfDigest("0x1234"))
	require.Error(t, a.DigestOfCID("not-a-cid"))
}
