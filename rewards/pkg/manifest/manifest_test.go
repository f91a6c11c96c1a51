package manifest

import (
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) *Manifest {
	t.Helper()
	data, err := os.ReadFile("testdata/manifest.json")
	require.NoError(t, err)
	m, err := Decode(data)
	require.NoError(t, err)
	return m
}

func TestManifest_Decode_Fixture(t *testing.T) {
	t.Parallel()

	m := loadFixture(t)
	assert.Equal(t, "rewards-0x5fbdb2315678afecb367f032d93f642f64180aa3-1", m.ID)
	assert.Equal(t, 2, m.Metadata.NumAccounts)
	assert.Equal(t, "3000000000000000000", m.Metadata.TotalRewards)
	require.Len(t, m.Metadata.Sources, 1)
	assert.Equal(t, "ERC721", m.Metadata.Sources[0].Name)
	assert.Equal(t, "1000000000000000000", m.Metadata.Sources[0].Metadata["rewards_per_token"])
	require.Len(t, m.Tree, 2)
	assert.Len(t, m.Tree[0].Proof, 1)
}

func TestManifest_Decode_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"id": "x", "tree": [`))
	assert.ErrorIs(t, err, ErrMalformedManifest)

	// Shape is not validated beyond JSON.
	m, err := Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, m.Tree)
}

func TestManifest_FindEntry(t *testing.T) {
	t.Parallel()

	m := &Manifest{Tree: []Entry{
		{Account: "0xAAAaaaAAAaaaAAAaaaAAAaaaAAAaaaAAAaaaAAAa", Claimable: "1"},
		{Account: "0xBBBbbbBBBbbbBBBbbbBBBbbbBBBbbbBBBbbbBBBb", Claimable: "2"},
		{Account: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Claimable: "3"},
	}}

	assert.Nil(t, FindEntry(m, "0xCCCcccCCCcccCCCcccCCCcccCCCcccCCCcccCCCc"))

	got := FindEntry(m, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NotNil(t, got)
	assert.Equal(t, "1", got.Claimable, "first match wins")
	assert.Same(t, &m.Tree[0], got)

	got = FindEntry(m, "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	require.NotNil(t, got)
	assert.Equal(t, "2", got.Claimable)

	assert.Nil(t, FindEntry(nil, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	assert.Nil(t, FindEntry(m, ""))
}

func TestManifest_EntryParse(t *testing.T) {
	t.Parallel()

	e := Entry{
		Account:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Reward:    "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		Claimable: "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		Proof:     []string{"0x01", "0x" + "ab"},
	}
	p, err := e.Parse()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(e.Account), p.Account)
	want, _ := new(big.Int).SetString(e.Claimable, 10)
	assert.Equal(t, 0, want.Cmp(p.Claimable))
	require.Len(t, p.Proof, 2)
	assert.Equal(t, common.BigToHash(big.NewInt(1)), p.Proof[0])
	assert.Equal(t, common.BigToHash(big.NewInt(0xab)), p.Proof[1])
}

func TestManifest_EntryParse_Errors(t *testing.T) {
	t.Parallel()

	base := Entry{
		Account:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Reward:    "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		Claimable: "100",
	}
	tests := []struct {
		name   string
		mutate func(*Entry)
		want   error
	}{
		{"bad account", func(e *Entry) { e.Account = "0x123" }, ErrInvalidAddress},
		{"bad reward", func(e *Entry) { e.Reward = "token" }, ErrInvalidAddress},
		{"decimal claimable", func(e *Entry) { e.Claimable = "1.5" }, ErrInvalidClaimable},
		{"negative claimable", func(e *Entry) { e.Claimable = "-1" }, ErrInvalidClaimable},
		{"proof without prefix", func(e *Entry) { e.Proof = []string{"01"} }, ErrInvalidProofElement},
		{"proof too long", func(e *Entry) { e.Proof = []string{"0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff00"} }, ErrInvalidProofElement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base
			tt.mutate(&e)
			_, err := e.Parse()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
