package resolver

import (
	"math/big"

	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
)

// RemainingClaimable returns claimable minus claimed, floored at zero. A nil
// claimed counts as zero.
func RemainingClaimable(claimable, claimed *big.Int) *big.Int {
	if claimable == nil {
		return new(big.Int)
	}
	if claimed == nil {
		return new(big.Int).Set(claimable)
	}
	r := new(big.Int).Sub(claimable, claimed)
	if r.Sign() < 0 {
		return r.SetInt64(0)
	}
	return r
}

// Remainder is an entry's cumulative allocation set against what the
// distributor has already paid out.
type Remainder struct {
	Claimable *big.Int
	Claimed   *big.Int
	Remaining *big.Int
	// Stale is set when more has been claimed than the manifest allocates,
	// which means the manifest predates the on-chain state.
	Stale bool
}

func Remaining(e manifest.Entry, claimed *big.Int) (Remainder, error) {
	claimable, err := manifest.ParseAmount(e.Claimable)
	if err != nil {
		return Remainder{}, err
	}
	if claimed == nil {
		claimed = new(big.Int)
	}
	return Remainder{
		Claimable: claimable,
		Claimed:   claimed,
		Remaining: RemainingClaimable(claimable, claimed),
		Stale:     claimable.Cmp(claimed) < 0,
	}, nil
}
