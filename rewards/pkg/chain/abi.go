package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const distributorABIJSON = `[
	{"type":"function","name":"root","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"ipfsHash","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"claimed","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"},{"name":"token","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"claim","stateMutability":"nonpayable",
		"inputs":[{"name":"account","type":"address"},{"name":"reward","type":"address"},{"name":"claimable","type":"uint256"},{"name":"proof","type":"bytes32[]"}],
		"outputs":[{"name":"amount","type":"uint256"}]},
	{"type":"function","name":"addTrigger","stateMutability":"nonpayable",
		"inputs":[{"name":"rewardTokenAddr","type":"address"},{"name":"rewardSourceNftAddr","type":"address"}],
		"outputs":[]},
	{"type":"function","name":"getTrigger","stateMutability":"view",
		"inputs":[{"name":"triggerId","type":"uint64"}],
		"outputs":[{"name":"triggerId","type":"uint64"},{"name":"creator","type":"address"},{"name":"data","type":"bytes"}]},
	{"type":"function","name":"triggerIdsByCreator","stateMutability":"view",
		"inputs":[{"name":"_creator","type":"address"}],
		"outputs":[{"name":"_triggerIds","type":"uint64[]"}]},
	{"type":"event","name":"Claimed","anonymous":false,
		"inputs":[{"name":"account","type":"address","indexed":true},{"name":"reward","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const erc721ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

var (
	DistributorABI = mustParseABI(distributorABIJSON)
	ERC20ABI       = mustParseABI(erc20ABIJSON)
	ERC721ABI      = mustParseABI(erc721ABIJSON)

	ClaimedEventID = DistributorABI.Events["Claimed"].ID
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
