package records

import "errors"

// ErrUnknownNetwork is returned for a network missing from the EIP-155 table.
var ErrUnknownNetwork = errors.New("unknown network")

// https://github.com/ethereum/EIPs/blob/master/EIPS/eip-155.md#list-of-chain-ids
var eip155 = []struct {
	network string
	ids     []int64
}{
	{"foundation", []int64{1, 0}},
	{"morden", []int64{2}},
	{"ropsten", []int64{3}},
	{"rinkeby", []int64{4}},
	{"rootstock", []int64{30}},
	{"rootstock testnet", []int64{31}},
	{"kovan", []int64{42}},
	{"classic", []int64{61}},
	{"classic testnet", []int64{62}},
}

var (
	chainIDs = make(map[string]int64)
	networks = make(map[int64]string)
)

func init() {
	for _, row := range eip155 {
		chainIDs[row.network] = row.ids[0]
		for _, id := range row.ids {
			networks[id] = row.network
		}
	}
}

// ChainID returns the primary chain id of a network.
func ChainID(network string) (int64, bool) {
	id, ok := chainIDs[network]
	return id, ok
}

// Network returns the network name for a chain id.
func Network(chainID int64) (string, bool) {
	n, ok := networks[chainID]
	return n, ok
}

// Networks lists all known network names in table order.
func Networks() []string {
	out := make([]string, 0, len(eip155))
	for _, row := range eip155 {
		out = append(out, row.network)
	}
	return out
}
