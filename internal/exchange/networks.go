package exchange

import "strings"

// Internal chain names used across the config and the rest of the tool.
const (
	NetworkArbitrum = "Arbitrum"
	NetworkBase     = "Base"
	NetworkOptimism = "Optimism"
)

// WithdrawalRPCs maps internal chain names to the RPC endpoints used to watch
// for withdrawn funds arriving.
var WithdrawalRPCs = map[string]string{
	NetworkArbitrum: "https://arb1.lava.build",
	NetworkBase:     "https://base.lava.build",
	NetworkOptimism: "https://optimism.lava.build",
}

// Per-exchange network identifier tables. A name absent from the table means
// this integration does not support withdrawing to that chain on that
// exchange, and the selector skips it.
var (
	okxNetworkIDs = map[string]string{
		NetworkArbitrum: "Arbitrum One",
		NetworkBase:     "Base",
		NetworkOptimism: "Optimism",
	}

	bitgetNetworkIDs = map[string]string{
		NetworkArbitrum: "ARBITRUMONE",
		NetworkBase:     "BASE",
		NetworkOptimism: "OPTIMISM",
	}
)

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
