package withdraw

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/unwinned/optisoft/internal/exchange"
)

// ErrNoEligibleNetwork means no configured network is currently enabled for
// withdrawal on the exchange. Expected operational state, not a bug; the
// caller surfaces it instead of retrying.
var ErrNoEligibleNetwork = errors.New("withdraw: no enabled withdrawal network matches configuration")

// Candidate ties a configured internal network name to the exchange's
// identifier and its current metadata. Lives only through one selection.
type Candidate struct {
	Name       string
	ExchangeID string
	Info       exchange.NetworkInfo
}

// SelectNetwork reconciles the configured network names against what the
// exchange currently has enabled and picks one candidate uniformly at
// random. Randomization decorrelates the network choice across accounts and
// keeps a temporarily disabled network from starving the rest.
func SelectNetwork(
	configured []string,
	info map[string]exchange.NetworkInfo,
	networkID func(string) (string, bool),
	rng *rand.Rand,
) (Candidate, error) {
	var candidates []Candidate
	for _, name := range configured {
		id, ok := networkID(name)
		if !ok {
			// not supported by this exchange integration
			continue
		}
		ni, ok := info[id]
		if !ok || !ni.WithdrawEnabled {
			continue
		}
		candidates = append(candidates, Candidate{Name: name, ExchangeID: id, Info: ni})
	}
	if len(candidates) == 0 {
		return Candidate{}, ErrNoEligibleNetwork
	}
	return candidates[rng.Intn(len(candidates))], nil
}
