package withdraw

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/unwinned/optisoft/internal/exchange"
)

var testNetworkIDs = map[string]string{
	"Arbitrum": "Arbitrum One",
	"Base":     "Base",
	"Optimism": "Optimism",
}

func testNetworkID(name string) (string, bool) {
	id, ok := testNetworkIDs[name]
	return id, ok
}

func enabled(fee, min string) exchange.NetworkInfo {
	return exchange.NetworkInfo{
		WithdrawEnabled: true,
		Fee:             decimal.RequireFromString(fee),
		MinWithdrawal:   decimal.RequireFromString(min),
	}
}

func TestSelectNetworkSkipsDisabledAndUnmapped(t *testing.T) {
	info := map[string]exchange.NetworkInfo{
		"Arbitrum One": {WithdrawEnabled: false},
		"Base":         enabled("0.001", "0.005"),
	}
	rng := rand.New(rand.NewSource(1))

	// Solana has no exchange mapping, Arbitrum is disabled
	cand, err := SelectNetwork([]string{"Solana", "Arbitrum", "Base"}, info, testNetworkID, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand.Name != "Base" || cand.ExchangeID != "Base" {
		t.Fatalf("expected Base, got %+v", cand)
	}
}

func TestSelectNetworkNeverPicksIneligible(t *testing.T) {
	info := map[string]exchange.NetworkInfo{
		"Arbitrum One": enabled("0.0001", "0.001"),
		"Base":         {WithdrawEnabled: false},
		"Optimism":     enabled("0.0002", "0.001"),
	}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		cand, err := SelectNetwork([]string{"Arbitrum", "Base", "Optimism"}, info, testNetworkID, rng)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ni, ok := info[cand.ExchangeID]; !ok || !ni.WithdrawEnabled {
			t.Fatalf("selected ineligible network %+v", cand)
		}
	}
}

func TestSelectNetworkEmpty(t *testing.T) {
	_, err := SelectNetwork([]string{"Arbitrum"}, map[string]exchange.NetworkInfo{}, testNetworkID, rand.New(rand.NewSource(1)))
	if !errors.Is(err, ErrNoEligibleNetwork) {
		t.Fatalf("expected ErrNoEligibleNetwork, got %v", err)
	}
}

func TestSelectNetworkCoversAllCandidates(t *testing.T) {
	info := map[string]exchange.NetworkInfo{
		"Arbitrum One": enabled("0.0001", "0.001"),
		"Base":         enabled("0.00004", "0.001"),
	}
	rng := rand.New(rand.NewSource(7))

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		cand, err := SelectNetwork([]string{"Arbitrum", "Base"}, info, testNetworkID, rng)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[cand.Name] = true
	}
	if !seen["Arbitrum"] || !seen["Base"] {
		t.Fatalf("random selection starved a candidate: %v", seen)
	}
}
