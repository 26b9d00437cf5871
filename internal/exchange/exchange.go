package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// NetworkInfo is per-chain withdrawal metadata as the exchange reports it for
// one currency. Fetched fresh at the start of every withdrawal cycle; the
// exchange can flip withdrawal availability at any time.
type NetworkInfo struct {
	ExchangeID      string
	WithdrawEnabled bool
	Fee             decimal.Decimal
	MinWithdrawal   decimal.Decimal
}

// WithdrawalRequest carries everything a gateway needs to move funds out.
type WithdrawalRequest struct {
	Currency  string
	Amount    decimal.Decimal
	Address   string
	NetworkID string // exchange-side network identifier
	Fee       decimal.Decimal
	ClientID  string // caller-supplied id, used to find the withdrawal again
}

// Withdrawal is the exchange's reference for a submitted withdrawal.
type Withdrawal struct {
	ID       string
	ClientID string
	Currency string
	Chain    string
	Amount   decimal.Decimal
}

// Gateway wraps authenticated access to one exchange account. Implementations
// are constructed per account run and must make Close safe to call from every
// exit path, any number of times.
type Gateway interface {
	// Authenticate performs a read-only authenticated call to prove the
	// credentials before any state-changing request goes out.
	Authenticate(ctx context.Context) error

	// FetchNetworkInfo returns withdrawal metadata keyed by the exchange's
	// network identifier. An unknown currency yields an empty map, not an
	// error; callers treat empty as "no eligible networks".
	FetchNetworkInfo(ctx context.Context, currency string) (map[string]NetworkInfo, error)

	// Balance reports the funding-account balance for a currency.
	Balance(ctx context.Context, currency string) (decimal.Decimal, error)

	// SubmitWithdrawal initiates a withdrawal. Callers must not invoke it
	// again for the same logical attempt once it has returned.
	SubmitWithdrawal(ctx context.Context, req WithdrawalRequest) (*Withdrawal, error)

	// PendingWithdrawal looks for a not-yet-final withdrawal carrying the
	// given client id. Used to avoid double-submitting after a confirmation
	// timeout while a prior withdrawal is still in flight.
	PendingWithdrawal(ctx context.Context, currency, clientID string) (*Withdrawal, bool, error)

	// NetworkID maps an internal chain name to this exchange's identifier.
	NetworkID(internalName string) (string, bool)

	Close() error
}

// Credentials is the API credential triple for one exchange account.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

type factory func(creds Credentials, proxyURL string) (Gateway, error)

var registry = map[string]factory{}

// New constructs a gateway for a supported exchange by name.
func New(name string, creds Credentials, proxyURL string) (Gateway, error) {
	f, ok := registry[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
	return f(creds, proxyURL)
}
