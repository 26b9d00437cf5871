package withdraw

import (
	"context"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/unwinned/optisoft/internal/chainwatch"
	"github.com/unwinned/optisoft/internal/config"
	"github.com/unwinned/optisoft/internal/exchange"
)

var (
	// ErrMinAboveMax: the exchange-reported minimum pushed the effective
	// minimum above the configured maximum. Pre-flight fatal.
	ErrMinAboveMax = errors.New("withdraw: effective minimum exceeds configured maximum")

	// ErrRetriesExhausted: every attempt ended in a retryable failure or an
	// unconfirmed wait.
	ErrRetriesExhausted = errors.New("withdraw: retries exhausted without confirmation")
)

// Waiter is the confirmation-side dependency of the orchestrator: snapshot a
// balance, wait for it to grow, release the connection when done. Satisfied
// by *chainwatch.Watcher.
type Waiter interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	WaitForArrival(ctx context.Context, addr common.Address, initial *big.Int, timeout time.Duration) (chainwatch.Arrival, error)
	Close()
}

// WaiterFactory builds a Waiter for the selected destination network. The
// network is only known after selection, so the RPC connection is opened late.
type WaiterFactory func(network string) (Waiter, error)

// DialWaiter is the production WaiterFactory: resolves the network's RPC
// endpoint and wraps it in a chain watcher.
func DialWaiter(log *logrus.Entry) WaiterFactory {
	return func(network string) (Waiter, error) {
		rpcURL, ok := exchange.WithdrawalRPCs[network]
		if !ok {
			return nil, errors.Errorf("withdraw: no RPC endpoint for network %s", network)
		}
		reader, err := chainwatch.DialReader(rpcURL)
		if err != nil {
			return nil, err
		}
		return chainwatch.NewWatcher(reader, log), nil
	}
}

// Result describes one completed withdrawal operation. Confirmed with an
// empty TxHash means funds arrived but the transaction was not identified.
type Result struct {
	Network      string
	ExchangeID   string
	Amount       float64
	WithdrawalID string
	TxHash       string
	Confirmed    bool
	Attempts     int
	Skipped      bool // destination already held more than the max-balance guard
}

// Orchestrator runs one account's withdrawal: validate, pick a network,
// compute an amount, submit, wait for arrival, retry within budget.
type Orchestrator struct {
	cfg       config.WithdrawalConfig
	gw        exchange.Gateway
	newWaiter WaiterFactory
	address   common.Address
	log       *logrus.Entry

	rng     *rand.Rand
	backoff time.Duration // between retryable submission failures
}

func New(
	cfg config.WithdrawalConfig,
	gw exchange.Gateway,
	newWaiter WaiterFactory,
	address common.Address,
	log *logrus.Entry,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		gw:        gw,
		newWaiter: newWaiter,
		address:   address,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		backoff:   5 * time.Second,
	}
}

// Run executes the full withdrawal flow. The gateway session is closed on
// every exit path. Errors returned here are final for this account's run;
// retryable conditions have already consumed the attempt budget.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	defer o.gw.Close()

	if len(o.cfg.Networks) == 0 {
		return nil, errors.New("withdraw: no networks specified in withdrawal configuration")
	}

	o.log.Info("Testing exchange authentication...")
	if err := o.gw.Authenticate(ctx); err != nil {
		return nil, err
	}
	o.log.Info("Authentication successful")

	if bal, err := o.gw.Balance(ctx, o.cfg.Currency); err == nil {
		o.log.Infof("Exchange funding balance: %s %s", bal, o.cfg.Currency)
	} else {
		o.log.Warnf("Funding balance check failed: %v", err)
	}

	o.log.Info("Getting withdrawal networks data...")
	info, err := o.gw.FetchNetworkInfo(ctx, o.cfg.Currency)
	if err != nil {
		return nil, err
	}
	if len(info) == 0 {
		o.log.Errorf("Currency %s not found on exchange", o.cfg.Currency)
		return nil, ErrNoEligibleNetwork
	}

	cand, err := SelectNetwork(o.cfg.Networks, info, o.gw.NetworkID, o.rng)
	if err != nil {
		return nil, err
	}
	o.log.Infof("Selected network for withdrawal: %s (%s)", cand.Name, cand.ExchangeID)

	waiter, err := o.newWaiter(cand.Name)
	if err != nil {
		return nil, err
	}
	defer waiter.Close()

	initial, err := waiter.Balance(ctx, o.address)
	if err != nil {
		return nil, errors.Wrap(err, "withdraw: initial balance lookup")
	}

	if o.cfg.MaxBalance > 0 {
		held := decimal.NewFromBigInt(initial, -18)
		if held.GreaterThanOrEqual(decimal.NewFromFloat(o.cfg.MaxBalance)) {
			o.log.Infof("Destination already holds %s %s (max %v), skipping withdrawal",
				held, o.cfg.Currency, o.cfg.MaxBalance)
			return &Result{Network: cand.Name, ExchangeID: cand.ExchangeID, Skipped: true}, nil
		}
	}

	effectiveMin := o.cfg.MinAmount
	if m := cand.Info.MinWithdrawal.InexactFloat64(); m > effectiveMin {
		effectiveMin = m
	}
	if effectiveMin > o.cfg.MaxAmount {
		return nil, errors.Wrapf(ErrMinAboveMax,
			"network minimum %s vs configured maximum %v", cand.Info.MinWithdrawal, o.cfg.MaxAmount)
	}

	amount := RandomAmount(effectiveMin, o.cfg.MaxAmount, o.rng)
	res := &Result{Network: cand.Name, ExchangeID: cand.ExchangeID, Amount: amount}

	lastClientID := ""
	for attempt := 1; attempt <= o.cfg.Retries; attempt++ {
		res.Attempts = attempt
		o.log.Infof("Attempting withdrawal %d/%d: %v %s to %s",
			attempt, o.cfg.Retries, amount, o.cfg.Currency, o.address.Hex())

		if b, err := waiter.Balance(ctx, o.address); err == nil {
			initial = b
		}

		submitted := false
		if lastClientID != "" {
			// A previous attempt's withdrawal may still be in flight on the
			// exchange side; do not stack a second one on top of it.
			if wd, pending, err := o.gw.PendingWithdrawal(ctx, o.cfg.Currency, lastClientID); err == nil && pending {
				o.log.Warnf("Withdrawal %s still pending on exchange, waiting instead of resubmitting", wd.ID)
				res.WithdrawalID = wd.ID
				submitted = true
			}
		}

		if !submitted {
			clientID := newClientID()
			wd, err := o.gw.SubmitWithdrawal(ctx, exchange.WithdrawalRequest{
				Currency:  o.cfg.Currency,
				Amount:    decimal.NewFromFloat(amount),
				Address:   o.address.Hex(),
				NetworkID: cand.ExchangeID,
				Fee:       cand.Info.Fee,
				ClientID:  clientID,
			})
			if err != nil {
				if retry, ferr := o.classifySubmitError(err, attempt); !retry {
					return res, ferr
				}
				if err := sleepCtx(ctx, o.backoff); err != nil {
					return res, err
				}
				continue
			}
			lastClientID = clientID
			res.WithdrawalID = wd.ID
			o.log.Infof("Withdrawal initiated successfully: %s", wd.ID)
		}

		if !o.cfg.WaitForFunds {
			return res, nil
		}

		arrival, err := waiter.WaitForArrival(ctx, o.address, initial, time.Duration(o.cfg.MaxWaitTime)*time.Second)
		if err != nil {
			return res, err
		}
		if arrival.Confirmed {
			res.Confirmed = true
			res.TxHash = arrival.TxHash
			if arrival.TxHash != "" {
				o.log.Infof("Transaction confirmed with hash: %s", arrival.TxHash)
			} else {
				o.log.Info("Funds confirmed, transaction hash unknown")
			}
			return res, nil
		}
		o.log.Warn("Funds not received within timeout, retrying if attempts remain")
	}

	return res, errors.Wrapf(ErrRetriesExhausted, "after %d attempts", o.cfg.Retries)
}

// classifySubmitError maps a submission failure onto the retry policy.
// Returns retry=true when the attempt budget should absorb the failure.
func (o *Orchestrator) classifySubmitError(err error, attempt int) (retry bool, out error) {
	last := attempt == o.cfg.Retries

	switch {
	case errors.Is(err, exchange.ErrAuth):
		o.log.Errorf("Authentication error during withdrawal: %v", err)
		return false, err

	case exchange.IsConn(err):
		if last {
			o.log.Errorf("Network error on final attempt: %v", err)
			return false, err
		}
		o.log.Warnf("Network error, retrying: %v", err)
		return true, nil

	default:
		ae, ok := exchange.AsAPIError(err)
		if !ok {
			// unexpected failure class, do not guess
			o.log.Errorf("Unexpected error during withdrawal: %v", err)
			return false, err
		}
		if !ae.Retryable() {
			o.log.Errorf("Exchange rejected withdrawal: %v", ae)
			return false, err
		}
		if last {
			o.log.Errorf("Exchange error on final attempt: %v", ae)
			return false, err
		}
		o.log.Warnf("Exchange error, retrying: %v", ae)
		return true, nil
	}
}

// newClientID makes an exchange-safe client reference (alphanumeric, <=32).
func newClientID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
