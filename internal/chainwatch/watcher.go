package chainwatch

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// ChainReader is the slice of an RPC client the watcher needs. Implemented by
// EthReader for real chains and by fakes in tests.
type ChainReader interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTransactions(ctx context.Context, number *big.Int) (ethtypes.Transactions, error)
}

// Arrival is the outcome of one confirmation wait. Confirmed with an empty
// TxHash means the balance increase was observed but the originating
// transaction was not found in the recent-block window.
type Arrival struct {
	TxHash    string
	Confirmed bool
}

// Watcher polls a destination address for a balance increase and tries to
// resolve the transaction that caused it.
type Watcher struct {
	reader ChainReader
	log    *logrus.Entry

	pollInterval time.Duration // between unchanged-balance polls
	errInterval  time.Duration // after a transient RPC error
	scanDepth    uint64        // blocks walked backward from head
}

func NewWatcher(reader ChainReader, log *logrus.Entry) *Watcher {
	return &Watcher{
		reader:       reader,
		log:          log,
		pollInterval: 10 * time.Second,
		errInterval:  5 * time.Second,
		scanDepth:    10,
	}
}

// Balance reads the current balance of addr. Exposed so callers can snapshot
// the pre-withdrawal balance with the same reader the wait loop uses.
func (w *Watcher) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return w.reader.BalanceAt(ctx, addr)
}

// Close releases the reader's connection when it owns one. Fakes without a
// Close method are left alone.
func (w *Watcher) Close() {
	if c, ok := w.reader.(interface{ Close() }); ok {
		c.Close()
	}
}

// WaitForArrival polls until the balance at addr exceeds initial or the
// wall-clock timeout elapses. Transient RPC errors are swallowed and retried
// after the shorter interval; a timeout is a legitimate outcome, not an
// error. Only context cancellation surfaces as an error.
func (w *Watcher) WaitForArrival(ctx context.Context, addr common.Address, initial *big.Int, timeout time.Duration) (Arrival, error) {
	deadline := time.Now().Add(timeout)
	w.log.Infof("Waiting for funds to arrive, initial balance %s wei", initial.String())

	for time.Now().Before(deadline) {
		current, err := w.reader.BalanceAt(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return Arrival{}, ctx.Err()
			}
			w.log.Warnf("Balance check failed: %v", err)
			if err := sleepCtx(ctx, w.errInterval); err != nil {
				return Arrival{}, err
			}
			continue
		}

		if current.Cmp(initial) > 0 {
			hash := w.resolveTxHash(ctx, addr)
			if hash != "" {
				w.log.Infof("Funds received, transaction %s", hash)
			} else {
				w.log.Info("Funds received, transaction hash not found in recent blocks")
			}
			return Arrival{TxHash: hash, Confirmed: true}, nil
		}

		w.log.Debugf("Current balance %s wei, waiting...", current.String())
		if err := sleepCtx(ctx, w.pollInterval); err != nil {
			return Arrival{}, err
		}
	}

	w.log.Warnf("Timeout reached after %s, funds not received", timeout)
	return Arrival{}, nil
}

// resolveTxHash scans the most recent blocks, newest first, for a transaction
// paying addr. Best-effort reconciliation: the balance increase may originate
// outside the window, in which case an empty hash is returned.
func (w *Watcher) resolveTxHash(ctx context.Context, addr common.Address) string {
	head, err := w.reader.BlockNumber(ctx)
	if err != nil {
		w.log.Warnf("Block number lookup failed: %v", err)
		return ""
	}

	floor := uint64(0)
	if head > w.scanDepth {
		floor = head - w.scanDepth
	}
	for n := head; n > floor; n-- {
		txs, err := w.reader.BlockTransactions(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			w.log.Warnf("Block %d lookup failed: %v", n, err)
			continue
		}
		for _, tx := range txs {
			if tx.To() != nil && *tx.To() == addr && tx.Value().Sign() > 0 {
				return tx.Hash().Hex()
			}
		}
	}
	return ""
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
