package chainwatch

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/unwinned/optisoft/pkg/logger"
)

// fakeReader scripts a balance sequence and a fixed chain tip.
type fakeReader struct {
	balances []any // *big.Int or error, consumed per BalanceAt call
	calls    int

	head uint64
	txs  map[uint64]ethtypes.Transactions
}

func (f *fakeReader) BalanceAt(_ context.Context, _ common.Address) (*big.Int, error) {
	i := f.calls
	if i >= len(f.balances) {
		i = len(f.balances) - 1
	}
	f.calls++
	switch v := f.balances[i].(type) {
	case *big.Int:
		return v, nil
	case error:
		return nil, v
	}
	return nil, errors.New("bad script")
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeReader) BlockTransactions(_ context.Context, number *big.Int) (ethtypes.Transactions, error) {
	return f.txs[number.Uint64()], nil
}

func newTestWatcher(r ChainReader) *Watcher {
	w := NewWatcher(r, logger.WithModule("watcher-test"))
	w.pollInterval = time.Millisecond
	w.errInterval = time.Millisecond
	return w
}

func paymentTx(to common.Address, value int64) *ethtypes.Transaction {
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    big.NewInt(value),
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})
}

func TestWaitForArrivalDetectsIncrease(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := paymentTx(addr, 100)
	r := &fakeReader{
		// increases on poll #3
		balances: []any{big.NewInt(10), big.NewInt(10), big.NewInt(110)},
		head:     50,
		txs:      map[uint64]ethtypes.Transactions{49: {tx}},
	}

	start := time.Now()
	arrival, err := newTestWatcher(r).WaitForArrival(context.Background(), addr, big.NewInt(10), 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !arrival.Confirmed {
		t.Fatal("expected confirmed arrival")
	}
	if arrival.TxHash != tx.Hash().Hex() {
		t.Fatalf("expected tx hash %s, got %s", tx.Hash().Hex(), arrival.TxHash)
	}
	if time.Since(start) >= 5*time.Second {
		t.Fatal("returned only at timeout")
	}
}

func TestWaitForArrivalUnknownButConfirmed(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	other := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	r := &fakeReader{
		balances: []any{big.NewInt(0), big.NewInt(5)},
		head:     30,
		// a transaction exists in the window but pays someone else
		txs: map[uint64]ethtypes.Transactions{30: {paymentTx(other, 5)}},
	}

	arrival, err := newTestWatcher(r).WaitForArrival(context.Background(), addr, big.NewInt(0), 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !arrival.Confirmed || arrival.TxHash != "" {
		t.Fatalf("expected unknown-but-confirmed, got %+v", arrival)
	}
}

func TestWaitForArrivalTimesOut(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	r := &fakeReader{balances: []any{big.NewInt(7)}}

	timeout := 50 * time.Millisecond
	start := time.Now()
	arrival, err := newTestWatcher(r).WaitForArrival(context.Background(), addr, big.NewInt(7), timeout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if arrival.Confirmed {
		t.Fatal("expected timeout, got confirmation")
	}
	if time.Since(start) < timeout {
		t.Fatal("returned before the configured timeout")
	}
}

func TestWaitForArrivalSurvivesTransientErrors(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	r := &fakeReader{
		balances: []any{errors.New("rpc down"), errors.New("rpc down"), big.NewInt(42)},
		head:     5,
	}

	arrival, err := newTestWatcher(r).WaitForArrival(context.Background(), addr, big.NewInt(0), 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !arrival.Confirmed {
		t.Fatal("expected confirmation after transient errors")
	}
}

func TestWaitForArrivalHonorsContext(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	r := &fakeReader{balances: []any{big.NewInt(1)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestWatcher(r).WaitForArrival(ctx, addr, big.NewInt(1), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type closableReader struct {
	fakeReader
	closed int
}

func (c *closableReader) Close() { c.closed++ }

func TestCloseReleasesReader(t *testing.T) {
	r := &closableReader{}
	w := newTestWatcher(r)
	w.Close()
	if r.closed != 1 {
		t.Fatalf("reader closed %d times, expected 1", r.closed)
	}

	// readers without a Close method are tolerated
	newTestWatcher(&fakeReader{}).Close()
}

func TestResolveTxHashNewestFirst(t *testing.T) {
	addr := common.HexToAddress("0x0000000000000000000000000000000000000011")
	oldTx := paymentTx(addr, 1)
	newTx := paymentTx(addr, 2)
	r := &fakeReader{
		balances: []any{big.NewInt(0), big.NewInt(3)},
		head:     20,
		txs: map[uint64]ethtypes.Transactions{
			15: {oldTx},
			20: {newTx},
		},
	}

	arrival, err := newTestWatcher(r).WaitForArrival(context.Background(), addr, big.NewInt(0), 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if arrival.TxHash != newTx.Hash().Hex() {
		t.Fatalf("expected newest block scanned first, got %s", arrival.TxHash)
	}
}
