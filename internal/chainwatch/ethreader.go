package chainwatch

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// EthReader adapts an ethclient connection to the ChainReader interface.
type EthReader struct {
	client *ethclient.Client
}

// DialReader connects to a chain RPC endpoint.
func DialReader(rpcURL string) (*EthReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial rpc %s", rpcURL)
	}
	return &EthReader{client: client}, nil
}

func (r *EthReader) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return r.client.BalanceAt(ctx, addr, nil)
}

func (r *EthReader) BlockNumber(ctx context.Context) (uint64, error) {
	return r.client.BlockNumber(ctx)
}

func (r *EthReader) BlockTransactions(ctx context.Context, number *big.Int) (ethtypes.Transactions, error) {
	block, err := r.client.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return block.Transactions(), nil
}

func (r *EthReader) Close() {
	r.client.Close()
}
