// Package dapps holds the on-chain activity side of a run: a thin EVM client
// plus the bridge and swap flows built on top of it.
package dapps

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RPC endpoints for the chains the activity flows touch.
const (
	OptimismRPC = "https://1rpc.io/op"
	UnichainRPC = "https://unichain.drpc.org"
)

// Explorer URL prefixes, keyed the same way the flows name their chains.
const (
	OptimismExplorer = "https://optimistic.etherscan.io/tx/"
	UnichainExplorer = "https://uniscan.xyz/tx/"
)

const receiptPollInterval = 3 * time.Second

// Client is one account's connection to one chain. It signs legacy
// transactions with a 10% gas price bump and waits for receipts by polling.
type Client struct {
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	log     *logrus.Entry
}

func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, log *logrus.Entry) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dapps: dialing RPC")
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, errors.Wrap(err, "dapps: fetching chain id")
	}
	return &Client{
		eth:     eth,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		log:     log,
	}, nil
}

func (c *Client) Address() common.Address { return c.address }

func (c *Client) Close() { c.eth.Close() }

func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, c.address, nil)
}

// Call executes a read-only contract call.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// Send signs and broadcasts a legacy transaction to the given contract.
func (c *Client) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "dapps: fetching nonce")
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "dapps: fetching gas price")
	}
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(110)), big.NewInt(100))

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "dapps: estimating gas")
	}

	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "dapps: signing transaction")
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "dapps: broadcasting transaction")
	}
	return signed.Hash(), nil
}

// WaitMined polls for the receipt until it lands or the timeout expires.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrap(err, "dapps: fetching receipt")
		}
		if time.Now().After(deadline) {
			return nil, errors.Errorf("dapps: transaction %s not mined within %s", hash.Hex(), timeout)
		}
		timer := time.NewTimer(receiptPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// EthToWei converts a float amount of ether into wei without drifting past
// 18 decimals of precision.
func EthToWei(amount float64) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	f.Mul(f, new(big.Float).SetInt(big.NewInt(1e18)))
	wei, _ := f.Int(nil)
	return wei
}

// WeiToEth converts wei to a float amount of ether for logging.
func WeiToEth(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, new(big.Float).SetInt(big.NewInt(1e18)))
	out, _ := f.Float64()
	return out
}
