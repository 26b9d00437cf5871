package dapps

import (
	"context"
	"math"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/unwinned/optisoft/internal/config"
)

// LayerZero OFT adapter on Optimism that bridges native ETH to Unichain.
const (
	oftAdapterAddress = "0xe8CDF27AcD73a434D661C84887215F7598e7d0d3"
	unichainEid       = 30320
)

const oftABI = `[
	{
		"inputs": [
			{"components": [
				{"name": "dstEid", "type": "uint32"},
				{"name": "to", "type": "bytes32"},
				{"name": "amountLD", "type": "uint256"},
				{"name": "minAmountLD", "type": "uint256"},
				{"name": "extraOptions", "type": "bytes"},
				{"name": "composeMsg", "type": "bytes"},
				{"name": "oftCmd", "type": "bytes"}
			], "name": "_sendParam", "type": "tuple"},
			{"name": "_payInLzToken", "type": "bool"}
		],
		"name": "quoteSend",
		"outputs": [
			{"components": [
				{"name": "nativeFee", "type": "uint256"},
				{"name": "lzTokenFee", "type": "uint256"}
			], "name": "msgFee", "type": "tuple"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"components": [
				{"name": "dstEid", "type": "uint32"},
				{"name": "to", "type": "bytes32"},
				{"name": "amountLD", "type": "uint256"},
				{"name": "minAmountLD", "type": "uint256"},
				{"name": "extraOptions", "type": "bytes"},
				{"name": "composeMsg", "type": "bytes"},
				{"name": "oftCmd", "type": "bytes"}
			], "name": "_sendParam", "type": "tuple"},
			{"components": [
				{"name": "nativeFee", "type": "uint256"},
				{"name": "lzTokenFee", "type": "uint256"}
			], "name": "_fee", "type": "tuple"},
			{"name": "_refundAddress", "type": "address"}
		],
		"name": "send",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	}
]`

type sendParam struct {
	DstEid       uint32
	To           [32]byte
	AmountLD     *big.Int
	MinAmountLD  *big.Int
	ExtraOptions []byte
	ComposeMsg   []byte
	OftCmd       []byte
}

type messagingFee struct {
	NativeFee  *big.Int
	LzTokenFee *big.Int
}

// Bridge moves a random amount of ETH from Optimism to Unichain through the
// LayerZero OFT adapter.
type Bridge struct {
	client *Client
	cfg    config.BridgeConfig
	log    *logrus.Entry
	rng    *rand.Rand

	abi      abi.ABI
	contract common.Address
}

func NewBridge(client *Client, cfg config.BridgeConfig, log *logrus.Entry) (*Bridge, error) {
	if len(cfg.AmountRange) != 2 {
		return nil, errors.New("dapps: BRIDGE.amount range is not configured")
	}
	parsed, err := abi.JSON(strings.NewReader(oftABI))
	if err != nil {
		return nil, errors.Wrap(err, "dapps: parsing OFT ABI")
	}
	return &Bridge{
		client:   client,
		cfg:      cfg,
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		abi:      parsed,
		contract: common.HexToAddress(oftAdapterAddress),
	}, nil
}

// Run picks an amount inside the configured range (7 decimal places, the
// adapter's local-decimal granularity) and bridges it.
func (b *Bridge) Run(ctx context.Context) (common.Hash, error) {
	span := b.cfg.AmountRange[1] - b.cfg.AmountRange[0]
	amount := b.cfg.AmountRange[0] + b.rng.Float64()*span
	amount = math.Round(amount*1e7) / 1e7

	b.log.Infof("Preparing to bridge %.7f ETH...", amount)
	return b.bridge(ctx, amount)
}

func (b *Bridge) bridge(ctx context.Context, amountEth float64) (common.Hash, error) {
	amountWei := EthToWei(amountEth)
	minAmount := new(big.Int).Div(new(big.Int).Mul(amountWei, big.NewInt(95)), big.NewInt(100))

	var to [32]byte
	copy(to[12:], b.client.Address().Bytes())

	param := sendParam{
		DstEid:       unichainEid,
		To:           to,
		AmountLD:     amountWei,
		MinAmountLD:  minAmount,
		ExtraOptions: []byte{},
		ComposeMsg:   []byte{},
		OftCmd:       []byte{},
	}

	fee, err := b.quoteSend(ctx, param)
	if err != nil {
		return common.Hash{}, err
	}

	total := new(big.Int).Add(amountWei, fee.NativeFee)
	balance, err := b.client.Balance(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "dapps: bridge balance check")
	}
	if balance.Cmp(total) < 0 {
		return common.Hash{}, errors.Errorf("dapps: insufficient ETH for bridging: have %.7f, need %.7f",
			WeiToEth(balance), WeiToEth(total))
	}

	data, err := b.abi.Pack("send", param, messagingFee{NativeFee: fee.NativeFee, LzTokenFee: fee.LzTokenFee}, b.client.Address())
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "dapps: packing send")
	}

	b.log.Infof("Bridging %.7f ETH from Optimism to Unichain...", amountEth)
	hash, err := b.client.Send(ctx, b.contract, total, data)
	if err != nil {
		return common.Hash{}, err
	}
	b.log.Infof("Bridge transaction sent: %s%s", OptimismExplorer, hash.Hex())

	receipt, err := b.client.WaitMined(ctx, hash, 2*time.Minute)
	if err != nil {
		return hash, err
	}
	if receipt.Status != 1 {
		return hash, errors.Errorf("dapps: bridge transaction %s reverted", hash.Hex())
	}
	b.log.Info("Bridge transaction confirmed successfully")
	return hash, nil
}

func (b *Bridge) quoteSend(ctx context.Context, param sendParam) (*messagingFee, error) {
	data, err := b.abi.Pack("quoteSend", param, false)
	if err != nil {
		return nil, errors.Wrap(err, "dapps: packing quoteSend")
	}
	res, err := b.client.Call(ctx, b.contract, data)
	if err != nil {
		return nil, errors.Wrap(err, "dapps: quoteSend call")
	}
	var fee messagingFee
	if err := b.abi.UnpackIntoInterface(&fee, "quoteSend", res); err != nil {
		return nil, errors.Wrap(err, "dapps: decoding quoteSend result")
	}
	return &fee, nil
}
