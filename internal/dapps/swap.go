package dapps

import (
	"context"
	"encoding/binary"
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

// Uniswap universal router deployment on Unichain and the pair we trade.
const (
	universalRouterAddress = "0xEf740bf23aCaE26f6492B10de645D6B98dC8Eaf3"
	wethAddress            = "0x4200000000000000000000000000000000000006"
	usdt0Address           = "0x9151434b16b9763660705744891fA906F660EcC5"
)

// Universal router command bytes.
const (
	cmdV3SwapExactIn = 0x00
	cmdWrapETH       = 0x0b
)

// Router-recognized recipient placeholders.
var (
	recipientSender = common.HexToAddress("0x0000000000000000000000000000000000000001")
	recipientRouter = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

const poolFee = 3000

const routerABI = `[
	{
		"inputs": [
			{"name": "commands", "type": "bytes"},
			{"name": "inputs", "type": "bytes[]"},
			{"name": "deadline", "type": "uint256"}
		],
		"name": "execute",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// Swap trades a random percentage of the account's native balance for USDT0
// on Unichain: wrap ETH inside the router, then a V3 exact-in hop.
type Swap struct {
	client *Client
	cfg    config.SwapConfig
	log    *logrus.Entry
	rng    *rand.Rand

	abi    abi.ABI
	router common.Address
}

func NewSwap(client *Client, cfg config.SwapConfig, log *logrus.Entry) (*Swap, error) {
	if len(cfg.PercentRange) != 2 {
		return nil, errors.New("dapps: SWAP.percent range is not configured")
	}
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, errors.Wrap(err, "dapps: parsing router ABI")
	}
	return &Swap{
		client: client,
		cfg:    cfg,
		log:    log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		abi:    parsed,
		router: common.HexToAddress(universalRouterAddress),
	}, nil
}

func (s *Swap) Run(ctx context.Context) (common.Hash, error) {
	balance, err := s.client.Balance(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "dapps: swap balance check")
	}

	amountIn := swapAmount(balance, s.percent())
	if amountIn.Sign() == 0 {
		return common.Hash{}, errors.New("dapps: amount to swap is 0")
	}
	s.log.Infof("Swapping %.7f ETH to USDT0 on Unichain...", WeiToEth(amountIn))

	data, err := s.executeCalldata(amountIn)
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := s.client.Send(ctx, s.router, amountIn, data)
	if err != nil {
		return common.Hash{}, err
	}
	s.log.Infof("Swap transaction sent: %s%s", UnichainExplorer, hash.Hex())

	receipt, err := s.client.WaitMined(ctx, hash, 2*time.Minute)
	if err != nil {
		return hash, err
	}
	if receipt.Status != 1 {
		return hash, errors.Errorf("dapps: swap transaction %s reverted", hash.Hex())
	}
	s.log.Info("Swap confirmed successfully")
	return hash, nil
}

func (s *Swap) percent() int {
	lo, hi := s.cfg.PercentRange[0], s.cfg.PercentRange[1]
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Intn(hi-lo+1)
}

// swapAmount takes percent of the balance, then shaves 5% off to leave room
// for gas on the same native token.
func swapAmount(balance *big.Int, percent int) *big.Int {
	cut := new(big.Int).Div(new(big.Int).Mul(balance, big.NewInt(int64(percent))), big.NewInt(100))
	return cut.Div(cut.Mul(cut, big.NewInt(95)), big.NewInt(100))
}

func (s *Swap) executeCalldata(amountIn *big.Int) ([]byte, error) {
	wrapInput, err := encodeWrap(recipientRouter, amountIn)
	if err != nil {
		return nil, err
	}
	swapInput, err := encodeV3ExactIn(recipientSender, amountIn, big.NewInt(0), v3Path(
		common.HexToAddress(wethAddress), poolFee, common.HexToAddress(usdt0Address)))
	if err != nil {
		return nil, err
	}

	commands := []byte{cmdWrapETH, cmdV3SwapExactIn}
	deadline := big.NewInt(time.Now().Add(20 * time.Minute).Unix())

	data, err := s.abi.Pack("execute", commands, [][]byte{wrapInput, swapInput}, deadline)
	if err != nil {
		return nil, errors.Wrap(err, "dapps: packing execute")
	}
	return data, nil
}

var (
	abiAddress, _ = abi.NewType("address", "", nil)
	abiUint256, _ = abi.NewType("uint256", "", nil)
	abiBytes, _   = abi.NewType("bytes", "", nil)
	abiBool, _    = abi.NewType("bool", "", nil)
)

func encodeWrap(recipient common.Address, amount *big.Int) ([]byte, error) {
	args := abi.Arguments{{Type: abiAddress}, {Type: abiUint256}}
	out, err := args.Pack(recipient, amount)
	return out, errors.Wrap(err, "dapps: encoding wrap input")
}

func encodeV3ExactIn(recipient common.Address, amountIn, amountOutMin *big.Int, path []byte) ([]byte, error) {
	// (recipient, amountIn, amountOutMin, path, payerIsUser); the router holds
	// the wrapped ETH, so the payer is the router itself.
	args := abi.Arguments{
		{Type: abiAddress}, {Type: abiUint256}, {Type: abiUint256}, {Type: abiBytes}, {Type: abiBool},
	}
	out, err := args.Pack(recipient, amountIn, amountOutMin, path, false)
	return out, errors.Wrap(err, "dapps: encoding swap input")
}

// v3Path packs tokenIn || fee(3 bytes) || tokenOut.
func v3Path(tokenIn common.Address, fee uint32, tokenOut common.Address) []byte {
	var feeBytes [4]byte
	binary.BigEndian.PutUint32(feeBytes[:], fee)

	path := make([]byte, 0, 43)
	path = append(path, tokenIn.Bytes()...)
	path = append(path, feeBytes[1:]...)
	path = append(path, tokenOut.Bytes()...)
	return path
}
