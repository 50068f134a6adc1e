package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const receiptPollInterval = 2 * time.Second

// EthGateway implements Gateway against a JSON-RPC node via ethclient.
type EthGateway struct {
	client      *ethclient.Client
	clock       clockwork.Clock
	chainID     *big.Int
	key         *ecdsa.PrivateKey
	from        common.Address
	tokenAddr   common.Address
	lotteryAddr common.Address
	erc20ABI    abi.ABI
	lotteryABI  abi.ABI
}

// EthGatewayConfig holds what the gateway needs to talk to the chain.
type EthGatewayConfig struct {
	RPCURL         string
	ChainID        int64
	TokenAddress   string
	LotteryAddress string
	PrivateKeyHex  string
}

// NewEthGateway dials the node and verifies the configured chain id matches
// what the node reports.
func NewEthGateway(ctx context.Context, cfg EthGatewayConfig) (*EthGateway, error) {
	if cfg.TokenAddress == "" || cfg.LotteryAddress == "" {
		return nil, errors.New("token and lottery contract addresses are required")
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC node: %w", err)
	}

	nodeChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if nodeChainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("wrong network: node reports chain id %d, config expects %d", nodeChainID.Int64(), cfg.ChainID)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}
	lottery, err := abi.JSON(strings.NewReader(lotteryABIJSON))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse lottery ABI: %w", err)
	}

	g := &EthGateway{
		client:      client,
		clock:       clockwork.NewRealClock(),
		chainID:     nodeChainID,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		tokenAddr:   common.HexToAddress(cfg.TokenAddress),
		lotteryAddr: common.HexToAddress(cfg.LotteryAddress),
		erc20ABI:    erc20,
		lotteryABI:  lottery,
	}

	log.Info().
		Str("from", g.from.Hex()).
		Str("lottery", g.lotteryAddr.Hex()).
		Str("token", g.tokenAddr.Hex()).
		Int64("chain_id", nodeChainID.Int64()).
		Msg("chain gateway connected")

	return g, nil
}

// From returns the signing wallet address.
func (g *EthGateway) From() common.Address {
	return g.from
}

// LotteryAddress returns the lottery contract address (the token spender).
func (g *EthGateway) LotteryAddress() common.Address {
	return g.lotteryAddr
}

// Close releases the underlying RPC connection.
func (g *EthGateway) Close() {
	g.client.Close()
}

// call packs, executes, and unpacks a read-only contract call.
func (g *EthGateway) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{
		From: g.from,
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}

func (g *EthGateway) readBig(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	out, err := g.call(ctx, to, contractABI, method, args...)
	if err != nil {
		return nil, err
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("malformed %s result: %T", method, out[0])
	}
	return value, nil
}

func (g *EthGateway) ReadAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return g.readBig(ctx, g.tokenAddr, g.erc20ABI, "allowance", owner, spender)
}

func (g *EthGateway) ReadBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return g.readBig(ctx, g.tokenAddr, g.erc20ABI, "balanceOf", owner)
}

func (g *EthGateway) ReadDecimals(ctx context.Context) (uint8, error) {
	out, err := g.call(ctx, g.tokenAddr, g.erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("malformed decimals result: %T", out[0])
	}
	return decimals, nil
}

func (g *EthGateway) ReadActiveRoundID(ctx context.Context) (*big.Int, error) {
	return g.readBig(ctx, g.lotteryAddr, g.lotteryABI, "currentRoundId")
}

func (g *EthGateway) ReadRoundEndTime(ctx context.Context, roundID *big.Int) (time.Time, error) {
	end, err := g.readBig(ctx, g.lotteryAddr, g.lotteryABI, "roundEndTime", roundID)
	if err != nil {
		return time.Time{}, err
	}
	if end.Sign() == 0 {
		return time.Time{}, fmt.Errorf("round %s has no end time", roundID)
	}
	return time.Unix(end.Int64(), 0), nil
}

func (g *EthGateway) ReadOwnedTickets(ctx context.Context, owner common.Address, roundID *big.Int) (*big.Int, error) {
	return g.readBig(ctx, g.lotteryAddr, g.lotteryABI, "ticketsOf", owner, roundID)
}

func (g *EthGateway) ReadPoolBalance(ctx context.Context, roundID *big.Int) (*big.Int, error) {
	return g.readBig(ctx, g.lotteryAddr, g.lotteryABI, "poolBalance", roundID)
}

func (g *EthGateway) Approve(ctx context.Context, amount *big.Int) (common.Hash, error) {
	data, err := g.erc20ABI.Pack("approve", g.lotteryAddr, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve call: %w", err)
	}
	return g.sendTransaction(ctx, g.tokenAddr, data, 0)
}

func (g *EthGateway) SimulatePurchase(ctx context.Context, roundID *big.Int, quantity int64) (*PurchaseRequest, error) {
	data, err := g.lotteryABI.Pack("buyTickets", roundID, big.NewInt(quantity))
	if err != nil {
		return nil, fmt.Errorf("failed to pack buyTickets call: %w", err)
	}

	msg := ethereum.CallMsg{
		From: g.from,
		To:   &g.lotteryAddr,
		Data: data,
	}
	if _, err := g.client.CallContract(ctx, msg, nil); err != nil {
		return nil, asRevert(err)
	}

	gasLimit, err := g.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, asRevert(err)
	}

	return &PurchaseRequest{
		RoundID:  new(big.Int).Set(roundID),
		Quantity: quantity,
		To:       g.lotteryAddr,
		Data:     data,
		GasLimit: gasLimit,
	}, nil
}

func (g *EthGateway) Submit(ctx context.Context, req *PurchaseRequest) (common.Hash, error) {
	return g.sendTransaction(ctx, req.To, req.Data, req.GasLimit)
}

// sendTransaction signs and broadcasts a dynamic-fee transaction. A zero
// gasLimit triggers estimation before signing.
func (g *EthGateway) sendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := g.client.PendingNonceAt(ctx, g.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read pending nonce: %w", err)
	}

	tipCap, err := g.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read gas tip cap: %w", err)
	}
	head, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read chain head: %w", err)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	if gasLimit == 0 {
		gasLimit, err = g.client.EstimateGas(ctx, ethereum.CallMsg{
			From: g.from,
			To:   &to,
			Data: data,
		})
		if err != nil {
			return common.Hash{}, asRevert(err)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(g.chainID), g.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	log.Info().
		Str("tx_hash", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Msg("transaction broadcast")

	return signed.Hash(), nil
}

// WaitForConfirmation polls for the receipt until the transaction has the
// requested confirmation depth or ctx expires.
func (g *EthGateway) WaitForConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}

	ticker := g.clock.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, txHash)
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to fetch receipt: %w", err)
		}
		if receipt != nil {
			head, err := g.client.BlockNumber(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to read block number: %w", err)
			}
			if head >= receipt.BlockNumber.Uint64()+confirmations-1 {
				return &Receipt{
					TxHash:      txHash,
					BlockNumber: receipt.BlockNumber.Uint64(),
					Success:     receipt.Status == types.ReceiptStatusSuccessful,
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.Chan():
		}
	}
}
