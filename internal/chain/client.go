// Package chain wraps go-ethereum: the accepted-asset token contract, the
// fee-juice bridge, and native balance queries. Contracts are bound from
// their ABI fragments directly; we only call a handful of methods.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/operon-labs/feegate/internal/config"
	"github.com/operon-labs/feegate/internal/token"
)

// EIP-3009 style transfer authorization plus the read methods the gateway
// and the top-up daemon need.
const tokenABI = `[
	{"type":"function","name":"transferWithAuthorization","stateMutability":"nonpayable","inputs":[
		{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},
		{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},
		{"name":"nonce","type":"bytes32"},{"name":"signature","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"authorizationState","stateMutability":"view","inputs":[
		{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],
		"outputs":[{"name":"","type":"bool"}]}
]`

const bridgeABI = `[
	{"type":"function","name":"depositTo","stateMutability":"payable","inputs":[
		{"name":"recipient","type":"address"}],"outputs":[]}
]`

// maxValidBefore disables the EIP-3009 time window; quote expiry is
// enforced by the verifier, not the token.
var maxValidBefore = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Client talks to the host chain on behalf of the operator.
type Client struct {
	eth         *ethclient.Client
	operatorKey *ecdsa.PrivateKey
	chainID     *big.Int

	tokenContract  *bind.BoundContract
	bridgeContract *bind.BoundContract
	gatewayAddr    common.Address
}

func NewClient(cfg *config.Config, operatorKey *ecdsa.PrivateKey) (*Client, error) {
	eth, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	tokenParsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	bridgeParsed, err := abi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		return nil, fmt.Errorf("parse bridge abi: %w", err)
	}

	c := &Client{
		eth:         eth,
		operatorKey: operatorKey,
		chainID:     big.NewInt(cfg.Chain.ChainID),
		gatewayAddr: common.HexToAddress(cfg.Chain.GatewayAddress),
		tokenContract: bind.NewBoundContract(
			common.HexToAddress(cfg.Chain.TokenAddress), tokenParsed, eth, eth, eth),
	}
	if cfg.Chain.BridgeAddress != "" {
		c.bridgeContract = bind.NewBoundContract(
			common.HexToAddress(cfg.Chain.BridgeAddress), bridgeParsed, eth, eth, eth)
	}
	return c, nil
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// GatewayAddress returns the gateway contract address.
func (c *Client) GatewayAddress() common.Address { return c.gatewayAddr }

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.operatorKey, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// PullWithAuthwit implements token.Puller: submits the user's single-use
// transfer authorization to the accepted-asset token and waits for
// inclusion. A reverted transfer means a missing or mismatched authwit.
func (c *Client) PullWithAuthwit(ctx context.Context, from, to common.Address, amount *big.Int, nonce [32]byte, authwit []byte) error {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return fmt.Errorf("build tx opts: %w", err)
	}

	tx, err := c.tokenContract.Transact(opts, "transferWithAuthorization",
		from, to, amount, big.NewInt(0), maxValidBefore, nonce, authwit)
	if err != nil {
		return fmt.Errorf("%w: %v", token.ErrAuthwitMismatch, err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("%w: transfer reverted (%s)", token.ErrAuthwitMismatch, tx.Hash().Hex())
	}
	return nil
}

// AuthwitUsed reports whether the user's authorization nonce was consumed.
func (c *Client) AuthwitUsed(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.tokenContract.Call(opts, &out, "authorizationState", authorizer, nonce); err != nil {
		return false, fmt.Errorf("authorizationState: %w", err)
	}
	return out[0].(bool), nil
}

// TokenBalance reads an account's accepted-asset balance.
func (c *Client) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.tokenContract.Call(opts, &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return out[0].(*big.Int), nil
}

// NativeBalance reads the account's native-gas balance at the latest block.
func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("balance at: %w", err)
	}
	return bal, nil
}

// BridgeDeposit sends amount of native gas through the bridge to the
// gateway's fee-juice balance.
func (c *Client) BridgeDeposit(ctx context.Context, amount *big.Int) error {
	if c.bridgeContract == nil {
		return fmt.Errorf("bridge contract not configured")
	}
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return fmt.Errorf("build tx opts: %w", err)
	}
	opts.Value = amount

	tx, err := c.bridgeContract.Transact(opts, "depositTo", c.gatewayAddr)
	if err != nil {
		return fmt.Errorf("depositTo: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("bridge deposit reverted: %s", tx.Hash().Hex())
	}
	return nil
}
