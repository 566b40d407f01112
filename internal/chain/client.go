package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "ChainPilot/internal/errors"
)

// Config describes how to construct an EVM compatible read client.
type Config struct {
	Name   string
	RPCURL string
}

// backend mirrors the subset of ethclient methods the assistant needs.
// Tests substitute a stub here instead of dialing a node.
type backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Client wraps a JSON-RPC connection to an EVM chain and exposes the
// read-only queries backing the built-in capabilities.
type Client struct {
	name string
	eth  backend
	mu   sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnavailable, err, "连接以太坊节点失败")
	}
	return &Client{name: cfg.Name, eth: ethclient.NewClient(rpcClient)}, nil
}

// NewClientWithBackend wires an externally constructed backend, used in tests.
func NewClientWithBackend(name string, eth backend) *Client {
	return &Client{name: name, eth: eth}
}

// Close releases the network connection held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// WalletBalance returns the wei balance of an address at the latest block.
func (c *Client) WalletBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "无效的以太坊地址: "+address)
	}
	balance, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnavailable, err, "查询余额失败")
	}
	return balance, nil
}

// GasPrice returns the node's suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnavailable, err, "查询 gas 价格失败")
	}
	return price, nil
}

// Snapshot gathers lightweight metadata from the chain.
type Snapshot struct {
	Chain       string `json:"chain,omitempty"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
}

// FetchSnapshot returns the chain ID and latest block height.
func (c *Client) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeUnavailable, err, "获取链 ID 失败")
	}
	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeUnavailable, err, "获取最新区块高度失败")
	}
	return Snapshot{
		Chain:       c.name,
		ChainID:     chainID.String(),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
	}, nil
}
