package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"contract-deployer/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Backend is the subset of node methods a deployment needs. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	gethcore.ChainIDReader
	gethcore.BlockNumberReader
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   Backend
	// commit mines a block after a transaction is sent; only set for
	// simulated chains.
	commit func()
	mu     sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
	}, nil
}

// Dial connects to a single endpoint. Its signature matches deployer.Dialer.
func Dial(ctx context.Context, endpoint string) (web3.Client, error) {
	return NewClient(ctx, Config{RPCURL: endpoint})
}

// NewSimulatedClient wraps a go-ethereum simulated backend for tests and
// local dry runs. A block is committed after every submitted transaction.
func NewSimulatedClient(name string, sim *simulated.Backend) *Client {
	return &Client{
		name:    name,
		notes:   "simulated backend",
		backend: sim.Client(),
		commit:  func() { sim.Commit() },
	}
}

// NewBackendClient wraps an arbitrary backend, mainly for tests.
func NewBackendClient(name string, backend Backend) *Client {
	return &Client{name: name, backend: backend}
}

// Name returns the configured chain name.
func (c *Client) Name() string {
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		// ethclient.Close closes the underlying rpc client as well.
		c.eth.Close()
		c.eth = nil
		c.rpcClient = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	c.backend = nil
}

func (c *Client) chainBackend() (Backend, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("客户端缺少链访问后端")
	}
	return c.backend, nil
}

// ChainID returns the chain identifier reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	backend, err := c.chainBackend()
	if err != nil {
		return nil, err
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return id, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	backend, err := c.chainBackend()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// AccountState reports the latest balance and pending nonce of an address.
func (c *Client) AccountState(ctx context.Context, address common.Address) (web3.AccountState, error) {
	backend, err := c.chainBackend()
	if err != nil {
		return web3.AccountState{}, err
	}
	balance, err := backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return web3.AccountState{}, fmt.Errorf("查询余额失败: %w", err)
	}
	nonce, err := backend.PendingNonceAt(ctx, address)
	if err != nil {
		return web3.AccountState{}, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return web3.AccountState{Address: address, Balance: balance, Nonce: nonce}, nil
}

// EstimateDeployGas asks the node how much gas the contract creation
// (bytecode followed by the packed constructor arguments) would use when sent
// from the given address.
func (c *Client) EstimateDeployGas(ctx context.Context, from common.Address, req web3.DeploymentRequest) (uint64, error) {
	backend, err := c.chainBackend()
	if err != nil {
		return 0, err
	}
	parsedABI, bytecode, err := decodeRequest(req)
	if err != nil {
		return 0, err
	}
	input, err := parsedABI.Pack("", req.Args...)
	if err != nil {
		return 0, fmt.Errorf("%w: 编码构造参数失败: %w", web3.ErrMalformedRequest, err)
	}

	data := make([]byte, 0, len(bytecode)+len(input))
	data = append(data, bytecode...)
	data = append(data, input...)

	gas, err := backend.EstimateGas(ctx, gethcore.CallMsg{From: from, Data: data})
	if err != nil {
		return 0, fmt.Errorf("估算部署 gas 失败: %w", err)
	}
	return gas, nil
}

// DeployContract sends the contract creation transaction using the provided
// transact opts. The caller's context replaces the one held by auth for the
// duration of the call.
func (c *Client) DeployContract(ctx context.Context, auth *bind.TransactOpts, req web3.DeploymentRequest) (web3.DeploymentResult, error) {
	if auth == nil {
		return web3.DeploymentResult{}, errors.New("未提供交易签名器")
	}
	backend, err := c.chainBackend()
	if err != nil {
		return web3.DeploymentResult{}, err
	}
	parsedABI, bytecode, err := decodeRequest(req)
	if err != nil {
		return web3.DeploymentResult{}, err
	}

	originalCtx := auth.Context
	auth.Context = ctx
	defer func() { auth.Context = originalCtx }()

	address, tx, _, err := bind.DeployContract(auth, parsedABI, bytecode, backend, req.Args...)
	if err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("部署合约失败: %w", err)
	}

	if c.commit != nil {
		c.commit()
	}

	return web3.DeploymentResult{ContractAddress: address, Transaction: tx}, nil
}

// WaitDeployed blocks until the deployment transaction is mined and verifies
// that it succeeded and left code at the contract address.
func (c *Client) WaitDeployed(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	if tx == nil {
		return nil, errors.New("缺少部署交易")
	}
	if tx.To() != nil {
		return nil, errors.New("交易不是合约创建交易")
	}
	backend, err := c.chainBackend()
	if err != nil {
		return nil, err
	}

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, fmt.Errorf("等待交易上链失败: %w", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: tx %s", web3.ErrDeploymentReverted, tx.Hash().Hex())
	}

	code, err := backend.CodeAt(ctx, receipt.ContractAddress, nil)
	if err != nil {
		return receipt, fmt.Errorf("读取合约代码失败: %w", err)
	}
	if len(code) == 0 {
		return receipt, fmt.Errorf("%w: no code at %s", web3.ErrDeploymentReverted, receipt.ContractAddress.Hex())
	}
	return receipt, nil
}

func decodeRequest(req web3.DeploymentRequest) (abi.ABI, []byte, error) {
	parsedABI, err := abi.JSON(strings.NewReader(req.ABI))
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("%w: 解析 ABI 失败: %w", web3.ErrMalformedRequest, err)
	}
	bytecode, err := hexutil.Decode(web3.NormalizeBytecode(req.Bytecode))
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("%w: 解析合约字节码失败: %w", web3.ErrMalformedRequest, err)
	}
	if len(bytecode) == 0 {
		return abi.ABI{}, nil, fmt.Errorf("%w: 合约字节码不能为空", web3.ErrMalformedRequest)
	}
	return parsedABI, bytecode, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
