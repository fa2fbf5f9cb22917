package web3

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrMalformedRequest marks failures caused by the request itself (ABI,
// bytecode or constructor arguments) rather than by the network.
var ErrMalformedRequest = errors.New("malformed deployment request")

// ErrDeploymentReverted is returned when the deployment transaction was
// included but its receipt reports failure or no code was left behind.
var ErrDeploymentReverted = errors.New("deployment transaction reverted")

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// AccountState is the balance and pending nonce of an address.
type AccountState struct {
	Address common.Address `json:"address"`
	Balance *big.Int       `json:"balance"`
	Nonce   uint64         `json:"nonce"`
}

// DeploymentResult captures a submitted, not yet confirmed, deployment.
type DeploymentResult struct {
	ContractAddress common.Address
	Transaction     *types.Transaction
}

// Client defines the chain surface the deployer depends on. Implementations
// own transport, signing, encoding and receipt polling.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateDeployGas(ctx context.Context, from common.Address, req DeploymentRequest) (uint64, error)
	DeployContract(ctx context.Context, auth *bind.TransactOpts, req DeploymentRequest) (DeploymentResult, error)
	WaitDeployed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	AccountState(ctx context.Context, address common.Address) (AccountState, error)
	Close()
}
