package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"contract-deployer/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

const (
	simpleContractABI = "[]"
	// Creation code that copies a 39 byte runtime emitting a single log.
	simpleContractBin = "6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
	// Creation code that returns nothing, leaving no runtime code behind.
	emptyRuntimeBin = "00"
	// Creation code that reverts unconditionally.
	revertingBin = "60006000fd"
)

func newSimulatedChain(t *testing.T) (*Client, *web3.Signer) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := web3.NewSignerFromKey(key)

	alloc := coretypes.GenesisAlloc{
		signer.Address(): {Balance: new(big.Int).Mul(big.NewInt(1_000_000_000_000_000_000), big.NewInt(10))},
	}
	sim := simulated.NewBackend(alloc, simulated.WithBlockGasLimit(8_000_000))
	t.Cleanup(func() { _ = sim.Close() })

	client := NewSimulatedClient("simulated", sim)
	t.Cleanup(client.Close)
	return client, signer
}

func TestClientEstimateDeployWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, signer := newSimulatedChain(t)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}

	req := web3.NewDeploymentRequest(simpleContractABI, simpleContractBin)
	gas, err := client.EstimateDeployGas(ctx, signer.Address(), req)
	if err != nil {
		t.Fatalf("estimate gas: %v", err)
	}
	if gas <= 53_000 {
		t.Fatalf("estimate %d is below the contract creation floor", gas)
	}

	auth, err := signer.TransactOpts(ctx, chainID)
	if err != nil {
		t.Fatalf("transact opts: %v", err)
	}
	auth.GasLimit = gas

	result, err := client.DeployContract(ctx, auth, req)
	if err != nil {
		t.Fatalf("deploy contract: %v", err)
	}
	if result.ContractAddress == (common.Address{}) {
		t.Fatal("expected contract address to be non-zero")
	}
	if result.Transaction.Gas() != gas {
		t.Fatalf("deployment used gas limit %d, want %d", result.Transaction.Gas(), gas)
	}
	if auth.Context != ctx {
		t.Fatal("transact opts context should be restored after deploy")
	}

	receipt, err := client.WaitDeployed(ctx, result.Transaction)
	if err != nil {
		t.Fatalf("wait deployed: %v", err)
	}
	if receipt.ContractAddress != result.ContractAddress {
		t.Fatalf("receipt address %s differs from predicted %s", receipt.ContractAddress.Hex(), result.ContractAddress.Hex())
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x"+chainID.Text(16) {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
	if snapshot.BlockNumber == "0x0" {
		t.Fatal("expected block number to advance after deployment")
	}

	state, err := client.AccountState(ctx, signer.Address())
	if err != nil {
		t.Fatalf("account state: %v", err)
	}
	if state.Nonce != 1 {
		t.Fatalf("expected nonce 1 after one deployment, got %d", state.Nonce)
	}
}

func TestClientRejectsMalformedRequests(t *testing.T) {
	ctx := context.Background()
	client, signer := newSimulatedChain(t)

	cases := map[string]web3.DeploymentRequest{
		"bad abi":      web3.NewDeploymentRequest("{", simpleContractBin),
		"bad bytecode": web3.NewDeploymentRequest(simpleContractABI, "zz"),
		"odd bytecode": web3.NewDeploymentRequest(simpleContractABI, "600"),
		"empty code":   web3.NewDeploymentRequest(simpleContractABI, ""),
		"arity":        web3.NewDeploymentRequest(simpleContractABI, simpleContractBin, big.NewInt(1)),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := client.EstimateDeployGas(ctx, signer.Address(), req); !errors.Is(err, web3.ErrMalformedRequest) {
				t.Fatalf("expected ErrMalformedRequest, got %v", err)
			}
		})
	}
}

func TestWaitDeployedDetectsFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, signer := newSimulatedChain(t)
	chainID, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}

	for name, bin := range map[string]string{"reverted": revertingBin, "no code": emptyRuntimeBin} {
		t.Run(name, func(t *testing.T) {
			auth, err := signer.TransactOpts(ctx, chainID)
			if err != nil {
				t.Fatalf("transact opts: %v", err)
			}
			auth.GasLimit = 100_000

			result, err := client.DeployContract(ctx, auth, web3.NewDeploymentRequest(simpleContractABI, bin))
			if err != nil {
				t.Fatalf("deploy contract: %v", err)
			}
			if _, err := client.WaitDeployed(ctx, result.Transaction); !errors.Is(err, web3.ErrDeploymentReverted) {
				t.Fatalf("expected ErrDeploymentReverted, got %v", err)
			}
		})
	}
}

func TestEstimateFailsForRevertingConstructor(t *testing.T) {
	client, signer := newSimulatedChain(t)

	_, err := client.EstimateDeployGas(context.Background(), signer.Address(), web3.NewDeploymentRequest(simpleContractABI, revertingBin))
	if err == nil {
		t.Fatal("expected estimation to fail for reverting constructor")
	}
	if errors.Is(err, web3.ErrMalformedRequest) {
		t.Fatalf("revert must not be reported as a malformed request: %v", err)
	}
}

func TestClosedClient(t *testing.T) {
	client, _ := newSimulatedChain(t)
	client.Close()

	if _, err := client.ChainID(context.Background()); err == nil {
		t.Fatal("expected error from closed client")
	}
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty rpc url")
	}
}

var (
	_ web3.Client = (*Client)(nil)
	_ Backend     = simulated.Client(nil)
)
