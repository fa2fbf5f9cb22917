package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"contract-deployer/internal/config"
	"contract-deployer/internal/deployer"
	"contract-deployer/internal/web3"
	"contract-deployer/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	// Creation code that copies a 39 byte runtime emitting a single log.
	logContractBin = "6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
)

func newSimulatedDialer(t *testing.T) (deployer.Dialer, *simulated.Backend) {
	t.Helper()

	funds := new(big.Int).Mul(big.NewInt(1_000_000_000_000_000_000), big.NewInt(10))
	sim := simulated.NewBackend(types.GenesisAlloc{
		common.HexToAddress(devAddress): {Balance: funds},
	}, simulated.WithBlockGasLimit(8_000_000))
	t.Cleanup(func() { _ = sim.Close() })

	return func(context.Context, string) (web3.Client, error) {
		return ethereum.NewSimulatedClient("simulated", sim), nil
	}, sim
}

func execute(t *testing.T, dial deployer.Dialer, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, dial, "", args...)
}

func executeWithInput(t *testing.T, dial deployer.Dialer, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(configEnv, "")

	var out bytes.Buffer
	cmd := newRootCmd("test", &app{out: &out, dial: dial})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDeployCommand(t *testing.T) {
	dial, sim := newSimulatedDialer(t)
	dir := t.TempDir()
	abiPath := writeFile(t, dir, "Log.abi", "[]")
	binPath := writeFile(t, dir, "Log.bin", logContractBin+"\n")
	t.Setenv(config.DefaultPrivateKeyEnv, devKey)

	out, err := execute(t, dial, "deploy", "--rpc", "simulated", "--abi", abiPath, "--bin", binPath)
	require.NoError(t, err)

	address := strings.TrimSpace(out)
	require.True(t, common.IsHexAddress(address), "unexpected output %q", out)

	code, err := sim.Client().CodeAt(context.Background(), common.HexToAddress(address), nil)
	require.NoError(t, err)
	assert.Len(t, code, 39)
}

func TestDeployCommandWithArtifactJSON(t *testing.T) {
	dial, _ := newSimulatedDialer(t)
	dir := t.TempDir()
	artifactPath := writeFile(t, dir, "Log.json", `{"abi":[],"bytecode":{"object":"0x`+logContractBin+`"}}`)
	t.Setenv("CUSTOM_KEY", "0x"+devKey)

	out, err := execute(t, dial, "deploy", "--rpc", "simulated", "--private-key-env", "CUSTOM_KEY", "--artifact", artifactPath, "--json")
	require.NoError(t, err)

	var deployment deployer.Deployment
	require.NoError(t, json.Unmarshal([]byte(out), &deployment))
	assert.Equal(t, devAddress, deployment.Sender.Hex())
	assert.NotEqual(t, common.Address{}, deployment.ContractAddress)
	assert.Equal(t, "1337", deployment.ChainID)
	assert.NotZero(t, deployment.GasUsed)
}

func TestDeployCommandErrors(t *testing.T) {
	dial, _ := newSimulatedDialer(t)
	dir := t.TempDir()
	abiPath := writeFile(t, dir, "Log.abi", "[]")
	binPath := writeFile(t, dir, "Log.bin", logContractBin)

	t.Run("missing key", func(t *testing.T) {
		t.Setenv(config.DefaultPrivateKeyEnv, "")
		_, err := execute(t, dial, "deploy", "--rpc", "simulated", "--abi", abiPath, "--bin", binPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), config.DefaultPrivateKeyEnv)
	})

	t.Run("missing inputs", func(t *testing.T) {
		t.Setenv(config.DefaultPrivateKeyEnv, devKey)
		_, err := execute(t, dial, "deploy", "--rpc", "simulated", "--abi", abiPath)
		require.Error(t, err)
	})

	t.Run("artifact and abi", func(t *testing.T) {
		t.Setenv(config.DefaultPrivateKeyEnv, devKey)
		_, err := execute(t, dial, "deploy", "--rpc", "simulated", "--artifact", abiPath, "--abi", abiPath)
		require.Error(t, err)
	})

	t.Run("bad argument", func(t *testing.T) {
		t.Setenv(config.DefaultPrivateKeyEnv, devKey)
		ctorABI := writeFile(t, dir, "Ctor.abi", `[{"type":"constructor","inputs":[{"name":"flag","type":"bool"}]}]`)
		_, err := execute(t, dial, "deploy", "--rpc", "simulated", "--abi", ctorABI, "--bin", binPath, "--arg", "maybe")
		require.ErrorIs(t, err, web3.ErrMalformedRequest)
	})

	t.Run("unknown chain", func(t *testing.T) {
		t.Setenv(config.DefaultPrivateKeyEnv, devKey)
		_, err := execute(t, dial, "deploy", "--chain", "mainnet", "--abi", abiPath, "--bin", binPath)
		require.Error(t, err)
	})
}

func TestEstimateCommand(t *testing.T) {
	dial, sim := newSimulatedDialer(t)
	dir := t.TempDir()
	abiPath := writeFile(t, dir, "Log.abi", "[]")
	binPath := writeFile(t, dir, "Log.bin", logContractBin)
	t.Setenv(config.DefaultPrivateKeyEnv, devKey)

	out, err := execute(t, dial, "estimate", "--rpc", "simulated", "--abi", abiPath, "--bin", binPath)
	require.NoError(t, err)

	gas, err := strconv.ParseUint(strings.TrimSpace(out), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, gas, uint64(53_000))

	nonce, err := sim.Client().PendingNonceAt(context.Background(), common.HexToAddress(devAddress))
	require.NoError(t, err)
	assert.Zero(t, nonce, "estimate must not submit a transaction")
}

func TestAccountCommand(t *testing.T) {
	dial, _ := newSimulatedDialer(t)
	t.Setenv(config.DefaultPrivateKeyEnv, devKey)

	t.Run("offline", func(t *testing.T) {
		dials := 0
		counting := func(ctx context.Context, endpoint string) (web3.Client, error) {
			dials++
			return dial(ctx, endpoint)
		}
		out, err := execute(t, counting, "account", "--offline")
		require.NoError(t, err)
		assert.Equal(t, devAddress, strings.TrimSpace(out))
		assert.Zero(t, dials)
	})

	t.Run("online", func(t *testing.T) {
		out, err := execute(t, dial, "account", "--rpc", "simulated", "--json")
		require.NoError(t, err)

		var state struct {
			Address string `json:"address"`
			Balance string `json:"balance"`
			Nonce   uint64 `json:"nonce"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &state))
		assert.Equal(t, devAddress, state.Address)
		assert.Equal(t, "10000000000000000000", state.Balance)
		assert.Zero(t, state.Nonce)
	})

	t.Run("invalid key", func(t *testing.T) {
		t.Setenv(config.DefaultPrivateKeyEnv, "0x1234")
		_, err := execute(t, dial, "account", "--offline")
		require.ErrorIs(t, err, web3.ErrInvalidPrivateKey)
	})
}

func TestChainsCommand(t *testing.T) {
	dial, _ := newSimulatedDialer(t)
	dir := t.TempDir()
	writeFile(t, dir, "chains.yaml", `chains:
  anvil:
    rpc_url: http://127.0.0.1:8545
    description: local anvil
  sepolia:
    rpc_url: https://rpc.sepolia.org
`)
	cfgPath := writeFile(t, dir, "deployer.json", `{"web3":{"chain_config":"chains.yaml","default_chain":"sepolia"}}`)

	out, err := execute(t, dial, "chains", "--config", cfgPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "anvil")
	assert.Contains(t, lines[1], "local anvil")
	assert.Contains(t, lines[2], "sepolia")
	assert.Contains(t, lines[2], "*")

	out, err = execute(t, dial, "chains", "--config", cfgPath, "--describe", "--json")
	require.NoError(t, err)
	var rows []struct {
		Name     string              `json:"name"`
		Default  bool                `json:"default"`
		Snapshot *web3.ChainSnapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Snapshot)
	assert.Equal(t, "0x539", rows[0].Snapshot.ChainID)
	assert.True(t, rows[1].Default)
}

func TestReadArtifact(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		content  string
		wantCode string
		wantErr  bool
	}{
		{
			name:     "foundry",
			content:  `{"abi":[],"bytecode":{"object":"0x6000","sourceMap":""}}`,
			wantCode: "0x6000",
		},
		{
			name:     "hardhat",
			content:  `{"contractName":"Log","abi":[],"bytecode":"0x6001"}`,
			wantCode: "0x6001",
		},
		{
			name:    "interface",
			content: `{"abi":[],"bytecode":"0x"}`,
			wantErr: true,
		},
		{
			name:    "missing abi",
			content: `{"bytecode":"0x6000"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			content: `6000`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".json", tt.content)
			abiJSON, bytecode, err := readArtifact(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "[]", abiJSON)
			assert.Equal(t, tt.wantCode, bytecode)
		})
	}
}

func TestDeployCommandKeyFromStdin(t *testing.T) {
	dial, _ := newSimulatedDialer(t)
	dir := t.TempDir()
	abiPath := writeFile(t, dir, "Log.abi", "[]")
	binPath := writeFile(t, dir, "Log.bin", logContractBin)
	t.Setenv(config.DefaultPrivateKeyEnv, "")

	out, err := executeWithInput(t, dial, devKey+"\n", "deploy", "--rpc", "simulated", "--key-stdin", "--abi", abiPath, "--bin", binPath, "--json")
	require.NoError(t, err)

	var deployment deployer.Deployment
	require.NoError(t, json.Unmarshal([]byte(out), &deployment))
	assert.Equal(t, devAddress, deployment.Sender.Hex())

	_, err = executeWithInput(t, dial, "", "account", "--offline", "--key-stdin")
	require.Error(t, err)
}

func TestTOMLConfig(t *testing.T) {
	dial, _ := newSimulatedDialer(t)
	dir := t.TempDir()
	writeFile(t, dir, "chains.yaml", `chains:
  anvil:
    rpc_url: http://127.0.0.1:8545
`)
	cfgPath := writeFile(t, dir, "deployer.toml", `
[web3]
chain_config = "chains.yaml"

[deploy]
private_key_env = "TOML_DEPLOY_KEY"
`)
	t.Setenv("TOML_DEPLOY_KEY", devKey)

	out, err := execute(t, dial, "account", "--config", cfgPath, "--chain", "anvil", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"chain": "anvil"`)
	assert.Contains(t, out, devAddress)
}

func TestReadSecret(t *testing.T) {
	secret, err := readSecret(strings.NewReader("  0xabc  \nignored\n"), io.Discard, "key: ")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", secret)

	secret, err = readSecret(strings.NewReader("0xdef"), io.Discard, "key: ")
	require.NoError(t, err)
	assert.Equal(t, "0xdef", secret)

	_, err = readSecret(strings.NewReader("\n"), io.Discard, "key: ")
	assert.Error(t, err)
}
