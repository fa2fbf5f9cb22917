package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"contract-deployer/internal/web3"

	"github.com/spf13/cobra"
)

// contractInputs are the flags shared by deploy and estimate.
type contractInputs struct {
	abiPath      string
	binPath      string
	artifactPath string
	args         []string
}

func (in *contractInputs) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&in.abiPath, "abi", "", "path to the contract ABI (solc .abi output)")
	cmd.Flags().StringVar(&in.binPath, "bin", "", "path to the creation bytecode (solc .bin output)")
	cmd.Flags().StringVar(&in.artifactPath, "artifact", "", "Foundry or Hardhat artifact JSON holding both ABI and bytecode")
	cmd.Flags().StringArrayVar(&in.args, "arg", nil, "constructor argument, repeat in declaration order")
}

// request reads the contract files and decodes constructor arguments against
// the ABI.
func (in *contractInputs) request() (web3.DeploymentRequest, error) {
	abiJSON, bytecode, err := in.load()
	if err != nil {
		return web3.DeploymentRequest{}, err
	}
	args, err := web3.DecodeConstructorArgs(abiJSON, in.args)
	if err != nil {
		return web3.DeploymentRequest{}, err
	}
	return web3.NewDeploymentRequest(abiJSON, bytecode, args...), nil
}

func (in *contractInputs) load() (string, string, error) {
	if in.artifactPath != "" {
		if in.abiPath != "" || in.binPath != "" {
			return "", "", errors.New("--artifact cannot be combined with --abi or --bin")
		}
		return readArtifact(in.artifactPath)
	}
	if in.abiPath == "" || in.binPath == "" {
		return "", "", errors.New("--abi and --bin are required (or use --artifact)")
	}
	abiJSON, err := os.ReadFile(in.abiPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read ABI: %w", err)
	}
	bytecode, err := os.ReadFile(in.binPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read bytecode: %w", err)
	}
	return string(abiJSON), strings.TrimSpace(string(bytecode)), nil
}

// artifact covers Foundry (bytecode.object) and Hardhat (bytecode string)
// artifact layouts.
type artifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode json.RawMessage `json:"bytecode"`
}

func readArtifact(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read artifact: %w", err)
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return "", "", fmt.Errorf("failed to parse artifact: %w", err)
	}
	if len(a.ABI) == 0 {
		return "", "", fmt.Errorf("artifact %s has no abi", path)
	}

	var bytecode string
	if err := json.Unmarshal(a.Bytecode, &bytecode); err != nil {
		var object struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(a.Bytecode, &object); err != nil {
			return "", "", fmt.Errorf("artifact %s has no usable bytecode", path)
		}
		bytecode = object.Object
	}
	if strings.TrimPrefix(strings.TrimSpace(bytecode), "0x") == "" {
		return "", "", fmt.Errorf("artifact %s has empty bytecode (abstract contract or interface?)", path)
	}
	return string(a.ABI), bytecode, nil
}

func createDeployCmd(a *app) *cobra.Command {
	var inputs contractInputs
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a contract and print its address",
		Long: `Estimate gas, submit the contract creation transaction and wait until it is mined.

The private key is read from the environment variable named by --private-key-env
(default DEPLOYER_PRIVATE_KEY); it is never accepted as a flag value.

EXAMPLES:
  # Deploy solc output to the default chain
  deployctl deploy --abi build/Token.abi --bin build/Token.bin \
    --arg 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266 --arg 1000000

  # Deploy a Foundry artifact to a local node
  deployctl deploy --rpc http://127.0.0.1:8545 --artifact out/Token.sol/Token.json --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			req, err := inputs.request()
			if err != nil {
				return err
			}
			target, err := a.target(cfg)
			if err != nil {
				return err
			}
			key, err := a.privateKey(cmd, cfg)
			if err != nil {
				return err
			}

			deployment, err := a.deployer(cfg).DeployWithReceipt(cmd.Context(), target, key, req)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd, deployment)
			}
			fmt.Fprintln(cmd.OutOrStdout(), deployment.ContractAddress.Hex())
			return nil
		},
	}

	inputs.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the full deployment record as JSON")

	return cmd
}

func createEstimateCmd(a *app) *cobra.Command {
	var inputs contractInputs
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the gas needed to deploy a contract",
		Long: `Simulate the contract creation from the deployer account and print the gas estimate.
Nothing is submitted.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			req, err := inputs.request()
			if err != nil {
				return err
			}
			target, err := a.target(cfg)
			if err != nil {
				return err
			}
			key, err := a.privateKey(cmd, cfg)
			if err != nil {
				return err
			}
			signer, err := web3.NewSigner(key)
			if err != nil {
				return err
			}

			client, err := a.dial(cmd.Context(), target.Endpoint)
			if err != nil {
				return err
			}
			defer client.Close()

			gas, err := client.EstimateDeployGas(cmd.Context(), signer.Address(), req)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd, map[string]any{
					"chain": target.Chain,
					"from":  signer.Address().Hex(),
					"gas":   gas,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), gas)
			return nil
		},
	}

	inputs.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
