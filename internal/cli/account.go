package cli

import (
	"fmt"

	"contract-deployer/internal/web3"

	"github.com/spf13/cobra"
)

func createAccountCmd(a *app) *cobra.Command {
	var jsonOutput bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show the deployer account",
		Long: `Derive the deployer address from the configured private key and, unless --offline
is set, show its balance and pending nonce on the selected chain.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
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

			if offline {
				if jsonOutput {
					return printJSON(cmd, map[string]string{"address": signer.Address().Hex()})
				}
				fmt.Fprintln(cmd.OutOrStdout(), signer.Address().Hex())
				return nil
			}

			target, err := a.target(cfg)
			if err != nil {
				return err
			}
			client, err := a.dial(cmd.Context(), target.Endpoint)
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := client.AccountState(cmd.Context(), signer.Address())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd, map[string]any{
					"chain":   target.Chain,
					"address": state.Address.Hex(),
					"balance": state.Balance.String(),
					"nonce":   state.Nonce,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address: %s\n", state.Address.Hex())
			fmt.Fprintf(out, "Chain:   %s\n", target.Chain)
			fmt.Fprintf(out, "Balance: %s wei\n", state.Balance.String())
			fmt.Fprintf(out, "Nonce:   %d\n", state.Nonce)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "only derive the address, do not contact the chain")

	return cmd
}
