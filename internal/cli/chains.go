package cli

import (
	"fmt"
	"text/tabwriter"

	"contract-deployer/internal/web3"

	"github.com/spf13/cobra"
)

func createChainsCmd(a *app) *cobra.Command {
	var jsonOutput bool
	var describe bool

	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List configured chains",
		Long: `List the chains from the chain config. With --describe every chain is dialed
and its chain id and latest block are shown.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			reg, err := a.registry(cfg)
			if err != nil {
				return err
			}

			type row struct {
				Name        string              `json:"name"`
				Default     bool                `json:"default"`
				Description string              `json:"description,omitempty"`
				Snapshot    *web3.ChainSnapshot `json:"snapshot,omitempty"`
				Error       string              `json:"error,omitempty"`
			}
			var rows []row
			for _, chain := range reg.Chains() {
				r := row{Name: chain.Name, Default: chain.Name == reg.DefaultChain(), Description: chain.Description}
				if describe {
					snapshot, err := reg.Describe(cmd.Context(), chain.Name)
					if err != nil {
						r.Error = err.Error()
					} else {
						r.Snapshot = &snapshot
					}
				}
				rows = append(rows, r)
			}

			if jsonOutput {
				return printJSON(cmd, rows)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if describe {
				fmt.Fprintln(w, "NAME\tDEFAULT\tCHAIN ID\tBLOCK\tDESCRIPTION")
			} else {
				fmt.Fprintln(w, "NAME\tDEFAULT\tDESCRIPTION")
			}
			for _, r := range rows {
				marker := ""
				if r.Default {
					marker = "*"
				}
				if !describe {
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, marker, r.Description)
					continue
				}
				chainID, block := "-", r.Error
				if r.Snapshot != nil {
					chainID, block = r.Snapshot.ChainID, r.Snapshot.BlockNumber
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, marker, chainID, block, r.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&describe, "describe", false, "dial each chain and show chain id and latest block")

	return cmd
}
