package main

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/antoniostano/monadchat/internal/app"
)

var (
	usageAddress string
	usageState   string
	usageJSON    bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the daily quota for a wallet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !common.IsHexAddress(usageAddress) {
			return fmt.Errorf("--address %q is not a wallet address", usageAddress)
		}
		cfg, err := loadLocalConfig(usageState)
		if err != nil {
			return err
		}
		core, err := app.BuildCore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer core.Close()

		st := core.Ledger.Snapshot(cmd.Context(), usageAddress)
		if usageJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", st.Identity, formatStatus(st))
		return nil
	},
}

func init() {
	usageCmd.Flags().StringVar(&usageAddress, "address", "", "wallet address (required)")
	usageCmd.Flags().StringVar(&usageState, "state", defaultStatePath(), "local state file; empty uses DATABASE_URL/KV_SQLITE_PATH")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "print JSON")
	_ = usageCmd.MarkFlagRequired("address")
}
