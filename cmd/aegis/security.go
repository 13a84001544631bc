package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benaskins/aegis/internal/protocol"
)

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Show how stored values are protected and where they live",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var status protocol.SecurityResult
		if err := invoke(protocol.MethodEnhancedSecurityStatus, protocol.Arguments{}, &status); err != nil {
			return err
		}
		var loc protocol.LocationResult
		if err := invoke(protocol.MethodGetStorageLocation, protocol.Arguments{}, &loc); err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(struct {
				protocol.SecurityResult
				Location protocol.LocationResult `json:"location"`
			}{status, loc})
		}

		fmt.Printf("Status:     %s\n", status.Status)
		if status.Error != "" {
			fmt.Printf("Warning:    %s\n", status.Error)
		}
		fmt.Printf("Vault:      %s (%s)\n", loc.Vault, loc.Location)
		if loc.Metadata != "" {
			fmt.Printf("Metadata:   %s\n", loc.Metadata)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(securityCmd)
}
