package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benaskins/aegis/internal/protocol"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Show daemon and host diagnostics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var pong protocol.Pong
		if err := apiGet("/v1/ping", &pong); err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(pong)
		}

		fmt.Printf("Platform:   %s %s\n", pong.Platform, pong.PlatformVersion)
		fmt.Printf("Vault:      %s (%s, security %s)\n", pong.Vault, pong.StorageDelegate, pong.HasEnhancedSecurity)
		if pong.EnhancedSecurityWarning != "" {
			fmt.Printf("Warning:    %s\n", pong.EnhancedSecurityWarning)
		}
		fmt.Printf("Biometry:   %s (simulated: %v)\n", pong.Biometry, pong.IsSimulator)
		fmt.Printf("State:      %s\n", pong.State)

		if len(pong.RecentCeremonies) == 0 {
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tPOLICY\tOUTCOME\tDURATION")
		for _, c := range pong.RecentCeremonies {
			fmt.Fprintf(w, "%s\t%s\t%s\t%dms\n", c.Started.Local().Format("15:04:05"), c.Policy, c.Outcome, c.DurationMS)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
