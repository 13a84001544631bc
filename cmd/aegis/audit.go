package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benaskins/aegis/internal/audit"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := aegisHome()
		if err != nil {
			return err
		}
		entries, err := audit.Tail(filepath.Join(home, "audit.log"), auditLimit)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTION\tKEY\tPOLICY\tOUTCOME\tERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				e.Action, dash(e.Key), dash(e.Policy), dash(e.Outcome), dash(e.Error))
		}
		return w.Flush()
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "Number of entries to show")
	rootCmd.AddCommand(auditCmd)
}
