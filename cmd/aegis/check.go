package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/aegis/internal/config"
)

type checkResult struct {
	Path        string `json:"path"`
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
	StorePolicy string `json:"store_policy,omitempty"`
	Passcode    bool   `json:"passcode_set"`
	Biometry    string `json:"biometry,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [config-file]",
	Short: "Validate the daemon configuration",
	Long:  "Parse and validate config.yaml. Checks a specific file or the default (~/.aegis/config.yaml).",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	target := config.DefaultPath()
	if len(args) > 0 {
		target = args[0]
	}

	result := checkResult{Path: target}
	cfg, err := config.Load(target)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Valid = true
		result.StorePolicy = cfg.Policy().String()
		result.Passcode = cfg.PasscodeHash != ""
		result.Biometry = cfg.Biometry
	}

	if jsonOut {
		if err := printJSON(result); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Printf("OK    %s (store policy %s, biometry %s, passcode set: %v)\n",
			result.Path, result.StorePolicy, result.Biometry, result.Passcode)
	} else {
		fmt.Fprintf(os.Stderr, "FAIL  %s\n      %v\n", result.Path, result.Error)
	}

	if !result.Valid {
		return fmt.Errorf("config failed validation")
	}
	return nil
}
