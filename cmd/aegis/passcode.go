package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/aegis/internal/config"
	"github.com/benaskins/aegis/internal/prompt"
)

var passcodeCmd = &cobra.Command{
	Use:   "passcode",
	Short: "Manage the device passcode used by ceremonies",
}

var passcodeSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the passcode (stored as a bcrypt hash in config.yaml)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return fmt.Errorf("passcode set requires a terminal")
		}

		fmt.Print("New passcode: ")
		first, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passcode: %w", err)
		}
		fmt.Print("Confirm passcode: ")
		second, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passcode: %w", err)
		}
		if string(first) != string(second) {
			return fmt.Errorf("passcodes do not match")
		}

		hash, err := prompt.HashPasscode(string(first))
		if err != nil {
			return err
		}

		path := config.DefaultPath()
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg.PasscodeHash = hash
		if err := config.Save(path, cfg); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Printf("Passcode saved to %s\n", path)
		return nil
	},
}

func init() {
	passcodeCmd.AddCommand(passcodeSetCmd)
	rootCmd.AddCommand(passcodeCmd)
}
