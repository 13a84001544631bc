package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/aegis/internal/protocol"
	"github.com/benaskins/aegis/internal/storeerr"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Read and write secrets through the daemon",
}

var (
	setPolicy        string
	setAccessibility string
)

var secretSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a secret",
	Long: `Store a secret. If value is omitted, reads from stdin (useful for piping).

--policy attaches a presence policy (biometric_any, biometric_current_set,
passcode_or_biometric); reading the secret later requires a ceremony.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		var value string
		if len(args) == 2 {
			value = args[1]
		} else {
			v, err := readValue()
			if err != nil {
				return err
			}
			value = v
		}

		err := invoke(protocol.MethodWrite, protocol.Arguments{
			Key:           key,
			Value:         []byte(value),
			Accessibility: setAccessibility,
			Policy:        setPolicy,
		}, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Secret %q stored\n", key)
		return nil
	},
}

func readValue() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Enter secret value: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		fmt.Println()
		return string(b), nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

var secretGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Retrieve a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res protocol.ValueResult
		if err := invoke(protocol.MethodRead, protocol.Arguments{Key: args[0]}, &res); err != nil {
			return err
		}
		os.Stdout.Write(res.Value)
		if term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Println()
		}
		return nil
	},
}

var secretHasCmd = &cobra.Command{
	Use:   "has <key>",
	Short: "Report whether a secret exists (never prompts)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res protocol.BoolResult
		if err := invoke(protocol.MethodContainsKey, protocol.Arguments{Key: args[0]}, &res); err != nil {
			return err
		}
		fmt.Println(res.Value)
		if !res.Value {
			os.Exit(1)
		}
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Short:   "Remove a secret",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := invoke(protocol.MethodDelete, protocol.Arguments{Key: args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("Secret %q deleted\n", args[0])
		return nil
	},
}

var secretClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every secret in the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := invoke(protocol.MethodDeleteAll, protocol.Arguments{}, nil)
		if errors.Is(err, storeerr.AuthenticationRequired) {
			return fmt.Errorf("%w (set store_policy or unauthenticated_delete_all in config.yaml)", err)
		}
		if err != nil {
			return err
		}
		fmt.Println("All secrets deleted")
		return nil
	},
}

func init() {
	secretSetCmd.Flags().StringVar(&setPolicy, "policy", "", "Presence policy required to read or replace the secret")
	secretSetCmd.Flags().StringVar(&setAccessibility, "accessibility", "", "Vault accessibility class (default when_unlocked_this_device_only)")

	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretGetCmd)
	secretCmd.AddCommand(secretHasCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretCmd.AddCommand(secretClearCmd)
	rootCmd.AddCommand(secretCmd)
}
