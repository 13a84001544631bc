package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benaskins/aegis/internal/presence"
	"github.com/benaskins/aegis/internal/protocol"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Run or inspect presence ceremonies",
}

var authCheckCmd = &cobra.Command{
	Use:   "check <policy>",
	Short: "Report whether a ceremony for policy could succeed now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res protocol.BoolResult
		if err := invoke(protocol.MethodCanAuthenticate, protocol.Arguments{Policy: args[0]}, &res); err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(res)
		}
		if res.Value {
			fmt.Printf("%s: available\n", args[0])
		} else {
			fmt.Printf("%s: not available\n", args[0])
		}
		return nil
	},
}

var verifyReason string

var authVerifyCmd = &cobra.Command{
	Use:   "verify <policy>",
	Short: "Run a standalone ceremony and print its outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res protocol.OutcomeResult
		if err := invoke(protocol.MethodAuthenticate, protocol.Arguments{Policy: args[0], Reason: verifyReason}, &res); err != nil {
			return err
		}
		fmt.Println(res.Outcome)
		if res.Outcome != string(presence.Authenticated) {
			return fmt.Errorf("not authenticated: %s", res.Outcome)
		}
		return nil
	},
}

var authCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the ceremony in progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res protocol.CancelResult
		if err := invoke(protocol.MethodCancelAuthentication, protocol.Arguments{}, &res); err != nil {
			return err
		}
		if res.Canceled {
			fmt.Println("Ceremony canceled")
		} else {
			fmt.Println("No ceremony in progress")
		}
		return nil
	},
}

var backgroundCmd = &cobra.Command{
	Use:   "background",
	Short: "Tell the daemon the session went to the background",
	Long:  "Cancels the running ceremony as system_canceled and fails every queued request. Nothing resumes afterwards.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiPost("/v1/lifecycle/background")
		if err != nil {
			return err
		}
		fmt.Printf("%v\n", result["status"])
		return nil
	},
}

func init() {
	authVerifyCmd.Flags().StringVar(&verifyReason, "reason", "", "Reason shown with the challenge")

	authCmd.AddCommand(authCheckCmd)
	authCmd.AddCommand(authVerifyCmd)
	authCmd.AddCommand(authCancelCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(backgroundCmd)
}
