package main

import (
	"encoding/json"
	"os"
)

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Print machine-readable JSON")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
