package main

import (
	"os"
	"path/filepath"

	"github.com/benaskins/aegis/internal/config"
)

var socketFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Path to the daemon socket (default ~/.aegis/aegis.sock)")
}

// aegisHome returns the path to the aegis home directory (~/.aegis).
func aegisHome() (string, error) {
	return config.Home()
}

// socketPath resolves the daemon socket: flag, then config, then default.
func socketPath() string {
	if socketFlag != "" {
		return socketFlag
	}
	if cfg, err := config.Load(config.DefaultPath()); err == nil && cfg.Socket != "" {
		return cfg.Socket
	}
	home, err := aegisHome()
	if err != nil {
		return filepath.Join(os.TempDir(), "aegis.sock")
	}
	return filepath.Join(home, "aegis.sock")
}
