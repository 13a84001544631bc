package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/benaskins/aegis/internal/api"
	"github.com/benaskins/aegis/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the aegis daemon",
	Long:  "Start the secret store daemon. Serves the store protocol on a Unix socket and presents authentication challenges on the controlling terminal.",
	RunE:  runDaemon,
}

var (
	apiAddr string
	verbose bool
)

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for health and metrics (e.g. 127.0.0.1:9090)")
	daemonCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log ceremony state transitions")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	home, err := aegisHome()
	if err != nil {
		return fmt.Errorf("resolving home dir: %w", err)
	}

	// Wipe enclave keys on exit, including on SIGINT before shutdown runs.
	defer memguard.Purge()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	socket := socketPath()
	d, err := daemon.NewDaemon(home, daemon.WithSocket(socket))
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	if addr := d.Config().APIAddr; apiAddr == "" && addr != "" {
		apiAddr = addr
	}

	// Remove stale socket
	os.Remove(socket)
	if err := os.MkdirAll(filepath.Dir(socket), 0700); err != nil {
		d.Stop()
		return fmt.Errorf("creating socket dir: %w", err)
	}

	srv := api.NewServer(d)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socket)
	}()

	if apiAddr != "" {
		go func() {
			if err := srv.ListenTCP(apiAddr); err != nil {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	go func() {
		if err := d.StartWatcher(ctx); err != nil {
			slog.Error("config watcher stopped", "error", err)
		}
	}()

	slog.Info("aegis daemon ready", "socket", socket)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	cancel()
	d.Stop()
	srv.Shutdown(context.Background())
	os.Remove(socket)

	slog.Info("aegis daemon stopped")
	return nil
}
