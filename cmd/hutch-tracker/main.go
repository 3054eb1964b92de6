// Command hutch-tracker runs the tracker HTTP service: torrent catalog,
// swarm membership, and raw metainfo retrieval.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/prxssh/hutch/internal/config"
	"github.com/prxssh/hutch/internal/logging"
	"github.com/prxssh/hutch/internal/trackersvc"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hutch-tracker",
	Short: "Run the hutch tracker service",
	Long:  "hutch-tracker serves the torrent catalog and swarm membership over HTTP.",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to hutch-tracker's config file (default: ./hutch.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hutch-tracker: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadTracker(configPath)
	if err != nil {
		return err
	}

	log := logging.Setup(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	svc, err := trackersvc.New(cfg.StateDir, cfg.TorrentDir, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stop := make(chan struct{})
	go svc.SnapshotLoop(time.Duration(cfg.SnapshotEvery)*time.Second, stop)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: svc.Router()}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.ListenAndServe() }()

	log.Info("hutch-tracker.listening", "addr", cfg.ListenAddr)

	select {
	case <-ctx.Done():
		log.Info("hutch-tracker.shutdown")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			close(stop)
			return err
		}
	}

	close(stop)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
