// Command hutchd is the peer daemon: it runs the peer engine (seeding
// server + leeching client) and exposes its control surface over HTTP.
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
	"github.com/prxssh/hutch/internal/controlapi"
	"github.com/prxssh/hutch/internal/engine"
	"github.com/prxssh/hutch/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hutchd",
	Short: "Run the hutch peer daemon",
	Long:  "hutchd seeds and leeches torrents over the hutch peer wire protocol and exposes a control surface over HTTP.",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to hutchd's config file (default: ./hutch.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hutchd: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPeer(configPath)
	if err != nil {
		return err
	}

	log, logLevel := logging.SetupDynamic(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	if configPath != "" {
		watcher, err := config.WatchFile(configPath, func() {
			reloaded, err := config.LoadPeer(configPath)
			if err != nil {
				log.Warn("config.reload.failed", "error", err)
				return
			}
			logLevel.Set(logging.ParseLevel(reloaded.LogLevel))
			log.Info("config.reloaded", "log_level", reloaded.LogLevel)
		})
		if err != nil {
			log.Warn("config.watch.failed", "path", configPath, "error", err)
		} else {
			defer watcher.Close()
		}
	}

	eng, err := engine.New(
		fmt.Sprintf(":%d", cfg.ListenPort),
		cfg.DownloadDir,
		cfg.TorrentDir,
		time.Duration(cfg.AnnounceEvery)*time.Second,
		log,
	)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	log.Info("hutchd.engine.listening", "addr", eng.ListenAddr())

	api := controlapi.New(eng, cfg.TrackerURL, log)
	httpServer := &http.Server{Addr: cfg.ControlAddr, Handler: api.Router()}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.ListenAndServe() }()

	log.Info("hutchd.control.listening", "addr", cfg.ControlAddr)

	select {
	case <-ctx.Done():
		log.Info("hutchd.shutdown")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
