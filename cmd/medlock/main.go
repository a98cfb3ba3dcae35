package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/caretrust/medlock/pkg/api"
	"github.com/caretrust/medlock/pkg/audit"
	"github.com/caretrust/medlock/pkg/blobstore"
	"github.com/caretrust/medlock/pkg/broker"
	"github.com/caretrust/medlock/pkg/config"
	"github.com/caretrust/medlock/pkg/identity"
	"github.com/caretrust/medlock/pkg/keystore"
	"github.com/caretrust/medlock/pkg/log"
	"github.com/caretrust/medlock/pkg/meta"
	"github.com/caretrust/medlock/pkg/metrics"
	"github.com/caretrust/medlock/pkg/session"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "medlock",
	Short: "Medlock - Secure health record repository with a key broker",
	Long: `Medlock stores client-side encrypted health records, brokers their
content keys under attribute policies with per-object revocation, and
keeps a hash-chained audit trail of every decision.

Record bytes are opaque to the server. The broker re-wraps content
keys toward authorized readers and never persists plaintext keys.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Medlock version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(auditCmd)
}

// loadConfig reads the YAML config named by --config over the
// defaults and validates it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the repository server",
	Long: `Run the Medlock repository server.

This starts the HTTP API, opens the identity, metadata, blob, session
and audit stores under the configured data directory, and loads (or
provisions on first start) the service keypair.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.Listen = v
		}
		if v, _ := cmd.Flags().GetString("log-level"); v != "" {
			cfg.LogLevel = v
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %v", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: !cfg.LogPretty,
		})

		if err := cfg.EnsureDirs(); err != nil {
			return fmt.Errorf("failed to prepare data directory: %v", err)
		}

		fmt.Println("Starting Medlock repository server...")
		fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
		fmt.Printf("  Listen Address: %s\n", cfg.Listen)
		fmt.Println()

		// Wipe any locked key buffers on every exit path.
		defer memguard.Purge()

		keys := keystore.New(cfg.SRSKeyDir, cfg.UserKeyDir)

		users, err := identity.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %v", err)
		}
		defer func() { _ = users.Close() }()

		metaStore, err := meta.NewStore(cfg.MetaDir)
		if err != nil {
			return fmt.Errorf("failed to open metadata store: %v", err)
		}

		blobs, err := blobstore.NewStore(cfg.BlobDir)
		if err != nil {
			return fmt.Errorf("failed to open blob store: %v", err)
		}

		auditLog, err := audit.Open(cfg.AuditPath)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %v", err)
		}
		defer func() { _ = auditLog.Close() }()

		sessions, err := session.NewManager(cfg.SessionDBPath, cfg.SessionTTL)
		if err != nil {
			return fmt.Errorf("failed to open session store: %v", err)
		}
		defer func() { _ = sessions.Close() }()
		sessions.StartSweeper()
		defer sessions.StopSweeper()

		b, err := broker.New(&broker.Config{
			Keys:     keys,
			Users:    users,
			Meta:     metaStore,
			Blobs:    blobs,
			Audit:    auditLog,
			Sessions: sessions,
		})
		if err != nil {
			return fmt.Errorf("failed to create broker: %v", err)
		}
		fmt.Println("✓ Service keypair loaded")

		// Keep the inventory gauges fresh in the background.
		collector := metrics.NewCollector(b)
		collector.Start()
		defer collector.Stop()
		fmt.Println("✓ Metrics collector started")

		srv := api.NewServer(api.Config{
			Broker:       b,
			Users:        users,
			Keys:         keys,
			Sessions:     sessions,
			Audit:        auditLog,
			CookieSecure: cfg.CookieSecure,
			Version:      Version,
		})

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(cfg.Listen); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()
		fmt.Println("✓ API server started")

		fmt.Println()
		fmt.Println("Server is running. Press Ctrl+C to stop.")

		// Wait for interrupt signal or API server error
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		// Shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
}
