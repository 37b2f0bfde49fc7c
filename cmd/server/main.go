/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the credit engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load TOML config (defaults when no file is given)
  2. Initialize SQLite store
  3. Wire ledger, payment gateway, enrollment coordinator
  4. Configure HTTP router
  5. Start server and intent sweeper with graceful shutdown

COMMANDS:
  serve      Run the HTTP server
  version    Print the build version

EXAMPLES:
  # Run with defaults (file database, local payment processor)
  ./server serve

  # Run with a config file
  ./server serve --config ./credit-engine.toml

  # Run with an in-memory database on another port
  ./server serve --db=":memory:" --port=3000

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the intent sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration schema
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/learnxtrade/credit-engine/api"
	"github.com/learnxtrade/credit-engine/config"
	"github.com/learnxtrade/credit-engine/enroll"
	"github.com/learnxtrade/credit-engine/ledger"
	"github.com/learnxtrade/credit-engine/payment"
	"github.com/learnxtrade/credit-engine/store/sqlite"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Credit ledger and enrollment purchase engine",
	}
	rootCmd.AddCommand(newServeCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		dbPath     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// Flag overrides
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("db") {
				cfg.Server.DBPath = dbPath
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to TOML config file")
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	cmd.Flags().StringVar(&dbPath, "db", "credits.db", "SQLite database path (\":memory:\" for in-memory)")
	return cmd
}

func serve(cfg config.Config) error {
	// Initialize store
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Wire domain layers
	creditLedger := ledger.New(store)

	rate, err := cfg.Rate()
	if err != nil {
		return err
	}

	var processor payment.Processor
	if cfg.Payment.APIURL != "" {
		processor = payment.NewHTTPProcessor(cfg.Payment.APIURL, cfg.Payment.SecretKey, cfg.Payment.Recipient, cfg.RequestTimeout())
	} else {
		log.Println("No payment api_url configured, using local processor (dev only)")
		processor = payment.LocalProcessor{}
	}
	gateway := payment.NewGateway(creditLedger, store, processor, rate)

	var catalog enroll.Catalog
	if cfg.Catalog.URL != "" {
		catalog = enroll.NewHTTPCatalog(cfg.Catalog.URL, cfg.RequestTimeout())
	} else {
		catalog = enroll.NewStaticCatalog(cfg.Catalog.StaticPrices)
	}
	coordinator := enroll.NewCoordinator(creditLedger, store, catalog)

	var verifier payment.Verifier
	if cfg.Payment.WebhookSecret != "" {
		verifier = payment.NewHMACVerifier(cfg.Payment.WebhookSecret)
	} else {
		log.Println("No webhook_secret configured, callback signatures are NOT checked (dev only)")
		verifier = payment.NoopVerifier{}
	}

	handler := api.NewHandler(creditLedger, gateway, coordinator, verifier, api.HeaderResolver{})
	router := api.NewRouter(handler)

	// Background intent expiry
	sweeper := api.NewIntentSweeper(gateway, cfg.IntentTTL())
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}
