package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/relay/internal/cmd/client"
	serverrun "github.com/rzbill/relay/internal/cmd/server"
	cfgpkg "github.com/rzbill/relay/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay status update daemon CLI",
		Long:  "Relay reliably forwards task status updates to a consumer, with per-stream checkpointing and crash recovery. This CLI manages the daemon and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the relay daemon",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			consumer, _ := cmd.Flags().GetString("consumer")
			retryMinMs, _ := cmd.Flags().GetInt64("retry-min-ms")
			retryMaxMs, _ := cmd.Flags().GetInt64("retry-max-ms")
			strict, _ := cmd.Flags().GetBool("strict-recovery")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if consumer != "" {
				cfg.ConsumerURL = consumer
			}
			if retryMinMs > 0 {
				cfg.RetryMinMs = retryMinMs
			}
			if retryMaxMs > 0 {
				cfg.RetryMaxMs = retryMaxMs
			}
			if cmd.Flags().Changed("strict-recovery") {
				cfg.StrictRecovery = strict
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Config file (JSON or YAML)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :8080)")
	serverStartCmd.Flags().String("consumer", "", "Consumer URL receiving forwarded updates")
	serverStartCmd.Flags().Int64("retry-min-ms", 0, "Initial retry interval in ms")
	serverStartCmd.Flags().Int64("retry-max-ms", 0, "Retry interval ceiling in ms")
	serverStartCmd.Flags().Bool("strict-recovery", false, "Fail boot on any unrecoverable stream")
	serverStartCmd.Flags().String("log-level", os.Getenv("RELAY_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("RELAY_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// client commands
	rootCmd.AddCommand(clientcmd.NewStatusCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewAdminCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewArchiveCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewCheckpointCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("RELAY_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
