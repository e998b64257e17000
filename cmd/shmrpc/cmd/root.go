package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	channelName string
	capacity    int
	nodeCount   int
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "shmrpc",
	Short: "Shared-memory RPC channel tool",
	Long: `shmrpc drives one end of a shared-memory RPC channel.

The first process to claim a channel name becomes the master and sizes
the rings; the second becomes the slave. Run "shmrpc serve" in one
terminal and "shmrpc call" or "shmrpc bench" in another.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger(logLevel)
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&channelName, "name", "shmrpc-demo", "channel name shared by both peers")
	rootCmd.PersistentFlags().IntVar(&capacity, "capacity", 65536, "slot capacity in bytes, header included (master only)")
	rootCmd.PersistentFlags().IntVar(&nodeCount, "nodes", 32, "slots per ring (master only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// initLogger configures the global slog logger to output structured JSON
// to stderr.
func initLogger(level string) error {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(handler))
	return nil
}
