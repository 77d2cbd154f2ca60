// Package main implements mentorctl, a command-line tutor that runs the
// solving pipeline in-process against the local stack.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/mathmentor/internal/app"
	"github.com/ashita-ai/mathmentor/internal/config"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	envFile    string
	verbose    bool
	jsonOut    bool
	sqlitePath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mentorctl",
	Short: "Solve and review math problems from the terminal",
	Long: `mentorctl runs the math tutoring pipeline in-process. It reads the same
MENTOR_* environment as the server and stores outcomes in the local SQLite
file unless DATABASE_URL is set.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "db", "", "override MENTOR_SQLITE_PATH")

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(clarifyCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(kbCmd)
}

// withApp loads configuration, assembles the stack, and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, cfg config.Config) error) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return fn(ctx, a, cfg)
}

// newLogger writes text logs to stderr. Without --verbose only warnings
// and errors get through so the answer stays readable.
func newLogger(level string) *slog.Logger {
	lvl := slog.LevelWarn
	if verbose {
		switch strings.ToLower(level) {
		case "debug":
			lvl = slog.LevelDebug
		default:
			lvl = slog.LevelInfo
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
