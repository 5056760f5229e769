package cli

import (
	"log/slog"
	"os"
	"strings"

	"exam-deployment-service/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the CLI.
func Execute() error {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "examd",
		Short:        "Exam deployment and submission service",
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.String("config", "config/config.yaml", "path to YAML config")
	f.String("port", "", "port to listen on")
	f.String("log-level", "", "log level: debug, info, warn, error")
	f.String("log-format", "", "log format: text or json")
	f.String("jwt-secret", "", "HMAC secret used to verify bearer tokens")
	f.String("postgres-url", "", "postgres DSN; in-memory storage when empty")
	f.String("redis-addr", "", "redis address; in-process caches when empty")
	f.String("redis-password", "", "redis password")
	f.Int("redis-db", 0, "redis database number")
	f.String("attempt-ttl", "", "lifetime of an in-progress attempt, e.g. 24h")
	f.String("snapshot-ttl", "", "snapshot cache lifetime, e.g. 10m")

	cmd.AddCommand(NewStartCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())
	return cmd
}

// viperForCmd binds a command's flags and EXAMD_* environment variables to
// a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the YAML file named by --config and layers flags and
// environment on top.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	v := viperForCmd(cmd)
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return cfg, nil, err
	}
	cfg.Override(v)
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	return cfg, setupLogging(cfg), nil
}

func setupLogging(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
