// Package cli builds the requiem command tree: a single "serve"
// subcommand that reads its configuration from flags, environment, and
// an optional config file via viper, then runs the root coordinator
// until interrupted. Generalizes a flag.FlagSet-based server subcommand
// to cobra/pflag.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Mabuchin/requiem"
	"github.com/Mabuchin/requiem/internal/quicengine"
	"github.com/Mabuchin/requiem/logging"
)

// NewRootCommand builds the requiem cobra command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use: "requiem",
		Short: "Dispatch and connection-lifecycle core for a WebTransport-capable QUIC server",
	}
	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use: "serve",
		Short: "Listen for QUIC datagrams and dispatch them to connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("requiem: read config %s: %w", configFile, err)
				}
			}
			v.SetEnvPrefix("requiem")
			v.AutomaticEnv()
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return runServe(v)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "path to a YAML/JSON/TOML config file")
	flags.String("host", "0.0.0.0", "address to listen on")
	flags.Int("port", 4433, "UDP port to listen on")
	flags.Int("socket_pool_size", 1, "number of UDP sockets to open")
	flags.Int("dispatcher_pool_size", 4, "number of dispatcher workers")
	flags.String("token_secret", "", "HMAC key for retry tokens (>=32 bytes)")
	flags.String("connection_id_secret", "", "HMAC key for connection-id derivation (>=32 bytes)")
	flags.Bool("allow_address_routing", false, "track peer address -> connection-id for migration")
	flags.String("tls_cert_file", "cert.crt", "TLS certificate path")
	flags.String("tls_key_file", "cert.key", "TLS certificate key path")
	flags.String("log_level", "info", "trace|debug|info|warn|error")

	return cmd
}

func runServe(v *viper.Viper) error {
	cfg, err := requiem.LoadConfig(v)
	if err != nil {
		return err
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.LogLevel = parseLogLevel(s)
	}

	log, err := logging.NewProduction(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("requiem: build logger: %w", err)
	}

	engine := quicengine.NewGoburrowEngine()
	srv, err := requiem.NewServer(cfg, engine, log)
	if err != nil {
		return fmt.Errorf("requiem: wire server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Log(logging.LevelInfo, "requiem serving",
		zap.String("host", cfg.Host), zap.Int("port", cfg.Port),
		zap.Int("sockets", cfg.SocketPoolSize), zap.Int("dispatchers", cfg.DispatcherPoolSize))
	return srv.Serve(ctx)
}

func parseLogLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
