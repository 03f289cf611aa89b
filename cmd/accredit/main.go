package main

import (
	"context"
	"fmt"
	"os"

	"accredit/pkg/auth"
	"accredit/pkg/client"
	"accredit/pkg/config"
	"accredit/pkg/registry"
	"accredit/pkg/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile string
	verbose    bool
	outputJSON bool
	serverAddr string
	keyPath    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "accredit",
		Short: "Federated institute registry and certificate ledger",
		Long: `Institutes admit new members by unanimous vote and issue content-hash
certificates that anyone can verify against the member registry.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "", "server address (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&keyPath, "key", "k", "", "identity key file (overrides config)")

	rootCmd.AddCommand(
		serveCmd(),
		keygenCmd(),
		identityCmd(),
		registryCmd(),
		electionCmd(),
		certCmd(),
		eventsCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if serverAddr != "" {
		cfg.Client.ServerAddress = serverAddr
	}
	if keyPath != "" {
		cfg.Client.KeyPath = keyPath
	}
	return cfg, nil
}

func setupLogger(level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// session is a connected client plus the config it was built from
type session struct {
	cfg    *config.Config
	client *client.Client
	key    *auth.Key
}

func (s *session) Close() error { return s.client.Close() }

// context bounds one request by the configured client timeout
func (s *session) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.Client.Timeout)
}

func (s *session) validatorProgram() types.ProgramID {
	return types.NamedProgram(s.cfg.Programs.Validator)
}

func (s *session) registryAddress() types.Address {
	return registry.RegistryAddress(s.validatorProgram())
}

// connect dials the configured server. Signed sessions load the identity key;
// anonymous ones can only read.
func connect(signed bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts := client.Options{AuthConfig: cfg.Auth}
	var key *auth.Key
	if signed {
		key, err = auth.LoadKey(cfg.Client.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load identity key (run 'accredit keygen'): %w", err)
		}
		opts.Key = key
	}
	c, err := client.Dial(cfg.Client.ServerAddress, opts)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, client: c, key: key}, nil
}
