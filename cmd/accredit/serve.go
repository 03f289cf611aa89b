package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accredit/pkg/auth"
	"accredit/pkg/certificate"
	"accredit/pkg/events"
	"accredit/pkg/ledger"
	"accredit/pkg/metrics"
	"accredit/pkg/registry"
	"accredit/pkg/server"
	"accredit/pkg/types"
	"accredit/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var (
		address        string
		metricsAddress string
		dataDir        string
		inMemory       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the validator and certificate programs",
		Long: `Serve the institute registry, admission elections and certificate ledger
over gRPC. Accounts are kept in badger and events in a sqlite audit log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			if cmd.Flags().Changed("metrics-address") {
				cfg.Server.MetricsAddress = metricsAddress
			}
			if dataDir != "" {
				cfg.Storage.DataDir = dataDir
			}
			if inMemory {
				cfg.Storage.DataDir = ""
			}

			level, err := cfg.Level()
			if err != nil {
				return err
			}
			logger := setupLogger(level)
			defer logger.Sync()

			blockCache, _ := cfg.Storage.BlockCacheBytes()
			valueLogSize, _ := cfg.Storage.ValueLogFileBytes()
			store, err := ledger.OpenBadger(
				ledger.WithDataDir(cfg.Storage.DataDir),
				ledger.WithLogger(logger.Named("store")),
				ledger.WithBlockCacheSize(blockCache),
				ledger.WithValueLogFileSize(valueLogSize),
				ledger.WithGCInterval(cfg.Storage.GCInterval))
			if err != nil {
				return err
			}
			defer store.Close()
			logger.Info("Storage configured",
				zap.String("block_cache", utils.FormatDataSize(blockCache)),
				zap.String("value_log_file", utils.FormatDataSize(valueLogSize)))

			promRegistry := prometheus.NewRegistry()
			promRegistry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(promRegistry)

			emitter := events.Log(logger.Named("events"))
			var serverOpts []server.Option
			if cfg.Storage.AuditLog {
				audit, err := events.OpenAuditLog(cfg.Storage.DataDir, logger.Named("audit"))
				if err != nil {
					return err
				}
				defer audit.Close()
				emitter = events.Multi(emitter, audit)
				serverOpts = append(serverOpts, server.WithEventLister(audit))
			}

			validator := registry.NewValidator(store,
				registry.WithProgramID(types.NamedProgram(cfg.Programs.Validator)),
				registry.WithLogger(logger.Named("validator")),
				registry.WithEmitter(emitter),
				registry.WithMetrics(m),
				registry.WithRegistrySlack(cfg.Programs.RegistrySlack),
				registry.WithMaxVoters(cfg.Programs.MaxVoters))
			filterBits, _ := cfg.Programs.FilterBits()
			certs := certificate.NewLedger(store,
				certificate.WithProgramID(types.NamedProgram(cfg.Programs.Certificate)),
				certificate.WithTrustedValidator(validator.ProgramID()),
				certificate.WithLogger(logger.Named("certificates")),
				certificate.WithEmitter(emitter),
				certificate.WithMetrics(m),
				certificate.WithFilterSize(filterBits, certificate.DefaultFilterHashes))
			if err := certs.LoadFilter(cmd.Context()); err != nil {
				return fmt.Errorf("failed to load certificate filter: %w", err)
			}

			if reg, err := validator.Registry(cmd.Context()); err == nil {
				m.RegistryMembers.Set(float64(len(reg.Members)))
			}
			active := types.StatusActive
			if open, err := validator.Elections(cmd.Context(), &active); err == nil {
				m.ElectionsActive.Set(float64(len(open)))
			}

			serverOpts = append(serverOpts,
				server.WithAddress(cfg.Server.Address),
				server.WithAuthConfig(cfg.Auth),
				server.WithLogger(logger.Named("server")))
			srv, err := server.New(validator, certs, serverOpts...)
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			var metricsServer *http.Server
			if cfg.Server.MetricsAddress != "" {
				endpoint := metrics.NewEndpoint(promRegistry, srv.Ready, logger.Named("metrics"))
				metricsServer = metrics.StartServer(cfg.Server.MetricsAddress, endpoint, logger)
			}

			logger.Info("Accredit node running",
				zap.String("address", cfg.Server.Address),
				zap.String("registry", validator.RegistryAddress().String()),
				zap.String("validator_program", validator.ProgramID().String()),
				zap.String("certificate_program", certs.ProgramID().String()))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("Shutting down", zap.String("signal", sig.String()))

			if metricsServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := metricsServer.Shutdown(ctx); err != nil {
					logger.Warn("Metrics server shutdown failed", zap.Error(err))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "gRPC listen address")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "metrics listen address (empty disables)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory")
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "keep all state in memory")
	return cmd
}

func keygenCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an institute identity key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Client.KeyPath
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("key already exists at %s (use --force to replace)", path)
			}
			key, err := auth.GenerateKey()
			if err != nil {
				return err
			}
			if err := key.Save(path); err != nil {
				return err
			}
			return emit(map[string]string{"identity": key.Identity().String(), "path": path}, func() string {
				return renderPanel("Identity created", []field{
					{"Identity", key.Identity().String()},
					{"Key file", path},
				})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key")
	cmd.AddCommand(tlsCertCmd())
	return cmd
}

func tlsCertCmd() *cobra.Command {
	var (
		hosts    []string
		validity time.Duration
		certPath string
		keyOut   string
	)

	cmd := &cobra.Command{
		Use:   "tls",
		Short: "Generate a self-signed server TLS certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.GenerateServerCertificate(hosts, validity, certPath, keyOut); err != nil {
				return err
			}
			return emit(map[string]string{"cert": certPath, "key": keyOut}, func() string {
				return renderPanel("TLS certificate created", []field{
					{"Certificate", certPath},
					{"Key", keyOut},
					{"Valid for", validity.String()},
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&hosts, "hosts", []string{"localhost", "127.0.0.1"}, "DNS names and IPs")
	cmd.Flags().DurationVar(&validity, "validity", 365*24*time.Hour, "certificate lifetime")
	cmd.Flags().StringVar(&certPath, "cert", "server.crt", "certificate output path")
	cmd.Flags().StringVar(&keyOut, "key-out", "server.key", "private key output path")
	return cmd
}

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Print the identity of the configured key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			key, err := auth.LoadKey(cfg.Client.KeyPath)
			if err != nil {
				return err
			}
			return emit(map[string]string{"identity": key.Identity().String()}, func() string {
				return key.Identity().String()
			})
		},
	}
}
