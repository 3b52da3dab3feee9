// Package ingest implements the `ingest` sub-command.
package ingest

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ledgerindex/gateway/analyzer"
	"github.com/ledgerindex/gateway/analyzer/batch"
	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/cache/kvstore"
	cmdCommon "github.com/ledgerindex/gateway/cmd/common"
	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/config"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/metrics"
	"github.com/ledgerindex/gateway/storage/coreapi"
	"github.com/ledgerindex/gateway/storage/coreapi/file"
	"github.com/ledgerindex/gateway/storage/coreapi/http"
	"github.com/ledgerindex/gateway/storage/migrations"
	"github.com/ledgerindex/gateway/storage/postgres"
)

const (
	moduleName = "ingest_service"
)

var (
	// Path to the configuration file.
	configFile string

	ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Extend the indexed ledger from a node",
		Run:   runIngest,
	}
)

func runIngest(cmd *cobra.Command, args []string) {
	// Initialize config.
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("config init failed",
			"error", err,
		)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize common environment.
	if err = cmdCommon.Init(ctx, cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := cmdCommon.Logger()

	if cfg.Ingest == nil {
		logger.Error("ingest config not provided")
		os.Exit(1)
	}

	service, err := Init(ctx, cfg.Ingest)
	if err != nil {
		os.Exit(1)
	}
	service.Start()
}

// Init prepares the database and initializes the ingest service.
func Init(ctx context.Context, cfg *config.IngestConfig) (*Service, error) {
	logger := cmdCommon.Logger().WithModule(moduleName)

	if cfg.Storage.WipeStorage {
		logger.Warn("wiping storage")
		if err := wipeStorage(ctx, cfg); err != nil {
			return nil, err
		}
		logger.Info("storage wiped")
	}

	if err := migrations.Up(cfg.Storage.Endpoint, cfg.Storage.Migrations, logger); err != nil {
		return nil, err
	}

	service, err := NewService(cfg)
	if err != nil {
		logger.Error("service failed to start",
			"error", err,
		)
		return nil, err
	}
	return service, nil
}

// wipeStorage drops the database objects. The entity cache describes the
// wiped entities, so it is dropped as well.
func wipeStorage(ctx context.Context, cfg *config.IngestConfig) error {
	logger := cmdCommon.Logger().WithModule(moduleName)

	storage, err := cmdCommon.NewClient(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	if err = storage.Wipe(ctx); err != nil {
		return err
	}
	if cfg.Cache != nil {
		if err = os.RemoveAll(entityCacheDir(cfg.Cache)); err != nil {
			return fmt.Errorf("removing entity cache: %w", err)
		}
	}
	return nil
}

func entityCacheDir(cfg *config.CacheConfig) string {
	return filepath.Join(cfg.CacheDir, "entities")
}

func transactionCacheDir(cfg *config.CacheConfig) string {
	return filepath.Join(cfg.CacheDir, "transactions")
}

// Service is the gateway's ledger extension service.
type Service struct {
	analyzer analyzer.Analyzer

	source      coreapi.TransactionSource
	entityCache kvstore.KVStore
	target      *postgres.Client
	logger      *log.Logger
}

func newSource(cfg *config.IngestConfig, logger *log.Logger) (coreapi.TransactionSource, error) {
	var live coreapi.TransactionSource
	if cfg.Source.Endpoint != "" {
		client, err := http.NewClient(cfg.Source.Endpoint, cfg.Source.Network, cfg.Source.RequestTimeout, logger)
		if err != nil {
			return nil, err
		}
		live = client
	}
	if cfg.Cache == nil {
		if live == nil {
			return nil, fmt.Errorf("neither a source endpoint nor a cache is configured")
		}
		return live, nil
	}
	return file.NewCachedSource(transactionCacheDir(cfg.Cache), live, logger)
}

// NewService creates the ingest service.
func NewService(cfg *config.IngestConfig) (*Service, error) {
	logger := cmdCommon.Logger().WithModule(moduleName)
	logger.Info("initializing ingest service", "config", cfg)

	m := metrics.NewDefaultExtensionMetrics("ledger_extension")

	source, err := newSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	var entityCache kvstore.KVStore
	if cfg.Cache != nil {
		if entityCache, err = kvstore.OpenKVStore(logger, "entities", entityCacheDir(cfg.Cache), &m); err != nil {
			_ = source.Close()
			return nil, err
		}
	}

	target, err := cmdCommon.NewClient(cfg.Storage, logger)
	if err != nil {
		_ = source.Close()
		if entityCache != nil {
			_ = entityCache.Close()
		}
		return nil, err
	}

	extender := batch.NewExtender(target, extension.NewEntityResolver(entityCache, logger), logger, common.Ptr(m))
	an, err := batch.NewAnalyzer(cfg, source, extender, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("initialized ledger extension")

	return &Service{
		analyzer:    an,
		source:      source,
		entityCache: entityCache,
		target:      target,
		logger:      logger,
	}, nil
}

// Start starts the ingest service and returns once the analyzer is done or
// the process is interrupted.
func (s *Service) Start() {
	defer s.cleanup()
	s.logger.Info("starting ingest service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.analyzer.Start(ctx)
		close(done)
	}()

	// Trap Ctrl+C and SIGTERM; the latter is issued by Kubernetes to request a shutdown.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan) // Stop catching Ctrl+C signals.

	select {
	case <-done:
		s.logger.Info("ledger extension has completed")
	case <-signalChan:
		s.logger.Info("received interrupt, shutting down")
		// Cancel the analyzer's context and wait for it to exit cleanly.
		cancel()
		signal.Stop(signalChan) // Let the default handler handle ctrl+C so people can kill the process in a hurry.
		<-done
		s.logger.Info("ledger extension has exited cleanly")
	}
}

// cleanup cleans up resources used by the service.
func (s *Service) cleanup() {
	if err := s.source.Close(); err != nil {
		s.logger.Error("failed to cleanly close transaction source", "err", err)
	}
	if s.entityCache != nil {
		if err := s.entityCache.Close(); err != nil {
			s.logger.Error("failed to cleanly close entity cache", "err", err)
		}
	}
	s.target.Close()
	s.logger.Info("gateway db connection closed cleanly")
}

// Register registers the ingest sub-command.
func Register(parentCmd *cobra.Command) {
	ingestCmd.Flags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	parentCmd.AddCommand(ingestCmd)
}
