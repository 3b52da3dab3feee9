// Package status implements the `status` sub-command.
package status

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerindex/gateway/api"
	"github.com/ledgerindex/gateway/cmd/common"
	"github.com/ledgerindex/gateway/config"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/metrics"
	"github.com/ledgerindex/gateway/storage/postgres"
)

const (
	moduleName = "status"
)

var (
	// Path to the configuration file.
	configFile string

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Serve the ledger extension status API",
		Run:   runServer,
	}
)

func runServer(cmd *cobra.Command, args []string) {
	// Initialize config.
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("config init failed",
			"error", err,
		)
		os.Exit(1)
	}

	// Initialize common environment.
	if err = common.Init(context.Background(), cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := common.Logger()

	if cfg.Status == nil {
		logger.Error("status config not provided")
		os.Exit(1)
	}

	service, err := Init(cfg.Status)
	if err != nil {
		os.Exit(1)
	}
	service.Start()
}

// Init initializes the status service.
func Init(cfg *config.StatusConfig) (*Service, error) {
	logger := common.Logger()

	service, err := NewService(cfg)
	if err != nil {
		logger.Error("service failed to start",
			"error", err,
		)
		return nil, err
	}
	return service, nil
}

// Service is the gateway's status API service.
type Service struct {
	address string
	api     *api.StatusAPI
	target  *postgres.Client
	logger  *log.Logger
}

// NewService creates a new status API service.
func NewService(cfg *config.StatusConfig) (*Service, error) {
	logger := common.Logger().WithModule(moduleName)

	target, err := common.NewClient(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		address: cfg.Endpoint,
		api: api.NewStatusAPI(
			api.NewStorageStatusSource(target),
			cfg.AllowedOrigins,
			metrics.NewDefaultRequestMetrics(moduleName),
			logger,
		),
		target: target,
		logger: logger,
	}, nil
}

// Start starts the status API service. It only returns once the server
// fails.
func (s *Service) Start() {
	defer s.target.Close()
	s.logger.Info("starting status service at " + s.address)

	server := &http.Server{
		Addr:           s.address,
		Handler:        s.api.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Error("shutting down",
		"error", server.ListenAndServe(),
	)
}

// Register registers the status sub-command.
func Register(parentCmd *cobra.Command) {
	statusCmd.Flags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	parentCmd.AddCommand(statusCmd)
}
