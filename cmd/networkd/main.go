package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/emberwallet/network-go/internal/api"
	"github.com/emberwallet/network-go/internal/nodeconfig"
	"github.com/emberwallet/network-go/pkg/chainrpc"
	"github.com/emberwallet/network-go/pkg/logging"
	"github.com/emberwallet/network-go/pkg/network"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Only log warning since .env is optional
		logrus.WithError(err).Warn("Error loading .env file")
	}

	// Initialize logger
	log := logrus.New()
	log.SetFormatter(logging.NewColoredJSONFormatter())

	cfg, err := nodeconfig.ParseConfig([]string{".", "./config"})
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithFields(logrus.Fields{
			"attempted_level": cfg.Log.Level,
			"default_level":   "INFO",
		}).Warn("Invalid log level specified, defaulting to INFO")
	}

	factory := chainrpc.NewFactory(chainrpc.FactoryConfig{
		Logger:            log,
		PollInterval:      time.Duration(cfg.Chain.PollIntervalSeconds) * time.Second,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
	})

	initial := cfg.InitialProvider()
	controller, err := network.NewController(network.Config{
		Factory:         factory,
		Logger:          log,
		Provider:        &initial,
		InfuraProjectID: cfg.Infura.ProjectID,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create network controller")
	}

	controller.Watch(func(change network.Change) {
		log.WithFields(logrus.Fields{
			"slot":     string(change.Slot),
			"network":  change.Snapshot.Provider.Type,
			"chain_id": change.Snapshot.Provider.ChainID,
			"status":   change.Snapshot.Status.Status,
		}).Debug("Network state changed")
	})

	service := api.NewAPIService(cfg.API.ListenAddress, controller, log)
	defer service.Close()

	log.WithFields(logrus.Fields{
		"network": controller.GetNetworkIdentifier(),
		"address": cfg.API.ListenAddress,
	}).Info("Starting network daemon")

	if err := service.Serve(); err != nil {
		log.WithError(err).Error("API service stopped with error")
		os.Exit(1)
	}
}
