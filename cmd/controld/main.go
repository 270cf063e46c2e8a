package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelfleet/controld/internal/cloudapi"
	"github.com/modelfleet/controld/internal/config"
	"github.com/modelfleet/controld/internal/egress"
	"github.com/modelfleet/controld/internal/events"
	"github.com/modelfleet/controld/internal/fleet"
	"github.com/modelfleet/controld/internal/httpserver"
	"github.com/modelfleet/controld/internal/lifecycle"
	"github.com/modelfleet/controld/internal/ollama"
	"github.com/modelfleet/controld/internal/pull"
	"github.com/modelfleet/controld/internal/relay"
	"github.com/modelfleet/controld/internal/report"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	logger.Info().Str("ollama_host", cfg.OllamaHost).Bool("egress", cfg.EgressEnabled()).Msg("starting controld")

	backend, err := ollama.NewClient(ollama.ClientConfig{BaseURL: cfg.OllamaHost})
	if err != nil {
		logger.Fatal().Err(err).Msg("backend client init")
	}

	// AWS clients are only built when something consumes them, so a
	// laptop deployment with direct egress needs no credentials.
	var clouds *cloudapi.Clients
	if cfg.EgressEnabled() || cfg.FleetConfigured() || cfg.RunReportBucket != "" {
		clouds, err = cloudapi.New(context.Background())
		if err != nil {
			logger.Fatal().Err(err).Msg("aws client init")
		}
	}

	var provisioner *egress.Provisioner
	if cfg.EgressEnabled() {
		provisioner, err = egress.NewProvisioner(clouds.EC2, egress.Config{
			SubnetID:     cfg.SubnetID,
			AllocationID: cfg.AllocationID,
			RouteTableID: cfg.RouteTableID,
			Logger:       logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("egress provisioner init")
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka publisher init")
		}
		defer kp.Close()
		publisher = kp
	}

	var archiver report.Archiver = report.NopArchiver{}
	if cfg.RunReportBucket != "" {
		archiver, err = report.NewS3Archiver(clouds.S3, cfg.RunReportBucket, cfg.RunReportPrefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("run report archiver init")
		}
	}

	poller := pull.NewPoller(backend, pull.Config{Logger: logger})
	orchestrator := lifecycle.New(lifecycle.Config{
		Provisioner: provisioner,
		Poller:      poller,
		Publisher:   publisher,
		Archiver:    archiver,
		Logger:      logger,
	})

	var scaler *fleet.Scaler
	if clouds != nil {
		scaler = fleet.NewScaler(clouds.ECS, clouds.AutoScaling, fleet.Config{
			ClusterName:          cfg.ClusterName,
			ServiceName:          cfg.ServiceName,
			AutoScalingGroupName: cfg.AutoScalingGroupName,
			Logger:               logger,
		})
	} else {
		scaler = fleet.NewScaler(nil, nil, fleet.Config{Logger: logger})
	}

	server := httpserver.New(backend, orchestrator, scaler, relay.New(backend, logger), logger)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("controld listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	waitForShutdown(logger, httpServer)
}

func waitForShutdown(logger zerolog.Logger, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
