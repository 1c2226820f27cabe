package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbogacz/beacon-relay-gateway/internal/broker"
	"github.com/jbogacz/beacon-relay-gateway/internal/config"
	"github.com/jbogacz/beacon-relay-gateway/internal/handler"
	"github.com/jbogacz/beacon-relay-gateway/internal/metrics"
	"github.com/jbogacz/beacon-relay-gateway/internal/publisher"
	"github.com/jbogacz/beacon-relay-gateway/internal/runtime"
	"github.com/jbogacz/beacon-relay-gateway/internal/schema"
	"github.com/jbogacz/beacon-relay-gateway/internal/server"
	"github.com/jbogacz/beacon-relay-gateway/internal/validate"
)

func newServe(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := runtime.SetupGracefulShutdown(cmd.Context(), log)
			defer cancel()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("configuration loaded", zap.String("config", cfg.String()))

	s, err := schema.New(cfg.SchemaOptions())
	if err != nil {
		return err
	}
	m := metrics.New(nil)

	if cfg.Backend == broker.BackendKafka && cfg.Kafka.EnsureTopics && !cfg.DisablePubSub {
		topics := broker.KafkaTopics(cfg.Kafka, cfg.TopicName, cfg.DLQTopic)
		if err := broker.EnsureKafkaTopics(ctx, cfg.Kafka, topics, log.Named("kafka")); err != nil {
			return fmt.Errorf("ensure kafka topics: %w", err)
		}
	}

	pubCfg := cfg.PublisherConfig()
	pubCfg.Transport.Logger = log.Named("broker")
	pub := publisher.New(log, publisher.WithMetrics(m))
	if err := pub.Initialize(ctx, pubCfg); err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("publisher close", zap.Error(err))
		}
	}()

	h := handler.New(validate.New(s), pub, log, handler.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Metrics:      m,
	})
	err = server.New(cfg.HTTPAddr, h.Routes(), log, server.WithMaxConns(cfg.HTTPMaxConns)).Run(ctx)
	// Dead-letter forwards finish before the publisher closes.
	h.Wait()
	return err
}
