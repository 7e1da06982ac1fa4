package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"xform/internal/config"
	"xform/internal/engine"
	"xform/internal/logging"
	"xform/source/kafka"
)

func main() {
	cfgPath := flag.String("config", "", "engine config YAML (optional, XFORM_ENGINE__* overrides)")
	pipelinePath := flag.String("pipeline", "", "pipeline YAML, overrides the config file")
	flag.Parse()

	logging.InitFromEnv()

	cfg, err := config.LoadEngineConfig(*cfgPath)
	if err != nil {
		logging.L().Error("load config", "err", err)
		os.Exit(1)
	}
	if *pipelinePath != "" {
		cfg.Pipeline = *pipelinePath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	kafka.Register("sarama", func() kafka.Adapter { return &kafka.SaramaDriver{} })

	e, err := engine.Bootstrap(ctx, cfg, engine.Options{ServeMetrics: true})
	if err != nil {
		logging.L().Error("bootstrap", "err", err)
		os.Exit(1)
	}

	if err := e.Run(ctx); err != nil {
		logging.L().Error("engine", "err", err)
		os.Exit(1)
	}
}
