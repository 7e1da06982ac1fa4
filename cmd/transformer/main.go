// Command transformer serves a single expression stage over the plugin
// protocol so engines can chain to it with a grpc transformer entry.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"xform/internal/config"
	"xform/internal/expression"
	"xform/internal/logging"
	"xform/internal/plugin"
	"xform/internal/telemetry"
	"xform/internal/transform"
	"xform/internal/transport"
)

func main() {
	listenAddr := flag.String("listen", ":50052", "address to listen on")
	expr := flag.String("expression", "", "expression evaluated per message (XFORM_TRANSFORMER__EXPRESSION overrides)")
	cfgPath := flag.String("config", "", "transformer config YAML (optional)")
	metricsPort := flag.Int("metrics-port", 0, "serve /metrics on this port, 0 = off")
	flag.Parse()

	logging.InitFromEnv()

	tc, err := config.LoadTransformerConfig("", *cfgPath, config.Transformer{Expression: *expr})
	if err != nil {
		logging.L().Error("transformer: load config", "err", err)
		os.Exit(1)
	}
	eval, err := expression.Compile(tc.Expression)
	if err != nil {
		logging.L().Error("transformer: compile", "err", err)
		os.Exit(1)
	}
	m, err := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logging.L().Error("transformer: metrics", "err", err)
		os.Exit(1)
	}
	stage := transform.NewStage(eval,
		transform.WithDefaultContentType(tc.DefaultContentType),
		transform.WithMetrics(m),
	)

	srv, err := transport.Listen(*listenAddr, func(s grpc.ServiceRegistrar) {
		plugin.Register(s, plugin.NewServer("transformer", stage))
	})
	if err != nil {
		logging.L().Error("transformer: failed to listen", "err", err)
		os.Exit(1)
	}
	srv.SetServing(plugin.ServiceName, true)
	if *metricsPort > 0 {
		telemetry.Expose(*metricsPort)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()

	logging.L().Info("transformer plugin listening", "addr", srv.Addr().String(), "expression", tc.Expression)
	if err := srv.Serve(); err != nil {
		logging.L().Error("transformer: failed to serve", "err", err)
		os.Exit(1)
	}
}
