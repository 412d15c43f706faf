package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/cmsengine/internal/logger"
	"github.com/nainya/cmsengine/internal/metrics"
	"github.com/nainya/cmsengine/internal/server"
	"github.com/nainya/cmsengine/pkg/clock"
)

var serveFlags struct {
	port        int
	metricsPort int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC engine service with metrics and health endpoints",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.IntVar(&serveFlags.port, "port", 0, "gRPC port (overrides config)")
	f.IntVar(&serveFlags.metricsPort, "metrics-port", 0, "Observability HTTP port (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	e, err := openEngine(cmd, func(op string, d time.Duration, err error) {
		m.RecordDbOperation(op, d, err)
		logger.GetGlobalLogger().LogDbOperation(op, d, err)
	})
	if err != nil {
		return err
	}
	defer e.Close()

	port := e.cfg.Server.GrpcPort
	if serveFlags.port != 0 {
		port = serveFlags.port
	}
	metricsPort := e.cfg.Server.MetricsPort
	if serveFlags.metricsPort != 0 {
		metricsPort = serveFlags.metricsPort
	}

	e.log.LogServerStart(port, e.cfg.Database.Path)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on %d: %w", port, err)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(e.cfg.Server.MaxMsgBytes),
		grpc.MaxSendMsgSize(e.cfg.Server.MaxMsgBytes),
		grpc.ChainUnaryInterceptor(server.GrpcMetricsInterceptor(m, e.log)),
	)
	server.Register(grpcServer, server.NewServer(server.Deps{
		Nodes:    e.store,
		Versions: e.store,
		Writer:   e.writer,
		Resolver: e.resolver,
		Clock:    clock.Real(),
		Metrics:  m,
		Log:      e.log,
	}))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Register reflection service for grpcurl/grpcui
	reflection.Register(grpcServer)

	var obs *server.ObservabilityServer
	if metricsPort != 0 {
		obs = server.NewObservabilityServer(metricsPort, reg, e.store.Ping, e.log)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.log.LogServerReady(port)
		return grpcServer.Serve(lis)
	})
	if obs != nil {
		g.Go(obs.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		e.log.LogServerShutdown()
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		if obs == nil {
			return nil
		}
		return obs.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
