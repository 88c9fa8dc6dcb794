// Command orchestrad wires the core's components into a standalone daemon:
// it exposes no domain RPC of its own (the supervisor is meant to be
// embedded directly by a host process), only a gRPC health service, an
// HTTP /health and /metrics surface, and an optional control-plane
// heartbeat loop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hirosystems/orchestra-archive/internal/analysis"
	"github.com/hirosystems/orchestra-archive/internal/config"
	"github.com/hirosystems/orchestra-archive/internal/control"
	"github.com/hirosystems/orchestra-archive/internal/logging"
	"github.com/hirosystems/orchestra-archive/internal/metrics"
	"github.com/hirosystems/orchestra-archive/internal/supervisor"
)

func main() {
	// Config must load before the logger can be built, since LOG_LEVEL
	// selects which logger to build; a config-load failure has no logger
	// to report through yet, so it goes straight to stderr.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel == "debug")
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()
	logger = logger.With(zap.String("working_dir", cfg.WorkingDir))

	reg := metrics.New()
	sup := supervisor.New(cfg.WorkingDir, analysis.BasicAnalyzer{}, logger, reg)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("address", cfg.GRPCAddr), zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("gRPC health service listening", zap.String("address", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server exited", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy",
		})
	})
	httpServer := &http.Server{Addr: cfg.HealthAddr, Handler: mux}
	go func() {
		logger.Info("HTTP health/metrics server listening", zap.String("address", cfg.HealthAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server exited", zap.Error(err))
		}
	}()

	var controller *control.Controller
	if cfg.EnableFlowctl {
		controller = control.New(cfg.FlowctlEndpoint, control.ServiceInfo{
			ServiceType:      "indexer",
			ServiceID:        "orchestrad",
			Address:          cfg.GRPCAddr,
			InputEventTypes:  []string{"anchor_chain_event", "execution_chain_event"},
			OutputEventTypes: []string{"contract_field_values", "contract_interfaces"},
			HealthEndpoint:   fmt.Sprintf("http://localhost%s/health", cfg.HealthAddr),
			Metadata:         map[string]string{"implementation": "go"},
		}, logger)
		controller.Start(context.Background(), time.Duration(cfg.FlowctlHeartbeatSeconds)*time.Second, func() map[string]float64 {
			return map[string]float64{}
		})
		defer controller.Stop()
	}

	// The supervisor is the embeddable domain API; a standalone daemon has
	// nothing to register until a host process calls
	// sup.RegisterProtocolObserver. Keep it alive and reachable for that
	// purpose instead of constructing it only to let it be garbage collected.
	_ = sup

	logger.Info("orchestrad started")
	select {}
}
