// Package control implements an optional registration/heartbeat loop
// against an external flowctl-style control plane, the same shape the
// contract-invocation processor wires: a plain gRPC client handle plus a
// periodic heartbeat tick describing this daemon, gated by a single feature
// flag rather than always-on. The registration and heartbeat payloads are
// logged only; no RPC is sent over the connection.
package control

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceInfo is the registration payload, logged once at startup.
type ServiceInfo struct {
	ServiceType      string
	ServiceID        string
	Address          string
	InputEventTypes  []string
	OutputEventTypes []string
	HealthEndpoint   string
	Metadata         map[string]string
}

// Heartbeat is the periodic payload built and logged on each tick.
type Heartbeat struct {
	ServiceID string
	Metrics   map[string]float64
}

// MetricsFunc supplies the current metric snapshot for each heartbeat tick.
type MetricsFunc func() map[string]float64

// Controller manages a connection to the control plane and a background
// heartbeat loop.
type Controller struct {
	logger   *zap.Logger
	endpoint string
	conn     *grpc.ClientConn
	info     ServiceInfo
	stop     chan struct{}
}

// New builds a Controller for endpoint; it does not connect until Start is
// called.
func New(endpoint string, info ServiceInfo, logger *zap.Logger) *Controller {
	return &Controller{logger: logger, endpoint: endpoint, info: info, stop: make(chan struct{})}
}

// Start creates a gRPC client for the control plane, logs the registration
// payload, and logs a heartbeat at Debug level every interval until Stop is
// called or ctx ends. Neither the registration nor the heartbeats are sent
// over the connection. A client-creation failure is logged as a warning,
// never fatal: a daemon must keep indexing even if its control plane is
// unreachable.
func (c *Controller) Start(ctx context.Context, interval time.Duration, metrics MetricsFunc) {
	conn, err := grpc.NewClient(c.endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		c.logger.Warn("failed to dial control plane", zap.String("endpoint", c.endpoint), zap.Error(err))
		return
	}
	c.conn = conn
	c.logger.Info("registering with control plane",
		zap.String("service_id", c.info.ServiceID),
		zap.String("service_type", c.info.ServiceType),
		zap.Strings("input_types", c.info.InputEventTypes),
		zap.Strings("output_types", c.info.OutputEventTypes),
	)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				hb := Heartbeat{ServiceID: c.info.ServiceID, Metrics: metrics()}
				c.logger.Debug("control plane heartbeat", zap.String("service_id", hb.ServiceID), zap.Any("metrics", hb.Metrics))
			}
		}
	}()
}

// Stop ends the heartbeat loop and closes the connection, if any.
func (c *Controller) Stop() {
	close(c.stop)
	if c.conn != nil {
		c.conn.Close()
	}
}
