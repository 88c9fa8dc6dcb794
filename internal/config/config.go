// Package config loads the ambient, process-wide configuration read from
// the environment. Only cmd/orchestrad reads it; every core package
// (blockstore, contractproc, protocolobserver, supervisor) takes its
// configuration as explicit constructor arguments and never touches the
// environment itself.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the daemon's environment-sourced configuration.
type Config struct {
	// WorkingDir is the root directory the block store and every contract
	// database are created under.
	WorkingDir string
	// HealthAddr is the address the /health and /metrics HTTP server binds.
	HealthAddr string
	// GRPCAddr is the address the gRPC health service binds.
	GRPCAddr string
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
	// EnableFlowctl gates the optional control-plane registration loop.
	EnableFlowctl bool
	// FlowctlEndpoint is the control-plane address to register with.
	FlowctlEndpoint string
	// FlowctlHeartbeatSeconds is the interval between heartbeats.
	FlowctlHeartbeatSeconds int
}

// Load reads Config from the environment, applying defaults for anything
// unset.
func Load() (*Config, error) {
	cfg := &Config{
		WorkingDir:      getEnvOrDefault("ORCHESTRAD_WORKING_DIR", "./data"),
		HealthAddr:      getEnvOrDefault("HEALTH_ADDR", ":8089"),
		GRPCAddr:        getEnvOrDefault("GRPC_ADDR", ":50055"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		EnableFlowctl:   strings.EqualFold(os.Getenv("ENABLE_FLOWCTL"), "true"),
		FlowctlEndpoint: getEnvOrDefault("FLOWCTL_ENDPOINT", "localhost:8080"),
	}

	heartbeat, err := strconv.Atoi(getEnvOrDefault("FLOWCTL_HEARTBEAT_SECONDS", "10"))
	if err != nil {
		return nil, fmt.Errorf("FLOWCTL_HEARTBEAT_SECONDS: %w", err)
	}
	cfg.FlowctlHeartbeatSeconds = heartbeat

	if !strings.HasPrefix(cfg.HealthAddr, ":") {
		cfg.HealthAddr = ":" + cfg.HealthAddr
	}
	if !strings.HasPrefix(cfg.GRPCAddr, ":") {
		cfg.GRPCAddr = ":" + cfg.GRPCAddr
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
