package handler

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rl1809/inventory-engine/internal/core/service"
)

// FulfillmentServiceName is the health service name reporting whether the
// fulfillment scheduler is running.
const FulfillmentServiceName = "inventory.Fulfillment"

// GRPCHandler serves grpc.health.v1. The overall status is SERVING while the
// process is up; FulfillmentServiceName follows the scheduler.
type GRPCHandler struct {
	health *health.Server
	logger *zap.Logger
}

func NewGRPCHandler(logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &GRPCHandler{health: health.NewServer(), logger: logger}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(FulfillmentServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *GRPCHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
	reflection.Register(s)
}

// SchedulerStateChanged is meant to be passed to service.WithStateListener.
func (h *GRPCHandler) SchedulerStateChanged(state service.SchedulerState) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == service.SchedulerRunning {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(FulfillmentServiceName, status)
	h.logger.Info("fulfillment health changed",
		zap.String("scheduler", state.String()),
		zap.String("status", status.String()),
	)
}

// Shutdown marks every service NOT_SERVING ahead of GracefulStop.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
}
