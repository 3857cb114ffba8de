package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

const (
	DefaultProcessingDelay = 5 * time.Second
	DefaultIdleDelay       = 10 * time.Second
)

var ErrSchedulerRunning = errors.New("fulfillment scheduler already running")

// OrderFulfiller is the part of InventoryService the scheduler drives.
type OrderFulfiller interface {
	GetPendingOrders(ctx context.Context) ([]domain.Order, error)
	UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (domain.Order, error)
}

type SchedulerState int32

const (
	SchedulerStopped SchedulerState = iota
	SchedulerRunning
)

func (s SchedulerState) String() string {
	if s == SchedulerRunning {
		return "running"
	}
	return "stopped"
}

// FulfillmentScheduler fulfills pending orders one at a time in the
// background. Errors never leave the loop; they are logged and the next
// batch starts after the idle delay.
type FulfillmentScheduler struct {
	orders          OrderFulfiller
	notifier        port.Notifier
	logger          *zap.Logger
	processingDelay time.Duration
	idleDelay       time.Duration
	onStateChange   func(SchedulerState)

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SchedulerOption func(*FulfillmentScheduler)

// WithProcessingDelay sets the simulated processing time spent on each order.
func WithProcessingDelay(d time.Duration) SchedulerOption {
	return func(s *FulfillmentScheduler) {
		if d >= 0 {
			s.processingDelay = d
		}
	}
}

// WithIdleDelay sets the pause between batches.
func WithIdleDelay(d time.Duration) SchedulerOption {
	return func(s *FulfillmentScheduler) {
		if d >= 0 {
			s.idleDelay = d
		}
	}
}

// WithStateListener registers fn to be called on every Running/Stopped change.
func WithStateListener(fn func(SchedulerState)) SchedulerOption {
	return func(s *FulfillmentScheduler) {
		s.onStateChange = fn
	}
}

func NewFulfillmentScheduler(orders OrderFulfiller, notifier port.Notifier, logger *zap.Logger, opts ...SchedulerOption) *FulfillmentScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FulfillmentScheduler{
		orders:          orders,
		notifier:        notifier,
		logger:          logger,
		processingDelay: DefaultProcessingDelay,
		idleDelay:       DefaultIdleDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FulfillmentScheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// Start runs the loop in a new goroutine until ctx is cancelled or Stop is
// called.
func (s *FulfillmentScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		s.Run(runCtx)

		// The parent context may have ended the loop without Stop.
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		cancel()
	}()
	return nil
}

// Stop cancels the loop and waits for it to return. A commit already in
// flight is allowed to finish.
func (s *FulfillmentScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks, processing batches until ctx is cancelled.
func (s *FulfillmentScheduler) Run(ctx context.Context) {
	s.setState(SchedulerRunning)
	defer s.setState(SchedulerStopped)

	s.logger.Info("fulfillment scheduler started",
		zap.Duration("processing_delay", s.processingDelay),
		zap.Duration("idle_delay", s.idleDelay),
	)

	for ctx.Err() == nil {
		if _, err := s.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("an error occurred while processing orders", zap.Error(err))
		}
		if !sleep(ctx, s.idleDelay) {
			break
		}
	}

	s.logger.Info("fulfillment scheduler stopped")
}

// processBatch fulfills the current pending orders sequentially and returns
// how many were fulfilled. The first failure abandons the rest of the batch.
func (s *FulfillmentScheduler) processBatch(ctx context.Context) (fulfilled int, err error) {
	ctx, span := tracer.Start(ctx, "FulfillmentScheduler.processBatch")
	defer func() {
		span.SetAttributes(attribute.Int("batch.fulfilled", fulfilled))
		endSpan(span, err)
	}()

	pending, err := s.orders.GetPendingOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("get pending orders: %w", err)
	}
	span.SetAttributes(attribute.Int("batch.pending", len(pending)))
	s.logger.Info("found pending orders", zap.Int("count", len(pending)))

	for _, order := range pending {
		s.logger.Info("processing order", zap.Int64("order_id", order.ID))

		if !sleep(ctx, s.processingDelay) {
			return fulfilled, ctx.Err()
		}

		// Once started, an order's commit and notification run to completion
		// even if shutdown is requested meanwhile.
		workCtx := context.WithoutCancel(ctx)
		if _, err := s.orders.UpdateOrder(workCtx, order.ID, UpdateOrderInput{Status: domain.OrderStatusFulfilled}); err != nil {
			return fulfilled, fmt.Errorf("fulfill order %d: %w", order.ID, err)
		}
		fulfilled++

		if err := s.notifier.Send(workCtx, fmt.Sprintf("Order %d has been fulfilled.", order.ID)); err != nil {
			s.logger.Warn("failed to send notification", zap.Int64("order_id", order.ID), zap.Error(err))
		}
		s.logger.Info("order fulfilled", zap.Int64("order_id", order.ID))
	}
	return fulfilled, nil
}

func (s *FulfillmentScheduler) setState(state SchedulerState) {
	s.state.Store(int32(state))
	if s.onStateChange != nil {
		s.onStateChange(state)
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
