// Package worker serves recommendation requests received from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/observability"
)

// Recommender evaluates a customer; rules.Engine implements it.
type Recommender interface {
	RecommendRequest(ctx context.Context, req domain.RecommendationRequest) ([]domain.ProductOffer, error)
}

// Worker consumes harrier.recommendation.requested messages. The engine
// publishes the issued event; request-style messages also get the offers
// as a direct reply.
type Worker struct {
	bus    domain.EventBus
	engine Recommender

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, engine Recommender) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the request topic.
func (w *Worker) Start() error {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return errWorkerStopped
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRecommendationRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicRecommendationRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("recommendation worker started", "topic", domain.TopicRecommendationRequested)
	return nil
}

var (
	errMissingCustomer = errors.New("customerId is required")
	errWorkerStopped   = errors.New("worker is stopped")
)

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	// Add under mu so no request joins the group once Stop is waiting on it.
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return errWorkerStopped
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	start := time.Now()

	var req domain.RecommendationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		observability.WorkerMessagesTotal.WithLabelValues("invalid").Inc()
		slog.Error("failed to parse recommendation request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.CustomerID == "" {
		observability.WorkerMessagesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("message %s: %w", msg.ID, errMissingCustomer)
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	offers, err := w.engine.RecommendRequest(ctx, req)
	if err != nil {
		observability.WorkerMessagesTotal.WithLabelValues("error").Inc()
		slog.Error("recommendation failed",
			"request_id", req.RequestID,
			"customer_id", req.CustomerID,
			"error", err,
		)
		return err
	}

	if payload, err := json.Marshal(offers); err == nil {
		if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
			slog.Warn("failed to reply to recommendation request",
				"request_id", req.RequestID,
				"error", err,
			)
		}
	}

	observability.WorkerMessagesTotal.WithLabelValues("success").Inc()
	slog.Info("recommendation request processed",
		"request_id", req.RequestID,
		"customer_id", req.CustomerID,
		"offers", len(offers),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop unsubscribes and waits for in-flight requests. Later messages are
// rejected.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()

	slog.Info("recommendation worker stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
