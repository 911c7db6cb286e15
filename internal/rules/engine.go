// Package rules evaluates recommendation rules against customer activity.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/observability"
	"github.com/opensource-finance/harrier/internal/statistics"
)

// Cache location of the memoized active rule list.
const (
	RulesCacheNamespace = "rules"
	ActiveRulesCacheKey = "active"
)

const defaultMaxWorkers = 8

var tracer = otel.Tracer("harrier-engine")

// Dependencies are the collaborators of an Engine. Cache and Bus are optional.
type Dependencies struct {
	Rules     domain.RuleStore
	Evaluator *Evaluator
	Log       *audit.Log
	Catalog   *catalog.Catalog
	Stats     *statistics.Aggregator
	Cache     domain.ResultCache
	Bus       domain.EventBus
}

// Engine runs every active rule for a customer and turns the eligible ones
// into product offers.
type Engine struct {
	rules     domain.RuleStore
	evaluator *Evaluator
	log       *audit.Log
	catalog   *catalog.Catalog
	stats     *statistics.Aggregator
	cache     domain.ResultCache
	bus       domain.EventBus

	maxWorkers  int
	evalTimeout time.Duration

	// cacheMu orders active rule cache writes against invalidations.
	// generation is bumped on every invalidation; a load that started
	// under an older generation must not be written back.
	cacheMu    sync.Mutex
	generation uint64
}

// NewEngine creates a rule engine.
func NewEngine(deps Dependencies, cfg domain.EngineConfig) (*Engine, error) {
	switch {
	case deps.Rules == nil:
		return nil, errors.New("rule store is required")
	case deps.Evaluator == nil:
		return nil, errors.New("evaluator is required")
	case deps.Log == nil:
		return nil, errors.New("execution log is required")
	case deps.Catalog == nil:
		return nil, errors.New("catalog is required")
	case deps.Stats == nil:
		return nil, errors.New("statistics aggregator is required")
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	return &Engine{
		rules:       deps.Rules,
		evaluator:   deps.Evaluator,
		log:         deps.Log,
		catalog:     deps.Catalog,
		stats:       deps.Stats,
		cache:       deps.Cache,
		bus:         deps.Bus,
		maxWorkers:  maxWorkers,
		evalTimeout: cfg.EvalTimeout,
	}, nil
}

// ruleResult is the evaluation of one rule within a Recommend call.
type ruleResult struct {
	rule    *domain.Rule
	outcome Outcome
}

// Recommend evaluates all active rules for customerID and returns the offers
// of the eligible ones, in rule order. It fails only when the active rules
// cannot be loaded.
func (e *Engine) Recommend(ctx context.Context, customerID string) ([]domain.ProductOffer, error) {
	return e.recommend(ctx, "", customerID)
}

// RecommendRequest serves a request received from the bus. The request id is
// carried into the issued event.
func (e *Engine) RecommendRequest(ctx context.Context, req domain.RecommendationRequest) ([]domain.ProductOffer, error) {
	return e.recommend(ctx, req.RequestID, req.CustomerID)
}

func (e *Engine) recommend(ctx context.Context, requestID, customerID string) ([]domain.ProductOffer, error) {
	start := time.Now()
	defer func() { observability.RecommendDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := tracer.Start(ctx, "rules.Recommend",
		trace.WithAttributes(attribute.String("customer.id", customerID)),
	)
	defer span.End()

	active, err := e.ActiveRules(ctx)
	if err != nil {
		observability.RecommendationsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load active rules")
		return nil, err
	}

	results := e.evaluateAll(ctx, active, customerID)

	offers := make([]domain.ProductOffer, 0, len(results))
	for _, res := range results {
		e.record(ctx, res, customerID)

		if !res.outcome.Eligible {
			continue
		}
		e.stats.RecordTrigger(res.rule.ID, res.rule.Name, customerID)
		offers = append(offers, e.catalog.Offer(res.rule))
	}

	span.SetAttributes(
		attribute.Int("rules.evaluated", len(results)),
		attribute.Int("rules.eligible", len(offers)),
	)
	observability.RecommendationsTotal.WithLabelValues("success").Inc()

	slog.Debug("recommendation complete",
		"customer_id", customerID,
		"rules_evaluated", len(results),
		"offers", len(offers),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	e.publish(ctx, domain.RecommendationIssued{
		RequestID:      requestID,
		CustomerID:     customerID,
		Offers:         offers,
		EvaluatedRules: len(results),
		EligibleRules:  len(offers),
		IssuedAt:       time.Now().UnixMilli(),
	})

	return offers, nil
}

// evaluateAll evaluates rules in parallel, bounded by maxWorkers. Results
// keep the order of rules.
func (e *Engine) evaluateAll(ctx context.Context, rules []*domain.Rule, customerID string) []ruleResult {
	results := make([]ruleResult, len(rules))

	var g errgroup.Group
	g.SetLimit(e.maxWorkers)

	for i, rule := range rules {
		g.Go(func() error {
			results[i] = ruleResult{rule: rule, outcome: e.evaluateRule(ctx, rule, customerID)}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Engine) evaluateRule(ctx context.Context, rule *domain.Rule, customerID string) Outcome {
	start := time.Now()

	if e.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.evalTimeout)
		defer cancel()
	}

	out := e.evaluator.Evaluate(ctx, rule.Condition, customerID)
	if out.Err == nil && ctx.Err() != nil {
		out = Outcome{Err: fmt.Errorf("rule evaluation aborted: %w", ctx.Err())}
	}

	observability.RuleEvaluationDuration.Observe(time.Since(start).Seconds())
	switch {
	case out.Err != nil:
		observability.RuleEvaluationsTotal.WithLabelValues(observability.OutcomeError).Inc()
	case out.Eligible:
		observability.RuleEvaluationsTotal.WithLabelValues(observability.OutcomeEligible).Inc()
	default:
		observability.RuleEvaluationsTotal.WithLabelValues(observability.OutcomeIneligible).Inc()
	}

	return out
}

// record writes the execution log row for res. A failed write is logged and
// counted; it never fails the recommendation.
func (e *Engine) record(ctx context.Context, res ruleResult, customerID string) {
	if _, err := e.log.Record(ctx, res.rule.ID, customerID, res.outcome.Eligible, details(res)); err != nil {
		observability.ExecutionLogFailures.Inc()
		slog.Error("failed to write execution log",
			"rule_id", res.rule.ID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

func details(res ruleResult) string {
	if res.outcome.Err != nil {
		return fmt.Sprintf("ERROR: %v", res.outcome.Err)
	}
	return fmt.Sprintf("Rule: %s, Condition: %s", res.rule.Name, res.rule.ConditionType())
}

// ActiveRules returns the active rules in evaluation order, from the cache
// when possible. Cache failures fall through to the rule store.
func (e *Engine) ActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	if e.cache == nil {
		return e.loadActiveRules(ctx)
	}

	data, err := e.cache.Get(ctx, RulesCacheNamespace, ActiveRulesCacheKey)
	if err != nil {
		slog.Warn("active rule cache read failed", "error", err)
	}
	if err == nil && data != nil {
		var cached []*domain.Rule
		if err := json.Unmarshal(data, &cached); err == nil {
			observability.RuleCacheHits.Inc()
			return cached, nil
		}
		slog.Warn("discarding undecodable active rule cache entry")
	}
	observability.RuleCacheMisses.Inc()

	e.cacheMu.Lock()
	gen := e.generation
	e.cacheMu.Unlock()

	active, err := e.loadActiveRules(ctx)
	if err != nil {
		return nil, err
	}

	e.storeActiveRules(ctx, gen, active)
	return active, nil
}

func (e *Engine) loadActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	active, err := e.rules.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	return active, nil
}

// storeActiveRules memoizes active unless the rules were invalidated after
// the load began.
func (e *Engine) storeActiveRules(ctx context.Context, gen uint64, active []*domain.Rule) {
	data, err := json.Marshal(active)
	if err != nil {
		slog.Warn("failed to encode active rules for cache", "error", err)
		return
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	if gen != e.generation {
		slog.Debug("rules changed during load, skipping cache write")
		return
	}
	if err := e.cache.Put(ctx, RulesCacheNamespace, ActiveRulesCacheKey, data); err != nil {
		slog.Warn("active rule cache write failed", "error", err)
	}
}

// InvalidateRules drops the memoized active rule list and tells other
// instances to do the same. Call it after every rule mutation.
func (e *Engine) InvalidateRules(ctx context.Context) {
	e.evictActiveRules(ctx)

	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.TopicRulesChanged, nil); err != nil {
		slog.Warn("failed to publish rule change", "error", err)
	}
}

func (e *Engine) evictActiveRules(ctx context.Context) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	e.generation++
	if e.cache == nil {
		return
	}
	if err := e.cache.EvictNamespace(ctx, RulesCacheNamespace); err != nil {
		slog.Warn("failed to invalidate active rule cache", "error", err)
	}
}

// WatchRuleChanges evicts the local active rule list whenever any instance
// on the bus reports a rule mutation.
func (e *Engine) WatchRuleChanges(ctx context.Context) (domain.Subscription, error) {
	if e.bus == nil {
		return nil, errors.New("event bus is required to watch rule changes")
	}
	return e.bus.Subscribe(ctx, domain.TopicRulesChanged, func(ctx context.Context, _ *domain.Message) error {
		e.evictActiveRules(ctx)
		return nil
	})
}

// Validate reports whether cond can be evaluated.
func (e *Engine) Validate(cond domain.Condition) error {
	return e.evaluator.Validate(cond)
}

func (e *Engine) publish(ctx context.Context, event domain.RecommendationIssued) {
	if e.bus == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to encode recommendation event", "error", err)
		return
	}

	if err := e.bus.Publish(ctx, domain.TopicRecommendationIssued, payload); err != nil {
		slog.Warn("failed to publish recommendation event",
			"customer_id", event.CustomerID,
			"error", err,
		)
	}
}
