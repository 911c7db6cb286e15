package rules

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/audit"
	eventbus "github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/observability"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/statistics"
	"github.com/opensource-finance/harrier/internal/testsupport"
)

type testEnv struct {
	repo   *repository.SQLRepository
	engine *Engine
	stats  *statistics.Aggregator
	cache  *cache.MemoryCache
	log    *audit.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-engine-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return newTestEnvWith(t, repo, audit.New(repo), nil)
}

func newTestEnvWith(t *testing.T, repo *repository.SQLRepository, log *audit.Log, bus domain.EventBus) *testEnv {
	t.Helper()

	evaluator, err := NewEvaluator(repo)
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}

	env := &testEnv{
		repo:  repo,
		stats: statistics.New(),
		cache: cache.NewMemoryCache(),
		log:   log,
	}

	env.engine, err = NewEngine(Dependencies{
		Rules:     repo,
		Evaluator: evaluator,
		Log:       log,
		Catalog:   catalog.Default(),
		Stats:     env.stats,
		Cache:     env.cache,
		Bus:       bus,
	}, domain.EngineConfig{MaxWorkers: 4, EvalTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return env
}

func (env *testEnv) addRule(t *testing.T, name, productType string, priority int, cond domain.Condition) *domain.Rule {
	t.Helper()

	rule := &domain.Rule{
		Name:        name,
		Description: name + " description",
		ProductType: productType,
		Condition:   cond,
		Priority:    priority,
		Active:      true,
	}
	if err := env.repo.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("failed to create rule %s: %v", name, err)
	}
	env.engine.InvalidateRules(context.Background())
	return rule
}

func (env *testEnv) addTransaction(t *testing.T, customerID, productID, productType, txType, amount string) {
	t.Helper()
	ctx := context.Background()

	if err := env.repo.SaveProduct(ctx, &domain.Product{ID: productID, Type: productType, Name: productType}); err != nil {
		t.Fatalf("failed to save product: %v", err)
	}
	err := env.repo.SaveTransaction(ctx, &domain.Transaction{
		ProductID:  productID,
		CustomerID: customerID,
		Type:       txType,
		Amount:     decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := NewEngine(Dependencies{}, domain.EngineConfig{})
	if err == nil {
		t.Error("expected error for missing dependencies")
	}
}

func TestRecommendHasProduct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule := env.addRule(t, "Debit holders", "CREDIT", 1, domain.HasProduct{ProductType: "DEBIT"})
	env.addTransaction(t, "customer-1", "p-debit", "DEBIT", domain.TransactionDeposit, "100")

	offers, err := env.engine.Recommend(ctx, "customer-1")
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}

	if len(offers) != 1 {
		t.Fatalf("expected 1 offer, got %d", len(offers))
	}
	credit, _ := catalog.Default().Lookup("CREDIT")
	if offers[0].ProductID != credit.ID || offers[0].RuleID != rule.ID {
		t.Errorf("unexpected offer: %+v", offers[0])
	}

	entries, err := env.log.ByRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("ByRule failed: %v", err)
	}
	if len(entries) != 1 || !entries[0].Eligible {
		t.Fatalf("expected one eligible log entry, got %+v", entries)
	}
	if entries[0].Details != "Rule: Debit holders, Condition: HAS_PRODUCT" {
		t.Errorf("unexpected details: %q", entries[0].Details)
	}

	summary, ok := env.stats.Rule(rule.ID)
	if !ok {
		t.Fatal("expected rule statistics")
	}
	if summary.TriggerCount != 1 || summary.TotalUsers != 1 {
		t.Errorf("expected 1 trigger and 1 user, got %+v", summary)
	}
}

func TestRecommendThirdDepositUnlocksRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	minCount := 3
	env.addRule(t, "Regular saver", "INVESTMENT", 1, domain.MinTransactionCount{
		ProductType:     "SAVING",
		TransactionType: domain.TransactionDeposit,
		MinCount:        &minCount,
	})

	env.addTransaction(t, "customer-1", "p-saving", "SAVING", domain.TransactionDeposit, "10")
	env.addTransaction(t, "customer-1", "p-saving", "SAVING", domain.TransactionDeposit, "20")

	offers, err := env.engine.Recommend(ctx, "customer-1")
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if len(offers) != 0 {
		t.Fatalf("expected no offers after two deposits, got %d", len(offers))
	}

	env.addTransaction(t, "customer-1", "p-saving", "SAVING", domain.TransactionDeposit, "30")

	offers, err = env.engine.Recommend(ctx, "customer-1")
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("expected 1 offer after third deposit, got %d", len(offers))
	}
}

func TestRecommendDoesNotDeduplicateOffers(t *testing.T) {
	env := newTestEnv(t)

	env.addRule(t, "Credit A", "CREDIT", 2, domain.HasProduct{ProductType: "DEBIT"})
	env.addRule(t, "Credit B", "CREDIT", 1, domain.NoProduct{ProductType: "MORTGAGE"})
	env.addTransaction(t, "customer-1", "p-debit", "DEBIT", domain.TransactionDeposit, "100")

	offers, err := env.engine.Recommend(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(offers))
	}
	if offers[0].ProductID != offers[1].ProductID {
		t.Errorf("expected both offers for the same product, got %s and %s", offers[0].ProductID, offers[1].ProductID)
	}
}

func TestRecommendOrdersByPriority(t *testing.T) {
	env := newTestEnv(t)

	low := env.addRule(t, "Low", "SAVING", 1, domain.NoProduct{ProductType: "SAVING"})
	high := env.addRule(t, "High", "DEBIT", 10, domain.NoProduct{ProductType: "DEBIT"})
	mid := env.addRule(t, "Mid", "CREDIT", 5, domain.NoProduct{ProductType: "CREDIT"})

	offers, err := env.engine.Recommend(context.Background(), "newcomer")
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}

	want := []string{high.ID, mid.ID, low.ID}
	if len(offers) != len(want) {
		t.Fatalf("expected %d offers, got %d", len(want), len(offers))
	}
	for i, id := range want {
		if offers[i].RuleID != id {
			t.Errorf("offer %d: expected rule %s, got %s", i, id, offers[i].RuleID)
		}
	}
}

func TestRecommendSkipsInactiveRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule := env.addRule(t, "Newcomer", "DEBIT", 1, domain.NoProduct{ProductType: "DEBIT"})
	if err := env.repo.SoftDeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("SoftDeleteRule failed: %v", err)
	}
	env.engine.InvalidateRules(ctx)

	offers, err := env.engine.Recommend(ctx, "customer-1")
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if offers == nil || len(offers) != 0 {
		t.Errorf("expected empty non-nil offers, got %#v", offers)
	}

	total, _ := env.repo.CountExecutions(ctx)
	if total != 0 {
		t.Errorf("expected no execution log rows, got %d", total)
	}
}

func TestRecommendLogsMalformedRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	broken := env.addRule(t, "Broken", "DEBIT", 2, domain.ParseCondition("NOT_A_TYPE", []byte(`{"productType":"DEBIT"}`)))
	ok := env.addRule(t, "Newcomer", "DEBIT", 1, domain.NoProduct{ProductType: "DEBIT"})

	offers, err := env.engine.Recommend(ctx, "customer-1")
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if len(offers) != 1 || offers[0].RuleID != ok.ID {
		t.Fatalf("expected only the valid rule to produce an offer, got %+v", offers)
	}

	entries, _ := env.log.ByRule(ctx, broken.ID)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry for broken rule, got %d", len(entries))
	}
	if entries[0].Eligible {
		t.Error("expected broken rule to be ineligible")
	}
	if !strings.HasPrefix(entries[0].Details, "ERROR: ") {
		t.Errorf("expected ERROR details, got %q", entries[0].Details)
	}
}

func TestRecommendLogsOneRowPerRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		env.addRule(t, "Rule", "DEBIT", i, domain.HasProduct{ProductType: "DEBIT"})
	}

	if _, err := env.engine.Recommend(ctx, "customer-1"); err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}

	total, _ := env.repo.CountExecutions(ctx)
	if total != 12 {
		t.Errorf("expected 12 log rows, got %d", total)
	}
	eligible, _ := env.repo.CountEligibleExecutions(ctx)
	if eligible != 0 {
		t.Errorf("expected no eligible rows, got %d", eligible)
	}
}

// failingExecutions rejects every write.
type failingExecutions struct {
	domain.ExecutionStore
}

func (failingExecutions) RecordExecution(context.Context, *domain.ExecutionLogEntry) error {
	return errors.New("log unavailable")
}

func TestRecommendSurvivesLogFailures(t *testing.T) {
	base := newTestEnv(t)
	env := newTestEnvWith(t, base.repo, audit.New(failingExecutions{}), nil)

	env.addRule(t, "Newcomer", "DEBIT", 1, domain.NoProduct{ProductType: "DEBIT"})

	var offers []domain.ProductOffer
	testsupport.AssertMetricDelta(t, "harrier_engine_execution_log_failures_total", nil, 1, func() {
		var err error
		offers, err = env.engine.Recommend(context.Background(), "customer-1")
		if err != nil {
			t.Fatalf("Recommend failed: %v", err)
		}
	})

	if len(offers) != 1 {
		t.Errorf("expected 1 offer despite log failure, got %d", len(offers))
	}
}

// unavailableRules fails every listing.
type unavailableRules struct {
	domain.RuleStore
}

func (unavailableRules) ListActiveRules(context.Context) ([]*domain.Rule, error) {
	return nil, errors.New("rules store unavailable")
}

func TestRecommendFailsWhenRulesCannotLoad(t *testing.T) {
	env := newTestEnv(t)
	env.engine.rules = unavailableRules{}

	_, err := env.engine.Recommend(context.Background(), "customer-1")
	if err == nil {
		t.Error("expected error when rule store is unavailable")
	}
}

func TestActiveRulesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule := env.addRule(t, "Newcomer", "DEBIT", 1, domain.NoProduct{ProductType: "DEBIT"})

	t.Run("PopulatesOnMiss", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "harrier_engine_rule_cache_misses_total", nil, 1, func() {
			if _, err := env.engine.ActiveRules(ctx); err != nil {
				t.Fatalf("ActiveRules failed: %v", err)
			}
		})

		data, _ := env.cache.Get(ctx, RulesCacheNamespace, ActiveRulesCacheKey)
		if data == nil {
			t.Fatal("expected active rules to be cached")
		}
	})

	t.Run("ServesFromCache", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "harrier_engine_rule_cache_hits_total", nil, 1, func() {
			rules, err := env.engine.ActiveRules(ctx)
			if err != nil {
				t.Fatalf("ActiveRules failed: %v", err)
			}
			if len(rules) != 1 || rules[0].ID != rule.ID {
				t.Fatalf("unexpected cached rules: %+v", rules)
			}
			if _, ok := rules[0].Condition.(domain.NoProduct); !ok {
				t.Errorf("expected cached condition to decode as NoProduct, got %T", rules[0].Condition)
			}
		})
	})

	t.Run("StaleUntilInvalidated", func(t *testing.T) {
		if err := env.repo.SetRuleActive(ctx, rule.ID, false); err != nil {
			t.Fatalf("SetRuleActive failed: %v", err)
		}

		rules, _ := env.engine.ActiveRules(ctx)
		if len(rules) != 1 {
			t.Fatalf("expected cached list before invalidation, got %d rules", len(rules))
		}

		env.engine.InvalidateRules(ctx)

		rules, _ = env.engine.ActiveRules(ctx)
		if len(rules) != 0 {
			t.Errorf("expected no active rules after invalidation, got %d", len(rules))
		}
	})

	t.Run("IgnoresCorruptEntries", func(t *testing.T) {
		_ = env.cache.Put(ctx, RulesCacheNamespace, ActiveRulesCacheKey, []byte("not json"))

		rules, err := env.engine.ActiveRules(ctx)
		if err != nil {
			t.Fatalf("ActiveRules failed: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("expected store result, got %d rules", len(rules))
		}
	})
}

// pausingRules holds the first ListActiveRules result until released, so a
// rule mutation can land between the store read and the cache write.
type pausingRules struct {
	domain.RuleStore
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausingRules) ListActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	rules, err := p.RuleStore.ListActiveRules(ctx)
	p.once.Do(func() {
		close(p.loaded)
		<-p.release
	})
	return rules, err
}

func TestActiveRulesDeactivatedDuringLoad(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule := env.addRule(t, "Newcomer", "DEBIT", 1, domain.NoProduct{ProductType: "DEBIT"})

	store := &pausingRules{
		RuleStore: env.repo,
		loaded:    make(chan struct{}),
		release:   make(chan struct{}),
	}
	env.engine.rules = store

	done := make(chan error, 1)
	go func() {
		_, err := env.engine.Recommend(ctx, "customer-1")
		done <- err
	}()

	<-store.loaded
	if err := env.repo.SetRuleActive(ctx, rule.ID, false); err != nil {
		t.Fatalf("SetRuleActive failed: %v", err)
	}
	env.engine.InvalidateRules(ctx)
	close(store.release)

	if err := <-done; err != nil {
		t.Fatalf("in-flight Recommend failed: %v", err)
	}

	if data, _ := env.cache.Get(ctx, RulesCacheNamespace, ActiveRulesCacheKey); data != nil {
		t.Fatalf("expected load started before invalidation not to be cached, got %s", data)
	}

	for i := 0; i < 3; i++ {
		offers, err := env.engine.Recommend(ctx, "customer-2")
		if err != nil {
			t.Fatalf("Recommend failed: %v", err)
		}
		if len(offers) != 0 {
			t.Fatalf("call %d: deactivated rule still surfaced %d offers", i, len(offers))
		}
	}

	rows, err := env.log.ByCustomer(ctx, "customer-2")
	if err != nil {
		t.Fatalf("ByCustomer failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no log rows for deactivated rule, got %d", len(rows))
	}
}

func TestRuleChangesPropagateOverBus(t *testing.T) {
	base := newTestEnv(t)
	ctx := context.Background()

	eventBus := eventbus.NewChannelBus(10)
	defer eventBus.Close()

	first := newTestEnvWith(t, base.repo, base.log, eventBus)
	second := newTestEnvWith(t, base.repo, base.log, eventBus)

	sub, err := second.engine.WatchRuleChanges(ctx)
	if err != nil {
		t.Fatalf("WatchRuleChanges failed: %v", err)
	}
	defer sub.Unsubscribe()

	rule := first.addRule(t, "Newcomer", "DEBIT", 1, domain.NoProduct{ProductType: "DEBIT"})

	// Wait for the creation broadcast before warming the second cache.
	time.Sleep(50 * time.Millisecond)
	if rules, _ := second.engine.ActiveRules(ctx); len(rules) != 1 {
		t.Fatalf("expected 1 active rule on second instance, got %d", len(rules))
	}

	if err := base.repo.SetRuleActive(ctx, rule.ID, false); err != nil {
		t.Fatalf("SetRuleActive failed: %v", err)
	}
	first.engine.InvalidateRules(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		data, _ := second.cache.Get(ctx, RulesCacheNamespace, ActiveRulesCacheKey)
		if data == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second instance kept its active rule list after a rule change")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if rules, _ := second.engine.ActiveRules(ctx); len(rules) != 0 {
		t.Errorf("expected no active rules on second instance, got %d", len(rules))
	}
}

func TestWatchRuleChangesRequiresBus(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.WatchRuleChanges(context.Background()); err == nil {
		t.Error("expected error without an event bus")
	}
}

// slowSums blocks SumAmount until the evaluation context ends.
type slowSums struct {
	domain.TransactionAggregates
}

func (slowSums) SumAmount(ctx context.Context, _, _, _ string) (decimal.Decimal, error) {
	<-ctx.Done()
	return decimal.Zero, ctx.Err()
}

func TestRecommendTimesOutSlowRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	evaluator, err := NewEvaluator(slowSums{TransactionAggregates: env.repo})
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	env.engine.evaluator = evaluator
	env.engine.evalTimeout = 50 * time.Millisecond

	minAmount := decimal.NewFromInt(100)
	slow := env.addRule(t, "Big saver", "INVESTMENT", 2, domain.MinAmount{
		ProductType: "SAVING", TransactionType: domain.TransactionDeposit, MinAmount: &minAmount,
	})
	fast := env.addRule(t, "Newcomer", "DEBIT", 1, domain.NoProduct{ProductType: "DEBIT"})

	offers, err := env.engine.Recommend(ctx, "customer-1")
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if len(offers) != 1 || offers[0].RuleID != fast.ID {
		t.Fatalf("expected only the fast rule to be offered, got %+v", offers)
	}

	rows, err := env.log.ByRule(ctx, slow.ID)
	if err != nil {
		t.Fatalf("ByRule failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 log row for the slow rule, got %d", len(rows))
	}
	if rows[0].Eligible {
		t.Error("expected timed out rule to be logged ineligible")
	}
	if !strings.HasPrefix(rows[0].Details, "ERROR:") || !strings.Contains(rows[0].Details, "deadline exceeded") {
		t.Errorf("unexpected details for timed out rule: %q", rows[0].Details)
	}
}

// recordingBus captures published messages.
type recordingBus struct {
	domain.EventBus
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *recordingBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[topic] = append(b.messages[topic], payload)
	return nil
}

func TestRecommendPublishesIssuedEvent(t *testing.T) {
	base := newTestEnv(t)
	bus := &recordingBus{}
	env := newTestEnvWith(t, base.repo, base.log, bus)

	env.addRule(t, "Newcomer", "DEBIT", 2, domain.NoProduct{ProductType: "DEBIT"})
	env.addRule(t, "Debit holders", "CREDIT", 1, domain.HasProduct{ProductType: "DEBIT"})

	_, err := env.engine.RecommendRequest(context.Background(), domain.RecommendationRequest{
		RequestID:  "req-1",
		CustomerID: "customer-1",
	})
	if err != nil {
		t.Fatalf("RecommendRequest failed: %v", err)
	}

	published := bus.messages[domain.TopicRecommendationIssued]
	if len(published) != 1 {
		t.Fatalf("expected 1 issued event, got %d", len(published))
	}

	var event domain.RecommendationIssued
	if err := json.Unmarshal(published[0], &event); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if event.RequestID != "req-1" || event.CustomerID != "customer-1" {
		t.Errorf("unexpected event identity: %+v", event)
	}
	if event.EvaluatedRules != 2 || event.EligibleRules != 1 || len(event.Offers) != 1 {
		t.Errorf("unexpected event counts: %+v", event)
	}
}

func TestRecommendConcurrentCustomers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule := env.addRule(t, "Newcomer", "DEBIT", 1, domain.NoProduct{ProductType: "DEBIT"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.engine.Recommend(ctx, "customer"); err != nil {
				t.Errorf("Recommend failed: %v", err)
			}
		}()
	}
	wg.Wait()

	summary, _ := env.stats.Rule(rule.ID)
	if summary.TriggerCount != 10 {
		t.Errorf("expected 10 triggers, got %d", summary.TriggerCount)
	}
	if n := env.log.EligibleCount(ctx, rule.ID); n != 10 {
		t.Errorf("expected 10 eligible log rows, got %d", n)
	}
}

func TestEvaluationOutcomeMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.addRule(t, "Newcomer", "DEBIT", 1, domain.NoProduct{ProductType: "DEBIT"})

	labels := map[string]string{"outcome": observability.OutcomeEligible}
	testsupport.AssertMetricDelta(t, "harrier_engine_rule_evaluations_total", labels, 1, func() {
		_, _ = env.engine.Recommend(context.Background(), "customer-1")
	})
}
