package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/statistics"
)

// Pinger is a dependency whose health is reported by GET /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators of the HTTP handlers. Cache and Checks
// are optional.
type Dependencies struct {
	Engine       *rules.Engine
	Rules        domain.RuleStore
	Log          *audit.Log
	Stats        *statistics.Aggregator
	Catalog      *catalog.Catalog
	Transactions domain.TransactionStore
	Aggregates   domain.TransactionAggregates
	Cache        domain.ResultCache

	// Checks are pinged by the health endpoint, keyed by component name.
	Checks map[string]Pinger

	Name    string
	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	engine       *rules.Engine
	rules        domain.RuleStore
	log          *audit.Log
	stats        *statistics.Aggregator
	catalog      *catalog.Catalog
	transactions domain.TransactionStore
	aggregates   domain.TransactionAggregates
	cache        domain.ResultCache
	checks       map[string]Pinger
	name         string
	version      string
	started      time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		engine:       deps.Engine,
		rules:        deps.Rules,
		log:          deps.Log,
		stats:        deps.Stats,
		catalog:      deps.Catalog,
		transactions: deps.Transactions,
		aggregates:   deps.Aggregates,
		cache:        deps.Cache,
		checks:       deps.Checks,
		name:         deps.Name,
		version:      deps.Version,
		started:      time.Now(),
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		if err := check.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "component", name, "error", err)
			components[name] = "unavailable"
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Recommend handles GET /recommendations?userId=<id> and answers with the
// list of offers.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	customerID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if customerID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}

	offers, err := h.engine.Recommend(r.Context(), customerID)
	if err != nil {
		slog.Error("recommendation failed", "customer_id", customerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute recommendations")
		return
	}

	writeJSON(w, http.StatusOK, offers)
}

// ============================================================================
// RULE HANDLERS
// ============================================================================

// ListRules returns every stored rule, active or not.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.rules.ListRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// ListActiveRules returns the rules the engine evaluates, in evaluation order.
func (h *Handler) ListActiveRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ActiveRules(r.Context())
	if err != nil {
		slog.Error("failed to list active rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list active rules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	rule, err := h.rules.GetRule(r.Context(), ruleID)
	if err != nil {
		h.ruleError(w, ruleID, "get", err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule stores a new rule. The condition must be evaluable.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}

	if err := h.rules.CreateRule(ctx, rule); err != nil {
		h.ruleError(w, rule.ID, "create", err)
		return
	}
	h.engine.InvalidateRules(ctx)

	slog.Info("rule created", "rule_id", rule.ID, "name", rule.Name, "condition_type", rule.ConditionType())
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces every mutable field of a rule.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}

	if err := h.rules.UpdateRule(ctx, ruleID, rule); err != nil {
		h.ruleError(w, ruleID, "update", err)
		return
	}
	h.engine.InvalidateRules(ctx)

	updated, err := h.rules.GetRule(ctx, ruleID)
	if err != nil {
		h.ruleError(w, ruleID, "get", err)
		return
	}

	slog.Info("rule updated", "rule_id", ruleID)
	writeJSON(w, http.StatusOK, updated)
}

// SetRuleStatus activates or deactivates a rule.
func (h *Handler) SetRuleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	var req RuleStatusRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.rules.SetRuleActive(ctx, ruleID, *req.Active); err != nil {
		h.ruleError(w, ruleID, "set status of", err)
		return
	}
	h.engine.InvalidateRules(ctx)

	slog.Info("rule status changed", "rule_id", ruleID, "active", *req.Active)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     ruleID,
		"active": *req.Active,
	})
}

// DeleteRule removes a rule permanently. Its execution log is kept.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if err := h.rules.DeleteRule(ctx, ruleID); err != nil {
		h.ruleError(w, ruleID, "delete", err)
		return
	}
	h.engine.InvalidateRules(ctx)

	slog.Info("rule deleted", "rule_id", ruleID)
	w.WriteHeader(http.StatusNoContent)
}

// decodeRule reads a RuleRequest and checks its condition. It writes the
// 400 response itself and reports whether the handler may continue.
func (h *Handler) decodeRule(w http.ResponseWriter, r *http.Request) (*domain.Rule, bool) {
	var req RuleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	rule := req.Rule()
	if rule.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return nil, false
	}
	if err := h.engine.Validate(rule.Condition); err != nil {
		writeError(w, http.StatusBadRequest, "invalid condition: "+err.Error())
		return nil, false
	}

	return rule, true
}

func (h *Handler) ruleError(w http.ResponseWriter, ruleID, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "rule not found")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("failed to "+op+" rule", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" rule")
	}
}

// ============================================================================
// EXECUTION LOG HANDLERS
// ============================================================================

// ListRuleExecutions returns a rule's execution log, most recent first.
func (h *Handler) ListRuleExecutions(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	entries, err := h.log.ByRule(r.Context(), ruleID)
	if err != nil {
		slog.Error("failed to list rule executions", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ruleId":     ruleID,
		"executions": entries,
		"count":      len(entries),
	})
}

// RuleExecutionSummary returns eligible execution and customer counts for a rule.
func (h *Handler) RuleExecutionSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.log.RuleSummary(r.Context(), chi.URLParam(r, "id")))
}

// ListCustomerExecutions returns a customer's execution log, most recent first.
func (h *Handler) ListCustomerExecutions(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	entries, err := h.log.ByCustomer(r.Context(), customerID)
	if err != nil {
		slog.Error("failed to list customer executions", "customer_id", customerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":     customerID,
		"executions": entries,
		"count":      len(entries),
	})
}

// ExecutionSummary returns totals over the whole execution log.
func (h *Handler) ExecutionSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.log.Summary(r.Context()))
}

// GetExecution retrieves one execution log entry.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.log.Get(r.Context(), id)
	if err != nil {
		h.executionError(w, id, "get", err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// DeleteExecution removes one execution log entry.
func (h *Handler) DeleteExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.log.Delete(r.Context(), id); err != nil {
		h.executionError(w, id, "delete", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) executionError(w http.ResponseWriter, id, op string, err error) {
	if errors.Is(err, domain.ErrExecutionNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	slog.Error("failed to "+op+" execution", "execution_id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to "+op+" execution")
}

// ============================================================================
// STATISTICS HANDLERS
// ============================================================================

// Statistics lookups always answer 200. Unknown keys carry an error body.

// OverallStatistics returns global recommendation statistics.
func (h *Handler) OverallStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Overall())
}

// RuleStatistics returns trigger statistics for one rule.
func (h *Handler) RuleStatistics(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	summary, ok := h.stats.Rule(ruleID)
	if !ok {
		writeError(w, http.StatusOK, "Statistics not found for rule: "+ruleID)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// CustomerStatistics returns recommendation statistics for one customer.
func (h *Handler) CustomerStatistics(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	summary, ok := h.stats.Customer(customerID)
	if !ok {
		writeError(w, http.StatusOK, "Statistics not found for user: "+customerID)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// RecordStatisticsEvent counts recommendations delivered outside the engine.
func (h *Handler) RecordStatisticsEvent(w http.ResponseWriter, r *http.Request) {
	var req StatisticsEventRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.stats.RecordEvent(req.UserID, req.Count)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// ClearStatistics resets every in-memory counter.
func (h *Handler) ClearStatistics(w http.ResponseWriter, r *http.Request) {
	h.stats.Reset()

	slog.Info("statistics cleared")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Statistics cleared successfully",
	})
}

// ============================================================================
// MANAGEMENT HANDLERS
// ============================================================================

// CacheStats reports entry counts per cache namespace.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not available")
		return
	}

	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		slog.Error("failed to read cache stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ClearCaches drops every cached entry in every namespace.
func (h *Handler) ClearCaches(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not available")
		return
	}

	if err := h.cache.Clear(r.Context()); err != nil {
		slog.Error("failed to clear caches", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear caches")
		return
	}

	slog.Info("caches cleared")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   "All caches cleared successfully",
		"timestamp": time.Now().UTC(),
	})
}

// Info describes the running service.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        h.name,
		"version":     h.version,
		"description": "Rule-driven product recommendation engine",
		"startedAt":   h.started.UTC(),
		"uptime":      time.Since(h.started).Round(time.Second).String(),
		"timestamp":   time.Now().UTC(),
	})
}

// ============================================================================
// CATALOG AND PRIMARY STORE HANDLERS
// ============================================================================

// Catalog lists the offerable products.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	entries := h.catalog.Entries()

	writeJSON(w, http.StatusOK, map[string]any{
		"products": entries,
		"count":    len(entries),
	})
}

// CreateProduct inserts or replaces a product in the primary store.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	product := &domain.Product{ID: req.ID, Type: req.Type, Name: req.Name}
	if err := h.transactions.SaveProduct(r.Context(), product); err != nil {
		h.storeError(w, "save product", err)
		return
	}

	writeJSON(w, http.StatusCreated, product)
}

// CreateTransaction records a transaction in the primary store.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "amount must not be negative")
		return
	}

	tx := &domain.Transaction{
		ID:         req.ID,
		ProductID:  req.ProductID,
		CustomerID: req.UserID,
		Type:       req.Type,
		Amount:     req.Amount,
	}
	if err := h.transactions.SaveTransaction(r.Context(), tx); err != nil {
		h.storeError(w, "save transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// TransactionStats summarises a customer's activity, optionally for one
// product type.
func (h *Handler) TransactionStats(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	stats, err := h.aggregates.TransactionStats(r.Context(), customerID, r.URL.Query().Get("productType"))
	if err != nil {
		slog.Error("failed to compute transaction stats", "customer_id", customerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute transaction stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, repository.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("failed to "+op, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
