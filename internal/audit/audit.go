// Package audit records rule executions and answers questions about them.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Log is the execution log service. Writes and listings surface errors;
// aggregate counters degrade to zero.
type Log struct {
	store domain.ExecutionStore
	now   func() time.Time
}

// New creates an execution log over store.
func New(store domain.ExecutionStore) *Log {
	return &Log{store: store, now: time.Now}
}

// Record appends one execution entry.
func (l *Log) Record(ctx context.Context, ruleID, customerID string, eligible bool, details string) (*domain.ExecutionLogEntry, error) {
	entry := &domain.ExecutionLogEntry{
		ID:         uuid.New().String(),
		RuleID:     ruleID,
		CustomerID: customerID,
		Eligible:   eligible,
		Details:    details,
		ExecutedAt: l.now().UTC(),
	}

	if err := l.store.RecordExecution(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record execution of rule %s: %w", ruleID, err)
	}
	return entry, nil
}

// Get returns a single entry or domain.ErrExecutionNotFound.
func (l *Log) Get(ctx context.Context, id string) (*domain.ExecutionLogEntry, error) {
	return l.store.GetExecution(ctx, id)
}

// Delete removes a single entry.
func (l *Log) Delete(ctx context.Context, id string) error {
	return l.store.DeleteExecution(ctx, id)
}

// ByRule lists executions of a rule, most recent first.
func (l *Log) ByRule(ctx context.Context, ruleID string) ([]*domain.ExecutionLogEntry, error) {
	return l.store.ListExecutionsByRule(ctx, ruleID)
}

// ByCustomer lists executions for a customer, most recent first.
func (l *Log) ByCustomer(ctx context.Context, customerID string) ([]*domain.ExecutionLogEntry, error) {
	return l.store.ListExecutionsByCustomer(ctx, customerID)
}

// EligibleCount returns how many times ruleID was eligible.
func (l *Log) EligibleCount(ctx context.Context, ruleID string) int64 {
	return l.degrade(ctx, "count eligible executions", ruleID, func(ctx context.Context) (int64, error) {
		return l.store.CountEligibleByRule(ctx, ruleID)
	})
}

// UniqueCustomers returns how many distinct customers ruleID was eligible for.
func (l *Log) UniqueCustomers(ctx context.Context, ruleID string) int64 {
	return l.degrade(ctx, "count eligible customers", ruleID, func(ctx context.Context) (int64, error) {
		return l.store.CountEligibleCustomersByRule(ctx, ruleID)
	})
}

// RuleSummary aggregates the log for one rule.
func (l *Log) RuleSummary(ctx context.Context, ruleID string) domain.RuleExecutionSummary {
	return domain.RuleExecutionSummary{
		RuleID:             ruleID,
		EligibleExecutions: l.EligibleCount(ctx, ruleID),
		UniqueCustomers:    l.UniqueCustomers(ctx, ruleID),
	}
}

// Summary aggregates the whole log.
func (l *Log) Summary(ctx context.Context) domain.ExecutionSummary {
	return domain.ExecutionSummary{
		TotalExecutions:    l.degrade(ctx, "count executions", "", l.store.CountExecutions),
		EligibleExecutions: l.degrade(ctx, "count eligible executions", "", l.store.CountEligibleExecutions),
	}
}

func (l *Log) degrade(ctx context.Context, op, ruleID string, fn func(context.Context) (int64, error)) int64 {
	n, err := fn(ctx)
	if err != nil {
		slog.Warn("execution log aggregate failed",
			"operation", op,
			"rule_id", ruleID,
			"error", err,
		)
		return 0
	}
	return n
}
