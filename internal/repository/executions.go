package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

const executionColumns = `id, rule_id, user_id, eligible, execution_details, executed_at`

// RecordExecution appends an entry to the execution log.
// ID and ExecutedAt are assigned when empty.
func (r *SQLRepository) RecordExecution(ctx context.Context, entry *domain.ExecutionLogEntry) error {
	if entry == nil || entry.RuleID == "" {
		return fmt.Errorf("%w: ruleID is required", ErrInvalidInput)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO rule_execution_log (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.RuleID, entry.CustomerID,
		boolToInt(entry.Eligible), entry.Details, entry.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record execution for rule %s: %w", entry.RuleID, err)
	}
	return nil
}

// GetExecution retrieves a log entry by ID.
func (r *SQLRepository) GetExecution(ctx context.Context, id string) (*domain.ExecutionLogEntry, error) {
	query := `SELECT ` + executionColumns + ` FROM rule_execution_log WHERE id = ?`

	entry, err := scanExecution(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// DeleteExecution removes a log entry by ID.
func (r *SQLRepository) DeleteExecution(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rule_execution_log WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete execution %s: %w", id, err)
	}
	return requireAffected(result, domain.ErrExecutionNotFound)
}

// ListExecutionsByRule returns a rule's log entries, most recent first.
func (r *SQLRepository) ListExecutionsByRule(ctx context.Context, ruleID string) ([]*domain.ExecutionLogEntry, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM rule_execution_log
		WHERE rule_id = ?
		ORDER BY executed_at DESC, id DESC
	`
	return r.queryExecutions(ctx, query, ruleID)
}

// ListExecutionsByCustomer returns a customer's log entries, most recent first.
func (r *SQLRepository) ListExecutionsByCustomer(ctx context.Context, customerID string) ([]*domain.ExecutionLogEntry, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM rule_execution_log
		WHERE user_id = ?
		ORDER BY executed_at DESC, id DESC
	`
	return r.queryExecutions(ctx, query, customerID)
}

// CountExecutions returns the number of log entries.
func (r *SQLRepository) CountExecutions(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM rule_execution_log`)
}

// CountEligibleExecutions returns the number of eligible log entries.
func (r *SQLRepository) CountEligibleExecutions(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM rule_execution_log WHERE eligible = 1`)
}

// CountEligibleByRule returns the number of eligible entries for a rule.
func (r *SQLRepository) CountEligibleByRule(ctx context.Context, ruleID string) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM rule_execution_log WHERE rule_id = ? AND eligible = 1`, ruleID)
}

// CountEligibleCustomersByRule returns the number of distinct customers a
// rule was eligible for.
func (r *SQLRepository) CountEligibleCustomersByRule(ctx context.Context, ruleID string) (int64, error) {
	return r.count(ctx, `SELECT COUNT(DISTINCT user_id) FROM rule_execution_log WHERE rule_id = ? AND eligible = 1`, ruleID)
}

func (r *SQLRepository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SQLRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*domain.ExecutionLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*domain.ExecutionLogEntry, 0)
	for rows.Next() {
		entry, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanExecution(row rowScanner) (*domain.ExecutionLogEntry, error) {
	var entry domain.ExecutionLogEntry
	var eligible int

	if err := row.Scan(
		&entry.ID, &entry.RuleID, &entry.CustomerID,
		&eligible, &entry.Details, &entry.ExecutedAt,
	); err != nil {
		return nil, err
	}

	entry.Eligible = eligible == 1
	return &entry, nil
}
