package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

const ruleColumns = `id, name, description, product_type, condition_type, condition_json,
	priority, active, created_at, updated_at`

// CreateRule inserts a new rule. ID and CreatedAt are assigned when empty.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	tag, payload, err := domain.EncodeCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO recommendation_rules (
			id, name, description, product_type, condition_type, condition_json,
			priority, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.ProductType,
		tag, string(payload),
		rule.Priority, boolToInt(rule.Active),
		rule.CreatedAt.UTC(), nullTime(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
	}
	return nil
}

// UpdateRule overwrites every mutable field of rule id and refreshes UpdatedAt.
// CreatedAt is preserved.
func (r *SQLRepository) UpdateRule(ctx context.Context, id string, rule *domain.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	tag, payload, err := domain.EncodeCondition(rule.Condition)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()

	query := `
		UPDATE recommendation_rules
		SET name = ?, description = ?, product_type = ?, condition_type = ?,
			condition_json = ?, priority = ?, active = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, rule.ProductType, tag, string(payload),
		rule.Priority, boolToInt(rule.Active), now,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", id, err)
	}
	if err := requireAffected(result, domain.ErrRuleNotFound); err != nil {
		return err
	}

	rule.ID = id
	rule.UpdatedAt = &now
	return nil
}

// DeleteRule removes a rule permanently. Its execution log is kept.
func (r *SQLRepository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM recommendation_rules WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	return requireAffected(result, domain.ErrRuleNotFound)
}

// SoftDeleteRule deactivates a rule and keeps its row.
func (r *SQLRepository) SoftDeleteRule(ctx context.Context, id string) error {
	return r.SetRuleActive(ctx, id, false)
}

// SetRuleActive activates or deactivates a rule.
func (r *SQLRepository) SetRuleActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE recommendation_rules
		SET active = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), boolToInt(active), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set rule %s active=%t: %w", id, active, err)
	}
	return requireAffected(result, domain.ErrRuleNotFound)
}

// GetRule retrieves a rule by ID regardless of its active flag.
func (r *SQLRepository) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recommendation_rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns every rule, active or not, highest priority first.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM recommendation_rules
		ORDER BY priority DESC, created_at ASC, id ASC
	`
	return r.queryRules(ctx, query)
}

// ListActiveRules returns active rules in evaluation order.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM recommendation_rules
		WHERE active = 1
		ORDER BY priority DESC, created_at ASC, id ASC
	`
	return r.queryRules(ctx, query)
}

// RuleExists reports whether a rule with id is stored.
func (r *SQLRepository) RuleExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT 1 FROM recommendation_rules WHERE id = ? LIMIT 1`), id,
	).Scan(&one)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]*domain.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var conditionType, conditionJSON string
	var active int
	var updatedAt sql.NullTime

	if err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.ProductType,
		&conditionType, &conditionJSON,
		&rule.Priority, &active, &rule.CreatedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rule.Active = active == 1
	rule.Condition = domain.ParseCondition(conditionType, []byte(conditionJSON))
	if updatedAt.Valid {
		t := updatedAt.Time
		rule.UpdatedAt = &t
	}

	return &rule, nil
}

func validateRule(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidInput)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}
	if rule.Condition == nil {
		return fmt.Errorf("%w: rule condition is required", ErrInvalidInput)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
