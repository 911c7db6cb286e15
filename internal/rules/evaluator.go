package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// equalsTolerance absorbs rounding on currency values for EQUALS.
var equalsTolerance = decimal.New(1, -2)

// Outcome is the result of evaluating one condition for one customer.
// Err carries the diagnostic when evaluation could not complete; Eligible
// is always false in that case.
type Outcome struct {
	Eligible bool
	Err      error
}

// Evaluator decides whether a customer satisfies a condition.
type Evaluator struct {
	aggregates domain.TransactionAggregates
	exprs      *expressionSet
}

// NewEvaluator creates an evaluator backed by the primary store aggregates.
func NewEvaluator(aggregates domain.TransactionAggregates) (*Evaluator, error) {
	exprs, err := newExpressionSet()
	if err != nil {
		return nil, err
	}
	return &Evaluator{aggregates: aggregates, exprs: exprs}, nil
}

// Evaluate never panics and never returns an error to the caller: failures
// yield a not-eligible Outcome with Err set.
func (e *Evaluator) Evaluate(ctx context.Context, cond domain.Condition, customerID string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: fmt.Errorf("condition evaluation panicked: %v", r)}
		}
		if out.Err != nil {
			slog.Warn("condition evaluation failed",
				"condition_type", conditionTypeOf(cond),
				"customer_id", customerID,
				"error", out.Err,
			)
		}
	}()

	eligible, err := e.eval(ctx, cond, customerID)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Eligible: eligible}
}

// Validate checks that cond can be evaluated. It is used before a rule is
// stored; it compiles expressions and rejects unknown variants.
func (e *Evaluator) Validate(cond domain.Condition) error {
	switch c := cond.(type) {
	case nil:
		return fmt.Errorf("%w: condition is required", domain.ErrMalformedCondition)
	case domain.Unknown:
		return fmt.Errorf("%w: %s", domain.ErrMalformedCondition, c.Reason)
	case domain.AllOf:
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%w: ALL_OF requires at least one condition", domain.ErrMalformedCondition)
		}
		for _, child := range c.Conditions {
			if err := e.Validate(child); err != nil {
				return err
			}
		}
	case domain.Expression:
		if _, err := e.exprs.program(c.Expr); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) eval(ctx context.Context, cond domain.Condition, customerID string) (bool, error) {
	switch c := cond.(type) {
	case domain.HasProduct:
		return e.hasProduct(ctx, customerID, c.ProductType)

	case domain.NoProduct:
		has, err := e.hasProduct(ctx, customerID, c.ProductType)
		if err != nil {
			// Fail closed: an unknown answer is not "has no product".
			return false, err
		}
		return !has, nil

	case domain.MinAmount:
		if c.MinAmount == nil {
			return false, missing("minAmount", c.Type())
		}
		total, err := e.aggregates.SumAmount(ctx, customerID, c.ProductType, c.TransactionType)
		if err != nil {
			return false, fmt.Errorf("failed to sum %s %s amounts: %w", c.ProductType, c.TransactionType, err)
		}
		return total.GreaterThanOrEqual(*c.MinAmount), nil

	case domain.MinTransactionCount:
		if c.MinCount == nil {
			return false, missing("minCount", c.Type())
		}
		count, err := e.aggregates.CountTransactions(ctx, customerID, c.ProductType, c.TransactionType)
		if err != nil {
			return false, fmt.Errorf("failed to count %s %s transactions: %w", c.ProductType, c.TransactionType, err)
		}
		return count >= int64(*c.MinCount), nil

	case domain.AmountComparison:
		return e.compareAmounts(ctx, customerID, c)

	case domain.AllOf:
		if len(c.Conditions) == 0 {
			return false, nil
		}
		for _, child := range c.Conditions {
			ok, err := e.eval(ctx, child, customerID)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case domain.Expression:
		stats, err := e.aggregates.TransactionStats(ctx, customerID, c.ProductType)
		if err != nil {
			return false, fmt.Errorf("failed to load transaction stats: %w", err)
		}
		return e.exprs.eval(c.Expr, stats)

	case domain.Unknown:
		return false, fmt.Errorf("%w: %s", domain.ErrMalformedCondition, c.Reason)

	case nil:
		return false, fmt.Errorf("%w: condition is missing", domain.ErrMalformedCondition)

	default:
		return false, fmt.Errorf("%w: unsupported condition %T", domain.ErrMalformedCondition, cond)
	}
}

func (e *Evaluator) hasProduct(ctx context.Context, customerID, productType string) (bool, error) {
	n, err := e.aggregates.CountProducts(ctx, customerID, productType)
	if err != nil {
		return false, fmt.Errorf("failed to count %s products: %w", productType, err)
	}
	return n > 0, nil
}

func (e *Evaluator) compareAmounts(ctx context.Context, customerID string, c domain.AmountComparison) (bool, error) {
	if c.Comparison == "" {
		return false, missing("comparisonType", c.Type())
	}
	if c.Amount == nil {
		return false, missing("comparisonAmount", c.Type())
	}

	deposits, withdrawals, err := e.aggregates.DepositWithdrawalTotals(ctx, customerID, c.ProductType)
	if err != nil {
		return false, fmt.Errorf("failed to total %s deposits and withdrawals: %w", c.ProductType, err)
	}

	amount := *c.Amount
	switch c.Comparison {
	case domain.CompareGreaterThan:
		return deposits.GreaterThan(amount), nil
	case domain.CompareLessThan:
		return deposits.LessThan(amount), nil
	case domain.CompareEquals:
		return deposits.Sub(amount).Abs().LessThan(equalsTolerance), nil
	case domain.CompareGreaterThanOrEqual:
		return deposits.GreaterThanOrEqual(amount), nil
	case domain.CompareLessThanOrEqual:
		return deposits.LessThanOrEqual(amount), nil
	case domain.CompareDepositsGTWithdrawals:
		return deposits.GreaterThan(withdrawals), nil
	case domain.CompareWithdrawalsGTAmount:
		return withdrawals.GreaterThan(amount), nil
	default:
		return false, fmt.Errorf("%w: unknown comparison type %q", domain.ErrMalformedCondition, c.Comparison)
	}
}

func missing(field string, t domain.ConditionType) error {
	return fmt.Errorf("%w: %s is required for %s", domain.ErrMalformedCondition, field, t)
}

func conditionTypeOf(c domain.Condition) string {
	if c == nil {
		return ""
	}
	return string(c.Type())
}
