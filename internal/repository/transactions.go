package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveProduct inserts or replaces a product.
func (r *SQLRepository) SaveProduct(ctx context.Context, p *domain.Product) error {
	if p == nil || p.Type == "" {
		return fmt.Errorf("%w: product type is required", ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	query := `
		INSERT INTO products (id, type, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), p.ID, p.Type, p.Name)
	return err
}

// SaveTransaction inserts a transaction. ID is assigned when empty.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.CustomerID == "" || tx.ProductID == "" || tx.Type == "" {
		return fmt.Errorf("%w: productId, userId and type are required", ErrInvalidInput)
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	query := `
		INSERT INTO transactions (id, product_id, user_id, type, amount)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.ProductID, tx.CustomerID, tx.Type, tx.Amount,
	)
	return err
}

// CountProducts returns the number of distinct products of productType the
// customer has transacted on.
func (r *SQLRepository) CountProducts(ctx context.Context, customerID, productType string) (int64, error) {
	query := `
		SELECT COUNT(DISTINCT tr.product_id)
		FROM transactions tr
		JOIN products pr ON tr.product_id = pr.id
		WHERE tr.user_id = ? AND pr.type = ?
	`
	return r.count(ctx, query, customerID, productType)
}

// SumAmount returns the summed amount of the customer's txType transactions
// on productType, zero when there are none.
func (r *SQLRepository) SumAmount(ctx context.Context, customerID, productType, txType string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(tr.amount), 0)
		FROM transactions tr
		JOIN products pr ON tr.product_id = pr.id
		WHERE tr.user_id = ? AND pr.type = ? AND tr.type = ?
	`

	var total decimal.Decimal
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, productType, txType).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// CountTransactions returns the number of the customer's txType
// transactions on productType.
func (r *SQLRepository) CountTransactions(ctx context.Context, customerID, productType, txType string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions tr
		JOIN products pr ON tr.product_id = pr.id
		WHERE tr.user_id = ? AND pr.type = ? AND tr.type = ?
	`
	return r.count(ctx, query, customerID, productType, txType)
}

// DepositWithdrawalTotals returns summed deposits and withdrawals on productType.
func (r *SQLRepository) DepositWithdrawalTotals(ctx context.Context, customerID, productType string) (decimal.Decimal, decimal.Decimal, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN tr.type = 'DEPOSIT' THEN tr.amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN tr.type = 'WITHDRAWAL' THEN tr.amount ELSE 0 END), 0)
		FROM transactions tr
		JOIN products pr ON tr.product_id = pr.id
		WHERE tr.user_id = ? AND pr.type = ?
	`

	var deposits, withdrawals decimal.Decimal
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, productType).Scan(&deposits, &withdrawals); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return deposits, withdrawals, nil
}

// TransactionStats summarises the customer's activity. An empty
// productType covers every product.
func (r *SQLRepository) TransactionStats(ctx context.Context, customerID, productType string) (*domain.TransactionStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN tr.type = 'DEPOSIT' THEN tr.amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN tr.type = 'WITHDRAWAL' THEN tr.amount ELSE 0 END), 0),
			COUNT(DISTINCT tr.product_id)
		FROM transactions tr
		JOIN products pr ON tr.product_id = pr.id
		WHERE tr.user_id = ?
	`
	args := []any{customerID}
	if productType != "" {
		query += ` AND pr.type = ?`
		args = append(args, productType)
	}

	stats := &domain.TransactionStats{
		CustomerID:  customerID,
		ProductType: productType,
	}
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(
		&stats.TransactionCount,
		&stats.TotalDeposits,
		&stats.TotalWithdrawals,
		&stats.UniqueProducts,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
