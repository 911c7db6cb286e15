package domain

import (
	"github.com/shopspring/decimal"
)

// Transaction types counted by the evaluator.
const (
	TransactionDeposit    = "DEPOSIT"
	TransactionWithdrawal = "WITHDRAWAL"
)

// Product is a bank product a customer can transact on.
type Product struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Transaction is a single movement of money on a customer's product.
type Transaction struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"productId"`
	CustomerID string          `json:"userId"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
}

// TransactionStats summarises a customer's activity, optionally scoped to
// one product type.
type TransactionStats struct {
	CustomerID       string          `json:"userId"`
	ProductType      string          `json:"productType,omitempty"`
	TransactionCount int64           `json:"transactionCount"`
	TotalDeposits    decimal.Decimal `json:"totalDeposits"`
	TotalWithdrawals decimal.Decimal `json:"totalWithdrawals"`
	UniqueProducts   int64           `json:"uniqueProducts"`
}
