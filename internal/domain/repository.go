// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RuleStore persists recommendation rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, id string, rule *Rule) error
	DeleteRule(ctx context.Context, id string) error
	SoftDeleteRule(ctx context.Context, id string) error
	SetRuleActive(ctx context.Context, id string, active bool) error
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)

	// ListActiveRules returns active rules ordered by priority (highest
	// first), then creation time, then id.
	ListActiveRules(ctx context.Context) ([]*Rule, error)
	RuleExists(ctx context.Context, id string) (bool, error)
}

// ExecutionStore persists the append-only rule execution log.
type ExecutionStore interface {
	RecordExecution(ctx context.Context, entry *ExecutionLogEntry) error
	GetExecution(ctx context.Context, id string) (*ExecutionLogEntry, error)
	DeleteExecution(ctx context.Context, id string) error

	// Listings are most recent first.
	ListExecutionsByRule(ctx context.Context, ruleID string) ([]*ExecutionLogEntry, error)
	ListExecutionsByCustomer(ctx context.Context, customerID string) ([]*ExecutionLogEntry, error)

	CountExecutions(ctx context.Context) (int64, error)
	CountEligibleExecutions(ctx context.Context) (int64, error)
	CountEligibleByRule(ctx context.Context, ruleID string) (int64, error)
	CountEligibleCustomersByRule(ctx context.Context, ruleID string) (int64, error)
}

// TransactionAggregates answers the aggregate questions conditions ask about
// a customer's transaction history.
type TransactionAggregates interface {
	// CountProducts returns the number of distinct products of productType
	// the customer has at least one transaction on.
	CountProducts(ctx context.Context, customerID, productType string) (int64, error)

	SumAmount(ctx context.Context, customerID, productType, txType string) (decimal.Decimal, error)
	CountTransactions(ctx context.Context, customerID, productType, txType string) (int64, error)

	// DepositWithdrawalTotals returns summed deposits and withdrawals for productType.
	DepositWithdrawalTotals(ctx context.Context, customerID, productType string) (deposits, withdrawals decimal.Decimal, err error)

	// TransactionStats summarises all activity, or one product type when
	// productType is non-empty.
	TransactionStats(ctx context.Context, customerID, productType string) (*TransactionStats, error)
}

// TransactionStore ingests primary store rows.
type TransactionStore interface {
	SaveProduct(ctx context.Context, p *Product) error
	SaveTransaction(ctx context.Context, tx *Transaction) error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "pgx".
	// Empty means "reuse the primary repository" for the rules store.
	Driver string `envconfig:"DRIVER" validate:"omitempty,oneof=sqlite postgres pgx"`

	// SQLite specific
	SQLitePath string `envconfig:"SQLITE_PATH" default:"./harrier.db"`

	// PostgreSQL specific
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432" validate:"min=1,max=65535"`
	PostgresUser     string `envconfig:"POSTGRES_USER"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresDB       string `envconfig:"POSTGRES_DB" default:"harrier"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// Connection pool settings
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25" validate:"min=0"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5" validate:"min=0"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`
}
