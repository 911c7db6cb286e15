package repository

// Schema definitions for Harrier.
// Compatible with both SQLite and PostgreSQL.

// Primary store: products and the transactions recorded against them.
const schemaProducts = `
CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    name TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_type ON products(type);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    product_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount NUMERIC NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user_product ON transactions(user_id, product_id);
`

// Rules store: rule definitions and the append-only execution log.
const schemaRecommendationRules = `
CREATE TABLE IF NOT EXISTS recommendation_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    product_type TEXT NOT NULL,
    condition_type TEXT NOT NULL,
    condition_json TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_recommendation_rules_active ON recommendation_rules(active, priority);
`

// rule_execution_log has no foreign key to recommendation_rules: hard
// deleting a rule keeps its history.
const schemaRuleExecutionLog = `
CREATE TABLE IF NOT EXISTS rule_execution_log (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    eligible INTEGER NOT NULL,
    execution_details TEXT NOT NULL DEFAULT '',
    executed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_execution_log_rule ON rule_execution_log(rule_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_rule_execution_log_user ON rule_execution_log(user_id, executed_at);
`

// PrimarySchemas returns the primary store schema statements in order.
func PrimarySchemas() []string {
	return []string{
		schemaProducts,
		schemaTransactions,
	}
}

// RulesSchemas returns the rules store schema statements in order.
func RulesSchemas() []string {
	return []string{
		schemaRecommendationRules,
		schemaRuleExecutionLog,
	}
}

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return append(PrimarySchemas(), RulesSchemas()...)
}
