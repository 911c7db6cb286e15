package domain

import "time"

// ExecutionLogEntry records one evaluation of one rule for one customer.
type ExecutionLogEntry struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"ruleId"`
	CustomerID string    `json:"userId"`
	Eligible   bool      `json:"eligible"`
	Details    string    `json:"details"`
	ExecutedAt time.Time `json:"executedAt"`
}

// RuleExecutionSummary aggregates the execution log for a single rule.
type RuleExecutionSummary struct {
	RuleID             string `json:"ruleId"`
	EligibleExecutions int64  `json:"eligibleExecutions"`
	UniqueCustomers    int64  `json:"uniqueCustomers"`
}

// ExecutionSummary aggregates the whole execution log.
type ExecutionSummary struct {
	TotalExecutions    int64 `json:"totalExecutions"`
	EligibleExecutions int64 `json:"eligibleExecutions"`
}
