// Package statistics keeps in-memory rollups of rule triggers and customer
// recommendation activity. Nothing here is persisted; a restart or Reset
// starts from zero.
package statistics

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TopRulesLimit is the number of rules reported by Overall.
const TopRulesLimit = 5

// RuleSummary is the read model for one rule.
type RuleSummary struct {
	RuleID         string    `json:"ruleId"`
	RuleName       string    `json:"ruleName"`
	TriggerCount   int64     `json:"triggerCount"`
	TotalUsers     int64     `json:"totalUsers"`
	LastTriggered  time.Time `json:"lastTriggered"`
	AveragePerUser float64   `json:"averagePerUser"`
}

// CustomerSummary is the read model for one customer.
type CustomerSummary struct {
	CustomerID          string    `json:"userId"`
	RecommendationCount int64     `json:"recommendationCount"`
	LastActivity        time.Time `json:"lastActivity"`
	TriggeredRulesCount int       `json:"triggeredRulesCount"`
}

// TopRule is an entry of OverallSummary.TopRules.
type TopRule struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Count    int64  `json:"count"`
	Users    int64  `json:"users"`
}

// OverallSummary aggregates everything recorded since start or last Reset.
type OverallSummary struct {
	TotalRecommendations int64     `json:"totalRecommendations"`
	UniqueUsers          int       `json:"uniqueUsers"`
	ActiveRules          int       `json:"activeRules"`
	TopRules             []TopRule `json:"topRules"`
	GeneratedAt          time.Time `json:"generatedAt"`
}

type ruleStats struct {
	id            string
	name          string
	triggerCount  atomic.Int64
	totalUsers    atomic.Int64
	lastTriggered atomic.Int64 // unix nanos
}

type customerStats struct {
	id              string
	recommendations atomic.Int64
	lastActivity    atomic.Int64 // unix nanos

	mu    sync.Mutex
	rules map[string]struct{}
}

func (c *customerStats) addRule(ruleID string) {
	c.mu.Lock()
	c.rules[ruleID] = struct{}{}
	c.mu.Unlock()
}

func (c *customerStats) ruleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rules)
}

// Aggregator is safe for concurrent use.
//
// The maps are guarded by mu. Updates to existing entries run under the
// read lock using atomics; creating an entry or resetting takes the write
// lock, so a Reset never interleaves with a half-applied update.
type Aggregator struct {
	mu        sync.RWMutex
	rules     map[string]*ruleStats
	customers map[string]*customerStats
	total     atomic.Int64

	now func() time.Time
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{
		rules:     make(map[string]*ruleStats),
		customers: make(map[string]*customerStats),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordTrigger notes that ruleID held for customerID. The rule name is
// captured on first observation. Every trigger also counts towards the
// global recommendation total; an empty customerID skips the per-customer
// and per-rule user counters.
func (a *Aggregator) RecordTrigger(ruleID, ruleName, customerID string) {
	now := a.now().UnixNano()

	a.mu.RLock()
	rs, rok := a.rules[ruleID]
	cs, cok := a.customers[customerID]
	if rok && (customerID == "" || cok) {
		a.applyTrigger(rs, cs, ruleID, now)
		a.mu.RUnlock()
		return
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	rs = a.ruleLocked(ruleID, ruleName)
	cs = nil
	if customerID != "" {
		cs = a.customerLocked(customerID)
	}
	a.applyTrigger(rs, cs, ruleID, now)
}

func (a *Aggregator) applyTrigger(rs *ruleStats, cs *customerStats, ruleID string, now int64) {
	rs.triggerCount.Add(1)
	rs.lastTriggered.Store(now)

	if cs != nil {
		rs.totalUsers.Add(1)
		cs.recommendations.Add(1)
		cs.addRule(ruleID)
		cs.lastActivity.Store(now)
	}

	a.total.Add(1)
}

// RecordEvent adds count recommendations for customerID without tying them
// to a rule. An empty customerID still adds to the global total.
func (a *Aggregator) RecordEvent(customerID string, count int) {
	now := a.now().UnixNano()

	if customerID == "" {
		a.mu.RLock()
		a.total.Add(int64(count))
		a.mu.RUnlock()
		return
	}

	a.mu.RLock()
	cs, ok := a.customers[customerID]
	if ok {
		a.applyEvent(cs, count, now)
		a.mu.RUnlock()
		return
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyEvent(a.customerLocked(customerID), count, now)
}

func (a *Aggregator) applyEvent(cs *customerStats, count int, now int64) {
	cs.recommendations.Add(int64(count))
	cs.lastActivity.Store(now)
	a.total.Add(int64(count))
}

func (a *Aggregator) ruleLocked(ruleID, ruleName string) *ruleStats {
	rs, ok := a.rules[ruleID]
	if !ok {
		rs = &ruleStats{id: ruleID, name: ruleName}
		a.rules[ruleID] = rs
	}
	return rs
}

func (a *Aggregator) customerLocked(customerID string) *customerStats {
	cs, ok := a.customers[customerID]
	if !ok {
		cs = &customerStats{id: customerID, rules: make(map[string]struct{})}
		a.customers[customerID] = cs
	}
	return cs
}

// Rule returns the summary for ruleID, or false if it never triggered.
func (a *Aggregator) Rule(ruleID string) (RuleSummary, bool) {
	a.mu.RLock()
	rs, ok := a.rules[ruleID]
	a.mu.RUnlock()
	if !ok {
		return RuleSummary{}, false
	}

	triggers := rs.triggerCount.Load()
	users := rs.totalUsers.Load()

	var avg float64
	if users > 0 {
		avg = float64(triggers) / float64(users)
	}

	return RuleSummary{
		RuleID:         rs.id,
		RuleName:       rs.name,
		TriggerCount:   triggers,
		TotalUsers:     users,
		LastTriggered:  fromNanos(rs.lastTriggered.Load()),
		AveragePerUser: avg,
	}, true
}

// Customer returns the summary for customerID, or false if nothing was
// recorded for them.
func (a *Aggregator) Customer(customerID string) (CustomerSummary, bool) {
	a.mu.RLock()
	cs, ok := a.customers[customerID]
	a.mu.RUnlock()
	if !ok {
		return CustomerSummary{}, false
	}

	return CustomerSummary{
		CustomerID:          cs.id,
		RecommendationCount: cs.recommendations.Load(),
		LastActivity:        fromNanos(cs.lastActivity.Load()),
		TriggeredRulesCount: cs.ruleCount(),
	}, true
}

// Overall returns grand totals and the top rules by trigger count
// (ties broken by rule id).
func (a *Aggregator) Overall() OverallSummary {
	a.mu.RLock()
	top := make([]TopRule, 0, len(a.rules))
	for _, rs := range a.rules {
		top = append(top, TopRule{
			RuleID:   rs.id,
			RuleName: rs.name,
			Count:    rs.triggerCount.Load(),
			Users:    rs.totalUsers.Load(),
		})
	}
	summary := OverallSummary{
		TotalRecommendations: a.total.Load(),
		UniqueUsers:          len(a.customers),
		ActiveRules:          len(a.rules),
	}
	a.mu.RUnlock()

	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].RuleID < top[j].RuleID
	})
	if len(top) > TopRulesLimit {
		top = top[:TopRulesLimit]
	}

	summary.TopRules = top
	summary.GeneratedAt = a.now()
	return summary
}

// Reset drops every rule and customer entry and zeroes the total.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.rules = make(map[string]*ruleStats)
	a.customers = make(map[string]*customerStats)
	a.total.Store(0)
	a.mu.Unlock()

	slog.Info("statistics cleared")
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
