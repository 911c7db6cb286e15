package statistics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTrigger(t *testing.T) {
	t.Run("Should create rule and customer entries lazily", func(t *testing.T) {
		a := New()

		_, ok := a.Rule("r1")
		assert.False(t, ok)

		a.RecordTrigger("r1", "First rule", "alice")

		rule, ok := a.Rule("r1")
		require.True(t, ok)
		assert.Equal(t, "First rule", rule.RuleName)
		assert.EqualValues(t, 1, rule.TriggerCount)
		assert.EqualValues(t, 1, rule.TotalUsers)
		assert.Equal(t, 1.0, rule.AveragePerUser)
		assert.False(t, rule.LastTriggered.IsZero())

		customer, ok := a.Customer("alice")
		require.True(t, ok)
		assert.EqualValues(t, 1, customer.RecommendationCount)
		assert.Equal(t, 1, customer.TriggeredRulesCount)
	})

	t.Run("Should keep the first observed rule name", func(t *testing.T) {
		a := New()
		a.RecordTrigger("r1", "original", "alice")
		a.RecordTrigger("r1", "renamed", "bob")

		rule, _ := a.Rule("r1")
		assert.Equal(t, "original", rule.RuleName)
		assert.EqualValues(t, 2, rule.TotalUsers)
	})

	t.Run("Should count distinct rules per customer", func(t *testing.T) {
		a := New()
		a.RecordTrigger("r1", "one", "alice")
		a.RecordTrigger("r1", "one", "alice")
		a.RecordTrigger("r2", "two", "alice")

		customer, _ := a.Customer("alice")
		assert.EqualValues(t, 3, customer.RecommendationCount)
		assert.Equal(t, 2, customer.TriggeredRulesCount)
	})

	t.Run("Should count a trigger without customer towards totals only", func(t *testing.T) {
		a := New()
		a.RecordTrigger("r1", "anon", "")

		rule, ok := a.Rule("r1")
		require.True(t, ok)
		assert.EqualValues(t, 1, rule.TriggerCount)
		assert.EqualValues(t, 0, rule.TotalUsers)
		assert.Equal(t, 0.0, rule.AveragePerUser)

		overall := a.Overall()
		assert.EqualValues(t, 1, overall.TotalRecommendations)
		assert.Equal(t, 0, overall.UniqueUsers)
	})

	t.Run("Should record the latest trigger time", func(t *testing.T) {
		a := New()
		first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		a.now = func() time.Time { return first }
		a.RecordTrigger("r1", "one", "alice")

		later := first.Add(time.Hour)
		a.now = func() time.Time { return later }
		a.RecordTrigger("r1", "one", "alice")

		rule, _ := a.Rule("r1")
		assert.True(t, rule.LastTriggered.Equal(later))
	})
}

func TestRecordEvent(t *testing.T) {
	a := New()

	a.RecordEvent("alice", 3)
	a.RecordEvent("", 2)

	customer, ok := a.Customer("alice")
	require.True(t, ok)
	assert.EqualValues(t, 3, customer.RecommendationCount)
	assert.Equal(t, 0, customer.TriggeredRulesCount)

	overall := a.Overall()
	assert.EqualValues(t, 5, overall.TotalRecommendations)
	assert.Equal(t, 1, overall.UniqueUsers)
	assert.Equal(t, 0, overall.ActiveRules)
}

func TestOverall(t *testing.T) {
	a := New()

	// r0..r6 with trigger counts 1..7; r-tie matches r5's count.
	for i := 0; i < 7; i++ {
		for j := 0; j <= i; j++ {
			a.RecordTrigger(fmt.Sprintf("r%d", i), fmt.Sprintf("rule %d", i), "alice")
		}
	}
	for j := 0; j < 6; j++ {
		a.RecordTrigger("r-tie", "tie", "bob")
	}

	overall := a.Overall()

	assert.EqualValues(t, 28+6, overall.TotalRecommendations)
	assert.Equal(t, 2, overall.UniqueUsers)
	assert.Equal(t, 8, overall.ActiveRules)
	require.Len(t, overall.TopRules, TopRulesLimit)

	ids := make([]string, 0, len(overall.TopRules))
	for _, r := range overall.TopRules {
		ids = append(ids, r.RuleID)
	}
	assert.Equal(t, []string{"r6", "r-tie", "r5", "r4", "r3"}, ids)
	assert.EqualValues(t, 7, overall.TopRules[0].Count)
	assert.EqualValues(t, 7, overall.TopRules[0].Users)
	assert.False(t, overall.GeneratedAt.IsZero())
}

func TestReset(t *testing.T) {
	a := New()
	a.RecordTrigger("r1", "one", "alice")
	a.RecordEvent("bob", 4)

	a.Reset()

	_, ok := a.Rule("r1")
	assert.False(t, ok)
	_, ok = a.Customer("alice")
	assert.False(t, ok)

	overall := a.Overall()
	assert.Zero(t, overall.TotalRecommendations)
	assert.Zero(t, overall.UniqueUsers)
	assert.Zero(t, overall.ActiveRules)
	assert.Empty(t, overall.TopRules)

	a.RecordTrigger("r1", "one", "alice")
	rule, ok := a.Rule("r1")
	require.True(t, ok)
	assert.EqualValues(t, 1, rule.TriggerCount)
}

func TestConcurrentUpdates(t *testing.T) {
	a := New()

	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			customer := fmt.Sprintf("cust-%d", g%10)
			for i := 0; i < perGoroutine; i++ {
				a.RecordTrigger(fmt.Sprintf("rule-%d", i%4), "shared", customer)
				if i%50 == 0 {
					_ = a.Overall()
				}
			}
		}(g)
	}
	wg.Wait()

	overall := a.Overall()
	assert.EqualValues(t, goroutines*perGoroutine, overall.TotalRecommendations)
	assert.Equal(t, 10, overall.UniqueUsers)
	assert.Equal(t, 4, overall.ActiveRules)

	var sum int64
	for i := 0; i < 4; i++ {
		rule, ok := a.Rule(fmt.Sprintf("rule-%d", i))
		require.True(t, ok)
		assert.EqualValues(t, goroutines*perGoroutine/4, rule.TriggerCount)
		sum += rule.TriggerCount
	}
	assert.EqualValues(t, goroutines*perGoroutine, sum)

	customer, ok := a.Customer("cust-3")
	require.True(t, ok)
	assert.EqualValues(t, 5*perGoroutine, customer.RecommendationCount)
	assert.Equal(t, 4, customer.TriggeredRulesCount)
}
