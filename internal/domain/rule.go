package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrRuleNotFound is returned when a rule id does not exist.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrExecutionNotFound is returned when an execution log id does not exist.
	ErrExecutionNotFound = errors.New("execution log entry not found")

	// ErrMalformedCondition marks a condition that cannot be evaluated.
	ErrMalformedCondition = errors.New("malformed condition")
)

// Rule is a stored eligibility predicate tied to a product type.
type Rule struct {
	ID          string
	Name        string
	Description string

	// ProductType selects the catalog offer unlocked when the rule holds.
	ProductType string

	Condition Condition

	// Higher priorities are evaluated and ranked first.
	Priority int

	// Inactive rules are never evaluated.
	Active bool

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// ConditionType returns the tag of the rule's condition.
func (r *Rule) ConditionType() ConditionType {
	if r.Condition == nil {
		return ""
	}
	return r.Condition.Type()
}

type ruleJSON struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	ProductType   string           `json:"productType"`
	ConditionType string           `json:"conditionType"`
	Condition     *json.RawMessage `json:"condition,omitempty"`
	Priority      int              `json:"priority"`
	Active        bool             `json:"active"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     *time.Time       `json:"updatedAt,omitempty"`
}

// MarshalJSON renders the condition as its payload document.
func (r Rule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		ProductType: r.ProductType,
		Priority:    r.Priority,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	if r.Condition != nil {
		tag, payload, err := EncodeCondition(r.Condition)
		if err != nil {
			return nil, err
		}
		raw := json.RawMessage(payload)
		if !json.Valid(raw) {
			// Malformed stored payloads are surfaced as a JSON string.
			quoted, _ := json.Marshal(string(payload))
			raw = quoted
		}
		out.ConditionType = tag
		out.Condition = &raw
	}

	return json.Marshal(out)
}

// UnmarshalJSON parses the condition payload with ParseCondition.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*r = Rule{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		ProductType: in.ProductType,
		Priority:    in.Priority,
		Active:      in.Active,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   in.UpdatedAt,
	}

	var payload []byte
	if in.Condition != nil {
		payload = *in.Condition
	}
	if in.ConditionType != "" || len(payload) > 0 {
		r.Condition = ParseCondition(in.ConditionType, payload)
	}

	return nil
}
