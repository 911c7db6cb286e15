package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ConditionType identifies a condition variant.
type ConditionType string

const (
	ConditionHasProduct          ConditionType = "HAS_PRODUCT"
	ConditionNoProduct           ConditionType = "NO_PRODUCT"
	ConditionMinAmount           ConditionType = "MIN_AMOUNT"
	ConditionMinTransactionCount ConditionType = "MIN_TRANSACTION_COUNT"
	ConditionAmountComparison    ConditionType = "AMOUNT_COMPARISON"

	// ConditionAllOf holds nested conditions that must all be satisfied.
	ConditionAllOf ConditionType = "ALL_OF"

	// ConditionExpression is a CEL boolean expression over the customer's
	// transaction statistics for one product type.
	ConditionExpression ConditionType = "EXPRESSION"
)

// ComparisonType selects the comparison applied by an AMOUNT_COMPARISON condition.
type ComparisonType string

const (
	CompareGreaterThan           ComparisonType = "GREATER_THAN"
	CompareLessThan              ComparisonType = "LESS_THAN"
	CompareEquals                ComparisonType = "EQUALS"
	CompareGreaterThanOrEqual    ComparisonType = "GREATER_THAN_OR_EQUAL"
	CompareLessThanOrEqual       ComparisonType = "LESS_THAN_OR_EQUAL"
	CompareDepositsGTWithdrawals ComparisonType = "DEPOSITS_GT_WITHDRAWALS"
	CompareWithdrawalsGTAmount   ComparisonType = "WITHDRAWALS_GT_AMOUNT"
)

// Valid reports whether c is one of the known comparison types.
func (c ComparisonType) Valid() bool {
	switch c {
	case CompareGreaterThan, CompareLessThan, CompareEquals,
		CompareGreaterThanOrEqual, CompareLessThanOrEqual,
		CompareDepositsGTWithdrawals, CompareWithdrawalsGTAmount:
		return true
	}
	return false
}

// Condition is an eligibility predicate. The set of variants is closed:
// only the types declared in this file implement it.
type Condition interface {
	Type() ConditionType
	condition()
}

// HasProduct holds when the customer has transacted on a product of ProductType.
type HasProduct struct {
	ProductType string
}

// NoProduct holds when the customer has never transacted on a product of ProductType.
type NoProduct struct {
	ProductType string
}

// MinAmount holds when the summed amount of matching transactions reaches MinAmount.
type MinAmount struct {
	ProductType     string
	TransactionType string
	MinAmount       *decimal.Decimal
}

// MinTransactionCount holds when the number of matching transactions reaches MinCount.
type MinTransactionCount struct {
	ProductType     string
	TransactionType string
	MinCount        *int
}

// AmountComparison compares deposit (or withdrawal) totals for ProductType.
type AmountComparison struct {
	ProductType string
	Comparison  ComparisonType
	Amount      *decimal.Decimal
}

// AllOf holds when every nested condition holds. An empty list never holds.
type AllOf struct {
	Conditions []Condition
}

// Expression is a CEL expression evaluated against TransactionStats.
type Expression struct {
	ProductType string
	Expr        string
}

// Unknown is produced for unrecognised tags and malformed payloads.
// It never holds.
type Unknown struct {
	Tag    string
	Raw    json.RawMessage
	Reason string
}

func (HasProduct) Type() ConditionType          { return ConditionHasProduct }
func (NoProduct) Type() ConditionType           { return ConditionNoProduct }
func (MinAmount) Type() ConditionType           { return ConditionMinAmount }
func (MinTransactionCount) Type() ConditionType { return ConditionMinTransactionCount }
func (AmountComparison) Type() ConditionType    { return ConditionAmountComparison }
func (AllOf) Type() ConditionType               { return ConditionAllOf }
func (Expression) Type() ConditionType          { return ConditionExpression }
func (u Unknown) Type() ConditionType           { return ConditionType(u.Tag) }

func (HasProduct) condition()          {}
func (NoProduct) condition()           {}
func (MinAmount) condition()           {}
func (MinTransactionCount) condition() {}
func (AmountComparison) condition()    {}
func (AllOf) condition()               {}
func (Expression) condition()          {}
func (Unknown) condition()             {}

// ConditionPayload is the stored JSON document of a condition.
// Only the fields relevant to Type are populated.
type ConditionPayload struct {
	Type             string             `json:"type,omitempty"`
	ProductType      string             `json:"productType,omitempty"`
	TransactionType  string             `json:"transactionType,omitempty"`
	MinCount         *int               `json:"minCount,omitempty"`
	MinAmount        *decimal.Decimal   `json:"minAmount,omitempty"`
	ComparisonType   string             `json:"comparisonType,omitempty"`
	ComparisonAmount *decimal.Decimal   `json:"comparisonAmount,omitempty"`
	ProductTypes     []string           `json:"productTypes,omitempty"`
	Expression       string             `json:"expression,omitempty"`
	Conditions       []ConditionPayload `json:"conditions,omitempty"`
}

// ParseCondition builds a Condition from a stored tag and JSON payload.
// The tag wins over the payload's own "type"; the payload type is used when
// the tag is empty. It never fails: bad input yields an Unknown.
func ParseCondition(conditionType string, payload []byte) Condition {
	raw := json.RawMessage(bytes.Clone(payload))

	if len(bytes.TrimSpace(payload)) == 0 {
		return Unknown{Tag: conditionType, Reason: "empty condition payload"}
	}

	var p ConditionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Unknown{
			Tag:    conditionType,
			Raw:    raw,
			Reason: fmt.Sprintf("invalid condition payload: %v", err),
		}
	}

	if strings.TrimSpace(conditionType) == "" {
		conditionType = p.Type
	}

	return fromPayload(conditionType, p, raw)
}

// ConditionFromPayload converts an already decoded payload, using its Type.
func ConditionFromPayload(p ConditionPayload) Condition {
	raw, _ := json.Marshal(p)
	return fromPayload(p.Type, p, raw)
}

func fromPayload(tag string, p ConditionPayload, raw json.RawMessage) Condition {
	switch ConditionType(strings.ToUpper(strings.TrimSpace(tag))) {
	case ConditionHasProduct:
		return HasProduct{ProductType: p.ProductType}

	case ConditionNoProduct:
		return NoProduct{ProductType: p.ProductType}

	case ConditionMinAmount:
		return MinAmount{
			ProductType:     p.ProductType,
			TransactionType: p.TransactionType,
			MinAmount:       p.MinAmount,
		}

	case ConditionMinTransactionCount:
		return MinTransactionCount{
			ProductType:     p.ProductType,
			TransactionType: p.TransactionType,
			MinCount:        p.MinCount,
		}

	case ConditionAmountComparison:
		cmp := ComparisonType(strings.ToUpper(strings.TrimSpace(p.ComparisonType)))
		if cmp != "" && !cmp.Valid() {
			return Unknown{
				Tag:    tag,
				Raw:    raw,
				Reason: fmt.Sprintf("unknown comparison type %q", p.ComparisonType),
			}
		}
		return AmountComparison{
			ProductType: p.ProductType,
			Comparison:  cmp,
			Amount:      p.ComparisonAmount,
		}

	case ConditionAllOf:
		conds := make([]Condition, 0, len(p.Conditions))
		for _, child := range p.Conditions {
			conds = append(conds, ConditionFromPayload(child))
		}
		return AllOf{Conditions: conds}

	case ConditionExpression:
		return Expression{ProductType: p.ProductType, Expr: p.Expression}

	default:
		return Unknown{
			Tag:    tag,
			Raw:    raw,
			Reason: fmt.Sprintf("unknown condition type %q", tag),
		}
	}
}

// PayloadOf returns the JSON document for c.
func PayloadOf(c Condition) ConditionPayload {
	switch v := c.(type) {
	case HasProduct:
		return ConditionPayload{Type: string(ConditionHasProduct), ProductType: v.ProductType}
	case NoProduct:
		return ConditionPayload{Type: string(ConditionNoProduct), ProductType: v.ProductType}
	case MinAmount:
		return ConditionPayload{
			Type:            string(ConditionMinAmount),
			ProductType:     v.ProductType,
			TransactionType: v.TransactionType,
			MinAmount:       v.MinAmount,
		}
	case MinTransactionCount:
		return ConditionPayload{
			Type:            string(ConditionMinTransactionCount),
			ProductType:     v.ProductType,
			TransactionType: v.TransactionType,
			MinCount:        v.MinCount,
		}
	case AmountComparison:
		return ConditionPayload{
			Type:             string(ConditionAmountComparison),
			ProductType:      v.ProductType,
			ComparisonType:   string(v.Comparison),
			ComparisonAmount: v.Amount,
		}
	case AllOf:
		children := make([]ConditionPayload, 0, len(v.Conditions))
		for _, child := range v.Conditions {
			children = append(children, PayloadOf(child))
		}
		return ConditionPayload{Type: string(ConditionAllOf), Conditions: children}
	case Expression:
		return ConditionPayload{
			Type:        string(ConditionExpression),
			ProductType: v.ProductType,
			Expression:  v.Expr,
		}
	case Unknown:
		var p ConditionPayload
		_ = json.Unmarshal(v.Raw, &p)
		p.Type = v.Tag
		return p
	default:
		return ConditionPayload{}
	}
}

// EncodeCondition returns the tag and JSON payload to persist for c.
// An Unknown keeps its original payload bytes.
func EncodeCondition(c Condition) (string, []byte, error) {
	if c == nil {
		return "", nil, fmt.Errorf("%w: condition is required", ErrMalformedCondition)
	}

	if u, ok := c.(Unknown); ok {
		if len(u.Raw) == 0 {
			return u.Tag, []byte("{}"), nil
		}
		return u.Tag, u.Raw, nil
	}

	data, err := json.Marshal(PayloadOf(c))
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s condition: %w", c.Type(), err)
	}
	return string(c.Type()), data, nil
}
