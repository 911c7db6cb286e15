package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

var validate = newValidator()

// newValidator reports fields by their JSON names so error messages match
// the request body the client sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RuleRequest is the request body for creating or replacing a rule.
// The condition type may be given at the top level or inside the condition.
type RuleRequest struct {
	Name          string          `json:"name" validate:"required"`
	Description   string          `json:"description,omitempty"`
	ProductType   string          `json:"productType"`
	ConditionType string          `json:"conditionType,omitempty"`
	Condition     json.RawMessage `json:"condition"`
	Priority      int             `json:"priority"`
	Active        *bool           `json:"active,omitempty"`
}

// Rule converts the request to a domain rule. Rules are active unless the
// request says otherwise.
func (req *RuleRequest) Rule() *domain.Rule {
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	return &domain.Rule{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		ProductType: strings.TrimSpace(req.ProductType),
		Condition:   domain.ParseCondition(req.ConditionType, req.Condition),
		Priority:    req.Priority,
		Active:      active,
	}
}

// RuleStatusRequest is the request body for PATCH /rules/{id}/status.
type RuleStatusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// StatisticsEventRequest is the request body for POST /statistics/events.
type StatisticsEventRequest struct {
	UserID string `json:"userId"`
	Count  int    `json:"count" validate:"min=1"`
}

// ProductRequest is the request body for POST /products.
type ProductRequest struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type" validate:"required"`
	Name string `json:"name"`
}

// TransactionRequest is the request body for POST /transactions.
type TransactionRequest struct {
	ID        string          `json:"id,omitempty"`
	ProductID string          `json:"productId" validate:"required"`
	UserID    string          `json:"userId" validate:"required"`
	Type      string          `json:"type" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	Amount    decimal.Decimal `json:"amount"`
}

// decodeRequest reads a JSON body into v and validates its tags.
func decodeRequest(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return errors.New("invalid JSON request body")
	}
	if err := validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError turns the first failed field into a client-facing message.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Errorf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}
