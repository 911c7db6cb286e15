package domain

import "time"

// ProductOffer is a product recommended to a customer because a rule held.
type ProductOffer struct {
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	Description string    `json:"description"`
	RuleID      string    `json:"ruleId"`
	OfferedAt   time.Time `json:"offeredAt"`
}
