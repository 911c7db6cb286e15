// Package catalog maps rule product types to the offers shown to customers.
package catalog

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Entry is an offerable product.
type Entry struct {
	ID          string `json:"id"`
	ProductType string `json:"productType"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog is a read-only product lookup keyed by product type.
type Catalog struct {
	entries map[string]Entry
	now     func() time.Time
}

// New builds a catalog from entries. Later entries replace earlier ones
// with the same product type.
func New(entries ...Entry) *Catalog {
	c := &Catalog{
		entries: make(map[string]Entry, len(entries)),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, e := range entries {
		c.entries[e.ProductType] = e
	}
	return c
}

// Default returns the bank's standard product line.
func Default() *Catalog {
	return New(
		Entry{ID: "123e4567-e89b-12d3-a456-426614174003", ProductType: "DEBIT", Name: "Debit card", Description: "Basic debit card"},
		Entry{ID: "123e4567-e89b-12d3-a456-426614174004", ProductType: "SAVING", Name: "Savings account", Description: "Account for building savings"},
		Entry{ID: "123e4567-e89b-12d3-a456-426614174000", ProductType: "INVESTMENT", Name: "Investment portfolio", Description: "Portfolio of securities"},
		Entry{ID: "123e4567-e89b-12d3-a456-426614174002", ProductType: "CREDIT", Name: "Credit card", Description: "Credit card with a grace period"},
		Entry{ID: "123e4567-e89b-12d3-a456-426614174001", ProductType: "PREMIUM_CARD", Name: "Premium card", Description: "Card with increased cashback"},
		Entry{ID: "123e4567-e89b-12d3-a456-426614174005", ProductType: "MORTGAGE", Name: "Mortgage", Description: "Home loan on favourable terms"},
	)
}

// Lookup returns the entry for productType.
func (c *Catalog) Lookup(productType string) (Entry, bool) {
	e, ok := c.entries[productType]
	return e, ok
}

// Entries returns all entries ordered by product type.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductType < out[j].ProductType })
	return out
}

// Offer turns an eligible rule into an offer. Product types without an
// entry get a generic offer named after the rule, so an eligible rule is
// never dropped.
func (c *Catalog) Offer(rule *domain.Rule) domain.ProductOffer {
	offer := domain.ProductOffer{
		RuleID:    rule.ID,
		OfferedAt: c.now(),
	}

	if e, ok := c.entries[rule.ProductType]; ok {
		offer.ProductID = e.ID
		offer.ProductName = e.Name
		offer.Description = e.Description
		return offer
	}

	offer.ProductID = uuid.New().String()
	offer.ProductName = "Special offer: " + rule.Name
	offer.Description = rule.Description
	return offer
}
