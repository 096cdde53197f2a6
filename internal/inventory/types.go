package inventory

import (
	"time"

	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
)

// Product is the stock-bearing row of the products table. Catalog fields
// beyond what checkout needs live elsewhere.
type Product struct {
	ProductID     string       `dynamodbav:"product_id" json:"product_id"` // PK
	Name          string       `dynamodbav:"name" json:"name"`
	Price         money.Amount `dynamodbav:"price" json:"price"`
	DiscountPrice money.Amount `dynamodbav:"discount_price,omitempty" json:"discount_price,omitempty"`
	Quantity      int          `dynamodbav:"quantity" json:"quantity"`
	IsActive      bool         `dynamodbav:"is_active" json:"is_active"`
	UpdatedAt     time.Time    `dynamodbav:"updated_at" json:"updated_at"`
}

// EffectivePrice is the discount price when one is set, else the list price.
func (p Product) EffectivePrice() money.Amount {
	if p.DiscountPrice.IsPositive() {
		return p.DiscountPrice
	}
	return p.Price
}
