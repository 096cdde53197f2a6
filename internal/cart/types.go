package cart

import (
	"time"

	"github.com/imrishuroy/go-storefront-orderflow/internal/money"
)

// MaxLines caps distinct cart lines so a cart always fits one checkout
// transaction next to the order, tracking, cart and idempotency writes.
const MaxLines = 90

type Item struct {
	ItemID    string       `dynamodbav:"item_id" json:"item_id"`
	ProductID string       `dynamodbav:"product_id" json:"product_id"`
	Name      string       `dynamodbav:"name" json:"name"`
	Quantity  int          `dynamodbav:"quantity" json:"quantity"`
	Price     money.Amount `dynamodbav:"price" json:"price"` // frozen at add time
	AddedAt   time.Time    `dynamodbav:"added_at" json:"added_at"`
}

func (i Item) LineTotal() money.Amount { return i.Price.Times(i.Quantity) }

// Cart is the single cart row of a user. Version is bumped on every write and
// guards concurrent modification.
type Cart struct {
	UserID    string    `dynamodbav:"user_id" json:"user_id"` // PK
	Items     []Item    `dynamodbav:"items" json:"items"`
	Version   int64     `dynamodbav:"version" json:"version"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Total is derived from the frozen line prices; it is never stored.
func (c *Cart) Total() money.Amount {
	total := money.Zero
	for _, it := range c.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

func (c *Cart) findByProduct(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) findByItem(itemID string) int {
	for i, it := range c.Items {
		if it.ItemID == itemID {
			return i
		}
	}
	return -1
}

// View is the cart as returned to clients.
type View struct {
	Items     []Item       `json:"items"`
	Total     money.Amount `json:"total"`
	ItemCount int          `json:"item_count"`
	UpdatedAt time.Time    `json:"updated_at,omitempty"`
}

func (c *Cart) View() View {
	items := c.Items
	if items == nil {
		items = []Item{}
	}
	count := 0
	for _, it := range items {
		count += it.Quantity
	}
	return View{Items: items, Total: c.Total(), ItemCount: count, UpdatedAt: c.UpdatedAt}
}
