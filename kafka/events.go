package kafka

import "time"

// QuantityChangedEvent is emitted after a stock mutation commits. Listeners
// never observe a quantity that can still be rolled back.
type QuantityChangedEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProductID   uint32    `json:"product_id"`
	VariantID   uint32    `json:"variant_id"`
	ShopID      uint32    `json:"shop_id"`
	Scope       string    `json:"scope"`
	NewQuantity int32     `json:"new_quantity"`
	Delta       int32     `json:"delta"`
	Timestamp   time.Time `json:"timestamp"`
}

// OrderLine is one decremented item of a placed order.
type OrderLine struct {
	ProductID uint32 `json:"product_id"`
	VariantID uint32 `json:"variant_id"`
	Quantity  int32  `json:"quantity"`
}

// OrderPlacedEvent is consumed from the checkout service; each line item
// decrements stock with the order id as the movement's reason reference.
type OrderPlacedEvent struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	OrderID   string      `json:"order_id"`
	ShopID    uint32      `json:"shop_id"`
	Items     []OrderLine `json:"items"`
	Timestamp time.Time   `json:"timestamp"`
}

// Event types
const (
	EventTypeQuantityChanged = "stock.quantity_changed"
	EventTypeOrderPlaced     = "order.placed"
)

// Kafka topics
const (
	TopicQuantityChanged = "stock-quantity-changed"
	TopicOrderPlaced     = "order-placed"
)
