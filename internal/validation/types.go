package validation

// Item is a single order line.
type Item struct {
	SKU      string  `json:"sku" validate:"required"`
	Quantity int     `json:"quantity" validate:"required,min=1"`
	Price    float64 `json:"price" validate:"omitempty,gt=0"` // unit price, optional
}

// Buyer is the delivery recipient.
type Buyer struct {
	Name     string `json:"name" validate:"required"`
	Country  string `json:"country" validate:"required,len=2"` // ISO 3166-1 alpha-2
	Address  string `json:"address" validate:"required"`
	City     string `json:"city,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	PlatformOrderRef string `json:"platform_order_ref" validate:"required"`
	Items            []Item `json:"items" validate:"required,min=1,dive"`
	Buyer            Buyer  `json:"buyer" validate:"required"`
}

// ForceFailRequest is the payload for POST /orders/:id/force-fail.
type ForceFailRequest struct {
	Reason string `json:"reason,omitempty"`
}

// WebhookRequest is the payload for supplier and forwarder status webhooks.
type WebhookRequest struct {
	EventID string            `json:"event_id" validate:"required"`
	OrderID string            `json:"order_id" validate:"required"`
	Status  string            `json:"status" validate:"required"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// DeliveryConfirmedRequest is the payload for the delivery-confirmed webhook.
type DeliveryConfirmedRequest struct {
	EventID string `json:"event_id" validate:"required"`
	OrderID string `json:"order_id" validate:"required"`
}
