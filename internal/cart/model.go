package cart

import (
	"time"

	"sastabazar-be/internal/product"
)

type SelectedVariant struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type CartItem struct {
	ID              uint             `json:"id"`
	UserID          uint             `json:"user_id"`
	Quantity        int              `json:"quantity"`
	SelectedVariant *SelectedVariant `json:"selected_variant,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`

	Product product.Product `json:"product"`
}
