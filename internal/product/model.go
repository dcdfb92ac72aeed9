package product

const (
	StatusActive  = "active"
	StatusDisable = "disable"
)

// Product is the slice of the catalog row the payment flow needs.
// Prices are whole rupees.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    int64   `json:"price"`
	Stock    int     `json:"stock"`
	Status   string  `json:"status"`
	ImageURL *string `json:"image_url,omitempty"`
}

func (p Product) IsActive() bool {
	return p.Status == StatusActive
}
