package listings

import "time"

// Listing is one farmer's product offering together with its escrow and dispute state.
type Listing struct {
	ID              uint64    `json:"id"`
	SellerAddress   string    `json:"seller_address"`
	Name            string    `json:"name"`
	Bio             string    `json:"bio"`
	Category        string    `json:"category"`
	Price           uint64    `json:"price"`
	EscrowBalance   uint64    `json:"escrow_balance"`
	DisputeStatus   bool      `json:"dispute_status"`
	Rating          uint8     `json:"rating"`
	ProductStatus   string    `json:"product_status"` // see status.go
	ConsumerAddress *string   `json:"consumer_address,omitempty"`
	IsSold          bool      `json:"is_sold"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasBid reports whether a consumer address has been recorded.
func (l Listing) HasBid() bool { return l.ConsumerAddress != nil }

// Consumer returns the recorded consumer address or "".
func (l Listing) Consumer() string {
	if l.ConsumerAddress == nil {
		return ""
	}
	return *l.ConsumerAddress
}

// SettledSale is the archive record written once, on payment release.
type SettledSale struct {
	ID              uint64    `json:"id"`
	SellerAddress   string    `json:"seller_address"`
	ConsumerAddress string    `json:"consumer_address,omitempty"`
	Amount          uint64    `json:"amount"`
	SettledAt       time.Time `json:"settled_at"`
}

// CreateInput carries the farmer-supplied fields of a new listing.
type CreateInput struct {
	SellerAddress string `json:"seller_address"`
	Name          string `json:"name"`
	Bio           string `json:"bio"`
	Category      string `json:"category"`
	Price         uint64 `json:"price"`
	ProductStatus string `json:"product_status,omitempty"`
}
