package listings

// Status is the free-text label mirrored into Listing.ProductStatus.
type Status string

const (
	StatusListed                  Status = "Listed"
	StatusBidPlaced               Status = "Bid Placed"
	StatusBidAccepted             Status = "Bid Accepted"
	StatusSold                    Status = "Product Sold"
	StatusDisputeRaised           Status = "Dispute Raised"
	StatusResolvedFundsToFarmer   Status = "Dispute Resolved - Funds to Farmer"
	StatusResolvedFundsToConsumer Status = "Dispute Resolved - Funds to Consumer"
	StatusPaymentReleased         Status = "Payment Released"
)

// State is the structural position of a listing, derived from its fields
// rather than from the free-text label.
type State string

const (
	StateListed   State = "listed"
	StateBid      State = "bid"
	StateSold     State = "sold"
	StateDisputed State = "disputed"
)

// StateOf derives the structural state of l. A dispute wins over everything
// else because it suspends settlement.
func StateOf(l Listing) State {
	switch {
	case l.DisputeStatus:
		return StateDisputed
	case l.IsSold:
		return StateSold
	case l.HasBid():
		return StateBid
	default:
		return StateListed
	}
}

// ResolutionStatus maps a dispute outcome to its label.
func ResolutionStatus(favorFarmer bool) Status {
	if favorFarmer {
		return StatusResolvedFundsToFarmer
	}
	return StatusResolvedFundsToConsumer
}
