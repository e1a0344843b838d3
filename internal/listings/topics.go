package listings

import "strconv"

const (
	TopicListingCreated  = "listing.created"
	TopicBidPlaced       = "listing.bid.placed"
	TopicBidAccepted     = "listing.bid.accepted"
	TopicListingSold     = "listing.sold"
	TopicDisputeRaised   = "listing.dispute.raised"
	TopicDisputeResolved = "listing.dispute.resolved"
	TopicPaymentReleased = "listing.payment.released"
	TopicEscrowChanged   = "listing.escrow.changed"
	TopicListingUpdated  = "listing.updated"
	TopicFarmerRated     = "listing.rated"
)

var topicByEvent = map[string]string{
	EventListingCreated:  TopicListingCreated,
	EventBidPlaced:       TopicBidPlaced,
	EventBidAccepted:     TopicBidAccepted,
	EventListingSold:     TopicListingSold,
	EventDisputeRaised:   TopicDisputeRaised,
	EventDisputeResolved: TopicDisputeResolved,
	EventPaymentReleased: TopicPaymentReleased,
	EventEscrowChanged:   TopicEscrowChanged,
	EventListingUpdated:  TopicListingUpdated,
	EventFarmerRated:     TopicFarmerRated,
}

// TopicFor returns the topic an event type is published on, or "" if unknown.
func TopicFor(eventType string) string { return topicByEvent[eventType] }

// Partition key = listing id, so every event of one listing stays ordered.
func PartitionKey(listingID uint64) []byte { return []byte(strconv.FormatUint(listingID, 10)) }
