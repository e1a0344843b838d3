package redisx

import "time"

const (
	// Idempotent create: idem:listing:create:{idempotency_key} -> listing_id
	KeyIdemListingCreate = "idem:listing:create:%s"

	// Status cache: listing_status:{listing_id} -> hash {id, status, version}
	KeyListingStatus = "listing_status:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
