package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(LedgerOperations.WithLabelValues("place bid", "AlreadyBidOn"))
	ObserveOperation("place bid", "AlreadyBidOn", time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(LedgerOperations.WithLabelValues("place bid", "AlreadyBidOn")))
}

func TestHelpersCountByLabel(t *testing.T) {
	IncEvent("listing.sold", "dropped")
	IncSettlement("duplicate")
	IncStatusCache("hit")
	IncError("redis", "status_invalidate")

	assert.GreaterOrEqual(t, testutil.ToFloat64(EventsPublished.WithLabelValues("listing.sold", "dropped")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(SettlementMessages.WithLabelValues("duplicate")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(StatusCacheAccess.WithLabelValues("hit")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(ErrorsTotal.WithLabelValues("redis", "status_invalidate")), 1.0)
}
