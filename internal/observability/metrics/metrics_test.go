package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestObserveStorageQueryLabelsOperation(t *testing.T) {
	Init(nil, zerolog.Nop())

	ObserveStorageQuery("sqlite.get", ResultRejected, 3*time.Millisecond)
	ObserveStorageQuery("", "", time.Millisecond)

	if n := testutil.CollectAndCount(storageQueryLatency, metricPrefix+"storage_query_latency_seconds"); n < 2 {
		t.Fatalf("expected two label sets, got %d", n)
	}
	got := StorageQueryCount("sqlite.get", ResultRejected)
	if got != 1 {
		t.Fatalf("expected one rejected get, got %d", got)
	}
	if StorageQueryCount("unknown", ResultSuccess) != 1 {
		t.Fatalf("empty labels should default to unknown/success")
	}
}
