package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDeployment(t *testing.T) {
	before := testutil.ToFloat64(deploymentsTotal.WithLabelValues("metrics-test", ResultConfirmed))
	RecordDeployment("metrics-test", ResultConfirmed)
	RecordDeployment("metrics-test", ResultConfirmed)
	after := testutil.ToFloat64(deploymentsTotal.WithLabelValues("metrics-test", ResultConfirmed))
	assert.Equal(t, before+2, after)
}

func TestCountersAndGauges(t *testing.T) {
	RecordSubmission("metrics-test", "new")
	assert.Equal(t, float64(1), testutil.ToFloat64(transactionsSubmitted.WithLabelValues("metrics-test", "new")))

	RecordNonceConflict("metrics-test")
	assert.Equal(t, float64(1), testutil.ToFloat64(nonceConflictsTotal.WithLabelValues("metrics-test")))

	SetPendingRecords("metrics-test", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(pendingRecords.WithLabelValues("metrics-test")))

	ObserveConfirmation("metrics-test", 2*time.Second)
	ObserveGasLimit("metrics-test", GasSourceEstimate, 600_000)
	assert.Equal(t, 1, testutil.CollectAndCount(confirmationDuration))
}
