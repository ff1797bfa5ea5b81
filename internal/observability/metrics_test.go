package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRegistered_Idempotent(t *testing.T) {
	EnsureRegistered()
	EnsureRegistered()
	require.NotNil(t, getMetrics())
}

func TestRecordRetrievalLeg_CountsByStatus(t *testing.T) {
	okBefore := testutil.ToFloat64(getMetrics().retrievalLegTotal.WithLabelValues("vector", "ok"))
	errBefore := testutil.ToFloat64(getMetrics().retrievalLegTotal.WithLabelValues("vector", "error"))

	RecordRetrievalLeg("vector", true, 3*time.Millisecond)
	RecordRetrievalLeg("vector", true, 5*time.Millisecond)
	RecordRetrievalLeg("vector", false, time.Millisecond)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(getMetrics().retrievalLegTotal.WithLabelValues("vector", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(getMetrics().retrievalLegTotal.WithLabelValues("vector", "error")))
}

func TestRecorders(t *testing.T) {
	// Each recorder must accept its pipeline call shape without panicking
	RecordRetrieval(4, 10*time.Millisecond)
	RecordTurn("ok", 20*time.Millisecond)
	RecordFactQuery("customers")
	RecordFactBundle(2 * time.Millisecond)
	RecordMemoryWrite("preference", "insert", time.Millisecond)
	SetMemoryUnits(7)
	RecordLink("fuzzy")
	RecordClarification()
	RecordConsolidation("ok", 50*time.Millisecond)
}
