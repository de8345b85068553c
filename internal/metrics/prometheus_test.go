package metrics

import (
	"testing"
	"time"

	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_SeparateRegistries(t *testing.T) {
	m1 := NewMetrics("n1", nil)
	m2 := NewMetrics("n2", nil)

	m1.RecordOutcome("update", model.AppliedAdded)
	m1.RecordOutcome("update", model.AppliedAdded)
	m2.RecordOutcome("update", model.Rejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(m1.MergeOutcomes.WithLabelValues("update", "added")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.MergeOutcomes.WithLabelValues("update", "added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m2.MergeOutcomes.WithLabelValues("update", "rejected")))
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics("n1", nil)

	m.UpdateTableStats(4, 2)
	m.RecordMessage("out", "entity_changed", 120)
	m.RecordMalformed()
	m.RecordSendFailure("digest")
	m.RecordRound("ok", 10*time.Millisecond)
	m.RecordRepair("push_update")
	m.SetClusterMembers(3)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.EntitiesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TombstonesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("out", "entity_changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MalformedMessages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendFailures.WithLabelValues("digest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AntiEntropyRounds.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ClusterMembers))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOutcome("remove", model.AppliedRemoved)
		m.UpdateTableStats(1, 1)
		m.RecordRound("timeout", time.Second)
	})
}
