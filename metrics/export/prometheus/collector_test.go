package prometheus

import (
	"strings"
	"testing"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/metrics/export/internaldefs"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegistersAndCollects(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: twofa.MetricsSnapshot{
			Counters: map[twofa.MetricID]uint64{
				twofa.MetricChallengeVerified: 7,
			},
			Histograms: map[twofa.MetricID][]uint64{
				twofa.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	reg := prom.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	want := len(internaldefs.CounterDefs) + len(internaldefs.HistogramDefs) + 1
	assert.Equal(t, want, testutil.CollectAndCount(c))

	expected := `
# HELP twofa_challenge_verified_total Challenges completed with a valid factor.
# TYPE twofa_challenge_verified_total counter
twofa_challenge_verified_total 7
# HELP twofa_audit_dropped_total Audit events dropped because the dispatcher queue was full.
# TYPE twofa_audit_dropped_total counter
twofa_audit_dropped_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"twofa_challenge_verified_total", "twofa_audit_dropped_total"))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "twofa_verify_latency_seconds" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(36), h.GetSampleCount())
		assert.Len(t, h.GetBucket(), len(internaldefs.HistogramBoundValues))
		assert.Equal(t, uint64(1), h.GetBucket()[0].GetCumulativeCount())
		return
	}
	t.Fatal("latency histogram not gathered")
}

func TestCollectorNilSource(t *testing.T) {
	assert.Equal(t, 0, testutil.CollectAndCount(NewCollector(nil)))
}
