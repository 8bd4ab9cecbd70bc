package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestRegistryGathersCounters(t *testing.T) {
	before := testutil.ToFloat64(TierLoads.WithLabelValues("store", "hit"))
	TierLoads.WithLabelValues("store", "hit").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TierLoads.WithLabelValues("store", "hit")))

	n, err := testutil.GatherAndCount(Registry, "signq_tier_loads_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	Mutations.WithLabelValues("sign", "ok").Add(0)
	err = testutil.GatherAndCompare(Registry, strings.NewReader(`
# HELP signq_mutations_total Mutations sent to the records collaborator, by operation and outcome.
# TYPE signq_mutations_total counter
signq_mutations_total{op="sign",outcome="ok"} 0
`), "signq_mutations_total")
	assert.NoError(t, err)
}
