package perfbench

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkloadDeterministic(t *testing.T) {
	assert.Equal(t, workload(10_000), workload(10_000))
}

func TestRun(t *testing.T) {
	report, err := Run(5_000)
	require.NoError(t, err)
	assert.Equal(t, 5_000, report.Ops)
	assert.Positive(t, report.Elapsed)
	assert.Equal(t, workload(5_000), report.Checksum)

	// counters depend on perf_event_paranoid and the hardware
	for _, c := range report.Counters {
		assert.NotEmpty(t, c.Name)
	}
}

func TestRunRejectsNonPositive(t *testing.T) {
	_, err := Run(0)
	require.Error(t, err)
}
