package plot

import (
	"strings"
	"testing"
	"time"

	"fpwnd/internal/database"
	"fpwnd/internal/sim"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact() *database.SpoolArtifact {
	return &database.SpoolArtifact{
		RunID:        4,
		ScenarioName: "plot",
		Checksum:     "abc123",
		Result: &sim.Result{
			Scenario: "plot",
			Ticks:    40,
			Tick:     10 * time.Millisecond,
			Flows: []*sim.FlowResult{
				{Name: "late", Index: 1, Samples: []sim.Sample{{Tick: 9, Pending: 20}, {Tick: 19, Pending: 40}}},
				{Name: "early", Index: 0, Samples: []sim.Sample{{Tick: 9, Pending: 96}, {Tick: 19, Pending: 192}}},
			},
		},
		Metadata: &database.RunMetadata{Description: "two flows", Hostname: "box"},
	}
}

func newGenerator() *TimeseriesPlotGenerator {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewTimeseriesPlotGenerator(logger)
}

func TestGenerate(t *testing.T) {
	plotOut, wrapperOut, err := newGenerator().Generate(testArtifact(), PlotOptions{XField: "time", YField: "occupancy"})
	require.NoError(t, err)

	assert.Contains(t, plotOut, "% Scenario: plot (abc123)")
	assert.Contains(t, plotOut, "% Description: two flows")
	assert.Contains(t, plotOut, "ymin=0.00, ymax=100.00")
	assert.Contains(t, plotOut, "(0.190000,100.000000)")
	assert.Equal(t, 2, strings.Count(plotOut, `\addplot+`))
	assert.Less(t, strings.Index(plotOut, "% Flow: early"), strings.Index(plotOut, "% Flow: late"))

	assert.Contains(t, wrapperOut, "run-4-occupancy.tikz")
	assert.Contains(t, wrapperOut, `\label{fig:run-4-occupancy}`)
}

func TestGenerateOverrides(t *testing.T) {
	lo, hi := 10.0, 50.0
	plotOut, _, err := newGenerator().Generate(testArtifact(), PlotOptions{
		XField: "tick", YField: "pending", MinOverride: &lo, MaxOverride: &hi,
	})
	require.NoError(t, err)
	assert.Contains(t, plotOut, "ymin=10.00, ymax=50.00")
	assert.Contains(t, plotOut, "xmin=0.00, xmax=19.95")
}

func TestGenerateErrors(t *testing.T) {
	g := newGenerator()
	_, _, err := g.Generate(testArtifact(), PlotOptions{XField: "tick", YField: "nope"})
	assert.ErrorContains(t, err, "unknown Y field")

	_, _, err = g.Generate(testArtifact(), PlotOptions{XField: "nope", YField: "pending"})
	assert.ErrorContains(t, err, "unknown X field")

	_, _, err = g.Generate(nil, PlotOptions{XField: "tick", YField: "pending"})
	assert.Error(t, err)

	empty := testArtifact()
	for _, fr := range empty.Result.Flows {
		fr.Samples = nil
	}
	_, _, err = g.Generate(empty, PlotOptions{XField: "tick", YField: "pending"})
	assert.ErrorContains(t, err, "no samples")
}

func TestAggregate(t *testing.T) {
	samples := []sim.Sample{
		{Tick: 9, Pending: 10, Sent: 100},
		{Tick: 19, Pending: 20, Sent: 200},
		{Tick: 29, Pending: 30, Sent: 300},
		{Tick: 39, Pending: 40, Sent: 400},
	}
	assert.Equal(t, samples, aggregate(samples, 0))

	got := aggregate(samples, 20)
	require.Len(t, got, 2)
	assert.Equal(t, sim.Sample{Tick: 0, Pending: 15, Sent: 150}, got[0])
	assert.Equal(t, sim.Sample{Tick: 20, Pending: 35, Sent: 350}, got[1])
}

func TestFlowStyleWraps(t *testing.T) {
	assert.Equal(t, GetFlowStyle(0), GetFlowStyle(len(FlowStyles)))
	assert.Equal(t, GetFlowStyle(0), GetFlowStyle(-3))
	assert.Equal(t, "cyan,solid,thick", FlowStyles[7].ToTikzOptions())
	assert.Contains(t, Fields(), "occupancy")
}
