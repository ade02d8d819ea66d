// Package plot renders the sample series of a spooled run as a pgfplots
// (TikZ) figure plus a LaTeX wrapper that includes it.
package plot

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"text/template"
	"time"

	"fpwnd/internal/database"
	"fpwnd/internal/sim"
	"fpwnd/internal/window"

	"github.com/sirupsen/logrus"
)

type FieldMapping struct {
	Label      string
	ShortLabel string
	// Min and Max are a fixed float64 bound or "auto"
	Min   interface{}
	Max   interface{}
	value func(s sim.Sample, tick time.Duration) float64
}

var fieldMappings = map[string]FieldMapping{
	"tick": {
		Label: "Tick", ShortLabel: "Tick", Min: 0.0, Max: "auto",
		value: func(s sim.Sample, _ time.Duration) float64 { return float64(s.Tick) },
	},
	"time": {
		Label: "Simulated time (s)", ShortLabel: "Time", Min: 0.0, Max: "auto",
		value: func(s sim.Sample, tick time.Duration) float64 {
			return (time.Duration(s.Tick) * tick).Seconds()
		},
	},
	"pending": {
		Label: "Pending sequence numbers", ShortLabel: "Pending", Min: 0.0, Max: float64(window.Len),
		value: func(s sim.Sample, _ time.Duration) float64 { return float64(s.Pending) },
	},
	"occupancy": {
		Label: "Window occupancy (\\%)", ShortLabel: "Occupancy", Min: 0.0, Max: 100.0,
		value: func(s sim.Sample, _ time.Duration) float64 { return 100 * float64(s.Pending) / window.Len },
	},
	"sent": {
		Label: "Sent (cumulative)", ShortLabel: "Sent", Min: 0.0, Max: "auto",
		value: func(s sim.Sample, _ time.Duration) float64 { return float64(s.Sent) },
	},
	"acked": {
		Label: "Acknowledged (cumulative)", ShortLabel: "Acked", Min: 0.0, Max: "auto",
		value: func(s sim.Sample, _ time.Duration) float64 { return float64(s.Acked) },
	},
	"timed_out": {
		Label: "Timed out (cumulative)", ShortLabel: "Timeouts", Min: 0.0, Max: "auto",
		value: func(s sim.Sample, _ time.Duration) float64 { return float64(s.TimedOut) },
	},
	"forced": {
		Label: "Forced out of the window (cumulative)", ShortLabel: "Forced", Min: 0.0, Max: "auto",
		value: func(s sim.Sample, _ time.Duration) float64 { return float64(s.Forced) },
	},
}

func GetFieldMapping(field string) (FieldMapping, bool) {
	m, ok := fieldMappings[field]
	return m, ok
}

func Fields() []string {
	out := make([]string, 0, len(fieldMappings))
	for k := range fieldMappings {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type PlotOptions struct {
	XField string
	YField string
	// Interval averages samples into buckets of this many ticks; 0 keeps every sample.
	Interval    int
	MinOverride *float64
	MaxOverride *float64
}

type TimeseriesPlotGenerator struct {
	logger *logrus.Logger
}

func NewTimeseriesPlotGenerator(logger *logrus.Logger) *TimeseriesPlotGenerator {
	return &TimeseriesPlotGenerator{logger: logger}
}

// Generate returns the plot and the wrapper for one field of artifact.
func (g *TimeseriesPlotGenerator) Generate(artifact *database.SpoolArtifact, opts PlotOptions) (string, string, error) {
	if artifact == nil || artifact.Result == nil {
		return "", "", fmt.Errorf("artifact has no result")
	}
	g.logger.WithFields(logrus.Fields{
		"run_id":   artifact.RunID,
		"x_field":  opts.XField,
		"y_field":  opts.YField,
		"interval": opts.Interval,
	}).Info("Generating timeseries plot")

	xMapping, ok := GetFieldMapping(opts.XField)
	if !ok {
		return "", "", fmt.Errorf("unknown X field: %s", opts.XField)
	}
	yMapping, ok := GetFieldMapping(opts.YField)
	if !ok {
		return "", "", fmt.Errorf("unknown Y field: %s", opts.YField)
	}

	plotData, err := g.preparePlotData(artifact, opts, xMapping, yMapping)
	if err != nil {
		return "", "", fmt.Errorf("failed to prepare plot data: %w", err)
	}

	plotOutput, err := render("plot", plotTemplate, plotData)
	if err != nil {
		return "", "", err
	}
	wrapperOutput, err := render("wrapper", wrapperTemplate, g.prepareWrapperData(artifact, opts, yMapping))
	if err != nil {
		return "", "", err
	}

	g.logger.Info("Timeseries plot generated successfully")
	return plotOutput, wrapperOutput, nil
}

func (g *TimeseriesPlotGenerator) preparePlotData(
	artifact *database.SpoolArtifact,
	opts PlotOptions,
	xMapping, yMapping FieldMapping,
) (*PlotData, error) {
	res := artifact.Result

	flows := append([]*sim.FlowResult(nil), res.Flows...)
	sort.Slice(flows, func(i, j int) bool { return flows[i].Index < flows[j].Index })

	var plotSeries []PlotSeries
	yMin, yMax := math.Inf(1), math.Inf(-1)
	xMin, xMax := math.Inf(1), math.Inf(-1)

	for _, fr := range flows {
		series := PlotSeries{
			FlowIndex:   fr.Index,
			FlowName:    fr.Name,
			Style:       GetFlowStyle(fr.Index).ToTikzOptions(),
			LegendEntry: fr.Name,
		}
		for _, s := range aggregate(fr.Samples, opts.Interval) {
			x := xMapping.value(s, res.Tick)
			y := yMapping.value(s, res.Tick)
			series.Coordinates = append(series.Coordinates, fmt.Sprintf("(%.6f,%.6f)", x, y))
			xMin, xMax = math.Min(xMin, x), math.Max(xMax, x)
			yMin, yMax = math.Min(yMin, y), math.Max(yMax, y)
		}
		if len(series.Coordinates) > 0 {
			plotSeries = append(plotSeries, series)
		}
	}
	if len(plotSeries) == 0 {
		return nil, fmt.Errorf("run %d has no samples", artifact.RunID)
	}

	xMinStr, xMaxStr := determineAxisLimits(xMapping, nil, nil, xMin, xMax)
	yMinStr, yMaxStr := determineAxisLimits(yMapping, opts.MinOverride, opts.MaxOverride, yMin, yMax)

	data := &PlotData{
		GeneratedDate: time.Now().Format("2006-01-02 15:04:05"),
		RunID:         artifact.RunID,
		ScenarioName:  artifact.ScenarioName,
		Checksum:      artifact.Checksum,
		Ticks:         res.Ticks,
		Tick:          res.Tick.String(),
		TotalFlows:    len(res.Flows),
		XLabel:        xMapping.Label,
		YLabel:        yMapping.Label,
		XMin:          xMinStr,
		XMax:          xMaxStr,
		YMin:          yMinStr,
		YMax:          yMaxStr,
		Plots:         plotSeries,
	}
	if meta := artifact.Metadata; meta != nil {
		data.Description = meta.Description
		data.RunStarted = meta.RunStarted
		data.RunFinished = meta.RunFinished
		data.DriverVersion = meta.DriverVersion
		data.Hostname = meta.Hostname
		data.CPUModel = meta.CPUModel
		data.CPUThreads = meta.CPUThreads
	}
	return data, nil
}

// aggregate averages the samples that fall into the same interval-tick
// bucket. Cumulative counters are averaged like any other field.
func aggregate(samples []sim.Sample, interval int) []sim.Sample {
	if interval <= 0 {
		return samples
	}

	var out []sim.Sample
	var acc struct {
		n                             int
		pending                       int
		sent, acked, timedOut, forced uint64
	}
	bucket := -1
	flush := func() {
		if acc.n == 0 {
			return
		}
		n := uint64(acc.n)
		out = append(out, sim.Sample{
			Tick:     bucket * interval,
			Pending:  acc.pending / acc.n,
			Sent:     acc.sent / n,
			Acked:    acc.acked / n,
			TimedOut: acc.timedOut / n,
			Forced:   acc.forced / n,
		})
		acc.n, acc.pending, acc.sent, acc.acked, acc.timedOut, acc.forced = 0, 0, 0, 0, 0, 0
	}
	for _, s := range samples {
		if b := s.Tick / interval; b != bucket {
			flush()
			bucket = b
		}
		acc.n++
		acc.pending += s.Pending
		acc.sent += s.Sent
		acc.acked += s.Acked
		acc.timedOut += s.TimedOut
		acc.forced += s.Forced
	}
	flush()
	return out
}

func determineAxisLimits(
	mapping FieldMapping,
	minOverride, maxOverride *float64,
	dataMin, dataMax float64,
) (string, string) {
	var minStr, maxStr string

	if minOverride != nil {
		minStr = fmt.Sprintf("%.2f", *minOverride)
	} else if minVal, ok := mapping.Min.(float64); ok {
		minStr = fmt.Sprintf("%.2f", minVal)
	} else if mapping.Min == "auto" {
		minStr = fmt.Sprintf("%.2f", dataMin*0.95)
	} else {
		minStr = "0"
	}

	if maxOverride != nil {
		maxStr = fmt.Sprintf("%.2f", *maxOverride)
	} else if maxVal, ok := mapping.Max.(float64); ok {
		maxStr = fmt.Sprintf("%.2f", maxVal)
	} else if mapping.Max == "auto" {
		maxStr = fmt.Sprintf("%.2f", dataMax*1.05)
	} else {
		maxStr = "100"
	}

	return minStr, maxStr
}

func (g *TimeseriesPlotGenerator) prepareWrapperData(artifact *database.SpoolArtifact, opts PlotOptions, yMapping FieldMapping) *WrapperData {
	return &WrapperData{
		GeneratedDate: time.Now().Format("2006-01-02 15:04:05"),
		RunID:         artifact.RunID,
		YField:        opts.YField,
		PlotFileName:  fmt.Sprintf("run-%d-%s.tikz", artifact.RunID, opts.YField),
		ShortCaption:  yMapping.ShortLabel,
		Caption:       fmt.Sprintf("%s per flow in scenario %s", yMapping.Label, artifact.ScenarioName),
	}
}

func render(name, text string, data interface{}) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
