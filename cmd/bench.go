package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"fpwnd/internal/database"
	"fpwnd/internal/logging"
	"fpwnd/internal/perfbench"
)

// runBench prints the benchmark report and, when spoolDir is set, stores it
// as a run artifact next to scenario runs.
func runBench(out io.Writer, ops int, spoolDir string) error {
	startTime := time.Now()
	report, err := perfbench.Run(ops)
	if err != nil {
		return fmt.Errorf("benchmark failed: %w", err)
	}
	endTime := time.Now()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ops\t%d\n", report.Ops)
	fmt.Fprintf(tw, "elapsed\t%s\n", report.Elapsed)
	fmt.Fprintf(tw, "ns/op\t%.2f\n", report.NsPerOp)
	for _, c := range report.Counters {
		fmt.Fprintf(tw, "%s\t%d\t%.2f/op\n", c.Name, c.Value, float64(c.Value)/float64(report.Ops))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if spoolDir == "" {
		return nil
	}
	artifact := database.BuildSpoolArtifact(0, nil, "", nil, nil, report, startTime, endTime)
	artifact.ScenarioName = "bench"
	path, err := database.WriteSpoolArtifact(spoolDir, artifact)
	if err != nil {
		return fmt.Errorf("failed to spool benchmark report: %w", err)
	}
	logging.GetLogger().WithField("path", path).Info("Spooled benchmark report")
	return nil
}
