package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"fpwnd/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallScenario = `
scenario:
  name: cli
  ticks: 200
  tick: 1ms
  seed: 5
  sample_every: 50

lossy:
  index: 0
  rate: 3
  loss: 0.1
  rtt_ticks: 4
  timeout_ticks: 12
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateCommand(t *testing.T) {
	_, err := execute(t, "validate", "-c", writeFile(t, smallScenario))
	require.NoError(t, err)

	_, err = execute(t, "validate", "-c", writeFile(t, "scenario:\n  name: broken\n"))
	require.Error(t, err)

	_, err = execute(t, "validate")
	require.Error(t, err, "config flag is required")
}

func TestRunCommandWritesSpool(t *testing.T) {
	spool := t.TempDir()
	_, err := execute(t, "run", "-c", writeFile(t, smallScenario), "--spool-dir", spool, "--log-level", "warn")
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(spool, "run_0_*.json.gz"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	artifact, err := database.ReadSpoolArtifact(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "cli", artifact.ScenarioName)
	require.NotNil(t, artifact.Result)
	assert.Equal(t, 200, artifact.Result.Ticks)
	require.Len(t, artifact.Result.Flows, 1)
	assert.Len(t, artifact.Result.Flows[0].Samples, 4)
	assert.Equal(t, smallScenario, artifact.ConfigContent)
}

func TestRunCommandRejectsBadLogLevel(t *testing.T) {
	_, err := execute(t, "run", "-c", writeFile(t, smallScenario), "--log-level", "loud")
	require.Error(t, err)
}

func TestBenchCommand(t *testing.T) {
	out, err := execute(t, "bench", "--ops", "1000")
	require.NoError(t, err)
	assert.Contains(t, out, "ns/op")
}

func TestBenchCommandSpoolsReport(t *testing.T) {
	spool := t.TempDir()
	_, err := execute(t, "bench", "--ops", "1000", "--spool-dir", spool)
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(spool, "run_0_*_nocsum.json.gz"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	artifact, err := database.ReadSpoolArtifact(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "bench", artifact.ScenarioName)
	assert.Nil(t, artifact.Result)
	require.NotNil(t, artifact.Bench)
	assert.Equal(t, 1000, artifact.Bench.Ops)
}

func TestPlotCommand(t *testing.T) {
	spool := t.TempDir()
	_, err := execute(t, "run", "-c", writeFile(t, smallScenario), "--spool-dir", spool)
	require.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(spool, "*.json.gz"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	out, err := execute(t, "plot", "-f", matches[0], "--y", "pending", "--plot")
	require.NoError(t, err)
	assert.Contains(t, out, `\addplot+`)
	assert.NotContains(t, out, `\begin{figure}`)

	_, err = execute(t, "plot", "-f", matches[0], "--y", "bogus")
	require.Error(t, err)
}
