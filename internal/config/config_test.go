package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleScenario = `
scenario:
  name: lossy-pair
  description: two flows over a lossy fabric
  ticks: 5000
  tick: 100us
  seed: 42
  log_level: debug
  data:
    spool_dir: ${FPWND_TEST_SPOOL}

bulk:
  index: 1
  rate: 8
  batch: true
  loss: 0.02
  rtt_ticks: 20
  timeout_ticks: 60
  selective_acks: true

single:
  index: 0
  start: 1000
  rate: 1
  loss: 0.1
  rtt_ticks: 5
  timeout_ticks: 30
  start_t: 100
  stop_t: 4000
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("FPWND_TEST_SPOOL", "/tmp/fpwnd-spool")

	cfg, content, err := LoadConfigWithContent(writeScenario(t, sampleScenario))
	require.NoError(t, err)
	assert.Equal(t, sampleScenario, content)

	assert.Equal(t, "lossy-pair", cfg.Scenario.Name)
	assert.Equal(t, 100*time.Microsecond, cfg.Scenario.Tick)
	assert.Equal(t, 500*time.Millisecond, cfg.GetDuration())
	assert.Equal(t, uint64(42), cfg.Scenario.Seed)
	assert.Equal(t, defaultSampleEvery, cfg.Scenario.SampleEvery)
	assert.Equal(t, "/tmp/fpwnd-spool", cfg.Scenario.Data.SpoolDir)

	flows := cfg.GetFlowsSorted()
	require.Len(t, flows, 2)
	assert.Equal(t, "single", flows[0].KeyName)
	assert.Equal(t, uint64(1000), flows[0].Start)
	assert.Equal(t, 100, flows[0].GetStartTick())
	assert.Equal(t, 4000, flows[0].GetStopTick(cfg.Scenario.Ticks))

	assert.Equal(t, "bulk", flows[1].KeyName)
	assert.True(t, flows[1].Batch)
	assert.True(t, flows[1].SelectiveAcks)
	assert.Equal(t, 0, flows[1].GetStartTick())
	assert.Equal(t, 5000, flows[1].GetStopTick(cfg.Scenario.Ticks))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestExpandEnvVarsKeepsUnknown(t *testing.T) {
	t.Setenv("FPWND_KNOWN", "yes")
	assert.Equal(t, "a yes ${FPWND_UNKNOWN_VAR}", expandEnvVars("a ${FPWND_KNOWN} ${FPWND_UNKNOWN_VAR}"))
}

func TestValidateConfig(t *testing.T) {
	valid := func() *ScenarioConfig {
		return &ScenarioConfig{
			Scenario: ScenarioInfo{Name: "s", Ticks: 10, Tick: time.Millisecond, SampleEvery: 1},
			Flows: map[string]FlowConfig{
				"a": {Index: 0, Rate: 1, TimeoutTicks: 5},
			},
		}
	}
	intp := func(v int) *int { return &v }

	tests := []struct {
		name    string
		mutate  func(c *ScenarioConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(c *ScenarioConfig) {}},
		{name: "no name", mutate: func(c *ScenarioConfig) { c.Scenario.Name = "" }, wantErr: "name is required"},
		{name: "no ticks", mutate: func(c *ScenarioConfig) { c.Scenario.Ticks = 0 }, wantErr: "ticks"},
		{name: "no flows", mutate: func(c *ScenarioConfig) { c.Flows = nil }, wantErr: "at least one flow"},
		{name: "zero rate", mutate: func(c *ScenarioConfig) { setFlow(c, func(f *FlowConfig) { f.Rate = 0 }) }, wantErr: "rate must be"},
		{name: "rate above window", mutate: func(c *ScenarioConfig) { setFlow(c, func(f *FlowConfig) { f.Rate = 1000 }) }, wantErr: "exceeds window length"},
		{name: "loss NaN", mutate: func(c *ScenarioConfig) { setFlow(c, func(f *FlowConfig) { f.Loss = math.NaN() }) }, wantErr: "loss"},
		{name: "loss of one", mutate: func(c *ScenarioConfig) { setFlow(c, func(f *FlowConfig) { f.Loss = 1 }) }, wantErr: "loss"},
		{name: "no timeout", mutate: func(c *ScenarioConfig) { setFlow(c, func(f *FlowConfig) { f.TimeoutTicks = 0 }) }, wantErr: "timeout_ticks"},
		{name: "stop before start", mutate: func(c *ScenarioConfig) {
			setFlow(c, func(f *FlowConfig) { f.StartT = intp(5); f.StopT = intp(5) })
		}, wantErr: "stop_t"},
		{name: "duplicate index", mutate: func(c *ScenarioConfig) {
			c.Flows["b"] = FlowConfig{Index: 0, Rate: 1, TimeoutTicks: 5}
		}, wantErr: "already used"},
		{name: "db without host", mutate: func(c *ScenarioConfig) { c.Scenario.Data.DB.Enabled = true }, wantErr: "incomplete database"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func setFlow(c *ScenarioConfig, fn func(f *FlowConfig)) {
	f := c.Flows["a"]
	fn(&f)
	c.Flows["a"] = f
}

func TestDatabaseFromEnv(t *testing.T) {
	t.Setenv("INFLUXDB_HOST", "http://influx:8086")
	t.Setenv("INFLUXDB_TOKEN", "secret")
	t.Setenv("INFLUXDB_ORG", "fabric")
	t.Setenv("INFLUXDB_BUCKET", "windows")

	cfg, err := ParseConfig(`
scenario:
  name: db
  ticks: 10
  data:
    db:
      enabled: true
      org: override
a:
  rate: 1
  timeout_ticks: 3
`)
	require.NoError(t, err)
	db := cfg.Scenario.Data.DB
	assert.Equal(t, "http://influx:8086", db.Host)
	assert.Equal(t, "secret", db.Password)
	assert.Equal(t, "override", db.Org)
	assert.Equal(t, "windows", db.Name)
}

func TestDatabaseFromEnvMissing(t *testing.T) {
	for _, v := range []string{"INFLUXDB_HOST", "INFLUXDB_TOKEN", "INFLUXDB_ORG", "INFLUXDB_BUCKET"} {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
	_, err := ParseConfig(`
scenario:
  name: db
  ticks: 10
  data:
    db:
      enabled: true
a:
  rate: 1
  timeout_ticks: 3
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database enabled but incomplete")
}

func TestScenarioChecksum(t *testing.T) {
	build := func() *ScenarioConfig {
		return &ScenarioConfig{
			Scenario: ScenarioInfo{Name: "x", Ticks: 100, Seed: 7},
			Flows: map[string]FlowConfig{
				"b": {Index: 1, Rate: 2, TimeoutTicks: 9},
				"a": {Index: 0, Rate: 1, TimeoutTicks: 9},
			},
		}
	}

	c1, c2 := build(), build()
	c2.Scenario.Name = "renamed"
	c2.Scenario.Data.SpoolDir = "elsewhere"

	s1, err := ScenarioChecksum(c1)
	require.NoError(t, err)
	s2, err := ScenarioChecksum(c2)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 6)

	c2.Flows = map[string]FlowConfig{
		"bulk":   {Index: 1, Rate: 2, TimeoutTicks: 9},
		"steady": {Index: 0, Rate: 1, TimeoutTicks: 9},
	}
	renamed, err := ScenarioChecksum(c2)
	require.NoError(t, err)
	assert.Equal(t, s1, renamed, "flow keys do not change the traffic")

	c2.Flows["bulk"] = FlowConfig{Index: 1, Rate: 3, TimeoutTicks: 9}
	rate, err := ScenarioChecksum(c2)
	require.NoError(t, err)
	assert.NotEqual(t, s1, rate)

	c2.Scenario.Seed = 8
	s3, err := ScenarioChecksum(c2)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s3)

	empty, err := ScenarioChecksum(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
