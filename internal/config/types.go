package config

import (
	"sort"
	"time"
)

type ScenarioConfig struct {
	Scenario ScenarioInfo          `yaml:"scenario"`
	Flows    map[string]FlowConfig `yaml:",inline"`
}

type ScenarioInfo struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Ticks       int           `yaml:"ticks"`
	Tick        time.Duration `yaml:"tick"`
	Seed        uint64        `yaml:"seed"`
	SampleEvery int           `yaml:"sample_every"`
	LogLevel    string        `yaml:"log_level"`
	Data        DataConfig    `yaml:"data"`
}

type DataConfig struct {
	SpoolDir string         `yaml:"spool_dir"`
	DB       DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// FlowConfig describes one simulated flow. Ticks are scenario ticks.
type FlowConfig struct {
	KeyName       string  `yaml:"-"`
	Index         int     `yaml:"index"`
	Start         uint64  `yaml:"start"`
	Rate          int     `yaml:"rate"`
	Batch         bool    `yaml:"batch"`
	Loss          float64 `yaml:"loss"`
	RTTTicks      int     `yaml:"rtt_ticks"`
	TimeoutTicks  int     `yaml:"timeout_ticks"`
	SelectiveAcks bool    `yaml:"selective_acks"`
	StartT        *int    `yaml:"start_t,omitempty"`
	StopT         *int    `yaml:"stop_t,omitempty"`
}

func (c *ScenarioConfig) GetDuration() time.Duration {
	return time.Duration(c.Scenario.Ticks) * c.Scenario.Tick
}

func (c *ScenarioConfig) GetFlowsSorted() []FlowConfig {
	flows := make([]FlowConfig, 0, len(c.Flows))
	for _, flow := range c.Flows {
		flows = append(flows, flow)
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].Index < flows[j].Index
	})
	return flows
}

func (f *FlowConfig) GetStartTick() int {
	if f.StartT == nil {
		return 0
	}
	return *f.StartT
}

// GetStopTick returns the first tick at which the flow no longer sends.
func (f *FlowConfig) GetStopTick(maxTicks int) int {
	if f.StopT == nil || *f.StopT > maxTicks {
		return maxTicks
	}
	return *f.StopT
}
