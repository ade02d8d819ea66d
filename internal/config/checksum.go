package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type scenarioChecksumEntry struct {
	Index         int     `json:"index"`
	Start         uint64  `json:"start"`
	Rate          int     `json:"rate"`
	Batch         bool    `json:"batch"`
	Loss          float64 `json:"loss"`
	RTTTicks      int     `json:"rtt_ticks"`
	TimeoutTicks  int     `json:"timeout_ticks"`
	SelectiveAcks bool    `json:"selective_acks"`
	StartT        int     `json:"start_t"`
	StopT         int     `json:"stop_t"`
}

type scenarioChecksumPayload struct {
	Ticks int                     `json:"ticks"`
	Seed  uint64                  `json:"seed"`
	Flows []scenarioChecksumEntry `json:"flows"`
}

// ScenarioChecksum returns a short, stable checksum that identifies the
// simulated traffic (seed, duration and flows), independent of scenario and
// flow names and of output settings. Flows are ordered by index, which also
// seeds their loss model.
//
// It computes MD5 over a canonical JSON representation and returns the first 6 hex
// characters (equivalent to `md5sum | cut -c1-6`).
func ScenarioChecksum(cfg *ScenarioConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	entries := make([]scenarioChecksumEntry, 0, len(cfg.Flows))
	for _, f := range cfg.Flows {
		entries = append(entries, scenarioChecksumEntry{
			Index:         f.Index,
			Start:         f.Start,
			Rate:          f.Rate,
			Batch:         f.Batch,
			Loss:          f.Loss,
			RTTTicks:      f.RTTTicks,
			TimeoutTicks:  f.TimeoutTicks,
			SelectiveAcks: f.SelectiveAcks,
			StartT:        f.GetStartTick(),
			StopT:         f.GetStopTick(cfg.Scenario.Ticks),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Index < entries[j].Index
	})

	payload := scenarioChecksumPayload{
		Ticks: cfg.Scenario.Ticks,
		Seed:  cfg.Scenario.Seed,
		Flows: entries,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
