package database

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"fpwnd/internal/config"
	"fpwnd/internal/logging"
	"fpwnd/internal/sim"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	samplesMeasurement = "window_samples"
	flowsMeasurement   = "window_flows"
	metaMeasurement    = "window_meta"
)

// RunMetadata describes one simulation run
type RunMetadata struct {
	RunID           int    `json:"run_id"`
	ScenarioName    string `json:"scenario_name"`
	Description     string `json:"description"`
	Checksum        string `json:"checksum"`
	Seed            uint64 `json:"seed"`
	Ticks           int    `json:"ticks"`
	TickNanos       int64  `json:"tick_ns"`
	TotalFlows      int    `json:"total_flows"`
	TotalSamples    int    `json:"total_samples"`
	RunStarted      string `json:"run_started"`  // RFC3339 timestamp
	RunFinished     string `json:"run_finished"` // RFC3339 timestamp
	DurationSeconds int64  `json:"duration_seconds"`
	DriverVersion   string `json:"driver_version"`
	Hostname        string `json:"hostname"`
	OSInfo          string `json:"os_info"`
	KernelVersion   string `json:"kernel_version"`
	CPUModel        string `json:"cpu_model"`
	CPUThreads      int    `json:"cpu_threads"`
	ConfigFile      string `json:"config_file"`
}

type SystemInfo struct {
	Hostname      string
	OSInfo        string
	KernelVersion string
	CPUModel      string
	CPUThreads    int
}

func collectSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OSInfo:     runtime.GOOS + "/" + runtime.GOARCH,
		CPUThreads: runtime.NumCPU(),
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	info.Hostname = hostname

	if data, err := os.ReadFile("/proc/version"); err == nil {
		parts := strings.Fields(string(data))
		if len(parts) >= 3 {
			info.KernelVersion = parts[2]
		}
	}
	if info.KernelVersion == "" {
		info.KernelVersion = "unknown"
	}

	if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "model name") {
				if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
					info.CPUModel = strings.TrimSpace(parts[1])
					break
				}
			}
		}
	}
	if info.CPUModel == "" {
		info.CPUModel = "unknown"
	}
	return info
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

func NewInfluxDBClient(cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Password)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": msg,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is not healthy: %s", cfg.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Name,
		org:      cfg.Org,
	}, nil
}

func (idb *InfluxDBClient) GetLastRunID(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -30d)
		|> filter(fn: (r) => r._measurement == "%s")
		|> distinct(column: "run_id")
		|> map(fn: (r) => ({_value: int(v: r.run_id)}))
		|> max()
		|> yield(name: "max_run_id")
	`, idb.bucket, metaMeasurement)

	result, err := idb.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run ID: %w", err)
	}
	defer result.Close()

	maxID := 0
	for result.Next() {
		if id, ok := result.Record().Value().(int64); ok && int(id) > maxID {
			maxID = int(id)
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query results: %w", result.Err())
	}
	return maxID, nil
}

// WriteResults stores every flow sample plus one summary point per flow.
// Sample timestamps are the run start offset by the simulated tick.
func (idb *InfluxDBClient) WriteResults(ctx context.Context, runID int, res *sim.Result, startTime time.Time) error {
	points := BuildPoints(runID, res, startTime)
	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write data points: %w", err)
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"run_id": runID,
		"points": len(points),
	}).Info("Wrote results to InfluxDB")
	return nil
}

func BuildPoints(runID int, res *sim.Result, startTime time.Time) []*write.Point {
	if res == nil {
		return nil
	}
	var points []*write.Point
	for _, fr := range res.Flows {
		tags := map[string]string{
			"run_id":     fmt.Sprintf("%d", runID),
			"scenario":   res.Scenario,
			"flow":       fr.Name,
			"flow_index": fmt.Sprintf("%d", fr.Index),
		}
		for _, s := range fr.Samples {
			points = append(points, influxdb2.NewPoint(samplesMeasurement, tags,
				map[string]interface{}{
					"tick":      s.Tick,
					"pending":   s.Pending,
					"sent":      s.Sent,
					"acked":     s.Acked,
					"timed_out": s.TimedOut,
					"forced":    s.Forced,
				},
				startTime.Add(time.Duration(s.Tick)*res.Tick)))
		}
		points = append(points, influxdb2.NewPoint(flowsMeasurement, tags,
			map[string]interface{}{
				"sent":            fr.Stats.Sent,
				"acked":           fr.Stats.Acked,
				"duplicate_acks":  fr.Stats.Duplicate,
				"stale_acks":      fr.Stats.Stale,
				"timed_out":       fr.Stats.TimedOut,
				"forced":          fr.Stats.Forced,
				"pending":         fr.Stats.Pending,
				"retransmits":     fr.Retransmits,
				"lost":            fr.Lost,
				"max_pending":     fr.MaxPending,
				"backlog":         fr.Backlog,
				"ticks_simulated": res.Ticks,
			},
			startTime.Add(time.Duration(res.Ticks)*res.Tick)))
	}
	return points
}

func (idb *InfluxDBClient) WriteMetadata(ctx context.Context, metadata *RunMetadata) error {
	point := influxdb2.NewPoint(metaMeasurement,
		map[string]string{
			"run_id": fmt.Sprintf("%d", metadata.RunID),
		},
		map[string]interface{}{
			"scenario_name":    metadata.ScenarioName,
			"description":      metadata.Description,
			"checksum":         metadata.Checksum,
			"seed":             metadata.Seed,
			"ticks":            metadata.Ticks,
			"tick_ns":          metadata.TickNanos,
			"total_flows":      metadata.TotalFlows,
			"total_samples":    metadata.TotalSamples,
			"run_started":      metadata.RunStarted,
			"run_finished":     metadata.RunFinished,
			"duration_seconds": metadata.DurationSeconds,
			"driver_version":   metadata.DriverVersion,
			"hostname":         metadata.Hostname,
			"os_info":          metadata.OSInfo,
			"kernel_version":   metadata.KernelVersion,
			"cpu_model":        metadata.CPUModel,
			"cpu_threads":      metadata.CPUThreads,
			"config_file":      metadata.ConfigFile,
		},
		time.Now())

	if err := idb.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func CollectRunMetadata(runID int, cfg *config.ScenarioConfig, configContent string, res *sim.Result, startTime, endTime time.Time, driverVersion string) *RunMetadata {
	sysInfo := collectSystemInfo()

	samples := 0
	if res != nil {
		for _, fr := range res.Flows {
			samples += len(fr.Samples)
		}
	}
	checksum, err := config.ScenarioChecksum(cfg)
	if err != nil {
		logging.GetLogger().WithField("run_id", runID).WithError(err).Warn("Failed to compute scenario checksum")
	}

	metadata := &RunMetadata{
		RunID:           runID,
		Checksum:        checksum,
		TotalSamples:    samples,
		RunStarted:      startTime.Format(time.RFC3339),
		RunFinished:     endTime.Format(time.RFC3339),
		DurationSeconds: int64(endTime.Sub(startTime).Seconds()),
		DriverVersion:   driverVersion,
		Hostname:        sysInfo.Hostname,
		OSInfo:          sysInfo.OSInfo,
		KernelVersion:   sysInfo.KernelVersion,
		CPUModel:        sysInfo.CPUModel,
		CPUThreads:      sysInfo.CPUThreads,
		ConfigFile:      configContent,
	}
	if cfg != nil {
		metadata.ScenarioName = cfg.Scenario.Name
		metadata.Description = cfg.Scenario.Description
		metadata.Seed = cfg.Scenario.Seed
		metadata.Ticks = cfg.Scenario.Ticks
		metadata.TickNanos = cfg.Scenario.Tick.Nanoseconds()
		metadata.TotalFlows = len(cfg.Flows)
	}
	return metadata
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
