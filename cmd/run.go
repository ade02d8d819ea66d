package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fpwnd/internal/config"
	"fpwnd/internal/database"
	"fpwnd/internal/logging"
	"fpwnd/internal/metrics"
	"fpwnd/internal/sim"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type runOptions struct {
	metricsAddr string
	spoolDir    string
	logLevelSet bool
}

type scenarioRun struct {
	config        *config.ScenarioConfig
	configContent string
	dbClient      *database.InfluxDBClient
	runID         int
	result        *sim.Result
	startTime     time.Time
	endTime       time.Time
}

func runScenario(ctx context.Context, configFile string, opts runOptions) error {
	logger := logging.GetLogger()

	run := &scenarioRun{}
	var err error
	run.config, run.configContent, err = config.LoadConfigWithContent(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return fmt.Errorf("failed to load config: %w", err)
	}
	info := run.config.Scenario

	// The flag wins over the scenario's log level
	if !opts.logLevelSet && info.LogLevel != "" {
		if err := logging.SetLogLevel(info.LogLevel); err != nil {
			logger.WithField("log_level", info.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		} else {
			logger.WithField("log_level", info.LogLevel).Debug("Log level set from configuration")
		}
	}

	if info.Data.DB.Enabled {
		run.dbClient, err = database.NewInfluxDBClient(info.Data.DB)
		if err != nil {
			logger.WithError(err).Error("Failed to create database client")
			return fmt.Errorf("failed to create database client: %w", err)
		}
		defer run.dbClient.Close()

		lastID, err := run.dbClient.GetLastRunID(ctx)
		if err != nil {
			logger.WithError(err).Error("Failed to get last run ID")
			return fmt.Errorf("failed to get last run ID: %w", err)
		}
		run.runID = lastID + 1
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)
	if opts.metricsAddr != "" {
		stop, err := serveMetrics(opts.metricsAddr, reg)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.WithFields(logrus.Fields{
		"run_id":   run.runID,
		"scenario": info.Name,
	}).Info("Starting run")

	run.startTime = time.Now()
	run.result, err = sim.Run(ctx, run.config, recorder)
	run.endTime = time.Now()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("simulation failed: %w", err)
	}
	if err != nil {
		logger.WithField("ticks", run.result.Ticks).Warn("Run interrupted, keeping partial results")
	}

	// the spool is written even if the database export fails
	spoolDir := opts.spoolDir
	if spoolDir == "" {
		spoolDir = info.Data.SpoolDir
	}
	metadata := database.CollectRunMetadata(run.runID, run.config, run.configContent, run.result, run.startTime, run.endTime, Version)
	artifact := database.BuildSpoolArtifact(run.runID, run.config, run.configContent, run.result, metadata, nil, run.startTime, run.endTime)
	path, spoolErr := database.WriteSpoolArtifact(spoolDir, artifact)
	if spoolErr != nil {
		logger.WithError(spoolErr).Error("Failed to write spool artifact")
	} else {
		logger.WithField("path", path).Info("Wrote spool artifact")
	}

	if run.dbClient != nil {
		if err := run.writeDatabaseData(metadata); err != nil {
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"run_id":   run.runID,
		"duration": run.endTime.Sub(run.startTime),
	}).Info("Run completed")
	return spoolErr
}

func (r *scenarioRun) writeDatabaseData(metadata *database.RunMetadata) error {
	logger := logging.GetLogger()
	logger.Info("Writing data to database")

	// a cancelled run still gets its data out
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.dbClient.WriteResults(ctx, r.runID, r.result, r.startTime); err != nil {
		logger.WithError(err).Error("Failed to export results")
		return fmt.Errorf("failed to export results: %w", err)
	}
	if err := r.dbClient.WriteMetadata(ctx, metadata); err != nil {
		logger.WithError(err).Error("Failed to export metadata")
		return fmt.Errorf("failed to export metadata: %w", err)
	}
	return nil
}

// serveMetrics exposes reg on addr until the returned stop function runs.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	logger := logging.GetLogger()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()
	logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
