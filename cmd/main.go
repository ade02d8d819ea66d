package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fpwnd/internal/config"
	"fpwnd/internal/database"
	"fpwnd/internal/logging"
	"fpwnd/internal/plot"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const Version = "0.3.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err != nil {
		// Try the application directory
		execPath, err := os.Executable()
		if err != nil {
			return
		}
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(envFile); err != nil {
			return
		}
	}
	if err := godotenv.Load(envFile); err != nil {
		logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		return
	}
	logger.WithField("file", envFile).Debug("Loaded environment variables")
}

// Execute runs the fpwnd command line.
func Execute() error {
	loadEnvironment()
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configFile string
	var metricsAddr string
	var spoolDir string
	var benchSpoolDir string
	var ops int
	var artifactFile, xField, yField string
	var interval int
	var minVal, maxVal float64
	var onlyPlot, onlyWrapper bool
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "fpwnd",
		Short:         "Sliding sequence window simulator",
		Long:          "Replays lossy flows against fixed-size sequence windows and benchmarks the window operations",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.Context(), configFile, runOptions{
				metricsAddr: metricsAddr,
				spoolDir:    spoolDir,
				logLevelSet: logLevel != "",
			})
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scenario configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark window operations with hardware counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.OutOrStdout(), ops, benchSpoolDir)
		},
	}

	plotCmd := &cobra.Command{
		Use:   "plot",
		Short: "Generate a timeseries plot from a run artifact",
		Long:  "Generate a LaTeX/TikZ timeseries plot from the samples of a spooled run",
		RunE: func(cmd *cobra.Command, args []string) error {
			var minPtr, maxPtr *float64
			if cmd.Flags().Changed("min") {
				minPtr = &minVal
			}
			if cmd.Flags().Changed("max") {
				maxPtr = &maxVal
			}
			return generateTimeseriesPlot(cmd.OutOrStdout(), artifactFile, plot.PlotOptions{
				XField:      xField,
				YField:      yField,
				Interval:    interval,
				MinOverride: minPtr,
				MaxOverride: maxPtr,
			}, onlyPlot, onlyWrapper)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to scenario configuration file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9102)")
	runCmd.Flags().StringVar(&spoolDir, "spool-dir", "", "Directory for run artifacts (overrides the scenario and FPWND_SPOOL_DIR)")
	runCmd.MarkFlagRequired("config")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to scenario configuration file")
	validateCmd.MarkFlagRequired("config")

	benchCmd.Flags().IntVar(&ops, "ops", 10_000_000, "Number of window operations to perform")
	benchCmd.Flags().StringVar(&benchSpoolDir, "spool-dir", "", "Also store the report as an artifact in this directory")

	plotCmd.Flags().StringVarP(&artifactFile, "file", "f", "", "Spooled run artifact (.json.gz)")
	plotCmd.Flags().StringVar(&xField, "x", "tick", "X-axis field")
	plotCmd.Flags().StringVar(&yField, "y", "", "Y-axis field ("+strings.Join(plot.Fields(), ", ")+")")
	plotCmd.Flags().IntVar(&interval, "interval", 0, "Aggregation interval in ticks (0 = no aggregation)")
	plotCmd.Flags().Float64Var(&minVal, "min", 0, "Minimum Y-axis value")
	plotCmd.Flags().Float64Var(&maxVal, "max", 0, "Maximum Y-axis value")
	plotCmd.Flags().BoolVar(&onlyPlot, "plot", false, "Print only the plot file (TikZ)")
	plotCmd.Flags().BoolVar(&onlyWrapper, "wrapper", false, "Print only the wrapper file (LaTeX)")
	plotCmd.MarkFlagRequired("file")
	plotCmd.MarkFlagRequired("y")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(plotCmd)
	return rootCmd
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	checksum, err := config.ScenarioChecksum(cfg)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Warn("Failed to compute scenario checksum")
	}
	logger.WithFields(map[string]interface{}{
		"config_file": configFile,
		"flows":       len(cfg.Flows),
		"checksum":    checksum,
	}).Info("Configuration is valid")
	return nil
}

func generateTimeseriesPlot(out io.Writer, artifactFile string, opts plot.PlotOptions, onlyPlot, onlyWrapper bool) error {
	logger := logging.GetLogger()

	artifact, err := database.ReadSpoolArtifact(artifactFile)
	if err != nil {
		logger.WithField("file", artifactFile).WithError(err).Error("Failed to read run artifact")
		return err
	}

	plotOutput, wrapperOutput, err := plot.NewTimeseriesPlotGenerator(logger).Generate(artifact, opts)
	if err != nil {
		return fmt.Errorf("failed to generate plot: %w", err)
	}

	switch {
	case onlyPlot:
		fmt.Fprint(out, plotOutput)
	case onlyWrapper:
		fmt.Fprint(out, wrapperOutput)
	default:
		fmt.Fprintln(out, plotOutput)
		fmt.Fprint(out, wrapperOutput)
	}
	return nil
}
