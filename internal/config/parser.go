package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"fpwnd/internal/logging"
	"fpwnd/internal/window"

	"gopkg.in/yaml.v3"
)

const (
	defaultTick        = time.Millisecond
	defaultSampleEvery = 100
)

func LoadConfig(filepath string) (*ScenarioConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*ScenarioConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)
	config, err := ParseConfig(originalContent)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to load config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

// ParseConfig expands ${VAR} references, decodes the YAML, applies defaults
// and validates the result.
func ParseConfig(content string) (*ScenarioConfig, error) {
	expanded := expandEnvVars(content)

	var config ScenarioConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set KeyName field for each flow based on the YAML key
	for keyName, flow := range config.Flows {
		flow.KeyName = keyName
		config.Flows[keyName] = flow
	}

	if config.Scenario.Tick == 0 {
		config.Scenario.Tick = defaultTick
	}
	if config.Scenario.SampleEvery == 0 {
		config.Scenario.SampleEvery = defaultSampleEvery
	}

	if config.Scenario.Data.DB.Enabled {
		if err := fillDatabaseFromEnv(&config.Scenario.Data.DB); err != nil {
			return nil, err
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// fillDatabaseFromEnv completes a partially specified database section from
// the INFLUXDB_* environment. Fields set in the file win.
func fillDatabaseFromEnv(db *DatabaseConfig) error {
	if db.Host != "" && db.Name != "" && db.Password != "" && db.Org != "" {
		return nil
	}
	env, err := LoadInfluxEnv()
	if err != nil {
		return fmt.Errorf("database enabled but incomplete: %w", err)
	}
	env.ApplyTo(db)
	return nil
}

func validateConfig(config *ScenarioConfig) error {
	info := config.Scenario
	if info.Name == "" {
		return fmt.Errorf("scenario name is required")
	}

	if info.Ticks <= 0 {
		return fmt.Errorf("ticks must be greater than 0")
	}

	if info.Tick < 0 {
		return fmt.Errorf("tick must not be negative")
	}

	if info.SampleEvery < 0 {
		return fmt.Errorf("sample_every must not be negative")
	}

	if len(config.Flows) == 0 {
		return fmt.Errorf("at least one flow must be defined")
	}

	db := info.Data.DB
	if db.Enabled && (db.Host == "" || db.Name == "" || db.Password == "" || db.Org == "") {
		return fmt.Errorf("incomplete database configuration")
	}

	indices := make(map[int]bool)
	for name, flow := range config.Flows {
		if flow.Rate <= 0 {
			return fmt.Errorf("flow %s: rate must be greater than 0", name)
		}

		if flow.Rate > window.Len {
			return fmt.Errorf("flow %s: rate %d exceeds window length %d", name, flow.Rate, window.Len)
		}

		if !(flow.Loss >= 0 && flow.Loss < 1) {
			return fmt.Errorf("flow %s: loss must be in [0, 1)", name)
		}

		if flow.RTTTicks < 0 {
			return fmt.Errorf("flow %s: rtt_ticks must not be negative", name)
		}

		if flow.TimeoutTicks <= 0 {
			return fmt.Errorf("flow %s: timeout_ticks must be greater than 0", name)
		}

		if flow.StartT != nil && *flow.StartT < 0 {
			return fmt.Errorf("flow %s: start_t must not be negative", name)
		}

		if flow.StartT != nil && flow.StopT != nil && *flow.StopT <= *flow.StartT {
			return fmt.Errorf("flow %s: stop_t must be after start_t", name)
		}

		if indices[flow.Index] {
			return fmt.Errorf("flow %s: index %d is already used", name, flow.Index)
		}
		indices[flow.Index] = true
	}

	return nil
}
