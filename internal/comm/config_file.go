package comm

import (
	"time"

	"gopkg.in/yaml.v3"

	"dev.swarmcore.comm/internal/netsim"
)

// FileConfig is the on-disk, YAML-tagged shape of the subset of Config
// that is safe to express as static data (no RandSource, Logger,
// Registerer or Clock — those remain construction-time collaborators),
// grounded on the teacher's `yaml:"..."`-tagged configuration structs.
type FileConfig struct {
	Netsim struct {
		Range              float64 `yaml:"range"`
		FailureRate        float64 `yaml:"failureRate"`
		InterferenceLevel  float64 `yaml:"interferenceLevel"`
		BaseLatencyMS      float64 `yaml:"baseLatencyMs"`
		LatencyVariationMS float64 `yaml:"latencyVariationMs"`
	} `yaml:"netsim"`
	HistoryCapacity        int   `yaml:"historyCapacity"`
	RouterMaxHops          int   `yaml:"routerMaxHops"`
	RetryDefaultMaxRetries int   `yaml:"retryDefaultMaxRetries"`
	RetryBackoffBaseMS     int64 `yaml:"retryBackoffBaseMs"`
}

// LoadConfigYAML parses a FileConfig and merges it onto DefaultConfig,
// returning a ready-to-use Config. Zero-valued fields in data are left at
// their DefaultConfig value.
func LoadConfigYAML(data []byte) (Config, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if fc.Netsim.Range > 0 {
		cfg.Netsim = netsim.Config{
			Range:              fc.Netsim.Range,
			FailureRate:        fc.Netsim.FailureRate,
			InterferenceLevel:  fc.Netsim.InterferenceLevel,
			BaseLatencyMS:      fc.Netsim.BaseLatencyMS,
			LatencyVariationMS: fc.Netsim.LatencyVariationMS,
		}
	}
	if fc.HistoryCapacity > 0 {
		cfg.HistoryCapacity = fc.HistoryCapacity
	}
	if fc.RouterMaxHops > 0 {
		cfg.RouterMaxHops = fc.RouterMaxHops
	}
	if fc.RetryDefaultMaxRetries > 0 {
		cfg.RetryDefaultMaxRetries = fc.RetryDefaultMaxRetries
	}
	if fc.RetryBackoffBaseMS > 0 {
		cfg.RetryBackoffBase = time.Duration(fc.RetryBackoffBaseMS) * time.Millisecond
	}
	return cfg, nil
}
