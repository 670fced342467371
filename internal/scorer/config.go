package scorer

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/trialops/dqi-engine/internal/model"
)

// Thresholds hold the driver-count levels at which a sub-score bottoms
// out. A subject with t or more of a driver scores 0 on that component.
type Thresholds struct {
	MissingItems float64 `yaml:"missing_items"`
	OpenQueries  float64 `yaml:"open_queries"`
	UncodedTerms float64 `yaml:"uncoded_terms"`
	PendingSAE   float64 `yaml:"pending_sae"`
	SAELagDays   float64 `yaml:"sae_lag_days"`
}

// Bands hold the upper bounds of the Red and Amber DQI bands on the
// 0-100 scale.
type Bands struct {
	RedBelow   float64 `yaml:"red_below"`
	AmberBelow float64 `yaml:"amber_below"`
}

// Config is the external DQI mapping table: component weights, driver
// thresholds, the critical subset for clean-patient eligibility, and band
// cut points. It is configuration, not code, so new studies can retune it
// without touching scoring logic.
type Config struct {
	Version    string             `yaml:"version"`
	Weights    map[string]float64 `yaml:"weights"`
	Thresholds Thresholds         `yaml:"thresholds"`

	// Critical lists the components that must be defined and meet their
	// threshold for a subject to be clean.
	Critical           []string           `yaml:"critical"`
	CriticalThresholds map[string]float64 `yaml:"critical_thresholds"`

	// CleanFloor is the minimum composite DQI for a clean subject.
	CleanFloor float64 `yaml:"clean_floor"`

	Bands Bands `yaml:"bands"`
}

// DefaultConfig returns the shipped weight table. The weights mirror the
// legacy composite (missing 0.15, queries 0.20, verification 0.20,
// coding 0.10, safety 0.25) with the remaining 0.10 carried by category
// completeness.
func DefaultConfig() Config {
	return Config{
		Version: "2026.1",
		Weights: map[string]float64{
			model.CompCompleteness: 0.10,
			model.CompMissingItems: 0.15,
			model.CompQueryBurden:  0.20,
			model.CompVerification: 0.20,
			model.CompCoding:       0.10,
			model.CompSafety:       0.25,
		},
		Thresholds: Thresholds{
			MissingItems: 3,
			OpenQueries:  10,
			UncodedTerms: 5,
			PendingSAE:   1,
			SAELagDays:   14,
		},
		Critical: []string{model.CompSafety, model.CompCoding},
		CriticalThresholds: map[string]float64{
			model.CompSafety: 100,
			model.CompCoding: 100,
		},
		CleanFloor: 60,
		Bands:      Bands{RedBelow: 60, AmberBelow: 85},
	}
}

// LoadConfig reads a scoring config from a YAML file. Fields left unset
// fall back to the defaults; an empty path yields the defaults as is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "scorer: read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, eris.Wrapf(err, "scorer: parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configs that would make scoring undefined.
func (c Config) Validate() error {
	if len(c.Weights) == 0 {
		return eris.New("scorer: config has no component weights")
	}
	var sum float64
	for name, w := range c.Weights {
		if w < 0 {
			return eris.Errorf("scorer: negative weight for %s", name)
		}
		sum += w
	}
	if sum <= 0 {
		return eris.New("scorer: component weights sum to zero")
	}
	for _, name := range c.Critical {
		if _, ok := c.Weights[name]; !ok {
			return eris.Errorf("scorer: critical component %s has no weight", name)
		}
	}
	if c.Bands.RedBelow > c.Bands.AmberBelow {
		return eris.New("scorer: red band bound exceeds amber bound")
	}
	return nil
}

// criticalThreshold returns the clean-patient threshold for a critical
// component, defaulting to a perfect score.
func (c Config) criticalThreshold(name string) float64 {
	if t, ok := c.CriticalThresholds[name]; ok {
		return t
	}
	return 100
}
