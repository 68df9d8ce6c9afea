package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the strategy tuning file. Missing sections keep their defaults.
type ConfigFile struct {
	Scorer   ScorerConfig   `yaml:"scorer"`
	ATRTrend ATRTrendConfig `yaml:"atr_trend"`
}

// DefaultConfigFile returns the built-in tuning for every strategy.
func DefaultConfigFile() ConfigFile {
	return ConfigFile{
		Scorer:   DefaultScorerConfig(),
		ATRTrend: DefaultATRTrendConfig(),
	}
}

// LoadConfig reads a YAML tuning file on top of the defaults. An empty path returns the defaults.
func LoadConfig(path string) (ConfigFile, error) {
	file := DefaultConfigFile()
	if path == "" {
		return file, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return file, err
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse strategy config %s: %w", path, err)
	}
	return file, nil
}

// New builds a strategy by name.
func New(name string, file ConfigFile) (Strategy, error) {
	switch name {
	case "", "momentum":
		return NewMomentum(file.Scorer), nil
	case "atr_trend":
		return NewATRTrend(file.ATRTrend), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
