package quota

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type limitsFile struct {
	Limits []Limit `yaml:"limits"`
}

// LoadLimits reads a quota table from YAML:
//
//	limits:
//	  - provider: expo
//	    period: daily
//	    max: 10000
//	  - provider: postmark
//	    period: monthly
//	    max: 100
func LoadLimits(r io.Reader) ([]Limit, error) {
	var f limitsFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Join(ErrLoadingLimits, err)
	}

	for _, l := range f.Limits {
		if err := l.validate(); err != nil {
			return nil, errors.Join(ErrLoadingLimits, err)
		}
	}
	return f.Limits, nil
}

// LoadLimitsFile is LoadLimits for a file path.
func LoadLimitsFile(path string) ([]Limit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrLoadingLimits, err)
	}
	defer f.Close()

	limits, err := LoadLimits(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return limits, nil
}

// Config is the environment form of the quota table.
type Config struct {
	// Limits in "provider:period:max" form, comma separated.
	Limits     []string `env:"QUOTA_LIMITS" envSeparator:","`
	LimitsFile string   `env:"QUOTA_LIMITS_FILE"`
	KeyPrefix  string   `env:"QUOTA_KEY_PREFIX" envDefault:"quota"`
}

// LimitsFromConfig merges the file table with inline limits; inline rows win.
func LimitsFromConfig(cfg Config) ([]Limit, error) {
	var out []Limit
	if cfg.LimitsFile != "" {
		fileLimits, err := LoadLimitsFile(cfg.LimitsFile)
		if err != nil {
			return nil, err
		}
		out = append(out, fileLimits...)
	}
	for _, s := range cfg.Limits {
		if s == "" {
			continue
		}
		l, err := ParseLimit(s)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
