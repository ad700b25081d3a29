// Package config implements the layered configuration system: environment
// variables override a project-local file, which overrides a user-level
// file, which overrides built-in defaults. Each layer deep-merges into the
// next. Grounded on the teacher's cmd/overhuman/main.go loadConfig/
// loadPersistedConfig layering, generalized from a fixed struct to
// spec.md §6's dotted-path environment override scheme.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/loomwork/loomwork/internal/errs"
)

// Config is the root configuration for the loomwork core.
type Config struct {
	DataDir string `yaml:"dataDir" validate:"required"`

	Store struct {
		Path                string `yaml:"path" validate:"required"`
		CheckpointInterval  string `yaml:"checkpointInterval" validate:"required"` // duration string, e.g. "10m"
		BusyTimeout         string `yaml:"busyTimeout" validate:"required"`
	} `yaml:"store"`

	Governor struct {
		DefaultMaxTokens int     `yaml:"defaultMaxTokens" validate:"gt=0"`
		WarnThreshold    float64 `yaml:"warnThreshold" validate:"gt=0,lt=1"`
		ErrorThreshold   float64 `yaml:"errorThreshold" validate:"gt=0,lt=1"`
		CriticalQuota    float64 `yaml:"criticalQuota" validate:"gt=0,lt=1"`
		WarningQuota     float64 `yaml:"warningQuota" validate:"gt=0,lt=1"`
	} `yaml:"governor"`

	Router struct {
		PrimaryProviderWeight float64 `yaml:"primaryProviderWeight" validate:"gt=0,lte=1"`
		OtherProviderWeight   float64 `yaml:"otherProviderWeight" validate:"gt=0,lte=1"`
		DefaultSuccessRate    float64 `yaml:"defaultSuccessRate" validate:"gte=0,lte=1"`
		ObservationThreshold  int     `yaml:"observationThreshold" validate:"gt=0"`
		Alpha                 float64 `yaml:"alpha" validate:"gt=0,lt=1"`
	} `yaml:"router"`

	Tiers struct {
		MaxTier1Tools       int     `yaml:"maxTier1Tools" validate:"gt=0"`
		PromotionThreshold  int     `yaml:"promotionThreshold" validate:"gt=0"`
		DemotionWindow      int     `yaml:"demotionWindow" validate:"gt=0"`
		UsageFloor          float64 `yaml:"usageFloor" validate:"gte=0,lt=1"`
		FingerprintCacheCap int     `yaml:"fingerprintCacheCap" validate:"gt=0"`
	} `yaml:"tiers"`

	Executor struct {
		DefaultRetries     int `yaml:"defaultRetries" validate:"gte=0"`
		DefaultBackoffMs   int `yaml:"defaultBackoffMs" validate:"gt=0"`
		DefaultConcurrency int `yaml:"defaultConcurrency" validate:"gt=0"`
	} `yaml:"executor"`

	Performance struct {
		Concurrency struct {
			DefaultLimit int `yaml:"defaultLimit" validate:"gt=0"`
		} `yaml:"concurrency"`
	} `yaml:"performance"`
}

// Default returns the built-in default configuration.
func Default() Config {
	var c Config
	c.DataDir = defaultDataDir()
	c.Store.Path = filepath.Join(c.DataDir, "loomwork.db")
	c.Store.CheckpointInterval = "10m"
	c.Store.BusyTimeout = "5s"
	c.Governor.DefaultMaxTokens = 100000
	c.Governor.WarnThreshold = 0.75
	c.Governor.ErrorThreshold = 0.90
	c.Governor.WarningQuota = 0.8
	c.Governor.CriticalQuota = 0.95
	c.Router.PrimaryProviderWeight = 0.60
	c.Router.OtherProviderWeight = 0.40
	c.Router.DefaultSuccessRate = 0.5
	c.Router.ObservationThreshold = 20
	c.Router.Alpha = 0.2
	c.Tiers.MaxTier1Tools = 15
	c.Tiers.PromotionThreshold = 5
	c.Tiers.DemotionWindow = 50
	c.Tiers.UsageFloor = 0.05
	c.Tiers.FingerprintCacheCap = 100
	c.Executor.DefaultRetries = 3
	c.Executor.DefaultBackoffMs = 1000
	c.Executor.DefaultConcurrency = 5
	c.Performance.Concurrency.DefaultLimit = 10
	return c
}

func defaultDataDir() string {
	if d := os.Getenv("LOOMWORK_DATA"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loomwork"
	}
	return filepath.Join(home, ".loomwork")
}

// Load layers defaults < userConfigPath < projectConfigPath < environment
// (prefix LOOMWORK_) and validates the result.
func Load(userConfigPath, projectConfigPath, envPrefix string) (Config, error) {
	merged := toMap(Default())

	if userConfigPath != "" {
		if m, err := loadYAMLMap(userConfigPath); err == nil {
			deepMerge(merged, m)
		} else if !os.IsNotExist(err) {
			return Config{}, errs.Wrap(errs.KindConfig, "load user config", err)
		}
	}

	if projectConfigPath != "" {
		if m, err := loadYAMLMap(projectConfigPath); err == nil {
			deepMerge(merged, m)
		} else if !os.IsNotExist(err) {
			return Config{}, errs.Wrap(errs.KindConfig, "load project config", err)
		}
	}

	if envPrefix != "" {
		applyEnvOverrides(merged, envPrefix)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return Config{}, errs.Wrap(errs.KindConfig, "decode merged config", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, errs.Wrap(errs.KindConfig, "validate config", err)
	}
	return cfg, nil
}

func loadYAMLMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.KindConfig, "parse yaml config "+path, err)
	}
	return m, nil
}

func toMap(c Config) map[string]any {
	data, _ := yaml.Marshal(c)
	var m map[string]any
	_ = yaml.Unmarshal(data, &m)
	return m
}

func fromMap(m map[string]any) (Config, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// deepMerge merges src into dst, recursing into nested maps and otherwise
// overwriting dst's value with src's.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				deepMerge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// applyEnvOverrides scans the environment for PREFIX_A_B_C=value variables
// and sets config[a][b][c] = parsed(value), matching existing map keys
// case-insensitively (accepting both intent_routing and intentRouting-style
// segments) and falling back to a lowercase key when nothing matches.
func applyEnvOverrides(m map[string]any, prefix string) {
	prefix = strings.ToUpper(prefix)
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name, value := parts[0], parts[1]
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		path := strings.Split(strings.TrimPrefix(name, prefix), "_")
		setPath(m, path, parseEnvValue(value))
	}
}

// setPath descends m following path segments (case-insensitive match
// against existing keys) and sets the final segment to value.
func setPath(m map[string]any, path []string, value any) {
	cur := m
	for i, seg := range path {
		last := i == len(path)-1
		key := matchOrLower(cur, seg)
		if last {
			cur[key] = value
			return
		}
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
}

// matchOrLower finds an existing key in m matching seg case-insensitively;
// if none exists, returns the lowercased segment so a new canonical key is
// created on write.
func matchOrLower(m map[string]any, seg string) string {
	for k := range m {
		if strings.EqualFold(k, seg) {
			return k
		}
	}
	return strings.ToLower(seg)
}

// parseEnvValue JSON-parses numeric/bool-looking values, falling back to string.
func parseEnvValue(v string) any {
	if v == "true" {
		return true
	}
	if v == "false" {
		return false
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
