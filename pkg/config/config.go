// Package config computes the run configuration: environment files, layered
// config files and FLOWS_ environment overrides, merged with override-wins.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultEnvironment = "development"
	EnvPrefix          = "FLOWS"

	KeyBaseEndpoint       = "base_endpoint"
	KeyEnvironment        = "environment"
	KeyExpressionLanguage = "expression_language"
)

// RunConfiguration is the merged settings bag of one process.
type RunConfiguration struct {
	BaseEndpoint    string
	EnvironmentName string
	Details         map[string]any
}

// Options controls where Load reads from.
type Options struct {
	// Dir holds default.yaml and <environment>.yaml. Empty means "config".
	Dir string
	// Environment selects the override layer. Empty falls back to
	// FLOWS_ENVIRONMENT, then DefaultEnvironment.
	Environment string
	// DotenvDir holds .env and .env.<environment>. Empty means the
	// working directory.
	DotenvDir string
	// Overrides win over every file and environment layer.
	Overrides map[string]any
}

// Load reads the configuration layers. Missing files are skipped.
func Load(opts Options) (*RunConfiguration, error) {
	env := opts.Environment
	if env == "" {
		env = os.Getenv(EnvPrefix + "_ENVIRONMENT")
	}
	if env == "" {
		env = DefaultEnvironment
	}

	if err := loadDotenv(opts.DotenvDir, env); err != nil {
		return nil, err
	}

	dir := opts.Dir
	if dir == "" {
		dir = "config"
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyBaseEndpoint, "")

	layers := 0
	for _, name := range []string{"default", env} {
		path, ok := findConfigFile(dir, name)
		if !ok {
			continue
		}
		v.SetConfigFile(path)
		var err error
		if layers == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		slog.Debug("config layer loaded", "file", path)
		layers++
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	details := v.AllSettings()
	delete(details, KeyBaseEndpoint)
	delete(details, KeyEnvironment)

	return &RunConfiguration{
		BaseEndpoint:    v.GetString(KeyBaseEndpoint),
		EnvironmentName: env,
		Details:         details,
	}, nil
}

func findConfigFile(dir, name string) (string, bool) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(dir, name+ext)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, true
		}
	}
	return "", false
}

// loadDotenv loads .env.<env> and then .env. godotenv never overwrites a
// variable that is already set, so the environment-specific file wins.
func loadDotenv(dir, env string) error {
	for _, name := range []string{".env." + env, ".env"} {
		path := filepath.Join(dir, name)
		err := godotenv.Load(path)
		if err == nil {
			slog.Info("using env file", "file", path)
			continue
		}
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Get returns a detail by dotted path.
func (c *RunConfiguration) Get(path string) (any, bool) {
	var cur any = c.Details
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[strings.ToLower(seg)]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString returns a detail as a string, or def.
func (c *RunConfiguration) GetString(path, def string) string {
	v, ok := c.Get(path)
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Scope returns a copy of the configuration for placeholder lookups under
// run.*. Detail keys are also exposed at the top level.
func (c *RunConfiguration) Scope() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(c.Details)+3)
	for k, v := range c.Details {
		out[k] = clone(v)
	}
	out["baseEndpoint"] = c.BaseEndpoint
	out["environmentName"] = c.EnvironmentName
	out["details"] = clone(c.Details)
	return out
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = clone(val)
		}
		return out
	default:
		return v
	}
}
