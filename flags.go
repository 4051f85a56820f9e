// flags.go: Command-line flags and multi-source configuration
//
// Every configuration key is also a flag: dots and underscores become
// dashes, so storage.max_tracked_objects is --storage-max-tracked-objects.
// Sources are layered with precedence flags > environment > file > defaults.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"sort"
	"strconv"
	"strings"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// ConfigSource identifies the layer a setting was taken from.
type ConfigSource int

// Configuration sources in increasing precedence.
const (
	SourceDefault ConfigSource = iota
	SourceFile
	SourceEnv
	SourceFlag
)

func (s ConfigSource) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceEnv:
		return "env"
	case SourceFlag:
		return "flag"
	default:
		return "default"
	}
}

// ErrHelpRequested is returned when the arguments ask for flag help.
var ErrHelpRequested = errors.New(ErrCodeInvalidConfig, "help requested")

// FlagName returns the command-line flag bound to a configuration key.
func FlagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// newConfigFlagSet registers one flag per configuration key with cfg's
// values as defaults.
func newConfigFlagSet(name string, cfg *Config) *flashflags.FlagSet {
	fs := flashflags.New(name)
	fs.SetDescription("mnemos change tracking engine configuration")

	for _, k := range configKeys {
		flag := FlagName(k.key)
		switch t := k.target(cfg).(type) {
		case *int:
			fs.Int(flag, *t, k.usage)
		case *int64:
			fs.Int(flag, int(*t), k.usage)
		case *bool:
			fs.Bool(flag, *t, k.usage)
		case *string:
			fs.String(flag, *t, k.usage)
		case *float64:
			fs.String(flag, strconv.FormatFloat(*t, 'g', -1, 64), k.usage)
		case *time.Duration:
			fs.Duration(flag, *t, k.usage)
		case *AuditLevel:
			fs.String(flag, strings.ToLower(t.String()), k.usage)
		}
	}
	return fs
}

// flagConfigMap reads back every flag whose value differs from cfg.
func flagConfigMap(fs *flashflags.FlagSet, cfg *Config) map[string]interface{} {
	values := make(map[string]interface{})
	for _, k := range configKeys {
		flag := FlagName(k.key)
		switch t := k.target(cfg).(type) {
		case *int:
			if v := fs.GetInt(flag); v != *t {
				setNested(values, k.key, v)
			}
		case *int64:
			if v := int64(fs.GetInt(flag)); v != *t {
				setNested(values, k.key, v)
			}
		case *bool:
			if v := fs.GetBool(flag); v != *t {
				setNested(values, k.key, v)
			}
		case *string:
			if v := fs.GetString(flag); v != *t {
				setNested(values, k.key, v)
			}
		case *float64:
			if v := fs.GetString(flag); v != strconv.FormatFloat(*t, 'g', -1, 64) {
				setNested(values, k.key, v)
			}
		case *time.Duration:
			if v := fs.GetDuration(flag); v != *t {
				setNested(values, k.key, v)
			}
		case *AuditLevel:
			if v := fs.GetString(flag); !strings.EqualFold(v, t.String()) {
				setNested(values, k.key, v)
			}
		}
	}
	return values
}

func helpRequested(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// LoadConfigFromFlags applies command-line flags on top of base. A nil
// base starts from the zero Config. The result has defaults applied.
func LoadConfigFromFlags(base *Config, args []string) (*Config, error) {
	start := Config{}
	if base != nil {
		start = *base
	}
	cfg, _, err := applyFlags(start, args)
	if err != nil {
		return nil, err
	}
	return cfg.WithDefaults(), nil
}

func applyFlags(base Config, args []string) (Config, map[string]interface{}, error) {
	if helpRequested(args) {
		return base, nil, ErrHelpRequested
	}
	fs := newConfigFlagSet("mnemos", &base)
	if err := fs.Parse(args); err != nil {
		return base, nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse command-line flags")
	}
	values := flagConfigMap(fs, &base)
	cfg, err := applyConfigMap(base, values)
	if err != nil {
		return base, nil, err
	}
	return cfg, values, nil
}

// PrintConfigFlags prints help for every configuration flag.
func PrintConfigFlags() {
	cfg := Config{}
	newConfigFlagSet("mnemos", &cfg).PrintHelp()
}

// MultiSourceConfig is a resolved configuration with the origin of every
// setting that did not come from defaults.
type MultiSourceConfig struct {
	Config  *Config
	Sources map[string]ConfigSource
}

// Source returns where key was set.
func (m MultiSourceConfig) Source(key string) ConfigSource {
	if s, ok := m.Sources[key]; ok {
		return s
	}
	return SourceDefault
}

// Keys returns the keys set by a non-default source, sorted.
func (m MultiSourceConfig) Keys() []string {
	keys := make([]string, 0, len(m.Sources))
	for k := range m.Sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadConfigMultiSource resolves configuration from an optional YAML file,
// MNEMOS_* variables and command-line flags, in increasing precedence.
// An empty configFile skips the file layer.
func LoadConfigMultiSource(configFile string, args []string) (*Config, error) {
	resolved, err := ResolveConfig(configFile, args)
	if err != nil {
		return nil, err
	}
	return resolved.Config, nil
}

// ResolveConfig is LoadConfigMultiSource reporting the origin of each setting.
func ResolveConfig(configFile string, args []string) (MultiSourceConfig, error) {
	sources := make(map[string]ConfigSource)
	record := func(values map[string]interface{}, src ConfigSource) {
		walkKeys(values, "", func(key string) { sources[key] = src })
	}

	cfg := Config{}
	if configFile != "" {
		values, err := readConfigMap(configFile)
		if err != nil {
			return MultiSourceConfig{}, err
		}
		if cfg, err = applyConfigMap(cfg, values); err != nil {
			return MultiSourceConfig{}, errors.Wrap(err, ErrCodeInvalidConfig, "invalid configuration file").
				WithContext("path", configFile)
		}
		record(values, SourceFile)
	}

	envValues := envConfigMap()
	if len(envValues) > 0 {
		var err error
		if cfg, err = applyConfigMap(cfg, envValues); err != nil {
			return MultiSourceConfig{}, errors.Wrap(err, ErrCodeInvalidConfig, "invalid environment configuration")
		}
		record(envValues, SourceEnv)
	}

	if len(args) > 0 {
		withFlags, flagValues, err := applyFlags(cfg, args)
		if err != nil {
			return MultiSourceConfig{}, err
		}
		cfg = withFlags
		record(flagValues, SourceFlag)
	}

	return MultiSourceConfig{Config: cfg.WithDefaults(), Sources: sources}, nil
}
