// env_config.go: Environment variable configuration
//
// Every configuration key maps to one variable: the key upper-cased, dots
// replaced by underscores, prefixed with MNEMOS_. For example
// storage.max_tracked_objects is read from MNEMOS_STORAGE_MAX_TRACKED_OBJECTS.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"os"
	"strings"

	"github.com/agilira/go-errors"
)

// EnvPrefix prefixes every mnemos environment variable.
const EnvPrefix = "MNEMOS"

// EnvVarName returns the environment variable read for a configuration key.
func EnvVarName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadConfigFromEnv builds a configuration from MNEMOS_* variables, with
// defaults for everything unset.
func LoadConfigFromEnv() (*Config, error) {
	cfg, err := applyEnvOverrides(Config{})
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}
	return cfg.WithDefaults(), nil
}

// envConfigMap collects the set, non-empty MNEMOS_* variables.
func envConfigMap() map[string]interface{} {
	values := make(map[string]interface{})
	for _, k := range configKeys {
		if v, ok := os.LookupEnv(EnvVarName(k.key)); ok && strings.TrimSpace(v) != "" {
			setNested(values, k.key, v)
		}
	}
	return values
}

// applyEnvOverrides returns base with every set variable applied.
func applyEnvOverrides(base Config) (Config, error) {
	values := envConfigMap()
	if len(values) == 0 {
		return base, nil
	}
	return applyConfigMap(base, values)
}
