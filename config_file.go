// config_file.go: YAML configuration files
//
// A configuration file mirrors the dotted keys of the binder:
//
//	analysis:
//	  max_fields_per_type: 32
//	storage:
//	  max_tracked_objects: 10000
//	  max_snapshot_age: 30m
//	monitoring:
//	  alerts:
//	    max_failure_rate: 0.05
//	audit:
//	  enabled: true
//	  output_file: /var/lib/app/mnemos-audit.db
//	logging:
//	  level: info
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// readConfigMap parses a YAML file into a nested map, rejecting unknown keys.
func readConfigMap(path string) (map[string]interface{}, error) {
	// #nosec G304 -- configuration path is chosen by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, ErrCodeConfigNotFound, "configuration file not found").
				WithContext("path", path)
		}
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read configuration file").
			WithContext("path", path)
	}

	values := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse configuration file").
			WithContext("path", path)
	}

	if unknown := unknownKeys(values); len(unknown) > 0 {
		return nil, errors.New(ErrCodeInvalidConfig, "unknown configuration keys: "+strings.Join(unknown, ", ")).
			WithContext("path", path)
	}
	return values, nil
}

// LoadConfigFile reads a YAML configuration file. Missing keys keep their
// zero value and are completed by WithDefaults.
func LoadConfigFile(path string) (*Config, error) {
	values, err := readConfigMap(path)
	if err != nil {
		return nil, err
	}
	cfg, err := applyConfigMap(Config{}, values)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid configuration file").
			WithContext("path", path)
	}
	return cfg.WithDefaults(), nil
}

// ValidateConfigFile loads path and validates the resulting configuration,
// returning the detailed result. Parse errors are returned as err.
func ValidateConfigFile(path string) (ValidationResult, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return ValidationResult{}, err
	}
	return cfg.ValidateDetailed(), nil
}

// ToYAML renders the configuration in configuration file layout.
func (c *Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(configMap(c))
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to encode configuration")
	}
	return data, nil
}

// WriteConfigFile writes c to path as YAML, replacing the file atomically.
func (c *Config) WriteConfigFile(path string) error {
	data, err := c.ToYAML()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to create configuration directory").
			WithContext("path", path)
	}

	// Same directory so that the rename stays on one filesystem
	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d", filepath.Base(path), time.Now().UnixNano()))
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to write configuration file").
			WithContext("path", tempPath)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, ErrCodeIOError, "failed to replace configuration file").
			WithContext("path", path)
	}
	return nil
}
