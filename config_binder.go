// config_binder.go: Binding of parsed configuration maps onto Config
//
// Every configuration source (YAML file, environment, flags) is reduced to
// a nested map keyed by dotted paths such as "storage.max_tracked_objects";
// the binder writes those values onto typed targets without reflection.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"github.com/agilira/go-errors"
)

// bindKind is the type discriminator of a binding.
type bindKind uint8

const (
	bindString bindKind = iota
	bindInt
	bindInt64
	bindBool
	bindFloat64
	bindDuration
	bindAuditLevel
)

// binding is a single target with its key and fallback. Targets are only
// ever created from typed pointers in the Bind methods.
type binding struct {
	target   unsafe.Pointer
	key      string
	defValue interface{}
	kind     bindKind
}

// ConfigBinder collects bindings and applies them in one pass.
type ConfigBinder struct {
	bindings []binding
	config   map[string]interface{}
}

// NewConfigBinder creates a binder over a parsed configuration map.
func NewConfigBinder(config map[string]interface{}) *ConfigBinder {
	return &ConfigBinder{
		bindings: make([]binding, 0, len(configKeys)),
		config:   config,
	}
}

func (cb *ConfigBinder) bind(target unsafe.Pointer, key string, def interface{}, kind bindKind) *ConfigBinder {
	cb.bindings = append(cb.bindings, binding{target: target, key: key, defValue: def, kind: kind})
	return cb
}

// BindString binds a string value; absent keys leave defaultValue.
func (cb *ConfigBinder) BindString(target *string, key string, defaultValue string) *ConfigBinder {
	return cb.bind(unsafe.Pointer(target), key, defaultValue, bindString) // #nosec G103 -- typed pointer
}

// BindInt binds an int value.
func (cb *ConfigBinder) BindInt(target *int, key string, defaultValue int) *ConfigBinder {
	return cb.bind(unsafe.Pointer(target), key, defaultValue, bindInt) // #nosec G103 -- typed pointer
}

// BindInt64 binds an int64 value.
func (cb *ConfigBinder) BindInt64(target *int64, key string, defaultValue int64) *ConfigBinder {
	return cb.bind(unsafe.Pointer(target), key, defaultValue, bindInt64) // #nosec G103 -- typed pointer
}

// BindBool binds a boolean value.
func (cb *ConfigBinder) BindBool(target *bool, key string, defaultValue bool) *ConfigBinder {
	return cb.bind(unsafe.Pointer(target), key, defaultValue, bindBool) // #nosec G103 -- typed pointer
}

// BindFloat64 binds a float64 value.
func (cb *ConfigBinder) BindFloat64(target *float64, key string, defaultValue float64) *ConfigBinder {
	return cb.bind(unsafe.Pointer(target), key, defaultValue, bindFloat64) // #nosec G103 -- typed pointer
}

// BindDuration binds a duration given as a Go duration string or as
// integer nanoseconds.
func (cb *ConfigBinder) BindDuration(target *time.Duration, key string, defaultValue time.Duration) *ConfigBinder {
	return cb.bind(unsafe.Pointer(target), key, defaultValue, bindDuration) // #nosec G103 -- typed pointer
}

// BindAuditLevel binds an audit level given by name or number.
func (cb *ConfigBinder) BindAuditLevel(target *AuditLevel, key string, defaultValue AuditLevel) *ConfigBinder {
	return cb.bind(unsafe.Pointer(target), key, defaultValue, bindAuditLevel) // #nosec G103 -- typed pointer
}

// Apply resolves every binding. Values are converted before anything is
// written, so a failing Apply leaves all targets untouched.
func (cb *ConfigBinder) Apply() error {
	resolved := make([]interface{}, len(cb.bindings))
	for i, b := range cb.bindings {
		raw, ok := cb.getValue(b.key)
		if !ok {
			resolved[i] = b.defValue
			continue
		}
		v, err := convertBinding(b.kind, raw)
		if err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, "failed to bind key '"+b.key+"'").
				WithContext("value", fmt.Sprintf("%v", raw))
		}
		resolved[i] = v
	}

	for i, b := range cb.bindings {
		switch b.kind {
		case bindString:
			*(*string)(b.target) = resolved[i].(string)
		case bindInt:
			*(*int)(b.target) = resolved[i].(int)
		case bindInt64:
			*(*int64)(b.target) = resolved[i].(int64)
		case bindBool:
			*(*bool)(b.target) = resolved[i].(bool)
		case bindFloat64:
			*(*float64)(b.target) = resolved[i].(float64)
		case bindDuration:
			*(*time.Duration)(b.target) = resolved[i].(time.Duration)
		case bindAuditLevel:
			*(*AuditLevel)(b.target) = resolved[i].(AuditLevel)
		}
	}
	return nil
}

// getValue looks up a dotted key in the nested map.
func (cb *ConfigBinder) getValue(key string) (interface{}, bool) {
	current := cb.config
	parts := strings.Split(key, ".")
	for i, part := range parts {
		val, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return val, true
		}
		nested, ok := val.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = nested
	}
	return nil, false
}

func convertBinding(kind bindKind, value interface{}) (interface{}, error) {
	switch kind {
	case bindString:
		return toString(value), nil
	case bindInt:
		v, err := toInt64(value)
		return int(v), err
	case bindInt64:
		return toInt64(value)
	case bindBool:
		return toBool(value)
	case bindFloat64:
		return toFloat64(value)
	case bindDuration:
		return toDuration(value)
	case bindAuditLevel:
		if s, ok := value.(string); ok {
			level, valid := ParseAuditLevel(s)
			if !valid {
				return AuditInfo, errors.New(ErrCodeInvalidAuditConfig, "unknown audit level '"+s+"'")
			}
			return level, nil
		}
		v, err := toInt64(value)
		return AuditLevel(v), err
	default:
		return nil, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("unsupported binding kind: %d", kind))
	}
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil // #nosec G115 -- configuration sizes are small
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("cannot convert %T to integer", value))
	}
}

func toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "on", "enabled":
			return true, nil
		case "no", "off", "disabled":
			return false, nil
		}
		return strconv.ParseBool(strings.TrimSpace(v))
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	default:
		return false, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("cannot convert %T to bool", value))
	}
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("cannot convert %T to float64", value))
	}
}

func toDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(v))
	case int:
		return time.Duration(v), nil
	case int64:
		return time.Duration(v), nil
	default:
		return 0, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("cannot convert %T to time.Duration", value))
	}
}

// configKey describes one configurable setting shared by every source.
type configKey struct {
	key    string
	usage  string
	target func(c *Config) interface{}
}

// configKeys lists every setting in file order.
var configKeys = []configKey{
	{"analysis.max_fields_per_type", "maximum tracked fields per type", func(c *Config) interface{} { return &c.MaxTrackedFieldsPerType }},
	{"analysis.max_cached_types", "maximum cached type metadata entries", func(c *Config) interface{} { return &c.MaxCachedTypes }},
	{"analysis.metadata_max_age", "age after which idle metadata is evicted", func(c *Config) interface{} { return &c.MetadataMaxAge }},
	{"analysis.disable_auto_tracking", "track only explicitly marked fields", func(c *Config) interface{} { return &c.DisableAutoTracking }},
	{"comparison.disable_content_tracking", "compare every collection by identity", func(c *Config) interface{} { return &c.DisableContentTracking }},
	{"comparison.max_depth", "default depth of content comparison", func(c *Config) interface{} { return &c.MaxComparisonDepth }},
	{"storage.max_tracked_objects", "maximum stored snapshots", func(c *Config) interface{} { return &c.MaxTrackedObjects }},
	{"storage.max_snapshot_age", "age after which stored snapshots are dropped", func(c *Config) interface{} { return &c.MaxSnapshotAge }},
	{"storage.pool_capacity", "idle snapshots kept for reuse", func(c *Config) interface{} { return &c.PoolCapacity }},
	{"concurrency.max_operations", "maximum concurrent captures and diffs", func(c *Config) interface{} { return &c.MaxConcurrentOperations }},
	{"concurrency.max_readers_per_object", "maximum concurrent captures of one object", func(c *Config) interface{} { return &c.MaxReadersPerObject }},
	{"concurrency.lock_timeout", "per-object lock wait bound", func(c *Config) interface{} { return &c.LockTimeout }},
	{"concurrency.semaphore_timeout", "operation slot wait bound", func(c *Config) interface{} { return &c.SemaphoreTimeout }},
	{"maintenance.interval", "background maintenance period", func(c *Config) interface{} { return &c.MaintenanceInterval }},
	{"monitoring.timing_buffer_size", "recent timings kept (power of 2)", func(c *Config) interface{} { return &c.TimingBufferSize }},
	{"monitoring.alerts.max_average_duration", "average duration alert threshold", func(c *Config) interface{} { return &c.Alerts.MaxAverageDuration }},
	{"monitoring.alerts.max_duration", "maximum duration alert threshold", func(c *Config) interface{} { return &c.Alerts.MaxDuration }},
	{"monitoring.alerts.max_failure_rate", "failure rate alert threshold (0-1)", func(c *Config) interface{} { return &c.Alerts.MaxFailureRate }},
	{"monitoring.alerts.min_samples", "samples required before alerting", func(c *Config) interface{} { return &c.Alerts.MinSamples }},
	{"audit.enabled", "enable the audit trail", func(c *Config) interface{} { return &c.Audit.Enabled }},
	{"audit.output_file", "audit database (.db) or JSONL (.jsonl) path", func(c *Config) interface{} { return &c.Audit.OutputFile }},
	{"audit.min_level", "minimum audited level (info, warn, error, critical)", func(c *Config) interface{} { return &c.Audit.MinLevel }},
	{"audit.buffer_size", "audit events buffered before a write", func(c *Config) interface{} { return &c.Audit.BufferSize }},
	{"audit.flush_interval", "audit buffer flush period", func(c *Config) interface{} { return &c.Audit.FlushInterval }},
	{"audit.retention", "age after which audit events are deleted", func(c *Config) interface{} { return &c.Audit.Retention }},
	{"logging.level", "diagnostic log level (debug, info, warn, error)", func(c *Config) interface{} { return &c.LogLevel }},
}

// BindConfig registers every configuration key onto cfg, with cfg's current
// values as defaults.
func (cb *ConfigBinder) BindConfig(cfg *Config) *ConfigBinder {
	for _, k := range configKeys {
		switch t := k.target(cfg).(type) {
		case *int:
			cb.BindInt(t, k.key, *t)
		case *int64:
			cb.BindInt64(t, k.key, *t)
		case *bool:
			cb.BindBool(t, k.key, *t)
		case *string:
			cb.BindString(t, k.key, *t)
		case *float64:
			cb.BindFloat64(t, k.key, *t)
		case *time.Duration:
			cb.BindDuration(t, k.key, *t)
		case *AuditLevel:
			cb.BindAuditLevel(t, k.key, *t)
		}
	}
	return cb
}

// applyConfigMap returns a copy of base with values overridden from values.
func applyConfigMap(base Config, values map[string]interface{}) (Config, error) {
	cfg := base
	if err := NewConfigBinder(values).BindConfig(&cfg).Apply(); err != nil {
		return base, err
	}
	return cfg, nil
}

// unknownKeys returns the dotted keys of values that are not configuration
// keys, sorted.
func unknownKeys(values map[string]interface{}) []string {
	known := make(map[string]struct{}, len(configKeys))
	for _, k := range configKeys {
		known[k.key] = struct{}{}
	}
	var unknown []string
	walkKeys(values, "", func(key string) {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	})
	sort.Strings(unknown)
	return unknown
}

func walkKeys(m map[string]interface{}, prefix string, fn func(string)) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			walkKeys(nested, key, fn)
			continue
		}
		fn(key)
	}
}

// setNested stores value under a dotted key, creating intermediate maps.
func setNested(m map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// configMap renders cfg as a nested map using the configuration keys.
func configMap(cfg *Config) map[string]interface{} {
	out := make(map[string]interface{})
	for _, k := range configKeys {
		var v interface{}
		switch t := k.target(cfg).(type) {
		case *int:
			v = *t
		case *int64:
			v = *t
		case *bool:
			v = *t
		case *string:
			v = *t
		case *float64:
			v = *t
		case *time.Duration:
			v = t.String()
		case *AuditLevel:
			v = strings.ToLower(t.String())
		}
		setNested(out, k.key, v)
	}
	return out
}
