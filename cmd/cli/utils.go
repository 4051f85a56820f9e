// Utility functions for the mnemos CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"os"
	"sort"

	icli "github.com/agilira/mnemos/internal/cli"

	"github.com/agilira/go-errors"
	"github.com/agilira/mnemos"
)

func (m *Manager) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(m.out, format, args...)
}

// loadEngineConfig resolves the engine configuration from an optional file
// and MNEMOS_* variables. Unless a log level was configured, engine
// diagnostics go to the manager's logger.
func (m *Manager) loadEngineConfig(file string) (mnemos.Config, error) {
	resolved, err := mnemos.ResolveConfig(file, nil)
	if err != nil {
		return mnemos.Config{}, err
	}
	cfg := *resolved.Config
	if resolved.Source("logging.level") == mnemos.SourceDefault {
		cfg.Logger = m.logger
	}
	return cfg, nil
}

// auditPath picks the trail to open: the explicit path, then the
// configured audit.output_file, then the shared default database.
func auditPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cfg, err := mnemos.LoadConfigFromEnv(); err == nil && cfg.Audit.OutputFile != "" {
		return cfg.Audit.OutputFile
	}
	return mnemos.DefaultAuditPath()
}

// openAuditTrail opens an existing audit trail. A missing trail is an
// error rather than an empty new database.
func (m *Manager) openAuditTrail(explicit string) (*mnemos.AuditLogger, error) {
	path := auditPath(explicit)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(mnemos.ErrCodeFileNotFound, "audit trail not found: "+path)
		}
		return nil, errors.Wrap(err, mnemos.ErrCodeIOError, "cannot access audit trail").
			WithContext("path", path)
	}
	return mnemos.OpenAuditTrail(path)
}

// printStatistics prints the component and per-operation statistics.
func (m *Manager) printStatistics(s mnemos.Statistics) {
	m.printf("\nEngine %s\n", s.EngineID)
	m.printf("  metadata:  %d types, hit rate %.1f%%, %d analyses\n",
		s.Cache.Entries, s.Cache.HitRatio()*100, s.Cache.Analyses)
	m.printf("  store:     %d snapshots, hit rate %.1f%%, evicted %d/%d/%d (unreachable/expired/capacity)\n",
		s.Storage.Entries, s.Storage.HitRatio()*100,
		s.Storage.EvictedUnreachable, s.Storage.EvictedExpired, s.Storage.EvictedCapacity)
	m.printf("  pool:      %d reused, %d created, reuse %.1f%%\n",
		s.Storage.Pool.Reused, s.Storage.Pool.Created, s.Storage.Pool.ReuseRatio()*100)
	m.printf("  guard:     peak %d operations, %d locks, %d timeouts\n",
		s.Threading.PeakOperations, s.Threading.TrackedLocks,
		s.Threading.LockTimeouts+s.Threading.SemaphoreTimeouts)
	m.printf("  failures:  %d field reads, %d comparisons, %d analyses\n",
		s.Capture.FieldFailures, s.Comparison.Failures, s.Cache.Failures)

	if len(s.Performance.Operations) == 0 {
		return
	}
	m.printf("\n")
	table := icli.NewTable(m.out, "OPERATION", "COUNT", "FAILURES", "AVG", "MIN", "MAX")
	for _, op := range s.Performance.Operations {
		table.Row(op.Operation, op.Count, op.Failures,
			icli.FormatDuration(op.AverageDuration()), icli.FormatDuration(op.Min), icli.FormatDuration(op.Max))
	}
	_ = table.Flush()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
