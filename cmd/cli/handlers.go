// Command handlers for the mnemos CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	icli "github.com/agilira/mnemos/internal/cli"

	"github.com/agilira/go-errors"
	"github.com/agilira/mnemos"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// handleDemo walks a sample Widget through a series of mutations and
// prints the changes detected after each one.
func (m *Manager) handleDemo(ctx *orpheus.Context) error {
	verbose := ctx.GetFlagBool("verbose")

	cfg, err := m.loadEngineConfig(ctx.GetFlagString("config"))
	if err != nil {
		return err
	}
	engine := mnemos.New(cfg)
	defer func() { _ = engine.Close() }()
	registerDemoTypes(engine)

	w := newDemoWidget()
	meta := engine.AnalyzeTypeOf(w)
	m.printf("Tracking %s: %d auto, %d explicit, %d ignored\n",
		typeName(w), len(meta.AutoTracked), len(meta.ExplicitlyTracked), len(meta.Ignored))

	for i, step := range demoSteps() {
		step.mutate(w)
		result := engine.DetectChanges(w)

		m.printf("\n[%d] %s\n", i+1, step.title)
		if !result.HasChanges {
			m.printf("    no changes\n")
			continue
		}
		for _, c := range result.Changes {
			m.printf("    %-8s %-9s %s -> %s (%s)\n", c.Field, c.Kind,
				icli.FormatValue(c.Previous, 40), icli.FormatValue(c.Current, 40), c.Reason)
		}
	}

	if verbose {
		snap := engine.CaptureSnapshot(w)
		if snap != nil {
			m.printf("\nFinal snapshot (%d fields):\n", snap.Len())
			for _, name := range snap.Fields() {
				v, _ := snap.Value(name)
				m.printf("    %-8s %s\n", name, icli.FormatValue(v, 60))
			}
		}
		m.printStatistics(engine.GetStatistics())
	}
	return nil
}

// handleBench runs a concurrent DetectChanges load and reports throughput,
// per-operation statistics and alerts.
func (m *Manager) handleBench(ctx *orpheus.Context) error {
	workers := ctx.GetFlagInt("workers")
	objects := ctx.GetFlagInt("objects")
	iterations := ctx.GetFlagInt("iterations")

	cfg, err := m.loadEngineConfig(ctx.GetFlagString("config"))
	if err != nil {
		return err
	}
	engine := mnemos.New(cfg)
	defer func() { _ = engine.Close() }()
	if err := engine.Start(); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m.printf("Running %d workers over %d objects, %d rounds each...\n", workers, objects, iterations)
	res, err := runBench(runCtx, engine, workers, objects, iterations)
	if err != nil {
		return errors.Wrap(err, mnemos.ErrCodeInvalidConfig, "benchmark failed")
	}

	m.printf("Completed %d diffs (%d with changes) in %s\n", res.Diffs, res.Changed, icli.FormatDuration(res.Duration))
	m.printf("Throughput: %.0f diffs/s\n", res.Throughput)
	m.printStatistics(engine.GetStatistics())

	alerts := engine.Alerts()
	if len(alerts) == 0 {
		m.printf("\nNo performance alerts\n")
		return nil
	}
	m.printf("\nAlerts:\n")
	for _, a := range alerts {
		m.printf("  [%s] %s\n", a.Severity, a.Message)
	}
	return nil
}

// handleConfigValidate validates a YAML configuration file.
func (m *Manager) handleConfigValidate(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if path == "" {
		return errors.New(mnemos.ErrCodeInvalidConfig, "usage: mnemos config validate <file>")
	}

	result, err := mnemos.ValidateConfigFile(path)
	if err != nil {
		m.printf("Invalid configuration: %v\n", err)
		return err
	}

	m.printf("%s\n", result.String())
	for _, e := range result.Errors {
		m.printf("  error: %s\n", e)
	}
	for _, w := range result.Warnings {
		m.printf("  warning: %s\n", w)
	}
	if !result.Valid {
		return errors.New(mnemos.ErrCodeInvalidConfig, fmt.Sprintf("%s: %d error(s)", path, len(result.Errors)))
	}
	return nil
}

// handleConfigShow prints the effective configuration resolved from the
// optional file, MNEMOS_* variables and defaults.
func (m *Manager) handleConfigShow(ctx *orpheus.Context) error {
	resolved, err := mnemos.ResolveConfig(ctx.GetFlagString("file"), nil)
	if err != nil {
		return err
	}

	data, err := resolved.Config.ToYAML()
	if err != nil {
		return err
	}
	m.printf("%s", data)

	if ctx.GetFlagBool("sources") {
		keys := resolved.Keys()
		if len(keys) == 0 {
			m.printf("\n# every setting is a default\n")
			return nil
		}
		m.printf("\n")
		for _, key := range keys {
			m.printf("# %s: %s\n", key, resolved.Source(key))
		}
	}
	return nil
}

// handleConfigInit writes the default configuration to a new file.
func (m *Manager) handleConfigInit(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if path == "" {
		return errors.New(mnemos.ErrCodeInvalidConfig, "usage: mnemos config init <file>")
	}
	if _, err := os.Stat(path); err == nil {
		return errors.New(mnemos.ErrCodeIOError, fmt.Sprintf("file already exists: %s", path))
	}

	cfg := (&mnemos.Config{}).WithDefaults()
	if err := cfg.WriteConfigFile(path); err != nil {
		return err
	}
	m.printf("Created configuration: %s\n", path)
	return nil
}

// handleAuditQuery prints stored audit events, newest first.
func (m *Manager) handleAuditQuery(ctx *orpheus.Context) error {
	since, err := icli.ParseExtendedDuration(ctx.GetFlagString("since"))
	if err != nil {
		return errors.Wrap(err, mnemos.ErrCodeInvalidConfig, "invalid --since")
	}
	level, ok := mnemos.ParseAuditLevel(ctx.GetFlagString("level"))
	if !ok {
		return errors.New(mnemos.ErrCodeInvalidConfig, "invalid --level: "+ctx.GetFlagString("level"))
	}

	trail, err := m.openAuditTrail(ctx.GetFlagString("db"))
	if err != nil {
		return err
	}
	defer func() { _ = trail.Close() }()

	records, err := trail.Query(mnemos.AuditQuery{
		Since:    time.Now().Add(-since),
		Event:    ctx.GetFlagString("event"),
		EngineID: ctx.GetFlagString("engine"),
		MinLevel: level,
		Limit:    ctx.GetFlagInt("limit"),
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		m.printf("No audit events found\n")
		return nil
	}
	table := icli.NewTable(m.out, "TIME", "LEVEL", "EVENT", "ENGINE", "CODE", "MESSAGE")
	for _, r := range records {
		table.Row(r.Timestamp.Format(time.RFC3339), r.Level, r.Event, shortID(r.EngineID), r.Code,
			icli.FormatValue(r.Message, 60))
	}
	return table.Flush()
}

// handleAuditStats prints a summary of the audit trail.
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	trail, err := m.openAuditTrail(ctx.GetFlagString("db"))
	if err != nil {
		return err
	}
	defer func() { _ = trail.Close() }()

	stats, err := trail.Stats()
	if err != nil {
		return err
	}

	m.printf("Backend:  %s\n", stats.Backend)
	m.printf("Path:     %s\n", stats.Path)
	m.printf("Events:   %d\n", stats.TotalEvents)
	if stats.DatabaseSize > 0 {
		m.printf("Size:     %s\n", icli.FormatBytes(stats.DatabaseSize))
	}
	if stats.SchemaVersion > 0 {
		m.printf("Schema:   v%d\n", stats.SchemaVersion)
	}
	if stats.TotalEvents > 0 {
		m.printf("Oldest:   %s\n", stats.OldestEvent.Format(time.RFC3339))
		m.printf("Newest:   %s\n", stats.NewestEvent.Format(time.RFC3339))
	}

	if len(stats.EventsByName) > 0 {
		m.printf("\n")
		table := icli.NewTable(m.out, "EVENT", "COUNT")
		for _, name := range sortedKeys(stats.EventsByName) {
			table.Row(name, stats.EventsByName[name])
		}
		if err := table.Flush(); err != nil {
			return err
		}
	}
	if len(stats.EventsByLevel) > 0 {
		m.printf("\n")
		table := icli.NewTable(m.out, "LEVEL", "COUNT")
		for _, name := range sortedKeys(stats.EventsByLevel) {
			table.Row(name, stats.EventsByLevel[name])
		}
		return table.Flush()
	}
	return nil
}

// handleAuditCleanup deletes audit events older than --older-than.
func (m *Manager) handleAuditCleanup(ctx *orpheus.Context) error {
	olderThan, err := icli.ParseExtendedDuration(ctx.GetFlagString("older-than"))
	if err != nil {
		return errors.Wrap(err, mnemos.ErrCodeInvalidConfig, "invalid --older-than")
	}
	dryRun := ctx.GetFlagBool("dry-run")

	trail, err := m.openAuditTrail(ctx.GetFlagString("db"))
	if err != nil {
		return err
	}
	defer func() { _ = trail.Close() }()

	n, err := trail.Cleanup(olderThan, dryRun)
	if err != nil {
		return err
	}
	if dryRun {
		m.printf("Would delete %d event(s) older than %s\n", n, olderThan)
	} else {
		m.printf("Deleted %d event(s) older than %s\n", n, olderThan)
	}
	return nil
}

// handleInfo displays version and runtime information.
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	m.printf("mnemos %s\n", Version)
	m.printf("Go:           %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	m.printf("CPUs:         %d (GOMAXPROCS %d)\n", runtime.NumCPU(), runtime.GOMAXPROCS(0))
	m.printf("Audit trail:  %s\n", mnemos.DefaultAuditPath())
	m.printf("Environment:  %s_*\n", mnemos.EnvPrefix)

	if ctx.GetFlagBool("verbose") {
		data, err := (&mnemos.Config{}).WithDefaults().ToYAML()
		if err != nil {
			return err
		}
		m.printf("\nDefault configuration:\n%s", data)
	}
	return nil
}

// handleCompletion generates shell completion scripts.
func (m *Manager) handleCompletion(ctx *orpheus.Context) error {
	const commands = "demo bench config audit info completion"
	switch shell := ctx.GetArg(0); shell {
	case "bash":
		m.printf("# Bash completion for mnemos\n")
		m.printf("# Add to ~/.bashrc: source <(mnemos completion bash)\n")
		m.printf("_mnemos_completion() {\n")
		m.printf("  COMPREPLY=($(compgen -W '%s' -- \"${COMP_WORDS[COMP_CWORD]}\"))\n", commands)
		m.printf("}\n")
		m.printf("complete -F _mnemos_completion mnemos\n")
	case "zsh":
		m.printf("#compdef mnemos\n")
		m.printf("# Add to ~/.zshrc: source <(mnemos completion zsh)\n")
		m.printf("_mnemos() {\n")
		m.printf("  _arguments '1: :(%s)'\n", commands)
		m.printf("}\n")
	case "fish":
		m.printf("# Fish completion for mnemos\n")
		m.printf("complete -c mnemos -f -a '%s'\n", commands)
	default:
		return errors.New(mnemos.ErrCodeInvalidConfig, fmt.Sprintf("unsupported shell: %q (bash, zsh, fish)", shell))
	}
	return nil
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
