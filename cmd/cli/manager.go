// Package cli provides the command-line interface for the mnemos change
// tracking engine.
//
// The CLI is built on the Orpheus framework with git-style subcommands:
//   - demo: end-to-end change detection walkthrough
//   - bench: concurrent DetectChanges load with a performance report
//   - config: validation and display of the effective configuration
//   - audit: query, statistics and retention of the audit trail
//   - info: version and runtime information
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/mnemos"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// Version is reported by the info command.
const Version = "1.0.0"

// Manager owns the Orpheus application and the output stream of every
// command.
type Manager struct {
	app *orpheus.App
	out io.Writer

	// logger receives engine diagnostics during demo and bench
	logger mnemos.Logger
}

// NewManager creates the CLI with every command registered. Output goes
// to standard output.
func NewManager() *Manager {
	app := orpheus.New("mnemos").
		SetDescription("Identity-keyed state snapshots and field-level change detection").
		SetVersion(Version)

	manager := &Manager{
		app:    app,
		out:    os.Stdout,
		logger: mnemos.NopLogger(),
	}

	manager.setupEngineCommands()
	manager.setupConfigCommands()
	manager.setupAuditCommands()
	manager.setupUtilityCommands()

	return manager
}

// WithOutput redirects command output.
func (m *Manager) WithOutput(w io.Writer) *Manager {
	m.out = w
	return m
}

// WithLogger sets the logger handed to engines created by commands.
func (m *Manager) WithLogger(logger mnemos.Logger) *Manager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Run executes the CLI with args, excluding the program name.
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// setupEngineCommands registers the commands that drive an engine.
func (m *Manager) setupEngineCommands() {
	// demo [--verbose] [--config file]
	demoCmd := orpheus.NewCommand("demo", "Walk through change detection on a sample object")
	demoCmd.SetHandler(m.handleDemo)
	demoCmd.AddBoolFlag("verbose", "v", false, "Print captured snapshots and statistics")
	demoCmd.AddFlag("config", "c", "", "YAML configuration file")
	m.app.AddCommand(demoCmd)

	// bench [--workers N] [--objects N] [--iterations N]
	benchCmd := orpheus.NewCommand("bench", "Run a concurrent change detection load")
	benchCmd.SetHandler(m.handleBench)
	benchCmd.AddIntFlag("workers", "w", 8, "Concurrent workers")
	benchCmd.AddIntFlag("objects", "o", 1000, "Tracked objects")
	benchCmd.AddIntFlag("iterations", "i", 10, "Mutation rounds per object")
	benchCmd.AddFlag("config", "c", "", "YAML configuration file")
	m.app.AddCommand(benchCmd)
}

// setupConfigCommands registers the 'config' command group.
func (m *Manager) setupConfigCommands() {
	configCmd := orpheus.NewCommand("config", "Engine configuration")

	// config validate <file>
	configCmd.Subcommand("validate", "Validate a YAML configuration file", m.handleConfigValidate)

	// config show [--file f]
	showCmd := configCmd.Subcommand("show", "Show the effective configuration", m.handleConfigShow)
	showCmd.AddFlag("file", "f", "", "YAML configuration file")
	showCmd.AddBoolFlag("sources", "s", false, "Annotate where each setting came from")

	// config init <file>
	configCmd.Subcommand("init", "Write the default configuration to a file", m.handleConfigInit)

	m.app.AddCommand(configCmd)
}

// setupAuditCommands registers the 'audit' command group.
func (m *Manager) setupAuditCommands() {
	auditCmd := orpheus.NewCommand("audit", "Audit trail management")

	queryCmd := auditCmd.Subcommand("query", "Query audit events", m.handleAuditQuery)
	queryCmd.AddFlag("since", "s", "24h", "Time range (e.g., 24h, 7d, 2w)")
	queryCmd.AddFlag("event", "e", "", "Event type filter")
	queryCmd.AddFlag("engine", "", "", "Engine id filter")
	queryCmd.AddFlag("level", "", "info", "Minimum level (info|warn|error|critical)")
	queryCmd.AddIntFlag("limit", "l", 100, "Maximum results")
	queryCmd.AddFlag("db", "", "", "Audit database or JSONL file")

	statsCmd := auditCmd.Subcommand("stats", "Show audit trail statistics", m.handleAuditStats)
	statsCmd.AddFlag("db", "", "", "Audit database or JSONL file")

	cleanupCmd := auditCmd.Subcommand("cleanup", "Delete old audit events", m.handleAuditCleanup)
	cleanupCmd.AddFlag("older-than", "o", "30d", "Delete events older than")
	cleanupCmd.AddBoolFlag("dry-run", "d", false, "Only count what would be deleted")
	cleanupCmd.AddFlag("db", "", "", "Audit database file")

	m.app.AddCommand(auditCmd)
}

// setupUtilityCommands registers info and completion.
func (m *Manager) setupUtilityCommands() {
	infoCmd := orpheus.NewCommand("info", "Version and runtime information")
	infoCmd.SetHandler(m.handleInfo)
	infoCmd.AddBoolFlag("verbose", "v", false, "Include the default configuration")
	m.app.AddCommand(infoCmd)

	completionCmd := orpheus.NewCommand("completion", "Generate shell completion scripts")
	completionCmd.SetHandler(m.handleCompletion)
	m.app.AddCommand(completionCmd)
}
