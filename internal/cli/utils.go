// Package cli holds output and parsing helpers shared by the mnemos
// command line.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var extendedDuration = regexp.MustCompile(`^(\d+)(d|w)$`)

// ParseExtendedDuration parses Go durations plus days (d) and weeks (w):
// "30d", "2w", "24h", "90m".
func ParseExtendedDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	matches := extendedDuration.FindStringSubmatch(s)
	if len(matches) != 3 {
		_, err := time.ParseDuration(s)
		return 0, err
	}

	value, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", matches[1])
	}

	switch matches[2] {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	}
}

// FormatValue renders a captured field value on one line, truncated to
// max runes. A max of 0 disables truncation.
func FormatValue(v any, max int) string {
	var s string
	switch val := v.(type) {
	case nil:
		s = "<nil>"
	case string:
		s = strconv.Quote(val)
	case time.Time:
		s = val.Format(time.RFC3339Nano)
	default:
		s = fmt.Sprintf("%v", val)
	}
	s = strings.ReplaceAll(s, "\n", `\n`)

	if max > 0 {
		if runes := []rune(s); len(runes) > max {
			if max <= 3 {
				return string(runes[:max])
			}
			return string(runes[:max-3]) + "..."
		}
	}
	return s
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration rounds d for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return d.String()
	case d < time.Millisecond:
		return d.Round(10 * time.Nanosecond).String()
	case d < time.Second:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

// Table writes aligned columns.
type Table struct {
	tw *tabwriter.Writer
}

// NewTable starts a table on w with a header row.
func NewTable(w io.Writer, headers ...string) *Table {
	t := &Table{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
	if len(headers) > 0 {
		t.Row(toAny(headers)...)
	}
	return t
}

// Row appends one row.
func (t *Table) Row(cells ...any) {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = fmt.Sprint(c)
	}
	_, _ = fmt.Fprintln(t.tw, strings.Join(parts, "\t"))
}

// Flush writes the buffered rows.
func (t *Table) Flush() error {
	return t.tw.Flush()
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
