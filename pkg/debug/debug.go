// Package debug provides category-based debug logging for toolbridge.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): TOOLBRIDGE_DEBUG env or config
//   - Levels (HOW MUCH detail): TOOLBRIDGE_LOG_LEVEL env or config
//
// Usage:
//
//	debug.Log("discovery", "cache invalidated", "reason", reason)
//	if debug.Enabled("providers") { /* expensive formatting */ }
//
// Categories: discovery, executor, health, providers, engine, mcp, auth,
// transport, storage, config, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, raw vendor chunks are logged untruncated.
const LevelTrace = slog.LevelDebug - 4

const (
	envCategories = "TOOLBRIDGE_DEBUG"
	envLevel      = "TOOLBRIDGE_LOG_LEVEL"
	envFormat     = "TOOLBRIDGE_LOG_FORMAT"
)

var categories atomic.Pointer[map[string]bool]

func init() {
	setCategories(os.Getenv(envCategories))
}

// Options are the config-file logging settings. Environment variables
// take precedence over each field.
type Options struct {
	Categories string
	Level      string
	// Format is "text" (default) or "json".
	Format string
}

// Init configures categories and installs the default slog logger.
func Init(opts Options) {
	InitWriter(os.Stderr, opts)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, opts Options) {
	setCategories(firstNonEmpty(os.Getenv(envCategories), opts.Categories))

	hopts := &slog.HandlerOptions{
		Level: ParseLevel(firstNonEmpty(os.Getenv(envLevel), opts.Level, "INFO")),
	}
	var h slog.Handler
	if strings.EqualFold(firstNonEmpty(os.Getenv(envFormat), opts.Format), "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(h))
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	m := *categories.Load()
	return m["all"] || m[category]
}

// Log emits a debug message for the given category. It is a no-op when
// the category is disabled.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when TOOLBRIDGE_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the given category.
func TraceIsEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(context.Background(), LevelTrace)
}

// Raw writes plain text to stderr without slog formatting, only when the
// category is enabled at TRACE level.
func Raw(category string, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(os.Stderr, text)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories in sorted order.
func Categories() []string {
	m := *categories.Load()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Truncate returns s cut to maxLen bytes with "..." appended if it was
// longer.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func setCategories(s string) {
	m := parseCategories(s)
	categories.Store(&m)
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
