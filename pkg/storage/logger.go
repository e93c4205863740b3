package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
)

// Logger receives structured diagnostics from storage engines and the
// layers built on them (batch updates, backfill, cache warmup).
//
// This is intentionally minimal to avoid coupling the library to a
// specific logging framework. Implementations should treat fields as a
// stable machine-readable contract.
type Logger interface {
	Log(level string, msg string, fields map[string]any)
}

// DefaultLogger returns the stdlib-backed structured logger.
func DefaultLogger() Logger {
	return defaultLogger{}
}

type defaultLogger struct{}

func (defaultLogger) Log(level string, msg string, fields map[string]any) {
	// Best-effort structured printing using stdlib log.
	payload := map[string]any{
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[bifrost] level=%s msg=%s fields=%v", level, msg, fields)
		return
	}
	log.Printf("[bifrost] %s", string(b))
}

// TextLogger returns a stdlib-backed logger printing key=value pairs
// with field keys in sorted order.
func TextLogger() Logger {
	return textLogger{}
}

type textLogger struct{}

func (textLogger) Log(level string, msg string, fields map[string]any) {
	var b strings.Builder
	fmt.Fprintf(&b, "level=%s msg=%q", level, msg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	log.Printf("[bifrost] %s", b.String())
}

var levelRanks = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// LevelFilter wraps inner and drops entries below min, where levels
// rank debug < info < warn < error. Unknown min values disable
// filtering; unknown entry levels always pass through.
func LevelFilter(inner Logger, min string) Logger {
	rank, ok := levelRanks[strings.ToLower(min)]
	if !ok {
		return inner
	}
	return levelFilter{inner: inner, min: rank}
}

type levelFilter struct {
	inner Logger
	min   int
}

func (f levelFilter) Log(level string, msg string, fields map[string]any) {
	if rank, ok := levelRanks[strings.ToLower(level)]; ok && rank < f.min {
		return
	}
	f.inner.Log(level, msg, fields)
}

// NopLogger discards everything. Useful in tests.
type NopLogger struct{}

// Log implements Logger.
func (NopLogger) Log(level string, msg string, fields map[string]any) {}
