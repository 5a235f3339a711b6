// Package fingerprint computes stable hashes that identify "the same error"
// across occurrences, normalizing dynamic values out of messages and
// reducing backtraces to their significant frames.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/setevik/errtrack/internal/backtrace"
	"github.com/setevik/errtrack/internal/report"
)

// Strategy lets callers force grouping by supplying their own fingerprint
// seed. When Fingerprint returns ok=true its value is hashed verbatim,
// bypassing message and backtrace normalization.
type Strategy interface {
	Fingerprint(r report.Report) (seed string, ok bool)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(r report.Report) (string, bool)

func (f StrategyFunc) Fingerprint(r report.Report) (string, bool) {
	return f(r)
}

var (
	digitsRe       = regexp.MustCompile(`\d+`)
	singleQuotedRe = regexp.MustCompile(`'[^']*'`)
	doubleQuotedRe = regexp.MustCompile(`"[^"]*"`)
	hexAddrRe      = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	objectRe       = regexp.MustCompile(`#<[^>]*>`)
)

// NormalizeMessage strips high-cardinality noise from an error message so
// that messages differing only in ids, addresses, or embedded literals
// produce identical fingerprints.
func NormalizeMessage(msg string) string {
	msg = objectRe.ReplaceAllString(msg, "#<OBJECT>")
	msg = hexAddrRe.ReplaceAllString(msg, "0xADDR")
	msg = singleQuotedRe.ReplaceAllString(msg, "''")
	msg = doubleQuotedRe.ReplaceAllString(msg, `""`)
	msg = digitsRe.ReplaceAllString(msg, "N")
	return msg
}

// Engine computes fingerprints, optionally delegating to a custom Strategy.
type Engine struct {
	strategy Strategy
}

// New creates an Engine. strategy may be nil.
func New(strategy Strategy) *Engine {
	return &Engine{strategy: strategy}
}

// Compute derives the 16-character hex fingerprint for a report. It is a
// total function: any missing or malformed field contributes its zero value
// to the hash instead of failing.
func (e *Engine) Compute(r report.Report) string {
	if e != nil && e.strategy != nil {
		if seed, ok := e.strategy.Fingerprint(r); ok {
			return hash(r.ApplicationID, seed)
		}
	}

	parts := []string{
		r.Type,
		NormalizeMessage(r.Message),
		backtrace.Signature(r.Backtrace),
		r.Context.Controller,
		r.Context.Action,
		r.ApplicationID,
	}
	return hash(parts...)
}

func hash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}
