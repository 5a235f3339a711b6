// Package classify maps error type names to severity tiers using ordered
// rule tables plus user-supplied overrides.
package classify

import (
	"strings"

	"github.com/setevik/errtrack/internal/group"
)

// criticalTypes cover security failures, resource exhaustion, and broken
// data-layer statements.
var criticalTypes = []string{
	"SecurityError",
	"NoMemoryError",
	"OutOfMemoryError",
	"SystemStackError",
	"StackOverflowError",
	"ActiveRecord::StatementInvalid",
	"ActiveRecord::ConnectionNotEstablished",
	"PG::Error",
	"Mysql2::Error",
	"SQLite3::Exception",
}

var highTypes = []string{
	"NoMethodError",
	"NilClassError",
	"NullPointerException",
	"ArgumentError",
	"TypeError",
	"NameError",
	"KeyError",
	"IndexError",
	"ActiveRecord::RecordNotFound",
	"RecordNotFound",
	"NotFoundError",
}

var mediumTypes = []string{
	"ActiveRecord::RecordInvalid",
	"ValidationError",
	"Timeout::Error",
	"TimeoutError",
	"Net::ReadTimeout",
	"Net::OpenTimeout",
	"JSON::ParserError",
	"ParseError",
	"SyntaxError",
	"EncodingError",
}

// Classifier resolves severities with custom overrides taking precedence
// over the built-in tables.
type Classifier struct {
	overrides map[string]group.Severity
}

// New creates a Classifier. overrides maps exact error type names to
// severities and may be nil. Invalid override severities are ignored.
func New(overrides map[string]group.Severity) *Classifier {
	c := &Classifier{overrides: make(map[string]group.Severity, len(overrides))}
	for name, sev := range overrides {
		if sev.Valid() {
			c.overrides[name] = sev
		}
	}
	return c
}

// Severity returns the severity tier for an error type name. It is total:
// nil-equivalent, empty, and unknown inputs classify as low.
func (c *Classifier) Severity(errorType string) group.Severity {
	if errorType == "" {
		return group.SevLow
	}

	if c != nil && c.overrides != nil {
		if sev, ok := c.overrides[errorType]; ok {
			return sev
		}
	}

	switch {
	case matches(errorType, criticalTypes):
		return group.SevCritical
	case matches(errorType, highTypes):
		return group.SevHigh
	case matches(errorType, mediumTypes):
		return group.SevMedium
	default:
		return group.SevLow
	}
}

// matches checks the type name against a table, accepting both exact names
// and namespaced suffixes ("Foo::TimeoutError" matches "TimeoutError").
func matches(errorType string, table []string) bool {
	for _, t := range table {
		if errorType == t || strings.HasSuffix(errorType, "::"+t) || strings.HasSuffix(errorType, "."+t) {
			return true
		}
	}
	return false
}
