// Package backtrace truncates, signs, and parses exception backtraces.
package backtrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// signatureFrames is how many leading frames contribute to a signature.
const signatureFrames = 20

// frameRe matches "path:line" or "path:line: detail" style frames with a
// recognizable source-file extension.
var frameRe = regexp.MustCompile(`^\s*(?:#\d+\s+)?(?:from\s+)?([^\s:]+\.(?:go|rb|py|js|ts|jsx|tsx|java|kt|php|ex|exs|cs|c|cc|cpp|h|rs|erb|haml|slim)):(\d+)`)

// Truncate keeps the first max lines of a backtrace and appends a footer
// noting how many lines were dropped. A max of 0 leaves only the footer.
// Nil input returns nil; input within the limit is returned unchanged.
func Truncate(lines []string, max int) []string {
	if lines == nil {
		return nil
	}
	if max < 0 || len(lines) <= max {
		return lines
	}

	dropped := len(lines) - max
	out := make([]string, 0, max+1)
	out = append(out, lines[:max]...)
	out = append(out, fmt.Sprintf("... (%d more lines truncated)", dropped))
	return out
}

// Signature reduces a backtrace to a stable 16-character hex hash of its
// significant frames. Line numbers are stripped so code movement within a
// file does not change the signature, and paths are sorted so frame
// ordering differences across runtimes do not either. Returns "" when no
// frame is recognizable as a source file.
func Signature(lines []string) string {
	limit := len(lines)
	if limit > signatureFrames {
		limit = signatureFrames
	}

	seen := make(map[string]bool)
	var paths []string
	for _, line := range lines[:limit] {
		m := frameRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if !seen[m[1]] {
			seen[m[1]] = true
			paths = append(paths, m[1])
		}
	}
	if len(paths) == 0 {
		return ""
	}

	sort.Strings(paths)
	sum := sha256.Sum256([]byte(strings.Join(paths, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}

// Frame is one parsed backtrace entry.
type Frame struct {
	Raw  string
	Path string
	Line int
	// App is true for frames inside the host application's own source tree,
	// false for framework, vendored, and dependency frames.
	App bool
}

// vendorMarkers identify dependency and framework paths across runtimes.
var vendorMarkers = []string{
	"/vendor/", "/gems/", "/node_modules/", "/site-packages/",
	"/go/pkg/mod/", "/.bundle/", "/usr/lib/", "/usr/local/lib/",
	"/ruby/", "/rubygems/",
}

// ParseFrames parses raw backtrace lines into structured frames, classifying
// each as app or dependency code. appRoots, when non-empty, marks any path
// containing one of the given prefixes as app code; otherwise any path not
// matching a known vendor marker is treated as app code.
func ParseFrames(lines []string, appRoots []string) []Frame {
	frames := make([]Frame, 0, len(lines))
	for _, line := range lines {
		f := Frame{Raw: line}
		if m := frameRe.FindStringSubmatch(line); m != nil {
			f.Path = m[1]
			f.Line = parseInt(m[2])
			f.App = isAppPath(m[1], appRoots)
		}
		frames = append(frames, f)
	}
	return frames
}

// AppFrames returns only the frames classified as application code.
func AppFrames(frames []Frame) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.App {
			out = append(out, f)
		}
	}
	return out
}

func isAppPath(path string, appRoots []string) bool {
	for _, marker := range vendorMarkers {
		if strings.Contains(path, marker) {
			return false
		}
	}
	if len(appRoots) == 0 {
		return true
	}
	for _, root := range appRoots {
		if root != "" && strings.Contains(path, root) {
			return true
		}
	}
	return false
}

func parseInt(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
