package shell

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// connectionErrorPattern matches transport errors that are worth retrying.
var connectionErrorPattern = regexp.MustCompile(`(?i)(connection timed out|no route to host|host is unreachable|connection refused|network is unreachable|could not resolve hostname|name or service not known|broken pipe|connection reset)`)

// IsConnectionError reports whether the error text indicates a transient
// connection failure.
func IsConnectionError(text string) bool {
	return connectionErrorPattern.MatchString(text)
}

// EscapeForSingleQuotes escapes a string for embedding in single quotes
// by replacing ' with '\'' (end quote, escaped quote, start quote).
func EscapeForSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// fence delimits command output inside a long-lived interactive shell. Each
// command is bracketed by echoes of a per-channel marker: an opening
// sentinel before the command, so the shell prompt and any other junk the
// interactive shell writes between commands can be discarded, and a closing
// sentinel carrying the exit status.
type fence struct {
	marker string
}

func newFence() fence {
	return fence{marker: "SCHEDTOOLS-EOC-" + uuid.NewString()}
}

// wrap turns a command into its fenced form.
func (f fence) wrap(command string) string {
	return fmt.Sprintf("echo %s BEGIN; %s; echo %s $?", f.marker, command, f.marker)
}

// collect reads lines until the closing sentinel, returning the command
// output, the discarded preamble, and the exit status. Everything before
// the opening sentinel is preamble: the prompt the shell prints between
// commands (PS1 carries no trailing newline, so it arrives glued to the
// front of the next line), and on the first command the login banner.
// Lines echoing the command itself (a PTY echoes input back, markers
// included) are dropped rather than treated as a sentinel.
func (f fence) collect(r *bufio.Reader) (string, string, int, error) {
	var out, preamble strings.Builder
	started := false
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimRight(line, "\r\n")
			switch {
			case strings.Contains(trimmed, f.marker) && strings.Contains(trimmed, "echo"):
				// Echoed input, not a sentinel.
			case !started:
				if f.opens(trimmed) {
					started = true
				} else {
					preamble.WriteString(trimmed)
					preamble.WriteString("\n")
				}
			case strings.Contains(trimmed, f.marker):
				exit, perr := f.parseExit(trimmed)
				if perr != nil {
					return out.String(), preamble.String(), 0, perr
				}
				return out.String(), preamble.String(), exit, nil
			default:
				out.WriteString(trimmed)
				out.WriteString("\n")
			}
		}
		if err != nil {
			return out.String(), preamble.String(), 0, fmt.Errorf("shell closed before command completed: %w", err)
		}
	}
}

// opens reports whether the line is the opening sentinel. The prompt may be
// glued to its front, so the marker is located by field rather than prefix.
func (f fence) opens(line string) bool {
	fields := strings.Fields(line)
	for i, field := range fields {
		if field == f.marker {
			return i+1 < len(fields) && fields[i+1] == "BEGIN"
		}
	}
	return false
}

func (f fence) parseExit(line string) (int, error) {
	fields := strings.Fields(line)
	for i, field := range fields {
		if field == f.marker && i+1 < len(fields) {
			exit, err := strconv.Atoi(fields[i+1])
			if err != nil {
				return 0, fmt.Errorf("malformed exit status in %q", line)
			}
			return exit, nil
		}
	}
	return 0, fmt.Errorf("malformed sentinel line %q", line)
}
