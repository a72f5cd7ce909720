// Package stringutil provides small string helpers shared across ast.
package stringutil

// TruncateOutput limits captured external-tool output to maxLen bytes so a
// chatty btrfs or pacman invocation cannot flood error messages. A marker is
// appended whenever the output was cut.
func TruncateOutput(out []byte, maxLen int) string {
	if len(out) <= maxLen {
		return string(out)
	}
	return string(out[:maxLen]) + "... (truncated)"
}
