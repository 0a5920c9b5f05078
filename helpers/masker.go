package helpers

import "strings"

// MaskSensitive redacts credentials from a protocol line before it is
// logged. command is the verb of the line; if it matches one of
// sensitiveCommands everything after the verb is replaced, e.g.
// "PASS hunter2" becomes "PASS [REDACTED]".
func MaskSensitive(line, command string, sensitiveCommands ...string) string {
	isSensitive := false
	for _, cmd := range sensitiveCommands {
		if strings.EqualFold(command, cmd) {
			isSensitive = true
			break
		}
	}
	if !isSensitive {
		return line
	}

	parts := strings.Fields(line)
	cmdIndex := -1
	for i, p := range parts {
		if strings.EqualFold(p, command) {
			cmdIndex = i
			break
		}
	}
	if cmdIndex == -1 {
		// Cannot find the verb, so nothing in the line can be trusted.
		return "[REDACTED]"
	}

	if len(parts) > cmdIndex+1 {
		return strings.Join(parts[:cmdIndex+1], " ") + " [REDACTED]"
	}
	return line
}
