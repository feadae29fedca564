// Package utils holds small helpers shared across commands.
package utils

import "strings"

// MaskToken masks a token for display, showing only the first and last
// few characters. Tokens in the session format keep their tid= prefix
// visible so the kind of token is still recognizable.
func MaskToken(token string) string {
	if len(token) < 10 {
		return "***"
	}

	if strings.HasPrefix(token, "tid=") {
		parts := strings.Split(token, ";")
		if tidPart := parts[0]; len(tidPart) > 12 {
			return tidPart[:8] + "..." + tidPart[len(tidPart)-4:] + ";***"
		}
	}

	return token[:4] + "..." + token[len(token)-4:]
}
