package util

import "strings"

// NormalizeEmail lowercases and trims an email address so uniqueness checks are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ContainsSuspicious reports whether s carries markup or template-injection fragments
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "{{", "}}", "javascript:"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
