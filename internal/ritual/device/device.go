// Package device turns the submitting client's User-Agent into the short
// platform label stored on ritual events for reviewers.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// ParseUserAgent returns "<browser> on <os>", e.g. "Chrome on Android 14".
func ParseUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return unknownDevice
	}
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := ua.OS()
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}
	label := strings.Join(strings.Fields(browser+" on "+os), " ")
	if ua.Mobile() {
		label += " (mobile)"
	}
	return label
}
