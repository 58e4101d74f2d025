package utils

import "strings"

// NormalizePhone strips every non-digit rune and any WhatsApp JID suffix.
func NormalizePhone(raw string) string {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// InstanceName returns the gateway instance name for a line phone ("line_<digits>").
func InstanceName(linePhone string) string {
	return "line_" + NormalizePhone(linePhone)
}

// PhoneFromInstance extracts the line digits from a gateway instance name.
func PhoneFromInstance(instance string) string {
	return NormalizePhone(strings.TrimPrefix(instance, "line_"))
}
