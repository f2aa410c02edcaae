package domain

import (
	"strings"
)

// Marker is a decoded separator payload found on a page.
// It signals a document boundary and may carry routing metadata.
type Marker struct {
	// Page is the 1-based index of the page carrying the marker.
	Page int

	// Payload is the raw decoded text.
	Payload string

	// Routing holds key/value pairs from the payload, e.g. "doctype=invoice".
	Routing map[string]string
}

// ParseMarker interprets a decoded payload as a marker.
//
// The accepted format is PREFIX followed by optional ";key=value" or
// "&key=value" pairs. Prefix comparison is case-insensitive.
// Returns false when the payload does not start with the prefix.
func ParseMarker(page int, payload, prefix string) (Marker, bool) {
	trimmed := strings.TrimSpace(payload)
	if prefix == "" {
		prefix = DefaultMarkerPrefix
	}
	if len(trimmed) < len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return Marker{}, false
	}

	rest := trimmed[len(prefix):]
	// Require a separator after the prefix so "SEPA..." is not read as "SEP".
	if rest != "" && rest[0] != ';' && rest[0] != '&' && rest[0] != ':' {
		return Marker{}, false
	}

	m := Marker{Page: page, Payload: trimmed}
	fields := strings.FieldsFunc(rest, func(r rune) bool {
		return r == ';' || r == '&' || r == ':'
	})
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			continue
		}
		if m.Routing == nil {
			m.Routing = make(map[string]string)
		}
		m.Routing[key] = strings.TrimSpace(value)
	}
	return m, true
}

// HasRouting reports whether the marker carries any routing metadata.
func (m Marker) HasRouting() bool {
	return len(m.Routing) > 0
}
