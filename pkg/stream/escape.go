package stream

import (
	"fmt"
	"strings"
)

const escapeChar = '\\'

// Escape makes token text safe to carry inside a single frame: the result
// never contains a line break and never equals a lifecycle sentinel.
// Single-line text without backslashes is returned unchanged.
func Escape(text string) string {
	if !strings.ContainsAny(text, "\\\n\r") && text != DoneSentinel && text != ErrorSentinel {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + 4)
	for _, r := range text {
		switch r {
		case escapeChar:
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}

	escaped := b.String()
	if escaped == DoneSentinel || escaped == ErrorSentinel {
		return `\` + escaped
	}
	return escaped
}

// Unescape reverses Escape. It fails on a dangling backslash or an unknown
// escape sequence.
func Unescape(payload string) (string, error) {
	if !strings.ContainsRune(payload, escapeChar) {
		return payload, nil
	}

	var b strings.Builder
	b.Grow(len(payload))
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		if c != escapeChar {
			b.WriteByte(c)
			continue
		}

		if i+1 >= len(payload) {
			return "", fmt.Errorf("dangling escape at offset %d", i)
		}

		i++
		switch payload[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '[':
			b.WriteByte('[')
		default:
			return "", fmt.Errorf("unknown escape %q at offset %d", payload[i-1:i+1], i-1)
		}
	}

	return b.String(), nil
}
