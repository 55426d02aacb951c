package archive

import (
	"strings"
	"unicode/utf8"
)

// EscapeText escapes s for use as element content.
//
// The five predefined entities are always escaped. A carriage return is
// written as a character reference because XML readers fold CR and CRLF
// into LF.
func EscapeText(s string) string {
	return escape(s, false)
}

// EscapeAttr escapes s for use inside a double-quoted attribute value.
// Tab and newline are also written as references so attribute value
// normalization leaves them intact.
func EscapeAttr(s string) string {
	return escape(s, true)
}

func escape(s string, attr bool) string {
	if !needsEscape(s, attr) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size

		switch {
		case r == '&':
			b.WriteString("&amp;")
		case r == '<':
			b.WriteString("&lt;")
		case r == '>':
			b.WriteString("&gt;")
		case r == '"':
			b.WriteString("&quot;")
		case r == '\'':
			b.WriteString("&apos;")
		case r == '\r':
			b.WriteString("&#xD;")
		case attr && r == '\n':
			b.WriteString("&#xA;")
		case attr && r == '\t':
			b.WriteString("&#x9;")
		case r == utf8.RuneError && size == 1, !isXMLChar(r):
			b.WriteRune(utf8.RuneError)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// needsEscape is the fast path for the common case of plain values.
func needsEscape(s string, attr bool) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= utf8.RuneSelf:
			return true
		case c == '&', c == '<', c == '>', c == '"', c == '\'', c == '\r':
			return true
		case c == '\n' || c == '\t':
			if attr {
				return true
			}
		case c < 0x20:
			return true
		}
	}
	return false
}

// isXMLChar reports whether r is allowed in an XML 1.0 document.
func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}
