package cryptoutil

import "strings"

// scopeTokenValid reports whether b may appear in an RFC 6749 §3.3
// scope-token: %x21 / %x23-5B / %x5D-7E — i.e. any printable, non-space
// ASCII character other than the double quote (0x22) and the backslash (0x5C).
func scopeTokenValid(b byte) bool {
	switch {
	case b == 0x21:
		return true
	case b >= 0x23 && b <= 0x5B:
		return true
	case b >= 0x5D && b <= 0x7E:
		return true
	default:
		return false
	}
}

// SplitScope parses an RFC 6749 §3.3 scope string: scope-tokens separated
// by a single SP (0x20) and nothing else. A tab, newline, carriage return,
// or any other non-scope-token byte makes the whole string invalid; so
// does a leading/trailing/doubled separator, since that yields an empty
// token. Callers must reject the request on ok == false rather than
// silently dropping the malformed token.
func SplitScope(raw string) (tokens []string, ok bool) {
	if raw == "" {
		return nil, true
	}
	for _, tok := range strings.Split(raw, " ") {
		if tok == "" {
			return nil, false
		}
		for i := 0; i < len(tok); i++ {
			if !scopeTokenValid(tok[i]) {
				return nil, false
			}
		}
		tokens = append(tokens, tok)
	}
	return tokens, true
}
