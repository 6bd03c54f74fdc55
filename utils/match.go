package utils

import (
	"strconv"
	"strings"
)

// Wildcard matches any module or any action.
const Wildcard = "*"

// MatchModule reports whether a grant module pattern covers module.
// Only the bare wildcard is supported; there is no prefix matching.
func MatchModule(pattern, module string) bool {
	return pattern == Wildcard || pattern == module
}

// ContainsAction reports whether actions contains action or the wildcard.
func ContainsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == Wildcard || a == action {
			return true
		}
	}
	return false
}

// MatchIP reports whether sourceIP is covered by entry. An entry without a
// slash is compared as an exact string. An entry of the form
// "a.b.c.d/prefix" compares the first prefix/8 octets exactly and then the
// top prefix%8 bits of the next octet. Malformed entries never match.
func MatchIP(entry, sourceIP string) bool {
	slash := strings.IndexByte(entry, '/')
	if slash < 0 {
		return entry == sourceIP
	}
	prefix, err := strconv.Atoi(entry[slash+1:])
	if err != nil || prefix < 0 || prefix > 32 {
		return false
	}
	network, ok := parseIPv4(entry[:slash])
	if !ok {
		return false
	}
	ip, ok := parseIPv4(sourceIP)
	if !ok {
		return false
	}
	full := prefix / 8
	for i := 0; i < full; i++ {
		if network[i] != ip[i] {
			return false
		}
	}
	if rem := prefix % 8; rem > 0 {
		mask := byte((0xFF << (8 - rem)) & 0xFF)
		if network[full]&mask != ip[full]&mask {
			return false
		}
	}
	return true
}

// MatchAnyIP reports whether sourceIP matches at least one entry.
func MatchAnyIP(entries []string, sourceIP string) bool {
	for _, e := range entries {
		if MatchIP(strings.TrimSpace(e), sourceIP) {
			return true
		}
	}
	return false
}

func parseIPv4(s string) ([4]byte, bool) {
	var out [4]byte
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return out, false
	}
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return out, false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return out, false
		}
		out[i] = byte(n)
	}
	return out, true
}
