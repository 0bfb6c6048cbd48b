package utils

import "strings"

// MatchPath checks if a document path matches the provided pattern.
// Patterns may include:
//   - Wildcard '*' which matches any sequence of characters within a segment.
//   - Parameter prefix ':' (e.g., ':email') matching any segment until '/'.
//
// A trailing "/*" matches the whole subtree.
func MatchPath(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	return matchPattern(value, pattern)
}

// matchPattern matches a plain value against a pattern containing
// '*' wildcards and ':' parameters. Parameters match until the next '/'.
func matchPattern(value, pattern string) bool {
	vIndex, pIndex := 0, 0
	vLen, pLen := len(value), len(pattern)

	for pIndex < pLen {
		switch pattern[pIndex] {
		case '*':
			// '*' matches any sequence; if it's last, accept
			if pIndex == pLen-1 {
				return true
			}
			// Match until next '/' or end of value
			for vIndex < vLen && value[vIndex] != '/' {
				vIndex++
			}
			pIndex++
		case ':':
			// Skip pattern until end of param name
			pIndex++
			for pIndex < pLen && pattern[pIndex] != '/' {
				pIndex++
			}
			// Skip value until next '/'
			for vIndex < vLen && value[vIndex] != '/' {
				vIndex++
			}
		default:
			// Match literal char
			if vIndex < vLen && pattern[pIndex] == value[vIndex] {
				vIndex++
				pIndex++
			} else {
				return false
			}
		}
	}

	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "/*"))
	}
	return vIndex == vLen && pIndex == pLen
}
