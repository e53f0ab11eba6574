package security

// IsUnsafeSegment reports whether a data path segment names an object
// prototype slot. Such segments are never read or written.
func IsUnsafeSegment(segment string) bool {
	switch segment {
	case "__proto__", "constructor", "prototype":
		return true
	}
	return false
}
