package datamodel

import (
	"strconv"
	"strings"

	"github.com/g960059/a2ui/internal/security"
)

// maxIndex bounds array indices so a single write cannot allocate an
// arbitrarily large array.
const maxIndex = 1 << 16

type segmentKind int

const (
	// segKey addresses an object member.
	segKey segmentKind = iota
	// segIndex is a bracket index; it always addresses an array.
	segIndex
	// segNumeric is a bare numeric segment. It indexes an existing array and
	// otherwise behaves like a key.
	segNumeric
)

type segment struct {
	kind  segmentKind
	key   string
	index int
}

// parsePath splits a path into segments. Dotted paths may carry [n] suffixes
// ("items[2].name", "grid[0][1]"); a leading "/" selects slash-separated
// segments ("/user/profile"). The second result is false for malformed paths
// and for paths naming an unsafe segment.
func parsePath(path string) ([]segment, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, true
	}
	var parts []string
	if strings.HasPrefix(path, "/") {
		for _, p := range strings.Split(path, "/") {
			if p != "" {
				parts = append(parts, p)
			}
		}
	} else {
		parts = strings.Split(path, ".")
	}
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		parsed, ok := parsePart(part)
		if !ok {
			return nil, false
		}
		segs = append(segs, parsed...)
	}
	return segs, true
}

func parsePart(part string) ([]segment, bool) {
	name := part
	rest := ""
	if idx := strings.IndexByte(part, '['); idx >= 0 {
		name, rest = part[:idx], part[idx:]
	}
	var segs []segment
	if name != "" {
		if security.IsUnsafeSegment(name) {
			return nil, false
		}
		if n, err := strconv.Atoi(name); err == nil && n >= 0 && isDigits(name) {
			if n > maxIndex {
				segs = append(segs, segment{kind: segKey, key: name})
			} else {
				segs = append(segs, segment{kind: segNumeric, key: name, index: n})
			}
		} else {
			segs = append(segs, segment{kind: segKey, key: name})
		}
	} else if rest == "" {
		return nil, false
	}
	for rest != "" {
		if rest[0] != '[' {
			return nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, false
		}
		digits := rest[1:end]
		if !isDigits(digits) {
			return nil, false
		}
		n, err := strconv.Atoi(digits)
		if err != nil || n > maxIndex {
			return nil, false
		}
		segs = append(segs, segment{kind: segIndex, index: n})
		rest = rest[end+1:]
	}
	return segs, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// JoinPath appends a relative path to a prefix using the prefix's separator.
func JoinPath(prefix, rel string) string {
	prefix = strings.TrimSpace(prefix)
	rel = strings.TrimSpace(rel)
	switch {
	case prefix == "":
		return rel
	case rel == "":
		return prefix
	case strings.HasPrefix(prefix, "/"):
		return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(rel, "/")
	case strings.HasPrefix(rel, "["):
		return prefix + rel
	}
	return prefix + "." + strings.TrimLeft(rel, ".")
}
