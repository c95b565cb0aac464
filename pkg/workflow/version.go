package workflow

import (
	"strconv"
	"unicode"
)

// looseVersionLess reports whether a orders before b under a loose-version
// comparison modeled on Python's distutils.version.LooseVersion: the string
// is split into runs of digits and runs of non-digits, with '.', '-' and '_'
// dropped as separators; numeric chunks compare numerically, and any other
// chunk compares lexicographically. A numeric chunk always outranks a
// non-numeric one at the same position; LooseVersion does not order that
// mixed case this way.
func looseVersionLess(a, b string) bool {
	ca, cb := splitVersionChunks(a), splitVersionChunks(b)
	n := len(ca)
	if len(cb) > n {
		n = len(cb)
	}
	for i := 0; i < n; i++ {
		var va, vb versionChunk
		if i < len(ca) {
			va = ca[i]
		}
		if i < len(cb) {
			vb = cb[i]
		}
		if cmp := va.compare(vb); cmp != 0 {
			return cmp < 0
		}
	}
	return false
}

type versionChunk struct {
	numeric bool
	num     int
	str     string
}

// compare orders c before other, with missing chunks (zero value) treated
// as the lowest possible value, and numeric chunks always ranking above
// string chunks at the same position.
func (c versionChunk) compare(other versionChunk) int {
	if c == other {
		return 0
	}
	switch {
	case c.numeric && other.numeric:
		return c.num - other.num
	case c.numeric && !other.numeric:
		return 1
	case !c.numeric && other.numeric:
		return -1
	default:
		switch {
		case c.str < other.str:
			return -1
		case c.str > other.str:
			return 1
		default:
			return 0
		}
	}
}

func splitVersionChunks(v string) []versionChunk {
	var chunks []versionChunk
	runes := []rune(v)
	i := 0
	for i < len(runes) {
		if unicode.IsDigit(runes[i]) {
			j := i
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			n, _ := strconv.Atoi(string(runes[i:j]))
			chunks = append(chunks, versionChunk{numeric: true, num: n})
			i = j
			continue
		}
		if isSeparator(runes[i]) {
			i++
			continue
		}
		j := i
		for j < len(runes) && !unicode.IsDigit(runes[j]) && !isSeparator(runes[j]) {
			j++
		}
		chunks = append(chunks, versionChunk{str: string(runes[i:j])})
		i = j
	}
	return chunks
}

func isSeparator(r rune) bool {
	return r == '.' || r == '-' || r == '_'
}
