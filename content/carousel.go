package content

import (
	"strings"
)

// span is a byte range [start, end) of the original HTML.
type span struct {
	start int
	end   int
}

// tagAt describes the markup tag that starts at a given offset.
type tagAt struct {
	name      string
	closing   bool
	selfClose bool
	end       int // offset just past '>'
	raw       string
}

// readTag parses the tag starting at s[i] == '<'. ok is false for text that
// only looks like a tag.
func readTag(s string, i int) (tagAt, bool) {
	j := i + 1
	closing := false
	if j < len(s) && s[j] == '/' {
		closing = true
		j++
	}
	nameStart := j
	for j < len(s) && isNameByte(s[j]) {
		j++
	}
	if j == nameStart {
		return tagAt{}, false
	}
	name := strings.ToLower(s[nameStart:j])

	var quote byte
	for ; j < len(s); j++ {
		c := s[j]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return tagAt{
				name:      name,
				closing:   closing,
				selfClose: j > i && s[j-1] == '/',
				end:       j + 1,
				raw:       s[i : j+1],
			}, true
		}
	}
	return tagAt{}, false
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-'
}

// skipComment returns the offset after a comment starting at i, or i.
func skipComment(s string, i int) int {
	if !strings.HasPrefix(s[i:], "<!--") {
		return i
	}
	end := strings.Index(s[i+4:], "-->")
	if end < 0 {
		return len(s)
	}
	return i + 4 + end + 3
}

// matchContainer returns the end offset of the element whose open tag is
// open. Nested elements with the same tag name raise the depth, so the
// element ends at its own balanced close tag. ok is false when no balanced
// close exists.
func matchContainer(s string, open tagAt) (int, bool) {
	depth := 1
	i := open.end
	for i < len(s) {
		lt := strings.IndexByte(s[i:], '<')
		if lt < 0 {
			return 0, false
		}
		i += lt
		if next := skipComment(s, i); next != i {
			i = next
			continue
		}
		tag, ok := readTag(s, i)
		if !ok {
			i++
			continue
		}
		if tag.name == open.name {
			switch {
			case tag.closing:
				depth--
			case !tag.selfClose:
				depth++
			}
			if depth == 0 {
				return tag.end, true
			}
		}
		i = tag.end
	}
	return 0, false
}

// hasClass reports whether the raw open tag carries class as one of its
// class tokens.
func hasClass(raw, class string) bool {
	lower := strings.ToLower(raw)
	idx := 0
	for {
		k := strings.Index(lower[idx:], "class")
		if k < 0 {
			return false
		}
		k += idx
		idx = k + len("class")
		if k > 0 && isNameByte(lower[k-1]) {
			continue
		}
		rest := strings.TrimLeft(raw[idx:], " \t\n\r")
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t\n\r")
		if rest == "" {
			return false
		}
		var value string
		if q := rest[0]; q == '"' || q == '\'' {
			end := strings.IndexByte(rest[1:], q)
			if end < 0 {
				return false
			}
			value = rest[1 : 1+end]
		} else {
			end := strings.IndexAny(rest, " \t\n\r>")
			if end < 0 {
				end = len(rest)
			}
			value = rest[:end]
		}
		for _, token := range strings.Fields(value) {
			if token == class {
				return true
			}
		}
	}
}

// findContainers returns the outermost spans whose open tag carries class.
// A container nested inside a matched container belongs to the outer span.
// unbalanced counts containers without a balanced close; those are left in
// place.
func findContainers(s, class string) (spans []span, unbalanced int) {
	i := 0
	for i < len(s) {
		lt := strings.IndexByte(s[i:], '<')
		if lt < 0 {
			break
		}
		i += lt
		if next := skipComment(s, i); next != i {
			i = next
			continue
		}
		tag, ok := readTag(s, i)
		if !ok {
			i++
			continue
		}
		if tag.closing || tag.selfClose || !hasClass(tag.raw, class) {
			i = tag.end
			continue
		}
		end, ok := matchContainer(s, tag)
		if !ok {
			unbalanced++
			i = tag.end
			continue
		}
		spans = append(spans, span{start: i, end: end})
		i = end
	}
	return spans, unbalanced
}
