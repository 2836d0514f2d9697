package section

import (
	"strings"
	"unicode"
)

// Path addresses a section from a root section down to the target, one name per level.
type Path []string

// ParsePath splits a slash-separated section path. Empty segments are dropped,
// so "" and "/" both yield the empty path.
func ParsePath(s string) Path {
	var p Path
	for _, part := range strings.Split(s, "/") {
		part = strings.TrimSpace(part)
		if part != "" {
			p = append(p, part)
		}
	}
	return p
}

// String joins the path with slashes.
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Key returns the slug form used for lookups.
func (p Path) Key() string {
	slugs := make([]string, len(p))
	for i, name := range p {
		slugs[i] = Slug(name)
	}
	return strings.Join(slugs, "/")
}

// Child returns a new path with name appended.
func (p Path) Child(name string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, name)
}

// HasPrefix reports whether p lies under (or equals) prefix, comparing slugs.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if Slug(p[i]) != Slug(prefix[i]) {
			return false
		}
	}
	return true
}

// Slug normalizes a section name for addressing: lower case, runs of
// whitespace, underscores and slashes collapsed to a single dash.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsSpace(r) || r == '_' || r == '/' || r == '-' {
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = true
			continue
		}
		dash = false
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimSuffix(b.String(), "-")
}
