package section

import (
	"regexp"
	"strings"

	"skref/internal/errors"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})[ \t]+(.*?)(?:[ \t]+#+)?[ \t]*$`)

var fencePattern = regexp.MustCompile("^[ ]{0,3}(`{3,}|~{3,})")

// Parse splits text into a section tree. Headings inside fenced code blocks
// are ordinary content. Parse fails with MALFORMED_DOCUMENT when a fence or
// the frontmatter block is left open, when a heading skips a level below its
// parent, or when a heading is shallower than the document's first heading.
func Parse(text string) (*Document, error) {
	lines, trailing := splitLines(text)

	var frontmatter []string
	if len(lines) > 0 && trimCR(lines[0]) == "---" {
		end := -1
		for i := 1; i < len(lines); i++ {
			if l := trimCR(lines[i]); l == "---" || l == "..." {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, errors.Newf(errors.MalformedDocument, "frontmatter opened on line 1 is never closed")
		}
		frontmatter = lines[:end+1]
		lines = lines[end+1:]
	}
	offset := len(frontmatter)

	preamble, sections, err := build(lines, 0, offset)
	if err != nil {
		return nil, err
	}
	return newDocument(nil, frontmatter, preamble, sections, trailing)
}

// MustParse is like Parse but panics on error. For tests and literals.
func MustParse(text string) *Document {
	d, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseFragment parses lines that will live under a section at parentLevel.
// Leading lines become the parent's content; headings become children and
// must start exactly one level below the parent.
func ParseFragment(lines []string, parentLevel int) (content []string, children []*Section, err error) {
	return build(lines, parentLevel+1, 0)
}

// HasHeading reports whether any line outside a fenced block is a heading.
func HasHeading(lines []string) bool {
	heading, _ := scanBody(lines)
	return heading
}

// HasOpenFence reports whether lines leave a code fence unclosed.
func HasOpenFence(lines []string) bool {
	_, open := scanBody(lines)
	return open
}

// scanBody walks lines tracking code fences. It reports whether a heading
// appears outside a fence and whether a fence is still open at the end.
func scanBody(lines []string) (heading, open bool) {
	var fence string
	for _, raw := range lines {
		line := trimCR(raw)
		if fence != "" {
			if closesFence(line, fence) {
				fence = ""
			}
			continue
		}
		if m := fencePattern.FindStringSubmatch(line); m != nil {
			fence = m[1]
			continue
		}
		if headingPattern.MatchString(line) {
			heading = true
		}
	}
	return heading, fence != ""
}

// build assembles sections from lines. rootLevel 0 means the first heading
// decides the root level. offset is added to reported line numbers.
func build(lines []string, rootLevel, offset int) ([]string, []*Section, error) {
	var (
		preamble []string
		roots    []*Section
		stack    []*Section
		fence    string
		fenceAt  int
	)

	appendLine := func(l string) {
		if len(stack) == 0 {
			preamble = append(preamble, l)
			return
		}
		top := stack[len(stack)-1]
		top.Content = append(top.Content, l)
	}

	for i, raw := range lines {
		line := trimCR(raw)

		if fence != "" {
			if closesFence(line, fence) {
				fence = ""
			}
			appendLine(raw)
			continue
		}
		if m := fencePattern.FindStringSubmatch(line); m != nil {
			fence = m[1]
			fenceAt = i
			appendLine(raw)
			continue
		}

		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			appendLine(raw)
			continue
		}

		level := len(m[1])
		if rootLevel == 0 {
			rootLevel = level
		}
		if level < rootLevel {
			return nil, nil, errors.Newf(errors.MalformedDocument,
				"line %d: heading level %d is outside the root level %d", offset+i+1, level, rootLevel)
		}
		for len(stack) > 0 && stack[len(stack)-1].Level >= level {
			stack = stack[:len(stack)-1]
		}
		parentLevel := rootLevel - 1
		if len(stack) > 0 {
			parentLevel = stack[len(stack)-1].Level
		}
		if level > parentLevel+1 {
			return nil, nil, errors.Newf(errors.MalformedDocument,
				"line %d: heading %q at level %d has no parent at level %d", offset+i+1, m[2], level, level-1)
		}

		s := &Section{Heading: raw, Level: level, Name: strings.TrimSpace(m[2])}
		if len(stack) == 0 {
			roots = append(roots, s)
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, s)
		}
		stack = append(stack, s)
	}

	if fence != "" {
		return nil, nil, errors.Newf(errors.MalformedDocument,
			"line %d: code fence %q is never closed", offset+fenceAt+1, fence)
	}
	return preamble, roots, nil
}

func closesFence(line, fence string) bool {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, fence[:1]) || len(t) < len(fence) {
		return false
	}
	return strings.Trim(t, fence[:1]) == ""
}

// Render writes the document back to text. Render(Parse(s)) == s.
func Render(d *Document) string {
	var lines []string
	lines = append(lines, d.Frontmatter...)
	lines = append(lines, d.Preamble...)
	for _, s := range d.Sections {
		s.appendLines(&lines)
	}
	if len(lines) == 0 {
		if d.TrailingNewline {
			return "\n"
		}
		return ""
	}
	out := strings.Join(lines, "\n")
	if d.TrailingNewline {
		out += "\n"
	}
	return out
}

func splitLines(text string) ([]string, bool) {
	if text == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(text, "\n")
	if trailing {
		text = text[:len(text)-1]
	}
	return strings.Split(text, "\n"), trailing
}

func trimCR(s string) string {
	return strings.TrimSuffix(s, "\r")
}
