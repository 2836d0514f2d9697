package patch

import (
	"fmt"
	"regexp"
	"strings"

	"skref/internal/errors"
	"skref/internal/section"
)

// Block keywords used in patch files.
const (
	KeywordPatch  = "PATCH"
	KeywordExtend = "EXTEND"
)

var (
	blockHeaderPattern = regexp.MustCompile(`^##[ \t]+(PATCH|EXTEND):[ \t]*(.*?)[ \t]*$`)
	actionPattern      = regexp.MustCompile(`^<!--[ \t]*ACTION:[ \t]*([a-z-]+)(?:[ \t]+"(.*)")?[ \t]*-->[ \t]*$`)
	fenceOpenPattern   = regexp.MustCompile("^[ ]{0,3}(`{3,}|~{3,})")
)

// ParseFile decodes a patch file into operations. Lines before the first
// block header are ignored. Errors carry INVALID_LAYER and a line number.
func ParseFile(text string) ([]Op, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	type block struct {
		line   int
		path   string
		action Action
		arg    string
		hasArg bool
		body   []string
	}

	var (
		blocks []*block
		cur    *block
		fence  string
		expect bool // next non-blank line may be the ACTION comment
	)

	for i, line := range lines {
		if fence != "" {
			if t := strings.TrimSpace(line); strings.HasPrefix(t, fence[:1]) && strings.Trim(t, fence[:1]) == "" && len(t) >= len(fence) {
				fence = ""
			}
			if cur != nil {
				cur.body = append(cur.body, line)
			}
			continue
		}

		if m := blockHeaderPattern.FindStringSubmatch(line); m != nil {
			cur = &block{line: i + 1, path: m[2], action: Append}
			blocks = append(blocks, cur)
			expect = true
			continue
		}
		if cur == nil {
			continue
		}

		if expect {
			if strings.TrimSpace(line) == "" {
				continue
			}
			expect = false
			if m := actionPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				action, err := ParseAction(m[1])
				if err != nil {
					return nil, errors.NewSkrefError(errors.InvalidLayer, fmt.Sprintf("line %d", i+1), err)
				}
				cur.action = action
				cur.arg = m[2]
				cur.hasArg = m[2] != ""
				continue
			}
			if strings.HasPrefix(strings.TrimSpace(line), "<!-- ACTION") {
				return nil, errors.Newf(errors.InvalidLayer, "line %d: malformed ACTION comment %q", i+1, line)
			}
		}

		if m := fenceOpenPattern.FindStringSubmatch(line); m != nil {
			fence = m[1]
		}
		cur.body = append(cur.body, line)
	}

	if fence != "" {
		return nil, errors.Newf(errors.InvalidLayer, "code fence %q in patch body is never closed", fence)
	}

	ops := make([]Op, 0, len(blocks))
	for _, b := range blocks {
		op := Op{Action: b.action, Path: section.ParsePath(b.path), Lines: trimBlankEdges(b.body)}
		switch {
		case b.action.usesMarker():
			if !b.hasArg {
				return nil, errors.Newf(errors.InvalidLayer, "line %d: %s needs a quoted marker", b.line, b.action)
			}
			op.Marker = b.arg
		case b.hasArg:
			op.Path = op.Path.Child(b.arg)
		}
		if err := op.Validate(); err != nil {
			return nil, errors.NewSkrefError(errors.InvalidLayer, fmt.Sprintf("line %d", b.line), err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Format encodes operations in patch-file form. ParseFile(Format(ops)) yields
// ops again, except that blank lines at the edges of a body are dropped.
func Format(ops []Op, keyword string) string {
	if keyword == "" {
		keyword = KeywordPatch
	}
	var b strings.Builder
	for i, op := range ops {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s: %s\n", keyword, op.Path.String())
		if op.Action.usesMarker() {
			fmt.Fprintf(&b, "<!-- ACTION: %s \"%s\" -->\n", op.Action, op.Marker)
		} else {
			fmt.Fprintf(&b, "<!-- ACTION: %s -->\n", op.Action)
		}
		for _, l := range op.Lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if start == end {
		return nil
	}
	return append([]string(nil), lines[start:end]...)
}
