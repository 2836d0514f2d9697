package tracker

import (
	"fmt"
	"sort"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// VariableToken replaces caller-flagged project-specific literals.
const VariableToken = "<var>"

// Normalize reduces an edit to the form patterns are keyed on. A unified
// diff keeps only its added and removed lines, signed, with file headers
// and context dropped; any other text is taken line by line. In both cases
// runs of whitespace collapse to one space, blank lines disappear and every
// occurrence of a variable literal becomes <var>.
func Normalize(edit string, variables []string) (string, error) {
	lines, err := changedLines(edit)
	if err != nil {
		return "", err
	}

	vars := append([]string(nil), variables...)
	// Longest first so that a literal containing another is masked whole.
	sort.SliceStable(vars, func(i, j int) bool { return len(vars[i]) > len(vars[j]) })

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		sign := ""
		if strings.HasPrefix(line, "+ ") || strings.HasPrefix(line, "- ") {
			sign, line = line[:2], line[2:]
		}
		for _, v := range vars {
			if v = strings.TrimSpace(v); v != "" {
				line = strings.ReplaceAll(line, v, VariableToken)
			}
		}
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		out = append(out, sign+line)
	}
	return strings.Join(out, "\n"), nil
}

// changedLines returns the lines of edit that carry meaning. Diff lines come
// back prefixed with "+ " or "- ".
func changedLines(edit string) ([]string, error) {
	edit = strings.ReplaceAll(edit, "\r\n", "\n")
	if !isUnifiedDiff(edit) {
		return strings.Split(edit, "\n"), nil
	}

	var hunks []*godiff.Hunk
	if hasFileHeader(edit) {
		fileDiffs, err := godiff.ParseMultiFileDiff([]byte(edit))
		if err != nil {
			return nil, fmt.Errorf("failed to parse diff: %w", err)
		}
		for _, fd := range fileDiffs {
			hunks = append(hunks, fd.Hunks...)
		}
	} else {
		parsed, err := godiff.ParseHunks([]byte(edit))
		if err != nil {
			return nil, fmt.Errorf("failed to parse diff hunks: %w", err)
		}
		hunks = parsed
	}

	var out []string
	for _, hunk := range hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '+':
				out = append(out, "+ "+line[1:])
			case '-':
				out = append(out, "- "+line[1:])
			}
			// Context lines and "\ No newline at end of file" are dropped.
		}
	}
	return out, nil
}

func isUnifiedDiff(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "@@ ") {
			return true
		}
	}
	return false
}

func hasFileHeader(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "diff --git ") {
			return true
		}
		if strings.HasPrefix(line, "@@ ") {
			return false
		}
	}
	return false
}
