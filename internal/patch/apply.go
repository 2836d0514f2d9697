package patch

import (
	"context"
	"fmt"
	"strings"

	"skref/internal/errors"
	"skref/internal/section"
)

// Options controls marker matching.
type Options struct {
	// StrictMarkers reports AMBIGUOUS_MARKER when a marker matches more than
	// one line. By default the first match in render order wins.
	StrictMarkers bool
}

// Touch records which section an operation changed. An empty Path is the
// preamble; Removed marks a deleted subtree.
type Touch struct {
	OpIndex int
	Path    section.Path
	Removed bool
}

// Result is the outcome of a successful Apply.
type Result struct {
	Document *section.Document
	Touched  []Touch
}

// Applier applies operation lists. It remembers the sections it deleted so
// that repeating a delete later in the same session is a no-op.
type Applier struct {
	opts    Options
	deleted map[string]section.Path
}

// NewApplier creates an Applier with an empty deletion history.
func NewApplier(opts Options) *Applier {
	return &Applier{opts: opts, deleted: make(map[string]section.Path)}
}

// Apply applies ops to doc with a fresh Applier.
func Apply(doc *section.Document, ops []Op, opts Options) (*section.Document, error) {
	res, err := NewApplier(opts).Apply(context.Background(), doc, ops)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// Apply applies ops in order, each against the result of the previous one.
// It is all-or-nothing: on error the input document is untouched and no
// deletion history is recorded.
func (a *Applier) Apply(ctx context.Context, doc *section.Document, ops []Op) (*Result, error) {
	deleted := make(map[string]section.Path, len(a.deleted))
	for k, p := range a.deleted {
		deleted[k] = p
	}

	res := &Result{Document: doc}
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := op.Validate(); err != nil {
			return nil, annotate(err, i, op)
		}
		next, touch, err := a.applyOne(res.Document, op, deleted)
		if err != nil {
			return nil, annotate(err, i, op)
		}
		res.Document = next
		if touch != nil {
			touch.OpIndex = i
			res.Touched = append(res.Touched, *touch)
		}
	}

	a.deleted = deleted
	return res, nil
}

func (a *Applier) applyOne(doc *section.Document, op Op, deleted map[string]section.Path) (*section.Document, *Touch, error) {
	switch op.Action {
	case Append, Prepend:
		loc, err := doc.Locate(op.Path)
		if err != nil {
			return nil, nil, err
		}
		lines := doc.AdaptLines(op.Lines)
		next, err := doc.UpdateSection(loc.Index, func(s *section.Section) *section.Section {
			c := s.Clone()
			if op.Action == Append {
				c.Content = insertLines(s.Content, contentEnd(s.Content), lines)
			} else {
				c.Content = insertLines(s.Content, 0, lines)
			}
			return c
		})
		if err != nil {
			return nil, nil, err
		}
		return next, &Touch{Path: loc.Path}, nil

	case ReplaceSection:
		loc, err := doc.Locate(op.Path)
		if err != nil {
			return nil, nil, err
		}
		content, children, err := replacement(doc, loc.Section, op.Lines)
		if err != nil {
			return nil, nil, err
		}
		next, err := doc.UpdateSection(loc.Index, func(s *section.Section) *section.Section {
			return &section.Section{
				Heading:  s.Heading,
				Level:    s.Level,
				Name:     s.Name,
				Content:  content,
				Children: children,
			}
		})
		if err != nil {
			return nil, nil, errors.NewSkrefError(errors.InvalidOperation, "replacement produced an invalid document", err)
		}
		return next, &Touch{Path: loc.Path}, nil

	case DeleteSection:
		loc, err := doc.Locate(op.Path)
		if err != nil {
			if full, ok := deleted[op.Path.Key()]; ok {
				return doc, &Touch{Path: full, Removed: true}, nil
			}
			return nil, nil, err
		}
		next, err := doc.UpdateSection(loc.Index, func(*section.Section) *section.Section { return nil })
		if err != nil {
			return nil, nil, err
		}
		deleted[op.Path.Key()] = loc.Path
		deleted[loc.Path.Key()] = loc.Path
		return next, &Touch{Path: loc.Path, Removed: true}, nil

	case InsertAfter, InsertBefore:
		return a.insertAtMarker(doc, op)
	}
	return nil, nil, errors.Newf(errors.InvalidOperation, "unsupported action %q", op.Action)
}

// markerHit is one line matching a marker: either in the preamble (no
// section) or in a section's own content.
type markerHit struct {
	loc  *section.Location
	line int
}

func (a *Applier) insertAtMarker(doc *section.Document, op Op) (*section.Document, *Touch, error) {
	var hits []markerHit

	match := func(lines []string, loc *section.Location) {
		for i, l := range lines {
			if strings.Contains(strings.TrimSuffix(l, "\r"), op.Marker) {
				hits = append(hits, markerHit{loc: loc, line: i})
			}
		}
	}

	if len(op.Path) == 0 {
		match(doc.Preamble, nil)
		doc.Walk(func(loc section.Location) bool {
			l := loc
			match(loc.Section.Content, &l)
			return true
		})
	} else {
		target, err := doc.Locate(op.Path)
		if err != nil {
			return nil, nil, err
		}
		doc.Walk(func(loc section.Location) bool {
			if hasIndexPrefix(loc.Index, target.Index) {
				l := loc
				match(loc.Section.Content, &l)
			}
			return true
		})
	}

	if len(hits) == 0 {
		return nil, nil, errors.Newf(errors.MarkerNotFound, "marker %q not found", op.Marker).
			WithDetails(errors.PatchDetails{Marker: op.Marker})
	}
	if len(hits) > 1 && a.opts.StrictMarkers {
		return nil, nil, errors.Newf(errors.AmbiguousMarker, "marker %q matches %d lines", op.Marker, len(hits)).
			WithDetails(errors.PatchDetails{Marker: op.Marker, Matches: len(hits)})
	}

	hit := hits[0]
	at := hit.line
	if op.Action == InsertAfter {
		at++
	}
	lines := doc.AdaptLines(op.Lines)

	if hit.loc == nil {
		return doc.WithPreamble(insertLines(doc.Preamble, at, lines)), &Touch{}, nil
	}
	next, err := doc.UpdateSection(hit.loc.Index, func(s *section.Section) *section.Section {
		c := s.Clone()
		c.Content = insertLines(s.Content, at, lines)
		return c
	})
	if err != nil {
		return nil, nil, err
	}
	return next, &Touch{Path: hit.loc.Path}, nil
}

// replacement builds the new content and children for a replaced section,
// carrying over the blank lines that separated the old subtree from what
// follows it.
func replacement(doc *section.Document, old *section.Section, body []string) ([]string, []*section.Section, error) {
	oldLines := old.Lines()[1:]
	trailing := 0
	for i := len(oldLines) - 1; i >= 0 && strings.TrimSpace(oldLines[i]) == ""; i-- {
		trailing++
	}

	lines := doc.AdaptLines(body[:contentEnd(body)])
	for i := 0; i < trailing; i++ {
		lines = append(lines, doc.AdaptLines([]string{""})...)
	}

	content, children, err := section.ParseFragment(lines, old.Level)
	if err != nil {
		return nil, nil, errors.NewSkrefError(errors.InvalidOperation, "replacement body is not a valid subtree", err)
	}
	return content, children, nil
}

// contentEnd returns the index just past the last non-blank line.
func contentEnd(lines []string) int {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return end
}

func insertLines(lines []string, at int, add []string) []string {
	out := make([]string, 0, len(lines)+len(add))
	out = append(out, lines[:at]...)
	out = append(out, add...)
	return append(out, lines[at:]...)
}

func hasIndexPrefix(index, prefix []int) bool {
	if len(prefix) > len(index) {
		return false
	}
	for i := range prefix {
		if index[i] != prefix[i] {
			return false
		}
	}
	return true
}

// annotate attaches the failing operation to err.
func annotate(err error, index int, op Op) error {
	se, ok := errors.As(err)
	if !ok {
		return fmt.Errorf("operation %d (%s): %w", index, op, err)
	}
	details, _ := se.Details.(errors.PatchDetails)
	details.OpIndex = index
	details.Action = string(op.Action)
	details.Path = op.Path.String()
	if op.Action.usesMarker() {
		details.Marker = op.Marker
	}
	msg := fmt.Sprintf("operation %d (%s): %s", index, op, se.Message)
	return errors.NewSkrefError(se.Code, msg, se.Unwrap()).WithDetails(details)
}
