// Package patch applies ordered section-level edit operations to documents.
package patch

import (
	"fmt"

	"skref/internal/errors"
	"skref/internal/section"
)

// Action names an edit operation. The values double as the patch-file tags.
type Action string

const (
	Append         Action = "append"
	Prepend        Action = "prepend"
	ReplaceSection Action = "replace-section"
	InsertAfter    Action = "insert-after"
	InsertBefore   Action = "insert-before"
	DeleteSection  Action = "delete-section"
)

// ValidActions returns every action in patch-file spelling.
func ValidActions() []Action {
	return []Action{Append, Prepend, ReplaceSection, InsertAfter, InsertBefore, DeleteSection}
}

// ParseAction parses a patch-file action tag.
func ParseAction(s string) (Action, error) {
	for _, a := range ValidActions() {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Additive reports whether the action only adds lines. Extension layers are
// limited to additive actions.
func (a Action) Additive() bool {
	switch a {
	case Append, Prepend, InsertAfter, InsertBefore:
		return true
	default:
		return false
	}
}

// usesMarker reports whether the action is anchored on a marker line.
func (a Action) usesMarker() bool {
	return a == InsertAfter || a == InsertBefore
}

// Op is one edit operation. Path addresses the target section; for marker
// actions an empty Path searches the whole document.
type Op struct {
	Action Action       `json:"action"`
	Path   section.Path `json:"path,omitempty"`
	Marker string       `json:"marker,omitempty"`
	Lines  []string     `json:"lines,omitempty"`
}

// NewAppend adds lines at the end of a section's content.
func NewAppend(path string, lines ...string) Op {
	return Op{Action: Append, Path: section.ParsePath(path), Lines: lines}
}

// NewPrepend adds lines at the start of a section's content.
func NewPrepend(path string, lines ...string) Op {
	return Op{Action: Prepend, Path: section.ParsePath(path), Lines: lines}
}

// NewReplaceSection replaces a section's content and children.
func NewReplaceSection(path string, lines ...string) Op {
	return Op{Action: ReplaceSection, Path: section.ParsePath(path), Lines: lines}
}

// NewInsertAfter inserts lines after the first line containing marker.
func NewInsertAfter(path, marker string, lines ...string) Op {
	return Op{Action: InsertAfter, Path: section.ParsePath(path), Marker: marker, Lines: lines}
}

// NewInsertBefore inserts lines before the first line containing marker.
func NewInsertBefore(path, marker string, lines ...string) Op {
	return Op{Action: InsertBefore, Path: section.ParsePath(path), Marker: marker, Lines: lines}
}

// NewDeleteSection removes a section and its subtree.
func NewDeleteSection(path string) Op {
	return Op{Action: DeleteSection, Path: section.ParsePath(path)}
}

// String renders a short description for logs and error messages.
func (o Op) String() string {
	switch {
	case o.Action.usesMarker() && len(o.Path) > 0:
		return fmt.Sprintf("%s %q in %s", o.Action, o.Marker, o.Path)
	case o.Action.usesMarker():
		return fmt.Sprintf("%s %q", o.Action, o.Marker)
	default:
		return fmt.Sprintf("%s %s", o.Action, o.Path)
	}
}

// Validate checks that the operation carries what its action needs.
func (o Op) Validate() error {
	if _, err := ParseAction(string(o.Action)); err != nil {
		return errors.NewSkrefError(errors.InvalidOperation, "invalid operation", err)
	}
	if o.Action.usesMarker() {
		if o.Marker == "" {
			return errors.Newf(errors.InvalidOperation, "%s requires a marker", o.Action)
		}
	} else if len(o.Path) == 0 {
		return errors.Newf(errors.InvalidOperation, "%s requires a section path", o.Action)
	}
	if o.Action == DeleteSection && len(o.Lines) > 0 {
		return errors.Newf(errors.InvalidOperation, "delete-section takes no body")
	}
	if o.Action.Additive() && section.HasHeading(o.Lines) {
		return errors.Newf(errors.InvalidOperation, "%s body contains a heading; use replace-section to add subsections", o.Action)
	}
	if o.Action.Additive() && section.HasOpenFence(o.Lines) {
		return errors.Newf(errors.InvalidOperation, "%s body leaves a code fence open", o.Action)
	}
	return nil
}
