// Package section models markdown documents as a tree of named sections.
//
// Documents and sections are treated as immutable values: every edit builds a
// new Document that shares untouched subtrees with its predecessor. Callers
// must not modify the slices reachable from a Document.
package section

import (
	"fmt"
	"sort"
	"strings"

	"skref/internal/errors"
	"skref/internal/tier"
)

// Section is a named node of a document. Content holds the lines between the
// heading and the first child heading (or the next sibling).
type Section struct {
	Heading  string
	Level    int
	Name     string
	Content  []string
	Children []*Section
}

// Slug returns the normalized name used for addressing.
func (s *Section) Slug() string {
	return Slug(s.Name)
}

// Body returns the section's own content without trailing blank lines.
func (s *Section) Body() []string {
	end := len(s.Content)
	for end > 0 && isBlank(s.Content[end-1]) {
		end--
	}
	out := make([]string, end)
	for i := 0; i < end; i++ {
		out[i] = strings.TrimSuffix(s.Content[i], "\r")
	}
	return out
}

// Lines returns the rendered lines of the section and all of its descendants.
func (s *Section) Lines() []string {
	var out []string
	s.appendLines(&out)
	return out
}

func (s *Section) appendLines(out *[]string) {
	*out = append(*out, s.Heading)
	*out = append(*out, s.Content...)
	for _, c := range s.Children {
		c.appendLines(out)
	}
}

// Clone returns a shallow copy with its own Content and Children slices.
func (s *Section) Clone() *Section {
	c := *s
	c.Content = append([]string(nil), s.Content...)
	c.Children = append([]*Section(nil), s.Children...)
	return &c
}

// Location identifies a section inside a specific document.
type Location struct {
	// Path holds the section names from the root down, as written in headings.
	Path Path
	// Index holds the child positions from the root set down.
	Index   []int
	Section *Section
}

// Document is a parsed markdown artifact.
type Document struct {
	ID      string
	Version int
	Source  tier.Tier

	// Frontmatter holds the raw YAML block including its delimiters, or nil.
	Frontmatter     []string
	Preamble        []string
	Sections        []*Section
	TrailingNewline bool

	index map[string]Location
}

// newDocument builds the lookup index and rejects duplicate section paths.
func newDocument(meta *Document, frontmatter, preamble []string, sections []*Section, trailing bool) (*Document, error) {
	d := &Document{
		Frontmatter:     frontmatter,
		Preamble:        preamble,
		Sections:        sections,
		TrailingNewline: trailing,
	}
	if meta != nil {
		d.ID = meta.ID
		d.Version = meta.Version
		d.Source = meta.Source
	}
	if err := d.buildIndex(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) buildIndex() error {
	d.index = make(map[string]Location)
	var walk func(list []*Section, path Path, idx []int) error
	walk = func(list []*Section, path Path, idx []int) error {
		for i, s := range list {
			p := path.Child(s.Name)
			ix := append(append([]int(nil), idx...), i)
			key := p.Key()
			if _, dup := d.index[key]; dup {
				return errors.Newf(errors.MalformedDocument, "duplicate section path %q", p.String())
			}
			d.index[key] = Location{Path: p, Index: ix, Section: s}
			if err := walk(s.Children, p, ix); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(d.Sections, nil, nil)
}

// WithMeta returns a copy of the document carrying the given identity.
func (d *Document) WithMeta(id string, version int, source tier.Tier) *Document {
	c := *d
	c.ID = id
	c.Version = version
	c.Source = source
	return &c
}

// Len returns the number of sections in the document, at any depth.
func (d *Document) Len() int {
	return len(d.index)
}

// Find returns the section addressed by path.
func (d *Document) Find(path Path) (*Section, error) {
	loc, err := d.Locate(path)
	if err != nil {
		return nil, err
	}
	return loc.Section, nil
}

// Locate resolves path to a section. An exact root-to-leaf match wins; failing
// that, a path matching the tail of exactly one section's full path is
// accepted so that a single title heading need not be spelled out.
func (d *Document) Locate(path Path) (Location, error) {
	if len(path) == 0 {
		return Location{}, errors.Newf(errors.SectionNotFound, "empty section path")
	}
	key := path.Key()
	if loc, ok := d.index[key]; ok {
		return loc, nil
	}

	var matches []Location
	suffix := "/" + key
	for k, loc := range d.index {
		if strings.HasSuffix(k, suffix) {
			matches = append(matches, loc)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Location{}, errors.Newf(errors.SectionNotFound, "section %q not found", path.String())
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Path.String()
		}
		sort.Strings(names)
		return Location{}, errors.Newf(errors.SectionNotFound, "section %q is ambiguous: %s", path.String(), strings.Join(names, ", "))
	}
}

// Walk visits every section in render order until fn returns false.
func (d *Document) Walk(fn func(Location) bool) {
	var walk func(list []*Section, path Path, idx []int) bool
	walk = func(list []*Section, path Path, idx []int) bool {
		for i, s := range list {
			p := path.Child(s.Name)
			ix := append(append([]int(nil), idx...), i)
			if !fn(Location{Path: p, Index: ix, Section: s}) {
				return false
			}
			if !walk(s.Children, p, ix) {
				return false
			}
		}
		return true
	}
	walk(d.Sections, nil, nil)
}

// Paths returns every section path in render order.
func (d *Document) Paths() []Path {
	var out []Path
	d.Walk(func(loc Location) bool {
		out = append(out, loc.Path)
		return true
	})
	return out
}

// UpdateSection rebuilds the document with the section at index replaced by
// the result of fn. A nil result removes the section and its subtree.
// Sections off the updated path are shared with the receiver.
func (d *Document) UpdateSection(index []int, fn func(*Section) *Section) (*Document, error) {
	if len(index) == 0 {
		return nil, fmt.Errorf("empty section index")
	}
	sections, err := updateAt(d.Sections, index, fn)
	if err != nil {
		return nil, err
	}
	return newDocument(d, d.Frontmatter, d.Preamble, sections, d.TrailingNewline)
}

func updateAt(list []*Section, index []int, fn func(*Section) *Section) ([]*Section, error) {
	i := index[0]
	if i < 0 || i >= len(list) {
		return nil, fmt.Errorf("section index %d out of range", i)
	}
	out := make([]*Section, 0, len(list))
	out = append(out, list[:i]...)
	if len(index) == 1 {
		if repl := fn(list[i]); repl != nil {
			out = append(out, repl)
		}
	} else {
		c := list[i].Clone()
		children, err := updateAt(list[i].Children, index[1:], fn)
		if err != nil {
			return nil, err
		}
		c.Children = children
		out = append(out, c)
	}
	return append(out, list[i+1:]...), nil
}

// WithPreamble returns a copy of the document with the preamble replaced.
func (d *Document) WithPreamble(lines []string) *Document {
	c := *d
	c.Preamble = lines
	return &c
}

// AdaptLines gives inserted lines the document's line ending.
func (d *Document) AdaptLines(lines []string) []string {
	out := make([]string, len(lines))
	crlf := d.usesCRLF()
	for i, l := range lines {
		if crlf && !strings.HasSuffix(l, "\r") {
			l += "\r"
		}
		out[i] = l
	}
	return out
}

func (d *Document) usesCRLF() bool {
	first := func(lines []string) (string, bool) {
		if len(lines) > 0 {
			return lines[0], true
		}
		return "", false
	}
	if l, ok := first(d.Frontmatter); ok {
		return strings.HasSuffix(l, "\r")
	}
	if l, ok := first(d.Preamble); ok {
		return strings.HasSuffix(l, "\r")
	}
	if len(d.Sections) > 0 {
		return strings.HasSuffix(d.Sections[0].Heading, "\r")
	}
	return false
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
