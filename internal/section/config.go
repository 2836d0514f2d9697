package section

import (
	"bytes"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"skref/internal/errors"
)

// Config decodes the frontmatter block into a flat key/value mapping.
// A document without frontmatter has an empty configuration.
func (d *Document) Config() (map[string]any, error) {
	out := map[string]any{}
	if len(d.Frontmatter) < 2 {
		return out, nil
	}
	body := frontmatterBody(d.Frontmatter)
	if strings.TrimSpace(body) == "" {
		return out, nil
	}
	if err := yaml.Unmarshal([]byte(body), &out); err != nil {
		return nil, errors.NewSkrefError(errors.MalformedDocument, "invalid frontmatter", err)
	}
	return out, nil
}

// WithConfig returns a copy of the document whose frontmatter carries values.
// Existing keys are updated in place so their order and any comments survive;
// new keys are appended in sorted order. Untouched documents are returned as is.
func (d *Document) WithConfig(values map[string]any) (*Document, error) {
	if len(values) == 0 {
		return d, nil
	}

	var root yaml.Node
	if len(d.Frontmatter) >= 2 {
		if err := yaml.Unmarshal([]byte(frontmatterBody(d.Frontmatter)), &root); err != nil {
			return nil, errors.NewSkrefError(errors.MalformedDocument, "invalid frontmatter", err)
		}
	}
	if root.Kind == 0 {
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, errors.Newf(errors.MalformedDocument, "frontmatter is not a mapping")
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var value yaml.Node
		if err := value.Encode(values[k]); err != nil {
			return nil, errors.NewSkrefError(errors.InvalidLayer, "encode configuration value "+k, err)
		}
		replaced := false
		for i := 0; i+1 < len(mapping.Content); i += 2 {
			if mapping.Content[i].Value == k {
				value.HeadComment = mapping.Content[i+1].HeadComment
				value.LineComment = mapping.Content[i+1].LineComment
				mapping.Content[i+1] = &value
				replaced = true
				break
			}
		}
		if !replaced {
			mapping.Content = append(mapping.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				&value)
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, errors.NewSkrefError(errors.InternalError, "encode frontmatter", err)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.NewSkrefError(errors.InternalError, "encode frontmatter", err)
	}

	open, closing := "---", "---"
	if len(d.Frontmatter) >= 2 {
		open = d.Frontmatter[0]
		closing = d.Frontmatter[len(d.Frontmatter)-1]
	}
	fm := []string{open}
	fm = append(fm, d.AdaptLines(strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n"))...)
	fm = append(fm, closing)

	c := *d
	c.Frontmatter = fm
	return &c, nil
}

func frontmatterBody(fm []string) string {
	inner := fm[1 : len(fm)-1]
	lines := make([]string, len(inner))
	for i, l := range inner {
		lines[i] = trimCR(l)
	}
	return strings.Join(lines, "\n")
}
