package resolve

import (
	"sort"
	"strings"

	"skref/internal/layers"
	"skref/internal/patch"
	"skref/internal/section"
	"skref/internal/tier"
)

// LayerRef identifies a layer that took part in a resolution.
type LayerRef struct {
	Tier     tier.Tier   `json:"tier"`
	Kind     layers.Kind `json:"kind"`
	Name     string      `json:"name"`
	Checksum string      `json:"checksum,omitempty"`
}

// SectionOrigin names the tier that last touched a section.
type SectionOrigin struct {
	Path    string    `json:"path"`
	Tier    tier.Tier `json:"tier"`
	Layer   string    `json:"layer,omitempty"`
	Removed bool      `json:"removed,omitempty"`
}

// Provenance records which tier contributed what.
type Provenance struct {
	Document     string     `json:"document"`
	Project      string     `json:"project,omitempty"`
	BaseVersion  int        `json:"baseVersion"`
	Source       tier.Tier  `json:"source"`
	FullOverride string     `json:"fullOverride,omitempty"`
	Layers       []LayerRef `json:"layers"`
	// Preamble is set when a layer edited the lines before the first heading.
	Preamble  *SectionOrigin          `json:"preamble,omitempty"`
	Sections  []SectionOrigin         `json:"sections"`
	Config    map[string]tier.Tier    `json:"config"`
	Artifacts map[string]tier.Tier    `json:"artifacts"`
	origins   map[string]SectionOrigin // keyed by slug path
}

func newProvenance(documentID, projectRoot string, baseVersion int) *Provenance {
	return &Provenance{
		Document:    documentID,
		Project:     projectRoot,
		BaseVersion: baseVersion,
		Config:      map[string]tier.Tier{},
		Artifacts:   map[string]tier.Tier{},
		origins:     map[string]SectionOrigin{},
	}
}

// seed attributes every section and config key of the working document to
// its source tier.
func (p *Provenance) seed(doc *section.Document) {
	doc.Walk(func(loc section.Location) bool {
		p.origins[loc.Path.Key()] = SectionOrigin{Path: loc.Path.String(), Tier: doc.Source}
		return true
	})
	if cfg, err := doc.Config(); err == nil {
		for k := range cfg {
			p.Config[k] = doc.Source
		}
	}
}

// touch attributes the sections changed by one layer. A replaced section
// hands its whole new subtree to the layer's tier.
func (p *Provenance) touch(res *patch.Result, l layers.Layer) {
	for _, t := range res.Touched {
		origin := SectionOrigin{Path: t.Path.String(), Tier: l.Tier, Layer: l.Name, Removed: t.Removed}
		if len(t.Path) == 0 {
			p.Preamble = &origin
			continue
		}
		key := t.Path.Key()
		if t.Removed {
			for k, o := range p.origins {
				if k == key || hasKeyPrefix(k, key) {
					o.Tier, o.Layer, o.Removed = l.Tier, l.Name, true
					p.origins[k] = o
				}
			}
			p.origins[key] = origin
			continue
		}
		p.origins[key] = origin
		if t.OpIndex < len(l.Ops) && l.Ops[t.OpIndex].Action == patch.ReplaceSection {
			live := map[string]bool{}
			res.Document.Walk(func(sub section.Location) bool {
				if k := sub.Path.Key(); hasKeyPrefix(k, key) {
					live[k] = true
					p.origins[k] = SectionOrigin{Path: sub.Path.String(), Tier: l.Tier, Layer: l.Name}
				}
				return true
			})
			// Children the replacement dropped are gone.
			for k, o := range p.origins {
				if hasKeyPrefix(k, key) && !live[k] {
					o.Tier, o.Layer, o.Removed = l.Tier, l.Name, true
					p.origins[k] = o
				}
			}
		}
	}
}

// finish orders section origins: live sections in render order, then
// removed ones sorted by path.
func (p *Provenance) finish(doc *section.Document) {
	seen := map[string]bool{}
	doc.Walk(func(loc section.Location) bool {
		key := loc.Path.Key()
		o, ok := p.origins[key]
		if !ok || o.Removed {
			o = SectionOrigin{Path: loc.Path.String(), Tier: doc.Source}
		}
		o.Path = loc.Path.String()
		p.Sections = append(p.Sections, o)
		seen[key] = true
		return true
	})
	var removed []SectionOrigin
	for k, o := range p.origins {
		if !seen[k] && o.Removed {
			removed = append(removed, o)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Path < removed[j].Path })
	p.Sections = append(p.Sections, removed...)
}

// SectionTier returns the tier that last touched a live section. Like
// section lookup, path may be a unique suffix of the full path.
func (p *Provenance) SectionTier(path string) (tier.Tier, bool) {
	key := section.ParsePath(path).Key()
	var found []SectionOrigin
	for _, o := range p.Sections {
		if o.Removed {
			continue
		}
		k := section.ParsePath(o.Path).Key()
		if k == key {
			return o.Tier, true
		}
		if strings.HasSuffix(k, "/"+key) {
			found = append(found, o)
		}
	}
	if len(found) != 1 {
		return 0, false
	}
	return found[0].Tier, true
}

func hasKeyPrefix(key, prefix string) bool {
	return len(key) > len(prefix) && key[:len(prefix)] == prefix && key[len(prefix)] == '/'
}
