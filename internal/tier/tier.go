// Package tier defines the precedence tiers an effective document is built from.
// Resolution layers them lowest first:
//   - Base: the shared, versioned definition (mandatory)
//   - UserScope: the user's personal overrides, shared by every project
//   - ProjectShared: overrides committed with a project
//   - ProjectLocal: untracked overrides on one machine (highest precedence)
package tier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier identifies where a document or override layer came from.
// Higher values take precedence.
type Tier int

const (
	// Base is the shared definition every project starts from.
	Base Tier = iota

	// UserScope holds overrides that apply to every project of one user.
	UserScope

	// ProjectShared holds overrides committed in the project repository.
	ProjectShared

	// ProjectLocal holds machine-local overrides for one project.
	ProjectLocal
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case Base:
		return "Base"
	case UserScope:
		return "UserScope"
	case ProjectShared:
		return "ProjectShared"
	case ProjectLocal:
		return "ProjectLocal"
	default:
		return "Unknown"
	}
}

// ModeName returns the CLI spelling of the tier.
func (t Tier) ModeName() string {
	switch t {
	case Base:
		return "base"
	case UserScope:
		return "user"
	case ProjectShared:
		return "shared"
	case ProjectLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= Base && t <= ProjectLocal
}

// Overrides reports whether t takes precedence over other.
func (t Tier) Overrides(other Tier) bool {
	return t > other
}

// OverrideTiers returns the override tiers in ascending precedence order.
func OverrideTiers() []Tier {
	return []Tier{UserScope, ProjectShared, ProjectLocal}
}

// ValidTierNames returns all accepted CLI spellings.
func ValidTierNames() []string {
	return []string{"base", "user", "shared", "local"}
}

// Parse parses either the CLI spelling or the tier name (case-insensitive).
func Parse(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base":
		return Base, nil
	case "user", "userscope":
		return UserScope, nil
	case "shared", "projectshared":
		return ProjectShared, nil
	case "local", "projectlocal":
		return ProjectLocal, nil
	default:
		return Base, fmt.Errorf("invalid tier %q: must be one of %s", s, strings.Join(ValidTierNames(), ", "))
	}
}

// MarshalJSON encodes the tier by name.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
