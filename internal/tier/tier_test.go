package tier

import (
	"encoding/json"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Tier
		wantErr  bool
	}{
		{"base", Base, false},
		{"user", UserScope, false},
		{"UserScope", UserScope, false},
		{"shared", ProjectShared, false},
		{"local", ProjectLocal, false},
		{" ProjectLocal ", ProjectLocal, false},
		{"", Base, true},
		{"global", Base, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTierString(t *testing.T) {
	tests := []struct {
		tier     Tier
		expected string
	}{
		{Base, "Base"},
		{UserScope, "UserScope"},
		{ProjectShared, "ProjectShared"},
		{ProjectLocal, "ProjectLocal"},
		{Tier(9), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.tier.String(); got != tt.expected {
				t.Errorf("tier.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPrecedence(t *testing.T) {
	if !ProjectLocal.Overrides(ProjectShared) || !ProjectShared.Overrides(UserScope) || !UserScope.Overrides(Base) {
		t.Error("expected ProjectLocal > ProjectShared > UserScope > Base")
	}
	if Base.Overrides(UserScope) {
		t.Error("Base must not override UserScope")
	}

	tiers := OverrideTiers()
	for i := 1; i < len(tiers); i++ {
		if !tiers[i].Overrides(tiers[i-1]) {
			t.Errorf("OverrideTiers() not ascending at %d: %v", i, tiers)
		}
	}
}

func TestTierJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Tier{"t": ProjectShared})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"t":"ProjectShared"}` {
		t.Errorf("marshal = %s", data)
	}

	var out map[string]Tier
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["t"] != ProjectShared {
		t.Errorf("unmarshal = %v", out["t"])
	}
}
