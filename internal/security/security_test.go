package security

import "testing"

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelLow, "low"},
		{LevelMedium, "medium"},
		{LevelHigh, "high"},
		{LevelRestricted, "restricted"},
		{Level(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"low", "medium", "high", "restricted"} {
		if got := ParseLevel(name); got.String() != name {
			t.Errorf("ParseLevel(%q) = %v, want round-trip", name, got)
		}
	}

	// Unknown values land on the most restrictive level.
	if got := ParseLevel("yolo"); got != LevelRestricted {
		t.Errorf("ParseLevel(unknown) = %v, want LevelRestricted", got)
	}
	if got := ParseLevel(""); got != LevelRestricted {
		t.Errorf("ParseLevel(empty) = %v, want LevelRestricted", got)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if !p.SandboxEnabled {
		t.Error("SandboxEnabled = false, want true")
	}
	if !p.AuditEnabled {
		t.Error("AuditEnabled = false, want true")
	}
	if p.MaxExecutionTime <= 0 {
		t.Errorf("MaxExecutionTime = %v, want > 0", p.MaxExecutionTime)
	}
	if p.MaxNetworkRequests <= 0 {
		t.Errorf("MaxNetworkRequests = %d, want > 0", p.MaxNetworkRequests)
	}
	if len(p.AllowedDirs) == 0 {
		t.Error("AllowedDirs is empty, want at least the temp dirs")
	}
	if len(p.AllowedDomains) != 0 {
		t.Errorf("AllowedDomains = %v, want empty (permissive until configured)", p.AllowedDomains)
	}
	if !containsString(p.BlockedDomains, "localhost") {
		t.Errorf("BlockedDomains = %v, want localhost present", p.BlockedDomains)
	}
	for _, ext := range p.BlockedFileTypes {
		if containsString(p.AllowedFileTypes, ext) {
			t.Errorf("extension %q is in both the allow and deny lists", ext)
		}
	}
}
