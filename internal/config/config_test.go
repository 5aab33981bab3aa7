package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsAndOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	data := `{
		// comments are fine
		api_key: "sk-test",
		model: "gpt-test",
		gateway: { url: "ws://localhost:3001" },
		nicknames: ["小明", "xiaoming"],
		rate_limit: { group_cooldown_ms: 5000 },
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "sk-test" || cfg.Model != "gpt-test" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.WorkingModel != "gpt-test" {
		t.Errorf("working_model should fall back to model, got %q", cfg.WorkingModel)
	}
	if cfg.RateLimit.GroupCooldownMs != 5000 {
		t.Errorf("rate_limit override lost: %d", cfg.RateLimit.GroupCooldownMs)
	}
	// Untouched sections keep defaults.
	if cfg.RateLimit.MaxTriggersPerWindow != 6 || cfg.Topic.MessageThreshold != 30 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MINGLE_API_KEY", "env-key")
	t.Setenv("MINGLE_MODEL", "env-model")
	t.Setenv("MINGLE_GATEWAY_URL", "ws://env:3001")
	t.Setenv("MINGLE_OWNER_IDS", "1, 2,3")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "env-key" || cfg.Gateway.URL != "ws://env:3001" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.OwnerIDs) != 3 || cfg.OwnerIDs[2] != 3 {
		t.Errorf("owner ids = %v", cfg.OwnerIDs)
	}
}

func TestValidate_Required(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without api_key")
	}
	cfg.APIKey = "k"
	cfg.Model = "m"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without any gateway")
	}
	cfg.Gateway.URL = "ws://x"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected: %v", err)
	}
}

func TestGroupAllowed(t *testing.T) {
	tests := []struct {
		name      string
		whitelist []int64
		blacklist []int64
		group     int64
		want      bool
	}{
		{"no lists", nil, nil, 1, true},
		{"whitelisted", []int64{1, 2}, nil, 2, true},
		{"not whitelisted", []int64{1, 2}, nil, 3, false},
		{"blacklist wins", []int64{1}, []int64{1}, 1, false},
		{"blacklisted without whitelist", nil, []int64{9}, 9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{WhitelistGroups: tt.whitelist, BlacklistGroups: tt.blacklist}
			if got := c.GroupAllowed(tt.group); got != tt.want {
				t.Errorf("GroupAllowed(%d) = %v, want %v", tt.group, got, tt.want)
			}
		})
	}
}

func TestEffectiveFor(t *testing.T) {
	persona := "grumpy cat"
	prob := 0.5
	cfg := Default()
	cfg.Persona = "base persona"
	cfg.Nicknames = []string{"bot"}
	cfg.ReplyStyle.BaseStyle = "casual"
	cfg.Groups = map[string]GroupOverride{
		"100": {Persona: &persona, SpeakProbability: &prob},
	}

	base := cfg.EffectiveFor(0)
	if base.Persona != "base persona" || base.SpeakProbability != cfg.Frequency.SpeakProbability {
		t.Errorf("base overlay wrong: %+v", base)
	}

	eff := cfg.EffectiveFor(100)
	if eff.Persona != "grumpy cat" || eff.SpeakProbability != 0.5 {
		t.Errorf("group overlay not applied: %+v", eff)
	}
	// Unset override fields fall through.
	if eff.BaseStyle != "casual" || len(eff.Nicknames) != 1 {
		t.Errorf("fallthrough wrong: %+v", eff)
	}

	other := cfg.EffectiveFor(200)
	if other.Persona != "base persona" {
		t.Errorf("unknown group should use base: %+v", other)
	}
}
