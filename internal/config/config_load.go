package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("MINGLE_API_URL", &c.APIURL)
	envStr("MINGLE_API_KEY", &c.APIKey)
	envStr("MINGLE_MODEL", &c.Model)
	envStr("MINGLE_WORKING_MODEL", &c.WorkingModel)
	envStr("MINGLE_GATEWAY_URL", &c.Gateway.URL)
	envStr("MINGLE_GATEWAY_TOKEN", &c.Gateway.AccessToken)
	envStr("MINGLE_TELEGRAM_TOKEN", &c.Gateway.Telegram.Token)
	envStr("MINGLE_DATABASE_PATH", &c.DatabasePath)
	envStr("MINGLE_OTLP_ENDPOINT", &c.Tracing.OTLPEndpoint)

	if v := os.Getenv("MINGLE_OWNER_IDS"); v != "" {
		c.OwnerIDs = c.OwnerIDs[:0]
		for _, part := range strings.Split(v, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				c.OwnerIDs = append(c.OwnerIDs, id)
			}
		}
	}
}

// Validate checks the fields the bot cannot run without.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: api_key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("config: model is required")
	}
	if c.Gateway.URL == "" && c.Gateway.Telegram.Token == "" {
		return fmt.Errorf("config: gateway.url or gateway.telegram.token is required")
	}
	if c.WorkingModel == "" {
		c.WorkingModel = c.Model
	}
	if c.Frequency.MaxIntervalMs < c.Frequency.MinIntervalMs {
		c.Frequency.MaxIntervalMs = c.Frequency.MinIntervalMs
	}
	return nil
}

// GroupAllowed applies the whitelist/blacklist gate. An empty whitelist
// admits every group not on the blacklist.
func (c *Config) GroupAllowed(groupID int64) bool {
	for _, id := range c.BlacklistGroups {
		if id == groupID {
			return false
		}
	}
	if len(c.WhitelistGroups) == 0 {
		return true
	}
	for _, id := range c.WhitelistGroups {
		if id == groupID {
			return true
		}
	}
	return false
}

// Effective is the flattened view the rest of the code reads: base config
// with one group's overrides applied.
type Effective struct {
	Persona          string
	Nicknames        []string
	BaseStyle        string
	SpeakProbability float64
	EnableGroupAdmin bool
}

// EffectiveFor resolves the per-group overlay for a group ID. A zero
// group ID (private chats) gets the base values.
func (c *Config) EffectiveFor(groupID int64) Effective {
	eff := Effective{
		Persona:          c.Persona,
		Nicknames:        c.Nicknames,
		BaseStyle:        c.ReplyStyle.BaseStyle,
		SpeakProbability: c.Frequency.SpeakProbability,
		EnableGroupAdmin: c.EnableGroupAdmin,
	}
	if groupID == 0 {
		return eff
	}
	ov, ok := c.Groups[strconv.FormatInt(groupID, 10)]
	if !ok {
		return eff
	}
	if ov.Persona != nil {
		eff.Persona = *ov.Persona
	}
	if len(ov.Nicknames) > 0 {
		eff.Nicknames = ov.Nicknames
	}
	if ov.BaseStyle != nil {
		eff.BaseStyle = *ov.BaseStyle
	}
	if ov.SpeakProbability != nil {
		eff.SpeakProbability = *ov.SpeakProbability
	}
	if ov.EnableGroupAdmin != nil {
		eff.EnableGroupAdmin = *ov.EnableGroupAdmin
	}
	return eff
}
