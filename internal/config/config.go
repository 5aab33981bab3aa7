// Package config loads the bot configuration: a JSON5 file overlaid with
// environment variables, plus optional per-group overrides. A watcher
// re-reads the file on change and notifies subscribers.
package config

// Config is the root configuration.
type Config struct {
	// LLM connection.
	APIURL       string  `json:"api_url"`
	APIKey       string  `json:"api_key"`
	Model        string  `json:"model"`
	WorkingModel string  `json:"working_model"` // cheaper model for analyzers
	IsMultimodal bool    `json:"is_multimodal"`
	Temperature  float32 `json:"temperature"`

	// Gateway connection (OneBot forward websocket).
	Gateway GatewayConfig `json:"gateway"`

	// Identity.
	Nicknames []string `json:"nicknames"`
	Persona   string   `json:"persona"`

	// Conversation.
	MaxContextTokens int `json:"max_context_tokens"` // in K tokens
	HistoryCount     int `json:"history_count"`
	MaxSessions      int `json:"max_sessions"`
	MaxIterations    int `json:"max_iterations"` // -1 = unbounded (still safety-capped)

	// Group scoping.
	WhitelistGroups []int64 `json:"whitelist_groups"`
	BlacklistGroups []int64 `json:"blacklist_groups"`

	// Capabilities.
	EnableGroupAdmin     bool `json:"enable_group_admin"`
	EnableExternalSkills bool `json:"enable_external_skills"`

	// Owners receive abuse reports via DM.
	OwnerIDs []int64 `json:"owner_ids"`

	// Storage.
	DatabasePath string `json:"database_path"`

	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Personality PersonalityConfig `json:"personality"`
	ReplyStyle  ReplyStyleConfig  `json:"reply_style"`
	Memory      MemoryConfig      `json:"memory"`
	Topic       TopicConfig       `json:"topic"`
	Planner     PlannerConfig     `json:"planner"`
	Frequency   FrequencyConfig   `json:"frequency"`
	Typo        TypoConfig        `json:"typo"`
	Emoji       EmojiConfig       `json:"emoji"`
	Expression  ExpressionConfig  `json:"expression"`
	Tracing     TracingConfig     `json:"tracing"`

	// Per-group overrides keyed by decimal group ID.
	Groups map[string]GroupOverride `json:"groups"`
}

type GatewayConfig struct {
	URL         string `json:"url"`
	AccessToken string `json:"access_token"`

	// Telegram is the optional secondary adapter; when Token is set the
	// bot serves Telegram chats with the subset of operations the
	// platform supports.
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type RateLimitConfig struct {
	GroupCooldownMs      int64 `json:"group_cooldown_ms"`
	WindowMs             int64 `json:"window_ms"`
	MaxTriggersPerWindow int   `json:"max_triggers_per_window"`
	DedupWindowMs        int64 `json:"dedup_window_ms"`
}

type PersonalityConfig struct {
	States           []string `json:"states"`
	StateProbability float64  `json:"state_probability"`
}

type ReplyStyleConfig struct {
	BaseStyle           string   `json:"base_style"`
	MultipleStyles      []string `json:"multiple_styles"`
	MultipleProbability float64  `json:"multiple_probability"`
}

type MemoryConfig struct {
	Enabled       bool  `json:"enabled"`
	MaxIterations int   `json:"max_iterations"`
	TimeoutMs     int64 `json:"timeout_ms"`
}

type TopicConfig struct {
	Enabled             bool  `json:"enabled"`
	MessageThreshold    int   `json:"message_threshold"`
	TimeThresholdMs     int64 `json:"time_threshold_ms"`
	MaxTopicsPerSession int   `json:"max_topics_per_session"`
}

type PlannerConfig struct {
	Enabled bool `json:"enabled"`
}

type FrequencyConfig struct {
	Enabled                    bool    `json:"enabled"`
	MinIntervalMs              int64   `json:"min_interval_ms"`
	MaxIntervalMs              int64   `json:"max_interval_ms"`
	SpeakProbability           float64 `json:"speak_probability"`
	QuietHoursStart            int     `json:"quiet_hours_start"`
	QuietHoursEnd              int     `json:"quiet_hours_end"`
	QuietProbabilityMultiplier float64 `json:"quiet_probability_multiplier"`
}

type TypoConfig struct {
	Enabled         bool    `json:"enabled"`
	ErrorRate       float64 `json:"error_rate"`
	WordReplaceRate float64 `json:"word_replace_rate"`
}

type EmojiConfig struct {
	Enabled         bool    `json:"enabled"`
	EmojiDir        string  `json:"emoji_dir"`
	SendProbability float64 `json:"send_probability"`
}

type ExpressionConfig struct {
	Enabled        bool `json:"enabled"`
	MaxExpressions int  `json:"max_expressions"`
	SampleSize     int  `json:"sample_size"`
}

type TracingConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint"`
}

// GroupOverride carries the per-group personalization layer. Nil fields
// fall through to the base config.
type GroupOverride struct {
	Persona          *string  `json:"persona,omitempty"`
	Nicknames        []string `json:"nicknames,omitempty"`
	BaseStyle        *string  `json:"base_style,omitempty"`
	SpeakProbability *float64 `json:"speak_probability,omitempty"`
	EnableGroupAdmin *bool    `json:"enable_group_admin,omitempty"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Temperature:      0.8,
		MaxContextTokens: 4,
		HistoryCount:     100,
		MaxSessions:      100,
		MaxIterations:    20,
		DatabasePath:     "data/mingle.db",
		RateLimit: RateLimitConfig{
			GroupCooldownMs:      3_000,
			WindowMs:             60_000,
			MaxTriggersPerWindow: 6,
			DedupWindowMs:        30_000,
		},
		Personality: PersonalityConfig{StateProbability: 0.15},
		ReplyStyle:  ReplyStyleConfig{MultipleProbability: 0.3},
		Memory: MemoryConfig{
			Enabled:       true,
			MaxIterations: 3,
			TimeoutMs:     15_000,
		},
		Topic: TopicConfig{
			Enabled:             true,
			MessageThreshold:    30,
			TimeThresholdMs:     30 * 60 * 1000,
			MaxTopicsPerSession: 20,
		},
		Planner: PlannerConfig{Enabled: true},
		Frequency: FrequencyConfig{
			Enabled:                    true,
			MinIntervalMs:              8_000,
			MaxIntervalMs:              15_000,
			SpeakProbability:           0.9,
			QuietHoursStart:            1,
			QuietHoursEnd:              7,
			QuietProbabilityMultiplier: 0.3,
		},
		Typo: TypoConfig{
			Enabled:         true,
			ErrorRate:       0.03,
			WordReplaceRate: 0.10,
		},
		Emoji: EmojiConfig{
			Enabled:         true,
			EmojiDir:        "data/emojis",
			SendProbability: 0.2,
		},
		Expression: ExpressionConfig{
			Enabled:        true,
			MaxExpressions: 100,
			SampleSize:     8,
		},
	}
}
