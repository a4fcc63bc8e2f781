package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/young1lin/research2post/internal/domain"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Review    ReviewConfig    `mapstructure:"review"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Platforms PlatformsConfig `mapstructure:"platforms"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects the credential store: "bolt" (embedded file) or "postgres".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL     string   `mapstructure:"base_url"`
	PathSuffix  string   `mapstructure:"path_suffix"`
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	Timeout     int      `mapstructure:"timeout"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Temperature *float64 `mapstructure:"temperature"`
}

type SearchConfig struct {
	Default   string                          `mapstructure:"default"`
	Providers map[string]SearchProviderConfig `mapstructure:"providers"`
}

// SearchProviderConfig represents a search backend configuration
type SearchProviderConfig struct {
	Type           string `mapstructure:"type"` // "google", "firecrawl"
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	SearchEngineID string `mapstructure:"search_engine_id"` // Google: cx
	MaxResults     int    `mapstructure:"max_results"`
	SafeSearch     bool   `mapstructure:"safe_search"`
	Timeout        int    `mapstructure:"timeout"`
}

type AgentConfig struct {
	MaxRounds    int    `mapstructure:"max_rounds"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

type ReviewConfig struct {
	MaxRounds int `mapstructure:"max_rounds"`
}

type OAuthConfig struct {
	PendingTTL  int `mapstructure:"pending_ttl"` // seconds an unconsumed PKCE verifier survives
	HTTPTimeout int `mapstructure:"http_timeout"`
}

type PlatformsConfig struct {
	LinkedIn PlatformConfig `mapstructure:"linkedin"`
	X        PlatformConfig `mapstructure:"x"`
}

type PlatformConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	ClientID      string   `mapstructure:"client_id"`
	ClientSecret  string   `mapstructure:"client_secret"`
	RedirectURI   string   `mapstructure:"redirect_uri"`
	Scopes        []string `mapstructure:"scopes"`
	MaxLength     int      `mapstructure:"max_length"`
	HashtagPolicy string   `mapstructure:"hashtag_policy"`
	FrontendURL   string   `mapstructure:"frontend_url"` // where the callback redirects after success
}

type PublishConfig struct {
	RatePerMinute float64 `mapstructure:"rate_per_minute"`
	Burst         int     `mapstructure:"burst"`
	Timeout       int     `mapstructure:"timeout"`
}

type NotifyConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Seconds converts a config integer into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Load reads configuration from .env files, an optional YAML file and the environment.
func Load(cfgFile string) (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("R2P")
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnv keeps the variable names of the original deployment working
// alongside the R2P_ prefixed ones. The prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"llm.api_key":                              "GOOGLE_API_KEY",
		"search.providers.google.api_key":          "GOOGLE_API_KEY",
		"search.providers.google.search_engine_id": "SEARCH_ENGINE_ID",
		"platforms.linkedin.client_id":             "LINKEDIN_CLIENT_ID",
		"platforms.linkedin.client_secret":         "LINKEDIN_CLIENT_SECRET",
		"platforms.linkedin.redirect_uri":          "LINKEDIN_REDIRECT_URI",
		"platforms.x.client_id":                    "X_CLIENT_ID",
		"platforms.x.client_secret":                "X_CLIENT_SECRET",
		"platforms.x.redirect_uri":                 "X_REDIRECT_URI",
		"storage.dsn":                              "DATABASE_URL",
	}
	for key, name := range legacy {
		prefixed := "R2P_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 300)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Storage defaults
	v.SetDefault("storage.driver", "bolt")
	v.SetDefault("storage.path", "./data/credentials.db")

	// LLM defaults: Gemini through its OpenAI-compatible surface
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("llm.path_suffix", "/chat/completions")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.timeout", 60)
	v.SetDefault("llm.max_tokens", 4096)

	// Search defaults
	v.SetDefault("search.default", "google")
	v.SetDefault("search.providers.google.type", "google")
	v.SetDefault("search.providers.google.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("search.providers.google.max_results", 5)
	v.SetDefault("search.providers.google.safe_search", true)
	v.SetDefault("search.providers.google.timeout", 10)
	v.SetDefault("search.providers.firecrawl.type", "firecrawl")
	v.SetDefault("search.providers.firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("search.providers.firecrawl.max_results", 5)
	v.SetDefault("search.providers.firecrawl.timeout", 10)

	v.SetDefault("agent.max_rounds", 6)
	v.SetDefault("review.max_rounds", 10)

	v.SetDefault("oauth.pending_ttl", 600)
	v.SetDefault("oauth.http_timeout", 15)

	// Platform defaults
	v.SetDefault("platforms.linkedin.enabled", true)
	v.SetDefault("platforms.linkedin.scopes", []string{"openid", "profile", "email", "w_member_social"})
	v.SetDefault("platforms.linkedin.max_length", 3000)
	v.SetDefault("platforms.linkedin.hashtag_policy", "professional")
	v.SetDefault("platforms.x.enabled", true)
	v.SetDefault("platforms.x.scopes", []string{"tweet.read", "users.read", "tweet.write", "offline.access"})
	v.SetDefault("platforms.x.max_length", 280)
	v.SetDefault("platforms.x.hashtag_policy", "smart")

	v.SetDefault("publish.rate_per_minute", 6)
	v.SetDefault("publish.burst", 2)
	v.SetDefault("publish.timeout", 15)

	v.SetDefault("notify.subject_prefix", "research2post.posts")
}

// Validate reports every missing secret or required parameter at once.
func (c *Config) Validate() error {
	var missing []string

	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key")
	}
	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		missing = append(missing, "llm.base_url/llm.model")
	}

	hasSearch := false
	for _, p := range c.Search.Providers {
		if p.APIKey != "" {
			hasSearch = true
			break
		}
	}
	if !hasSearch {
		missing = append(missing, "search.providers.<name>.api_key")
	}

	check := func(name string, p PlatformConfig) {
		if !p.Enabled {
			return
		}
		if p.ClientID == "" {
			missing = append(missing, "platforms."+name+".client_id")
		}
		if p.ClientSecret == "" {
			missing = append(missing, "platforms."+name+".client_secret")
		}
		if p.RedirectURI == "" {
			missing = append(missing, "platforms."+name+".redirect_uri")
		}
	}
	check("linkedin", c.Platforms.LinkedIn)
	check("x", c.Platforms.X)

	switch c.Storage.Driver {
	case "bolt":
		if c.Storage.Path == "" {
			missing = append(missing, "storage.path")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			missing = append(missing, "storage.dsn")
		}
	default:
		return domain.Configuration(fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}

	if len(missing) > 0 {
		return domain.Configuration("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}
