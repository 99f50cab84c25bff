package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration. It is built once at startup and
// passed down explicitly; nothing mutates it after Validate.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"   yaml:"engine"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"  yaml:"fetcher"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"  yaml:"storage"`
	Login    LoginConfig    `mapstructure:"login"    yaml:"login"`
	Spiders  []SpiderConfig `mapstructure:"spiders"  yaml:"spiders,omitempty"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
}

// EngineConfig controls the crawl loop.
type EngineConfig struct {
	Concurrency      int           `mapstructure:"concurrency"        yaml:"concurrency"`
	MaxDepth         int           `mapstructure:"max_depth"          yaml:"max_depth"` // 0 = unlimited
	MaxPages         int           `mapstructure:"max_pages"          yaml:"max_pages"` // 0 = unlimited
	RequestTimeout   time.Duration `mapstructure:"request_timeout"    yaml:"request_timeout"`
	PolitenessDelay  time.Duration `mapstructure:"politeness_delay"   yaml:"politeness_delay"`
	RespectRobotsTxt bool          `mapstructure:"respect_robots_txt" yaml:"respect_robots_txt"`
	MaxRetries       int           `mapstructure:"max_retries"        yaml:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"        yaml:"retry_delay"`
	UserAgents       []string      `mapstructure:"user_agents"        yaml:"user_agents"`
}

// FetcherConfig controls the request fetcher.
type FetcherConfig struct {
	Type            string        `mapstructure:"type"              yaml:"type"`
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	Stealth         bool          `mapstructure:"stealth"           yaml:"stealth"` // browser fetcher only
}

// ParseRule defines a single field extraction rule.
type ParseRule struct {
	Name      string `mapstructure:"name"      yaml:"name"`
	Selector  string `mapstructure:"selector"  yaml:"selector"`
	Type      string `mapstructure:"type"      yaml:"type"` // css, xpath
	Attribute string `mapstructure:"attribute" yaml:"attribute,omitempty"`
	Multiple  bool   `mapstructure:"multiple"  yaml:"multiple,omitempty"`
}

// PipelineConfig lists stages applied to every spider's records before the
// spider's own stages.
type PipelineConfig struct {
	Middlewares []MiddlewareConfig `mapstructure:"middlewares" yaml:"middlewares"`
}

// MiddlewareConfig defines a single pipeline stage.
type MiddlewareConfig struct {
	Name    string         `mapstructure:"name"    yaml:"name,omitempty"`
	Type    string         `mapstructure:"type"    yaml:"type"`
	Schema  string         `mapstructure:"schema"  yaml:"schema,omitempty"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// StorageConfig controls output. For the "html" type OutputPath is a
// directory; for every other type it is a file path or a directory that
// receives <spider>.<type>.
type StorageConfig struct {
	Type       string `mapstructure:"type"        yaml:"type"`
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	Overwrite  bool   `mapstructure:"overwrite"   yaml:"overwrite"`
	FilePrefix string `mapstructure:"file_prefix" yaml:"file_prefix,omitempty"` // html dumps only
}

// LoginConfig drives the one-shot form login.
type LoginConfig struct {
	URL           string `mapstructure:"url"            yaml:"url"`
	FormSelector  string `mapstructure:"form_selector"  yaml:"form_selector"`
	Username      string `mapstructure:"username"       yaml:"username"`
	Password      string `mapstructure:"password"       yaml:"-"`
	UsernameField string `mapstructure:"username_field" yaml:"username_field"`
	PasswordField string `mapstructure:"password_field" yaml:"password_field"`
	SuccessMarker string `mapstructure:"success_marker" yaml:"success_marker"`
	AfterLogin    string `mapstructure:"after_login"    yaml:"after_login"`
}

// SpiderConfig describes one site: where to start, how to cut the page
// into items, which fields to extract and how to paginate.
type SpiderConfig struct {
	Name           string             `mapstructure:"name"            yaml:"name"`
	AllowedDomains []string           `mapstructure:"allowed_domains" yaml:"allowed_domains,omitempty"`
	StartURLs      []string           `mapstructure:"start_urls"      yaml:"start_urls"`
	Schema         string             `mapstructure:"schema"          yaml:"schema"`
	ItemSelector   string             `mapstructure:"item_selector"   yaml:"item_selector,omitempty"`
	Rules          []ParseRule        `mapstructure:"rules"           yaml:"rules,omitempty"`
	NextSelector   string             `mapstructure:"next_selector"   yaml:"next_selector,omitempty"`
	Pipeline       []MiddlewareConfig `mapstructure:"pipeline"        yaml:"pipeline,omitempty"`
	Feed           *StorageConfig     `mapstructure:"feed"            yaml:"feed,omitempty"`
	RequiresLogin  bool               `mapstructure:"requires_login"  yaml:"requires_login,omitempty"`
}

// Fields returns the rule names in declaration order.
func (s SpiderConfig) Fields() []string {
	fields := make([]string, 0, len(s.Rules))
	for _, r := range s.Rules {
		fields = append(fields, r.Name)
	}
	return fields
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Concurrency:      4,
			RequestTimeout:   30 * time.Second,
			RespectRobotsTxt: true,
			MaxRetries:       2,
			RetryDelay:       time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Fetcher: FetcherConfig{
			Type:            "http",
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
		},
		Storage: StorageConfig{
			Type:       "jsonl",
			OutputPath: "./output",
		},
		Login: LoginConfig{
			URL:           "https://quotes.toscrape.com/login",
			FormSelector:  "form",
			Username:      "admin",
			Password:      "admin",
			UsernameField: "username",
			PasswordField: "password",
			SuccessMarker: "Logout",
			AfterLogin:    "/tag/humor/",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
