// Package config loads auth-agent settings from defaults, a YAML file, .env
// files, the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/auth-agent/auth-agent-cli/internal/admin"
	"github.com/auth-agent/auth-agent-cli/internal/agent"
	"github.com/auth-agent/auth-agent-cli/internal/logging"
	"github.com/auth-agent/auth-agent-cli/internal/website"
)

const (
	EnvPrefix     = "AUTH_AGENT"
	EnvConfigPath = "AUTH_AGENT_CONFIG"

	DefaultServerURL = "https://api.auth-agent.com"
	defaultEnvFile   = ".env"
)

type Config struct {
	ServerURL    string        `mapstructure:"server_url" yaml:"server_url"`
	AllowedHosts []string      `mapstructure:"allowed_hosts" yaml:"allowed_hosts,omitempty"`
	Agent        AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Flow         FlowConfig    `mapstructure:"flow" yaml:"flow"`
	Website      WebsiteConfig `mapstructure:"website" yaml:"website"`
	Admin        AdminConfig   `mapstructure:"admin" yaml:"admin"`
}

type AgentConfig struct {
	ID     string `mapstructure:"id" yaml:"id"`
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`
	Model  string `mapstructure:"model" yaml:"model"`
}

type FlowConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Transport      string        `mapstructure:"transport" yaml:"transport"` // resty, http
	Fetcher        string        `mapstructure:"fetcher" yaml:"fetcher"`     // http, colly, browser
	BrowserURL     string        `mapstructure:"browser_url" yaml:"browser_url,omitempty"`
}

type WebsiteConfig struct {
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret,omitempty"`
	RedirectURI  string   `mapstructure:"redirect_uri" yaml:"redirect_uri"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes,omitempty"`
}

type AdminConfig struct {
	Token    string `mapstructure:"token" yaml:"token,omitempty"`
	RetryMax int    `mapstructure:"retry_max" yaml:"retry_max"`
}

// Options selects the sources Load reads besides the environment.
type Options struct {
	// ConfigFile is an explicit YAML file. It must exist when set.
	ConfigFile string
	// EnvFiles are loaded into the environment without overriding it.
	// When empty, ./.env is loaded if present.
	EnvFiles []string
	// Flags are bound by name, see flagKeys.
	Flags *pflag.FlagSet
}

// envKeys lists each setting with the extra environment names it accepts.
// AUTH_AGENT_<KEY> is always accepted first.
var envKeys = map[string][]string{
	"server_url":            nil,
	"allowed_hosts":         nil,
	"agent.id":              {"AGENT_ID"},
	"agent.secret":          {"AGENT_SECRET"},
	"agent.model":           {"AGENT_MODEL"},
	"flow.poll_interval":    nil,
	"flow.timeout":          nil,
	"flow.request_timeout":  nil,
	"flow.user_agent":       nil,
	"flow.transport":        nil,
	"flow.fetcher":          nil,
	"flow.browser_url":      nil,
	"website.client_id":     {"AUTH_AGENT_CLIENT_ID"},
	"website.client_secret": {"AUTH_AGENT_CLIENT_SECRET"},
	"website.redirect_uri":  {"AUTH_AGENT_REDIRECT_URI"},
	"website.scopes":        nil,
	"admin.token":           {"AUTH_AGENT_ADMIN_TOKEN"},
	"admin.retry_max":       nil,
}

// flagKeys maps command-line flag names to settings.
var flagKeys = map[string]string{
	"server":          "server_url",
	"allowed-host":    "allowed_hosts",
	"agent-id":        "agent.id",
	"agent-secret":    "agent.secret",
	"model":           "agent.model",
	"poll-interval":   "flow.poll_interval",
	"timeout":         "flow.timeout",
	"request-timeout": "flow.request_timeout",
	"user-agent":      "flow.user_agent",
	"transport":       "flow.transport",
	"fetcher":         "flow.fetcher",
	"browser-url":     "flow.browser_url",
	"client-id":       "website.client_id",
	"client-secret":   "website.client_secret",
	"redirect-uri":    "website.redirect_uri",
	"scope":           "website.scopes",
	"admin-token":     "admin.token",
	"retry-max":       "admin.retry_max",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("agent.model", agent.DefaultModel)
	v.SetDefault("flow.poll_interval", agent.DefaultPollInterval)
	v.SetDefault("flow.timeout", agent.DefaultTimeout)
	v.SetDefault("flow.request_timeout", agent.DefaultRequestTimeout)
	v.SetDefault("flow.user_agent", agent.DefaultUserAgent)
	v.SetDefault("flow.transport", "resty")
	v.SetDefault("flow.fetcher", "http")
	v.SetDefault("website.redirect_uri", "http://localhost:8765/callback")
	v.SetDefault("website.scopes", strings.Fields(website.DefaultScope))
	v.SetDefault("admin.retry_max", 3)
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".auth-agent", "config.yaml")
	}
	return filepath.Join(dir, "auth-agent", "config.yaml")
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	path := opts.ConfigFile
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envKeys {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.AllowedHosts = splitList(cfg.AllowedHosts)
	cfg.Website.Scopes = splitList(cfg.Website.Scopes)
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", defaultEnvFile, err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// splitList accepts both YAML lists and comma or space separated strings.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, f := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	if err := agent.ValidateHTTPURL(c.ServerURL); err != nil {
		return fmt.Errorf("server_url: %w", err)
	}
	if c.Flow.PollInterval < 0 {
		return fmt.Errorf("flow.poll_interval must not be negative")
	}
	if c.Flow.Timeout <= 0 {
		return fmt.Errorf("flow.timeout must be positive")
	}
	if c.Flow.RequestTimeout <= 0 {
		return fmt.Errorf("flow.request_timeout must be positive")
	}
	switch c.Flow.Transport {
	case "resty", "http":
	default:
		return fmt.Errorf("flow.transport must be resty or http, got %q", c.Flow.Transport)
	}
	switch c.Flow.Fetcher {
	case "http", "colly", "browser":
	default:
		return fmt.Errorf("flow.fetcher must be http, colly or browser, got %q", c.Flow.Fetcher)
	}
	if c.Admin.RetryMax < 0 {
		return fmt.Errorf("admin.retry_max must not be negative")
	}
	return nil
}

// ValidateAgent checks that agent credentials are present.
func (c *Config) ValidateAgent() error {
	if c.Agent.ID == "" || c.Agent.Secret == "" {
		return fmt.Errorf("agent credentials missing: set AGENT_ID and AGENT_SECRET or pass --agent-id/--agent-secret")
	}
	return nil
}

// ValidateWebsite checks that website client settings are present.
func (c *Config) ValidateWebsite() error {
	if c.Website.ClientID == "" {
		return fmt.Errorf("client id missing: set AUTH_AGENT_CLIENT_ID or pass --client-id")
	}
	return website.ValidateRedirectURI(c.Website.RedirectURI)
}

// FlowConfig builds the flow client configuration, including the selected
// transport and page fetcher.
func (c *Config) FlowConfig(logger *logging.Logger) (agent.FlowConfig, error) {
	fc := agent.DefaultFlowConfig()
	fc.Credentials = agent.Credentials{
		AgentID:     c.Agent.ID,
		AgentSecret: agent.Secret(c.Agent.Secret),
		Model:       c.Agent.Model,
	}
	fc.PollInterval = c.Flow.PollInterval
	fc.Timeout = c.Flow.Timeout
	fc.RequestTimeout = c.Flow.RequestTimeout
	fc.UserAgent = c.Flow.UserAgent
	fc.AllowedHosts = c.AllowedHosts
	fc.Logger = logger

	transport, err := agent.NewTransport(c.Flow.Transport, fc)
	if err != nil {
		return fc, err
	}
	fc.Transport = transport

	fetcher, err := agent.NewPageFetcher(c.Flow.Fetcher, fc, transport, c.Flow.BrowserURL)
	if err != nil {
		return fc, err
	}
	fc.PageFetcher = fetcher
	return fc, nil
}

// WebsiteConfig builds the website client configuration.
func (c *Config) WebsiteConfig(logger *logging.Logger) website.Config {
	return website.Config{
		ServerURL:    c.ServerURL,
		ClientID:     c.Website.ClientID,
		ClientSecret: c.Website.ClientSecret,
		RedirectURI:  c.Website.RedirectURI,
		Scopes:       c.Website.Scopes,
		AllowedHosts: c.AllowedHosts,
		Timeout:      c.Flow.RequestTimeout,
		UserAgent:    c.Flow.UserAgent,
		Logger:       logger,
	}
}

// AdminConfig builds the admin API client configuration.
func (c *Config) AdminConfig(logger *logging.Logger) admin.Config {
	return admin.Config{
		BaseURL:    c.ServerURL,
		AdminToken: c.Admin.Token,
		RetryMax:   c.Admin.RetryMax,
		Timeout:    c.Flow.RequestTimeout,
		Logger:     logger,
	}
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.AllowedHosts = append([]string(nil), c.AllowedHosts...)
	out.Website.Scopes = append([]string(nil), c.Website.Scopes...)
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[REDACTED]"
	}
	out.Agent.Secret = mask(c.Agent.Secret)
	out.Website.ClientSecret = mask(c.Website.ClientSecret)
	out.Admin.Token = mask(c.Admin.Token)
	return &out
}

// YAML renders the redacted configuration.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Save writes the configuration, secrets included, to path with owner-only permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
