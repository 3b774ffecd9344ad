// Package config loads the phrasemark YAML configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/phrasemark/browser"
	"github.com/hazyhaar/phrasemark/monitor"
	"github.com/hazyhaar/phrasemark/phrase"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/selection"
	"github.com/hazyhaar/phrasemark/sink"
	"github.com/hazyhaar/phrasemark/watcher"
)

// Config is the top-level configuration.
type Config struct {
	// Database is the SQLite file holding the phrase registry.
	Database string `yaml:"database"`
	// Addr is the HTTP listen address of "serve".
	Addr string `yaml:"addr"`
	// APITokenHash is the bcrypt hash of the bearer token required for API
	// writes. See "phrasemark hash-token".
	APITokenHash string `yaml:"api_token_hash"`
	// MCPQUICAddr, when set, also serves the MCP tools over QUIC.
	MCPQUICAddr string `yaml:"mcp_quic_addr"`
	TLSCert     string `yaml:"tls_cert"`
	TLSKey      string `yaml:"tls_key"`
	// Debounce is the mutation watcher window.
	Debounce time.Duration `yaml:"debounce"`
	// RegistryPoll is how often external registry writes are looked for.
	RegistryPoll time.Duration `yaml:"registry_poll"`
	// AuditRetention is how long registry audit entries are kept.
	AuditRetention time.Duration `yaml:"audit_retention"`

	Selection SelectionConfig `yaml:"selection"`

	// Phrases are written to an empty registry on first run, in order.
	Phrases *phrase.Map `yaml:"phrases"`

	Fetch   FetchConfig   `yaml:"fetch"`
	Browser BrowserConfig `yaml:"browser"`
	Pages   []PageConfig  `yaml:"pages"`
	Sinks   []SinkConfig  `yaml:"sinks"`
}

// SelectionConfig tunes selection capture.
type SelectionConfig struct {
	MaxLength       int           `yaml:"max_length"`
	PromptTimeout   time.Duration `yaml:"prompt_timeout"`
	ToastDuration   time.Duration `yaml:"toast_duration"`
	TooltipDuration time.Duration `yaml:"tooltip_duration"`
	// Style is a CSS declaration list or a predefined style name.
	Style string `yaml:"style"`
}

// FetchConfig controls plain HTTP acquisition.
type FetchConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Level            string        `yaml:"level"` // headless | headful
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig is a page kept highlighted by "watch".
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string `yaml:"type"`    // stdout | webhook | dir
	URL     string `yaml:"url"`     // webhook
	Dir     string `yaml:"dir"`     // dir
	Retries int    `yaml:"retries"` // webhook
	// HTML includes snapshot HTML in stdout lines and webhook bodies.
	// Default: false for stdout, true for webhook.
	HTML *bool `yaml:"html"`
}

func (s SinkConfig) withHTML(def bool) bool {
	if s.HTML == nil {
		return def
	}
	return *s.HTML
}

// LoadFile reads and validates a YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used without a file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "phrasemark.db"
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Debounce <= 0 {
		c.Debounce = watcher.DefaultWindow
	}
	if c.RegistryPoll <= 0 {
		c.RegistryPoll = 2 * time.Second
	}
	if c.AuditRetention <= 0 {
		c.AuditRetention = 30 * 24 * time.Hour
	}
	if c.Selection.MaxLength <= 0 {
		c.Selection.MaxLength = selection.DefaultMaxLength
	}
	if c.Selection.PromptTimeout <= 0 {
		c.Selection.PromptTimeout = selection.DefaultPromptTimeout
	}
	if c.Selection.Style == "" {
		c.Selection.Style = phrase.DefaultStyle
	}
	if c.Phrases == nil {
		c.Phrases = phrase.NewMap()
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Browser.Level == "" {
		c.Browser.Level = "headless"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "" {
			c.Sinks[i].Type = "stdout"
		}
	}
}

// Validate reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	if _, err := browser.ParseLevel(c.Browser.Level); err != nil || c.Browser.Level == "http" {
		errs = append(errs, fmt.Errorf("config: browser.level %q: want headless or headful", c.Browser.Level))
	}
	seen := make(map[string]bool)
	for i, p := range c.Pages {
		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("config: pages[%d]: url %q is not http(s)", i, p.URL))
		}
		if p.ID != "" {
			if seen[p.ID] {
				errs = append(errs, fmt.Errorf("config: pages[%d]: duplicate id %q", i, p.ID))
			}
			seen[p.ID] = true
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: webhook needs url", i))
			}
		case "dir":
			if s.Dir == "" {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: dir needs dir", i))
			}
		default:
			errs = append(errs, fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	return errors.Join(errs...)
}

// SelectionStyle resolves Selection.Style: a predefined style name maps to
// its declarations, anything else is used as written.
func (c *Config) SelectionStyle() string {
	if s, ok := phrase.Lookup(c.Selection.Style); ok {
		return s
	}
	return phrase.SanitizeStyle(c.Selection.Style)
}

// SelectionConfig builds the selection machine settings.
func (c *Config) SelectionConfig(logger *slog.Logger) selection.Config {
	return selection.Config{
		MaxLength:       c.Selection.MaxLength,
		PromptTimeout:   c.Selection.PromptTimeout,
		ToastDuration:   c.Selection.ToastDuration,
		TooltipDuration: c.Selection.TooltipDuration,
		Style:           c.SelectionStyle(),
		Logger:          logger,
	}
}

// BrowserManager builds the browser manager settings.
func (c *Config) BrowserManager(logger *slog.Logger) browser.Config {
	level, _ := browser.ParseLevel(c.Browser.Level)
	return browser.Config{
		RemoteURL:        c.Browser.Remote,
		Level:            level,
		MemoryLimit:      c.Browser.MemoryLimit,
		RecycleInterval:  c.Browser.RecycleInterval,
		NavigateTimeout:  c.Browser.NavigateTimeout,
		ResourceBlocking: c.Browser.ResourceBlocking,
		XvfbDisplay:      c.Browser.XvfbDisplay,
		Logger:           logger,
	}
}

// Targets lists the watched pages.
func (c *Config) Targets() []monitor.Target {
	out := make([]monitor.Target, len(c.Pages))
	for i, p := range c.Pages {
		out[i] = monitor.Target{ID: p.ID, URL: p.URL}
	}
	return out
}

// BuildSinks creates the configured sinks behind a router. With no sinks
// configured, snapshots go to stdout.
func (c *Config) BuildSinks(logger *slog.Logger) (*sink.Router, error) {
	if len(c.Sinks) == 0 {
		return sink.NewRouter(logger, sink.NewStdout(nil, false)), nil
	}
	var sinks []sink.Sink
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
			sinks = append(sinks, sink.NewStdout(nil, s.withHTML(false)))
		case "webhook":
			opts := []sink.WebhookOption{
				sink.WithWebhookLogger(logger),
				sink.WithWebhookHTML(s.withHTML(true)),
			}
			if s.Retries > 0 {
				opts = append(opts, sink.WithWebhookRetries(s.Retries))
			}
			sinks = append(sinks, sink.NewWebhook(s.URL, opts...))
		case "dir":
			d, err := sink.NewDir(s.Dir)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, d)
		default:
			return nil, fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return sink.NewRouter(logger, sinks...), nil
}

// Seed initialises an empty registry: it writes the install defaults and
// then the configured phrases. Phrases already stored are left alone.
// It reports whether the registry was empty.
func (c *Config) Seed(ctx context.Context, st registry.Store) (bool, error) {
	fresh, err := registry.Seed(ctx, st)
	if err != nil {
		return false, err
	}
	if !fresh {
		return false, nil
	}
	for p, style := range c.Phrases.All() {
		if err := registry.PutPhrase(ctx, st, p, style, false); err != nil && !errors.Is(err, registry.ErrPhraseExists) {
			return true, err
		}
	}
	return true, nil
}
