// Package config handles Porter configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./porter.yaml, ~/.config/porter/porter.yaml, /etc/porter/porter.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"porter.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "porter", "porter.yaml"))
	}

	paths = append(paths, "/etc/porter/porter.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Porter configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	Reasoning    ReasoningConfig    `yaml:"reasoning"`
	Messaging    MessagingConfig    `yaml:"messaging"`
	Directory    DirectoryConfig    `yaml:"directory"`
	Search       SearchConfig       `yaml:"search"`
	Business     BusinessConfig     `yaml:"business"`
	Conversation ConversationConfig `yaml:"conversation"`
	Archive      ArchiveConfig      `yaml:"archive"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the webhook server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8480
}

// ReasoningConfig defines the LLM API boundary.
type ReasoningConfig struct {
	BaseURL string `yaml:"base_url"` // OpenAI-compatible endpoint
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// MessagingConfig defines the outbound message provider and channel limits.
type MessagingConfig struct {
	BaseURL string `yaml:"base_url"` // provider send endpoint
	APIKey  string `yaml:"api_key"`
	From    string `yaml:"from"` // sending channel address

	// ChunkLimit is the maximum characters per outbound message chunk.
	// Default 300.
	ChunkLimit int `yaml:"chunk_limit"`
	// ChunkDelayMS is the pause between ordered chunks. Default 500.
	ChunkDelayMS int `yaml:"chunk_delay_ms"`
	// RateLimit is inbound messages per sender per minute; 0 = unlimited.
	RateLimit int `yaml:"rate_limit"`
}

// DirectoryConfig defines the identity resolution source. Exactly one of
// VCardFile or CardDAV should be set; when both are empty, senders resolve
// to an anonymous context.
type DirectoryConfig struct {
	VCardFile string        `yaml:"vcard_file"`
	CardDAV   CardDAVConfig `yaml:"carddav"`
}

// CardDAVConfig defines a remote CardDAV address book.
type CardDAVConfig struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AddressBook string `yaml:"address_book"` // collection path, e.g. /contacts/default/
}

// SearchConfig defines the property search provider chain.
type SearchConfig struct {
	PropertyURL    string `yaml:"property_url"` // Provider A: broad coverage
	PropertyAPIKey string `yaml:"property_api_key"`
	RentalsURL     string `yaml:"rentals_url"` // Provider B: residential rentals
	RentalsAPIKey  string `yaml:"rentals_api_key"`
	WebSearchURL   string `yaml:"web_search_url"` // Provider C: generic web search
	// TimeoutMS bounds each provider call. Default 3000.
	TimeoutMS int `yaml:"timeout_ms"`
}

// BusinessConfig defines the business data provider.
type BusinessConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ConversationConfig defines conversation memory limits.
type ConversationConfig struct {
	// TTLMinutes is how long an idle conversation survives. Default 120.
	TTLMinutes int `yaml:"ttl_minutes"`
	// MaxTurns caps retained turns per conversation. Default 40.
	MaxTurns int `yaml:"max_turns"`
}

// ArchiveConfig defines the transcript archive database.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: porter-archive.db in data dir
}

// MQTTConfig defines the optional operational status publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. mqtt://host:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"` // default "porter"
	// IntervalSec is the status publish interval. Default 60.
	IntervalSec int `yaml:"interval_sec"`
}

// Load reads and parses the config file at path, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8480
	}
	if c.Messaging.ChunkLimit == 0 {
		c.Messaging.ChunkLimit = 300
	}
	if c.Messaging.ChunkDelayMS == 0 {
		c.Messaging.ChunkDelayMS = 500
	}
	if c.Search.TimeoutMS == 0 {
		c.Search.TimeoutMS = 3000
	}
	if c.Conversation.TTLMinutes == 0 {
		c.Conversation.TTLMinutes = 120
	}
	if c.Conversation.MaxTurns == 0 {
		c.Conversation.MaxTurns = 40
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "porter"
	}
	if c.MQTT.IntervalSec == 0 {
		c.MQTT.IntervalSec = 60
	}
}

// Validate checks required fields. Reasoning is the only hard
// requirement; everything else degrades gracefully.
func (c *Config) Validate() error {
	if c.Reasoning.BaseURL == "" {
		return fmt.Errorf("reasoning.base_url is required")
	}
	if c.Reasoning.Model == "" {
		return fmt.Errorf("reasoning.model is required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled")
	}
	return nil
}

// ConversationTTL returns the configured TTL as a duration.
func (c *ConversationConfig) ConversationTTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// SearchTimeout returns the per-provider search timeout as a duration.
func (c *SearchConfig) SearchTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ChunkDelay returns the inter-chunk send delay as a duration.
func (c *MessagingConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMS) * time.Millisecond
}
