package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent relay configuration stored as config.toml
// in the .relay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version  int            `toml:"version"`
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Routes   []RouteConfig  `toml:"routes,omitempty"`
	Client   ClientConfig   `toml:"client"`
	Events   EventsConfig   `toml:"events"`
}

// ServerConfig holds settings for the streaming chat server.
type ServerConfig struct {
	Listen string `toml:"listen,omitempty"`

	// AllowModelOverride lets a request body's "model" replace the route model.
	AllowModelOverride bool `toml:"allow_model_override,omitempty"`
}

// UpstreamConfig describes the completion endpoint every route talks to.
type UpstreamConfig struct {
	Provider string `toml:"provider,omitempty"`
	BaseURL  string `toml:"base_url,omitempty"`
	Model    string `toml:"model,omitempty"`

	// APIKey is usually supplied through RELAY_UPSTREAM_API_KEY or
	// OPENAI_API_KEY rather than written to disk.
	APIKey string `toml:"api_key,omitempty"`

	// Timeout bounds a whole upstream stream, as a Go duration string.
	Timeout string `toml:"timeout,omitempty"`
}

// RouteConfig binds a chat endpoint path to a model.
type RouteConfig struct {
	Path  string `toml:"path"`
	Model string `toml:"model,omitempty"`
}

// ClientConfig holds settings for "relay chat", which connects to a running
// server. Target is a full URL (scheme + host + port).
type ClientConfig struct {
	Target  string `toml:"target,omitempty"`
	Path    string `toml:"path,omitempty"`
	Timeout string `toml:"timeout,omitempty"`
}

// EventsConfig selects where completed-turn telemetry is published.
type EventsConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"server.listen": {
		get: func(c *Config) string { return c.Server.Listen },
		set: func(c *Config, v string) error { c.Server.Listen = v; return nil },
	},
	"server.allow_model_override": {
		get: func(c *Config) string { return strconv.FormatBool(c.Server.AllowModelOverride) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for server.allow_model_override: %w", err)
			}
			c.Server.AllowModelOverride = b
			return nil
		},
	},
	"upstream.provider": {
		get: func(c *Config) string { return c.Upstream.Provider },
		set: func(c *Config, v string) error { c.Upstream.Provider = v; return nil },
	},
	"upstream.base_url": {
		get: func(c *Config) string { return c.Upstream.BaseURL },
		set: func(c *Config, v string) error { c.Upstream.BaseURL = v; return nil },
	},
	"upstream.model": {
		get: func(c *Config) string { return c.Upstream.Model },
		set: func(c *Config, v string) error { c.Upstream.Model = v; return nil },
	},
	"upstream.api_key": {
		get: func(c *Config) string { return c.Upstream.APIKey },
		set: func(c *Config, v string) error { c.Upstream.APIKey = v; return nil },
	},
	"upstream.timeout": {
		get: func(c *Config) string { return c.Upstream.Timeout },
		set: durationSetter("upstream.timeout", func(c *Config, v string) { c.Upstream.Timeout = v }),
	},
	"client.target": {
		get: func(c *Config) string { return c.Client.Target },
		set: func(c *Config, v string) error { c.Client.Target = v; return nil },
	},
	"client.path": {
		get: func(c *Config) string { return c.Client.Path },
		set: func(c *Config, v string) error { c.Client.Path = v; return nil },
	},
	"client.timeout": {
		get: func(c *Config) string { return c.Client.Timeout },
		set: durationSetter("client.timeout", func(c *Config, v string) { c.Client.Timeout = v }),
	},
	"events.provider": {
		get: func(c *Config) string { return c.Events.Provider },
		set: func(c *Config, v string) error { c.Events.Provider = v; return nil },
	},
	"events.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.Events.Brokers = splitList(v)
			return nil
		},
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
}

// durationSetter validates v as a Go duration before storing it.
func durationSetter(key string, store func(c *Config, v string)) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		store(c, v)
		return nil
	}
}

// splitList parses a comma-separated list, dropping blank entries.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
