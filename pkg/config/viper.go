package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the RELAY_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (RELAY_SERVER_LISTEN, RELAY_UPSTREAM_MODEL, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
//
// The upstream credential, base URL and model additionally fall back to the
// conventional OPENAI_API_KEY, OPENAI_API_BASE and OPENAI_MODEL variables.
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: RELAY_SERVER_LISTEN, RELAY_UPSTREAM_API_KEY, etc.
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("upstream.api_key", "RELAY_UPSTREAM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("upstream.base_url", "RELAY_UPSTREAM_BASE_URL", "OPENAI_API_BASE")
	_ = v.BindEnv("upstream.model", "RELAY_UPSTREAM_MODEL", "OPENAI_MODEL")

	return v, nil
}

// Routes returns the configured routes, or DefaultRoutes() when none are set.
func Routes(v *viper.Viper) ([]RouteConfig, error) {
	var routes []RouteConfig
	if err := v.UnmarshalKey("routes", &routes); err != nil {
		return nil, fmt.Errorf("decoding routes: %w", err)
	}
	if len(routes) == 0 {
		return DefaultRoutes(), nil
	}
	for i, r := range routes {
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("routes[%d]: path %q must start with /", i, r.Path)
		}
	}
	return routes, nil
}

// UpstreamBaseURL returns upstream.base_url. The built-in base URL belongs to
// the default provider, so for any other provider it is treated as unset and
// the backend's own default applies.
func UpstreamBaseURL(v *viper.Viper) string {
	baseURL := v.GetString("upstream.base_url")
	if baseURL == defaultBaseURL && v.GetString("upstream.provider") != defaultProvider {
		return ""
	}
	return baseURL
}

// Brokers returns events.brokers. A TOML array and a comma-separated string
// (as set through RELAY_EVENTS_BROKERS) are both accepted.
func Brokers(v *viper.Viper) []string {
	var brokers []string
	for _, item := range v.GetStringSlice("events.brokers") {
		brokers = append(brokers, splitList(item)...)
	}
	return brokers
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Server
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.allow_model_override", d.Server.AllowModelOverride)

	// Upstream
	v.SetDefault("upstream.provider", d.Upstream.Provider)
	v.SetDefault("upstream.base_url", d.Upstream.BaseURL)
	v.SetDefault("upstream.model", d.Upstream.Model)
	v.SetDefault("upstream.api_key", d.Upstream.APIKey)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)

	// Client
	v.SetDefault("client.target", d.Client.Target)
	v.SetDefault("client.path", d.Client.Path)
	v.SetDefault("client.timeout", d.Client.Timeout)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}
