// Package servecmder provides the serve command that runs the streaming chat
// server.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/credentials"
	"github.com/papercomputeco/relay/pkg/llm/provider"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/proxy"
)

type serveCommander struct {
	listen             string
	providerType       string
	upstream           string
	model              string
	upstreamTimeout    time.Duration
	allowModelOverride bool
	eventsProvider     string
	eventsTopic        string
	debug              bool
	logJSON            bool
	configDir          string

	v      *viper.Viper
	logger *zap.Logger
}

// serveFlags is shared with the standalone relayd binary.
var serveFlags = config.FlagSet{
	config.FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "server.listen",
		Description: "Address for the relay to listen on",
	},
	config.FlagProvider: {
		Name:        "provider",
		Shorthand:   "p",
		ViperKey:    "upstream.provider",
		Description: "Upstream provider type (openai, ollama)",
	},
	config.FlagUpstream: {
		Name:        "upstream",
		Shorthand:   "u",
		ViperKey:    "upstream.base_url",
		Description: "Upstream base URL",
	},
	config.FlagModel: {
		Name:        "model",
		Shorthand:   "m",
		ViperKey:    "upstream.model",
		Description: "Model for routes that do not name one",
	},
	config.FlagUpstreamTimeout: {
		Name:        "upstream-timeout",
		ViperKey:    "upstream.timeout",
		Description: "Maximum duration of one streamed turn",
	},
	config.FlagModelOverride: {
		Name:        "allow-model-override",
		ViperKey:    "server.allow_model_override",
		Description: "Let a request body's model replace the route model",
	},
	config.FlagEventsProvider: {
		Name:        "events-provider",
		ViperKey:    "events.provider",
		Description: "Turn telemetry publisher (nop, kafka)",
	},
	config.FlagEventsTopic: {
		Name:        "events-topic",
		ViperKey:    "events.topic",
		Description: "Kafka topic for turn telemetry",
	},
}

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagProvider,
	config.FlagUpstream,
	config.FlagModel,
	config.FlagUpstreamTimeout,
	config.FlagModelOverride,
	config.FlagEventsProvider,
	config.FlagEventsTopic,
}

const serveLongDesc string = `Run the relay server.

Every configured route accepts a POST with the full conversation:

  {"messages": [{"role": "user", "content": "hi"}]}

and answers with an event stream, one "data: <token>" frame per model token,
terminated by "data: [DONE]" or "data: [ERROR]".

The default routes are /api/chat and /api/llm-chat, each bound to its own
model. Routes, upstream and credentials are read from config.toml in the
.relay/ directory and from RELAY_* environment variables. The credential
may also be supplied as OPENAI_API_KEY.

Supported provider types: openai, ollama`

const serveShortDesc string = "Run the relay server"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)
			cmder.v = v
			cmder.configDir = configDir
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagProvider, &cmder.providerType)
	config.AddStringFlag(cmd, serveFlags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, serveFlags, config.FlagModel, &cmder.model)
	config.AddDurationFlag(cmd, serveFlags, config.FlagUpstreamTimeout, &cmder.upstreamTimeout)
	config.AddBoolFlag(cmd, serveFlags, config.FlagModelOverride, &cmder.allowModelOverride)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventsProvider, &cmder.eventsProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventsTopic, &cmder.eventsTopic)
	cmd.Flags().BoolVar(&cmder.logJSON, "log-json", false, "Write logs as JSON lines")

	return cmd
}

func (c *serveCommander) run() error {
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithJSON(c.logJSON))
	defer func() { _ = c.logger.Sync() }()

	proxyConfig, streamer, err := c.buildServer()
	if err != nil {
		return err
	}

	p, err := proxy.New(*proxyConfig, streamer, c.logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			c.logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	// Channel to capture errors from the server goroutine
	errChan := make(chan error, 1)

	go func() {
		if err := p.Run(); err != nil {
			errChan <- fmt.Errorf("relay server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return nil
	}
}

// upstreamKey returns the configured credential, falling back to the key
// stored with "relay auth" for the upstream being called.
func (c *serveCommander) upstreamKey(providerType, baseURL string) string {
	if key := c.v.GetString("upstream.api_key"); key != "" {
		return key
	}

	upstream := credentials.UpstreamFor(providerType, baseURL)
	if upstream == "" {
		return ""
	}

	key, err := credentials.Lookup(c.configDir, upstream)
	if err != nil {
		c.logger.Warn("could not read stored credentials", zap.Error(err))
	}
	if key == "" {
		c.logger.Warn("no upstream credential configured, chat requests will fail with 500",
			zap.String("upstream", upstream),
			zap.String("hint", "run 'relay auth "+upstream+"' or set RELAY_UPSTREAM_API_KEY"),
		)
	}
	return key
}

// buildServer resolves the layered configuration into the relay's
// dependencies.
func (c *serveCommander) buildServer() (*proxy.Config, provider.Streamer, error) {
	v := c.v

	providerType := v.GetString("upstream.provider")
	baseURL := config.UpstreamBaseURL(v)

	streamer, err := provider.New(provider.Options{
		Type:    providerType,
		BaseURL: baseURL,
		APIKey:  c.upstreamKey(providerType, baseURL),
		Logger:  c.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating upstream client: %w", err)
	}

	routeConfigs, err := config.Routes(v)
	if err != nil {
		return nil, nil, err
	}
	routes := make([]proxy.Route, 0, len(routeConfigs))
	for _, r := range routeConfigs {
		routes = append(routes, proxy.Route{Path: r.Path, Model: r.Model})
	}

	publisher, err := newPublisher(v, c.logger)
	if err != nil {
		return nil, nil, err
	}

	return &proxy.Config{
		ListenAddr:         v.GetString("server.listen"),
		Routes:             routes,
		DefaultModel:       v.GetString("upstream.model"),
		AllowModelOverride: v.GetBool("server.allow_model_override"),
		UpstreamTimeout:    v.GetDuration("upstream.timeout"),
		Publisher:          publisher,
	}, streamer, nil
}
