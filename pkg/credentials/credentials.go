// Package credentials stores upstream API keys in credentials.toml, next to
// config.toml, so they stay out of the shareable config file.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/relay/pkg/dotdir"
)

const (
	credentialsFile = "credentials.toml"

	currentVersion = 0
)

const (
	UpstreamOpenAI = "openai"
	UpstreamGemini = "gemini"
)

var upstreamEnvVars = map[string]string{
	UpstreamOpenAI: "OPENAI_API_KEY",
	UpstreamGemini: "GEMINI_API_KEY",
}

// Manager reads and writes credentials.toml in the .relay/ directory.
type Manager struct {
	targetPath string
}

// NewManager creates a Manager. A non-empty override is used as the .relay/
// directory; otherwise the usual resolution applies and ~/.relay/ is
// created when nothing is found.
func NewManager(override string) (*Manager, error) {
	ddm := dotdir.NewManager()

	target, err := ddm.Target(override)
	if err != nil {
		return nil, err
	}

	if target == "" {
		target, err = ddm.Init("")
		if err != nil {
			return nil, err
		}
	}

	return &Manager{targetPath: filepath.Join(target, credentialsFile)}, nil
}

// Load reads credentials.toml. A missing file yields empty Credentials.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Credentials{
				Version:  currentVersion,
				Upstream: make(map[string]UpstreamKey),
			}, nil
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	creds := &Credentials{}
	if err := toml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if creds.Upstream == nil {
		creds.Upstream = make(map[string]UpstreamKey)
	}

	return creds, nil
}

// Save writes credentials.toml with 0600 permissions.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil {
		return errors.New("cannot save nil credentials")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.WriteFile(m.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	return nil
}

func (m *Manager) SetKey(upstream, key string) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}

	creds.Upstream[upstream] = UpstreamKey{APIKey: key}
	return m.Save(creds)
}

// GetKey returns the stored key for upstream, or "" when none is stored.
func (m *Manager) GetKey(upstream string) (string, error) {
	creds, err := m.Load()
	if err != nil {
		return "", err
	}

	return creds.Upstream[upstream].APIKey, nil
}

func (m *Manager) RemoveKey(upstream string) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}

	delete(creds.Upstream, upstream)
	return m.Save(creds)
}

// List returns the names of upstreams with a stored key, sorted.
func (m *Manager) List() ([]string, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(creds.Upstream))
	for name := range creds.Upstream {
		names = append(names, name)
	}
	slices.Sort(names)

	return names, nil
}

func (m *Manager) GetTarget() string {
	return m.targetPath
}

// UpstreamFor names the stored key a provider talking to baseURL needs.
// Gemini's OpenAI compatible endpoint is served by the openai provider but
// takes a Gemini key. Returns "" for providers without credentials.
func UpstreamFor(provider, baseURL string) string {
	if provider != UpstreamOpenAI {
		return ""
	}

	if u, err := url.Parse(baseURL); err == nil && strings.HasSuffix(u.Hostname(), "googleapis.com") {
		return UpstreamGemini
	}
	return UpstreamOpenAI
}

// EnvVarFor returns the conventional environment variable for upstream.
func EnvVarFor(upstream string) string {
	return upstreamEnvVars[upstream]
}

func SupportedUpstreams() []string {
	return []string{UpstreamGemini, UpstreamOpenAI}
}

func IsSupportedUpstream(upstream string) bool {
	return slices.Contains(SupportedUpstreams(), upstream)
}

// Lookup returns the stored key for upstream without creating any directory
// when no .relay/ directory exists.
func Lookup(override, upstream string) (string, error) {
	target, err := dotdir.NewManager().Target(override)
	if err != nil || target == "" {
		return "", err
	}

	return (&Manager{targetPath: filepath.Join(target, credentialsFile)}).GetKey(upstream)
}
