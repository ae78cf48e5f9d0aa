package credentials

// Credentials represents the stored upstream keys in credentials.toml.
type Credentials struct {
	Version  int                    `toml:"version"`
	Upstream map[string]UpstreamKey `toml:"upstream"`
}

// UpstreamKey holds the API key for one upstream.
type UpstreamKey struct {
	APIKey string `toml:"api_key"`
}
