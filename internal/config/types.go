package config

import "time"

// Isolation selects how extension workers are run.
type Isolation string

const (
	IsolationProcess   Isolation = "process"
	IsolationInProcess Isolation = "inprocess"
)

// Config represents the complete lore configuration.
type Config struct {
	Mode       string           `yaml:"mode"`
	DataDir    string           `yaml:"data_dir"`
	DBPath     string           `yaml:"db_path"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"`
	Extensions ExtensionsConfig `yaml:"extensions"`
	API        APIConfig        `yaml:"api,omitempty"`
}

// ExtensionsConfig controls discovery and execution of extensions.
type ExtensionsConfig struct {
	// Dirs are scanned for extension.yaml manifests, first match wins.
	Dirs             []string      `yaml:"dirs"`
	Isolation        Isolation     `yaml:"isolation"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	Journal          *bool         `yaml:"journal,omitempty"`
	JournalRetention time.Duration `yaml:"journal_retention"`
}

// JournalEnabled reports whether settled calls are written to the database.
func (e ExtensionsConfig) JournalEnabled() bool {
	return e.Journal == nil || *e.Journal
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// APIKey is a bearer token granting every scope.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with every optional field filled in.
func Defaults() *Config {
	return &Config{
		Mode:      "cli",
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "json",
		Extensions: ExtensionsConfig{
			Dirs:             []string{"./extensions"},
			Isolation:        IsolationProcess,
			CallTimeout:      30 * time.Second,
			JournalRetention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8484",
		},
	}
}
