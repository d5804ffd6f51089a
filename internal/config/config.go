package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Storage      StorageConfig
	Store        StoreConfig
	Mongo        MongoConfig
	Ollama       OllamaConfig
	Generation   GenerationConfig
	Retrieval    RetrievalConfig
	Links        LinksConfig
	Conversation ConversationConfig
	Admin        AdminConfig
	ServiceNow   ServiceNowConfig
}

type ServerConfig struct {
	Port           int
	MCPEnabled     bool
	AllowedOrigins string
}

// Origins splits AllowedOrigins on commas.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

// StoreConfig selects where defect records are loaded from at startup.
type StoreConfig struct {
	Backend string
	File    string
}

type MongoConfig struct {
	URI                 string
	Database            string
	DefectsCollection   string
	IncidentsCollection string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type GenerationConfig struct {
	Backend string
	Model   string
	BaseURL string
	APIKey  string
	Region  string
	Timeout string
}

// TimeoutDuration parses Timeout, falling back to 60s.
func (g GenerationConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(g.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

type RetrievalConfig struct {
	TopK      int
	Threshold float64
}

type LinksConfig struct {
	JiraBaseURL   string
	ServiceNowURL string
}

type ConversationConfig struct {
	MaxTurns    int
	PromptTurns int
	MaxSessions int
}

type AdminConfig struct {
	Token string
}

type ServiceNowConfig struct {
	User     string
	Password string
	Caller   string
}

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreFile   = "file"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8000,
			AllowedOrigins: "http://localhost:3000",
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Store: StoreConfig{
			Backend: StoreSQLite,
		},
		Mongo: MongoConfig{
			Database:            "bugbusters",
			DefectsCollection:   "defect_cause",
			IncidentsCollection: "servicenow_incidents",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "all-minilm",
		},
		Generation: GenerationConfig{
			Backend: "openai",
			Model:   "meta-llama/Llama-3.3-70B-Instruct-Turbo",
			BaseURL: "https://api.together.xyz/v1",
			Region:  "us-east-1",
			Timeout: "60s",
		},
		Retrieval: RetrievalConfig{
			TopK:      10,
			Threshold: 0.30,
		},
		Links: LinksConfig{
			JiraBaseURL: "https://nish09.atlassian.net/browse/",
		},
		Conversation: ConversationConfig{
			MaxTurns:    5,
			PromptTurns: 3,
			MaxSessions: 1024,
		},
		ServiceNow: ServiceNowConfig{
			Caller: "TestUser",
		},
	}
}

// Load reads configuration from the JSON config file, the secrets file and
// environment variables.
//
// The config file lives at $XDG_CONFIG_HOME/bugbuster/config.json. Secrets
// are never read from it: they come from BUGBUSTER_* environment variables or
// from $XDG_DATA_HOME/bugbuster/secrets.json.
//
// Environment variables override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretsReader{})
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, ss)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Generation.Backend {
	case "openai", "openrouter":
		if cfg.Generation.APIKey == "" {
			return fmt.Errorf("missing required config: generation API key for backend %q. "+
				"Set it via environment variable BUGBUSTER_GENERATION_API_KEY", cfg.Generation.Backend)
		}
	case "bedrock", "ollama":
	default:
		return fmt.Errorf("invalid generation.backend %q: must be openai, openrouter, bedrock or ollama", cfg.Generation.Backend)
	}

	switch cfg.Store.Backend {
	case StoreSQLite:
	case StoreMongo:
		if cfg.Mongo.URI == "" {
			return fmt.Errorf("missing required config: mongo URI. " +
				"Set it via environment variable BUGBUSTER_MONGO_URI")
		}
	case StoreFile:
		if cfg.Store.File == "" {
			return fmt.Errorf("missing required config: store.file for backend %q", StoreFile)
		}
	default:
		return fmt.Errorf("invalid store.backend %q: must be sqlite, mongo or file", cfg.Store.Backend)
	}

	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.Threshold < 0 || cfg.Retrieval.Threshold >= 1 {
		return fmt.Errorf("retrieval.threshold must be in [0,1), got %v", cfg.Retrieval.Threshold)
	}
	if cfg.Conversation.MaxTurns <= 0 || cfg.Conversation.PromptTurns <= 0 {
		return fmt.Errorf("conversation turn limits must be positive")
	}
	return nil
}

// secretsReader reads secrets from the on-disk secrets file.
type secretsReader struct{}

func (secretsReader) Get(service, account string) (string, error) {
	out, err := secretGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
