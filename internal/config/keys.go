package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "BUGBUSTER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "BUGBUSTER_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "server.allowed_origins", typ: kString, env: "BUGBUSTER_SERVER_ALLOWED_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.AllowedOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AllowedOrigins },
	},
	{
		key: "log.level", typ: kString, env: "BUGBUSTER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BUGBUSTER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "store.backend", typ: kString, env: "BUGBUSTER_STORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Store.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Backend },
	},
	{
		key: "store.file", typ: kString, env: "BUGBUSTER_STORE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Store.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.File },
	},
	{
		key: "mongo.uri", typ: kString, env: "BUGBUSTER_MONGO_URI",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Mongo.URI = v.(string) },
		extract: func(cfg Config) any { return cfg.Mongo.URI },
	},
	{
		key: "mongo.database", typ: kString, env: "BUGBUSTER_MONGO_DATABASE",
		apply:   func(cfg *Config, v any) { cfg.Mongo.Database = v.(string) },
		extract: func(cfg Config) any { return cfg.Mongo.Database },
	},
	{
		key: "mongo.defects_collection", typ: kString, env: "BUGBUSTER_MONGO_DEFECTS_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Mongo.DefectsCollection = v.(string) },
		extract: func(cfg Config) any { return cfg.Mongo.DefectsCollection },
	},
	{
		key: "mongo.incidents_collection", typ: kString, env: "BUGBUSTER_MONGO_INCIDENTS_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Mongo.IncidentsCollection = v.(string) },
		extract: func(cfg Config) any { return cfg.Mongo.IncidentsCollection },
	},
	{
		key: "ollama.base_url", typ: kString, env: "BUGBUSTER_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "BUGBUSTER_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "generation.backend", typ: kString, env: "BUGBUSTER_GENERATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Backend },
	},
	{
		key: "generation.model", typ: kString, env: "BUGBUSTER_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.base_url", typ: kString, env: "BUGBUSTER_GENERATION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generation.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.BaseURL },
	},
	{
		key: "generation.api_key", typ: kString, env: "BUGBUSTER_GENERATION_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generation.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.APIKey },
	},
	{
		key: "generation.region", typ: kString, env: "BUGBUSTER_GENERATION_REGION",
		apply:   func(cfg *Config, v any) { cfg.Generation.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Region },
	},
	{
		key: "generation.timeout", typ: kString, env: "BUGBUSTER_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "BUGBUSTER_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.threshold", typ: kFloat, env: "BUGBUSTER_RETRIEVAL_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.Threshold },
	},
	{
		key: "links.jira_base_url", typ: kString, env: "BUGBUSTER_JIRA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Links.JiraBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Links.JiraBaseURL },
	},
	{
		key: "links.servicenow_url", typ: kString, env: "BUGBUSTER_SERVICENOW_URL",
		apply:   func(cfg *Config, v any) { cfg.Links.ServiceNowURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Links.ServiceNowURL },
	},
	{
		key: "conversation.max_turns", typ: kInt, env: "BUGBUSTER_CONVERSATION_MAX_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Conversation.MaxTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.MaxTurns },
	},
	{
		key: "conversation.prompt_turns", typ: kInt, env: "BUGBUSTER_CONVERSATION_PROMPT_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Conversation.PromptTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.PromptTurns },
	},
	{
		key: "conversation.max_sessions", typ: kInt, env: "BUGBUSTER_CONVERSATION_MAX_SESSIONS",
		apply:   func(cfg *Config, v any) { cfg.Conversation.MaxSessions = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.MaxSessions },
	},
	{
		key: "admin.token", typ: kString, env: "BUGBUSTER_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Admin.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Admin.Token },
	},
	{
		key: "servicenow.user", typ: kString, env: "BUGBUSTER_SERVICENOW_USER",
		apply:   func(cfg *Config, v any) { cfg.ServiceNow.User = v.(string) },
		extract: func(cfg Config) any { return cfg.ServiceNow.User },
	},
	{
		key: "servicenow.password", typ: kString, env: "BUGBUSTER_SERVICENOW_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.ServiceNow.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.ServiceNow.Password },
	},
	{
		key: "servicenow.caller", typ: kString, env: "BUGBUSTER_SERVICENOW_CALLER",
		apply:   func(cfg *Config, v any) { cfg.ServiceNow.Caller = v.(string) },
		extract: func(cfg Config) any { return cfg.ServiceNow.Caller },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secret keys still empty after env overrides from the
// secrets store.
func applySecrets(cfg *Config, ss secretStore) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if v, err := ss.Get("bugbuster", s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
