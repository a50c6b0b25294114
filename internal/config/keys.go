package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
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
		key: "server.port", typ: kInt, env: "CAMPUSDESK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.backend", typ: kString, env: "CAMPUSDESK_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CAMPUSDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.requests_key", typ: kString, env: "CAMPUSDESK_STORAGE_REQUESTS_KEY",
		apply:   func(cfg *Config, v any) { cfg.Storage.RequestsKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RequestsKey },
	},
	{
		key: "storage.session_key", typ: kString, env: "CAMPUSDESK_STORAGE_SESSION_KEY",
		apply:   func(cfg *Config, v any) { cfg.Storage.SessionKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.SessionKey },
	},
	{
		key: "redis.url", typ: kString, env: "CAMPUSDESK_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Redis.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.URL },
	},
	{
		key: "gemini.url", typ: kString, env: "CAMPUSDESK_GEMINI_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.URL },
	},
	{
		key: "gemini.api_key", typ: kString, env: "CAMPUSDESK_GEMINI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CAMPUSDESK_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "CAMPUSDESK_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "CAMPUSDESK_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "retrieval.embedder", typ: kString, env: "CAMPUSDESK_RETRIEVAL_EMBEDDER",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Embedder = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Embedder },
	},
	{
		key: "retrieval.vectorizer_url", typ: kString, env: "CAMPUSDESK_RETRIEVAL_VECTORIZER_URL",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.VectorizerURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.VectorizerURL },
	},
	{
		key: "retrieval.vector_backend", typ: kString, env: "CAMPUSDESK_RETRIEVAL_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.VectorBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.VectorBackend },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "CAMPUSDESK_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "qdrant.url", typ: kString, env: "CAMPUSDESK_QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.URL },
	},
	{
		key: "qdrant.grpc_addr", typ: kString, env: "CAMPUSDESK_QDRANT_GRPC_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.GRPCAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.GRPCAddr },
	},
	{
		key: "qdrant.collection", typ: kString, env: "CAMPUSDESK_QDRANT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.Collection },
	},
	{
		key: "qdrant.api_key", typ: kString, env: "CAMPUSDESK_QDRANT_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Qdrant.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.APIKey },
	},
	{
		key: "ai.history_window", typ: kInt, env: "CAMPUSDESK_AI_HISTORY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.AI.HistoryWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.AI.HistoryWindow },
	},
	{
		key: "ai.temperature", typ: kFloat, env: "CAMPUSDESK_AI_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.AI.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.AI.Temperature },
	},
	{
		key: "timeouts.embed", typ: kDuration, env: "CAMPUSDESK_TIMEOUTS_EMBED",
		apply:   func(cfg *Config, v any) { cfg.Timeouts.Embed = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Timeouts.Embed },
	},
	{
		key: "timeouts.search", typ: kDuration, env: "CAMPUSDESK_TIMEOUTS_SEARCH",
		apply:   func(cfg *Config, v any) { cfg.Timeouts.Search = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Timeouts.Search },
	},
	{
		key: "timeouts.primary", typ: kDuration, env: "CAMPUSDESK_TIMEOUTS_PRIMARY",
		apply:   func(cfg *Config, v any) { cfg.Timeouts.Primary = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Timeouts.Primary },
	},
	{
		key: "timeouts.fallback", typ: kDuration, env: "CAMPUSDESK_TIMEOUTS_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Timeouts.Fallback = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Timeouts.Fallback },
	},
	{
		key: "sync.mode", typ: kString, env: "CAMPUSDESK_SYNC_MODE",
		apply:   func(cfg *Config, v any) { cfg.Sync.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.Mode },
	},
	{
		key: "sync.poll_interval", typ: kDuration, env: "CAMPUSDESK_SYNC_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.PollInterval },
	},
	{
		key: "sync.diff_mode", typ: kString, env: "CAMPUSDESK_SYNC_DIFF_MODE",
		apply:   func(cfg *Config, v any) { cfg.Sync.DiffMode = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.DiffMode },
	},
	{
		key: "session.ttl", typ: kDuration, env: "CAMPUSDESK_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "ingest.chunk_chars", typ: kInt, env: "CAMPUSDESK_INGEST_CHUNK_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkChars },
	},
	{
		key: "ingest.poll_interval", typ: kDuration, env: "CAMPUSDESK_INGEST_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "CAMPUSDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "CAMPUSDESK_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "log.max_size_mb", typ: kInt, env: "CAMPUSDESK_LOG_MAX_SIZE_MB",
		apply:   func(cfg *Config, v any) { cfg.Log.MaxSizeMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Log.MaxSizeMB },
	},
}

// parseValue converts raw text into the Go value a key expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return nil, fmt.Errorf("unknown key type %d", typ)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || (v == "" && s.typ != kString) {
				continue
			}
			pv, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, pv)
		}
	}
	return nil
}

// applyEnvOverrides applies every key whose environment variable is set.
// lookup returns "" for unset variables.
func applyEnvOverrides(cfg *Config, lookup func(string) string) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := lookup(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
