package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// PlaceholderGeminiKey is the value shipped in sample configs; it counts as unset.
const PlaceholderGeminiKey = "GEMINI_API_KEY"

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Gemini    GeminiConfig
	Ollama    OllamaConfig
	Retrieval RetrievalConfig
	Qdrant    QdrantConfig
	AI        AIConfig
	Timeouts  TimeoutConfig
	Sync      SyncConfig
	Session   SessionConfig
	Ingest    IngestConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	Backend     string // "sqlite" or "redis"
	DataDir     string
	RequestsKey string
	SessionKey  string
}

type RedisConfig struct {
	URL string
}

type GeminiConfig struct {
	URL    string
	APIKey string
}

// Usable reports whether the key can be sent to the primary model.
func (g GeminiConfig) Usable() bool {
	return g.APIKey != "" && g.APIKey != PlaceholderGeminiKey
}

type OllamaConfig struct {
	BaseURL    string
	Model      string
	EmbedModel string
}

type RetrievalConfig struct {
	Embedder      string // "vectorizer" or "ollama"
	VectorizerURL string
	VectorBackend string // "qdrant-http" or "qdrant-grpc"
	TopK          int
}

type QdrantConfig struct {
	URL        string
	GRPCAddr   string
	Collection string
	APIKey     string
}

// SearchURL is the REST points/search endpoint for the configured collection.
func (q QdrantConfig) SearchURL() string {
	return fmt.Sprintf("%s/collections/%s/points/search", q.URL, q.Collection)
}

type AIConfig struct {
	HistoryWindow int
	Temperature   float64
}

type TimeoutConfig struct {
	Embed    time.Duration
	Search   time.Duration
	Primary  time.Duration
	Fallback time.Duration
}

type SyncConfig struct {
	Mode         string // "memory", "redis" or "poll"
	PollInterval time.Duration
	DiffMode     string // "position" or "ticket"
}

type SessionConfig struct {
	TTL time.Duration
}

type IngestConfig struct {
	ChunkChars   int
	PollInterval time.Duration
}

type LogConfig struct {
	Level     string
	File      string
	MaxSizeMB int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			Backend:     "sqlite",
			DataDir:     defaultDataDir(),
			RequestsKey: "uob-visitor-requests",
			SessionKey:  "uob_security_session",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Gemini: GeminiConfig{
			URL: "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "qwen:0.5b",
			EmbedModel: "all-minilm",
		},
		Retrieval: RetrievalConfig{
			Embedder:      "vectorizer",
			VectorizerURL: "http://localhost:5000/vectorize",
			VectorBackend: "qdrant-http",
			TopK:          5,
		},
		Qdrant: QdrantConfig{
			URL:        "http://localhost:6333",
			GRPCAddr:   "localhost:6334",
			Collection: "uob_info",
		},
		AI: AIConfig{
			HistoryWindow: 8,
			Temperature:   0.5,
		},
		Timeouts: TimeoutConfig{
			Embed:    10 * time.Second,
			Search:   10 * time.Second,
			Primary:  30 * time.Second,
			Fallback: 60 * time.Second,
		},
		Sync: SyncConfig{
			Mode:         "memory",
			PollInterval: 5 * time.Second,
			DiffMode:     "position",
		},
		Session: SessionConfig{
			TTL: 30 * time.Minute,
		},
		Ingest: IngestConfig{
			ChunkChars:   800,
			PollInterval: 2 * time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/campusdesk/config.json, a .env file in the working
// directory, process environment variables (CAMPUSDESK_*), and the secrets
// file. Process environment wins over .env, which wins over the config file.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), newSecretsFile(secretsFilePath()), ".env")
}

// SecretStore reads and writes credentials kept outside the config file.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, sec SecretStore, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	dotenv := readDotenv(envFiles...)
	applyEnvOverrides(&cfg, func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	})

	if cfg.Gemini.APIKey == "" {
		if key, err := sec.Get("campusdesk", "gemini_api_key"); err == nil && key != "" {
			cfg.Gemini.APIKey = key
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readDotenv merges the given .env files; missing files are skipped.
func readDotenv(files ...string) map[string]string {
	out := make(map[string]string)
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v. Ignoring it.\n", f, err)
			}
			continue
		}
		for k, v := range vals {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 1 {
		return fmt.Errorf("invalid config: ai.temperature %v must be within [0, 1]", cfg.AI.Temperature)
	}
	if cfg.AI.HistoryWindow <= 0 {
		return fmt.Errorf("invalid config: ai.history_window must be positive, got %d", cfg.AI.HistoryWindow)
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("invalid config: retrieval.top_k must be positive, got %d", cfg.Retrieval.TopK)
	}
	switch cfg.Storage.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("invalid config: unknown storage.backend %q", cfg.Storage.Backend)
	}
	switch cfg.Retrieval.Embedder {
	case "vectorizer", "ollama":
	default:
		return fmt.Errorf("invalid config: unknown retrieval.embedder %q", cfg.Retrieval.Embedder)
	}
	switch cfg.Retrieval.VectorBackend {
	case "qdrant-http", "qdrant-grpc":
	default:
		return fmt.Errorf("invalid config: unknown retrieval.vector_backend %q", cfg.Retrieval.VectorBackend)
	}
	switch cfg.Sync.Mode {
	case "memory", "redis", "poll":
	default:
		return fmt.Errorf("invalid config: unknown sync.mode %q", cfg.Sync.Mode)
	}
	switch cfg.Sync.DiffMode {
	case "position", "ticket":
	default:
		return fmt.Errorf("invalid config: unknown sync.diff_mode %q", cfg.Sync.DiffMode)
	}
	if cfg.Sync.Mode == "redis" && cfg.Storage.Backend != "redis" {
		return fmt.Errorf("invalid config: sync.mode redis requires storage.backend redis")
	}
	return nil
}
