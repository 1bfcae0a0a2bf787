package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFriendliBaseURL   = "https://api.friendli.ai"
	DefaultCompletionModel   = "meta-llama/Llama-3-8B-Instruct"
	DefaultEmbeddingModel    = "meta-llama/Llama-3-8B-Instruct"
	DefaultGeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultGeminiModel       = "gemini-2.5-flash"
	DefaultCollection        = "PageContext"
	DefaultChunkSize         = 1000
	DefaultTopK              = 3
	DefaultTemperature       = 0.4
	DefaultVectorDimension   = 4096
	DefaultUploadLimitBytes  = 32 << 20
	DefaultAddr              = "0.0.0.0:8000"
	defaultChromemPath       = "./chromemdb"
	defaultGeminiTimeout     = 30 * time.Second
	defaultCompletionTimeout = 60 * time.Second
)

// vector store backends
const (
	StoreChromem  = "chromem"
	StoreWeaviate = "weaviate"
	StorePgvector = "pgvector"
)

// embedding providers
const (
	EmbedFriendli = "friendli"
	EmbedOllama   = "ollama"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Friendli    FriendliConfig    `yaml:"friendli"`
	Gemini      GeminiConfig      `yaml:"gemini"`
	EmbedLLM    EmbedConfig       `yaml:"embed_llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	RAG         RAGConfig         `yaml:"rag"`
	Ingest      IngestConfig      `yaml:"ingest"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	Mode           string   `yaml:"mode"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type FriendliConfig struct {
	APIKey      string        `yaml:"api_key"`
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type GeminiConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmbedConfig selects the embedding backend. Key falls back to the Friendli key.
type EmbedConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Key      string `yaml:"key"`
}

type VectorStoreConfig struct {
	Type     string         `yaml:"type"`
	Chromem  ChromemConfig  `yaml:"chromem"`
	Weaviate WeaviateConfig `yaml:"weaviate"`
	Database DatabaseConfig `yaml:"database"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type WeaviateConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Class  string `yaml:"class"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver"`
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	Dimension int    `yaml:"dimension"`
	Debug     bool   `yaml:"debug"`
}

// IngestConfig indexes files matching a doublestar pattern at start-up and,
// with Watch, whenever they change.
type IngestConfig struct {
	Pattern string `yaml:"pattern"`
	Watch   bool   `yaml:"watch"`
}

type RAGConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	TopK      int `yaml:"top_k"`
}

// LoadConfig reads .env (if present), the YAML file at path and then applies
// environment overrides. A missing YAML file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the built-in configuration. Zero is a valid temperature, so
// it is preset here and only replaced by an explicit YAML value.
func Default() *Config {
	cfg := &Config{Friendli: FriendliConfig{Temperature: DefaultTemperature}}
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	setFromEnv(&cfg.Friendli.APIKey, "FRIENDLIAI_API_KEY")
	setFromEnv(&cfg.Friendli.Endpoint, "FRIENDLIAI_ENDPOINT")
	setFromEnv(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	setFromEnv(&cfg.VectorStore.Weaviate.URL, "WEAVIATE_URL")
	setFromEnv(&cfg.VectorStore.Weaviate.APIKey, "WEAVIATE_API_KEY")
	setFromEnv(&cfg.VectorStore.Database.URL, "DATABASE_URL")
	setFromEnv(&cfg.VectorStore.Type, "VECTOR_STORE")
	setFromEnv(&cfg.Server.Addr, "SERVER_ADDR")
	setFromEnv(&cfg.Log.Level, "LOG_LEVEL")
}

func setFromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = DefaultUploadLimitBytes
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Friendli.Model == "" {
		cfg.Friendli.Model = DefaultCompletionModel
	}
	if cfg.Friendli.Timeout == 0 {
		cfg.Friendli.Timeout = defaultCompletionTimeout
	}
	if cfg.Gemini.BaseURL == "" {
		cfg.Gemini.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = DefaultGeminiModel
	}
	if cfg.Gemini.Timeout == 0 {
		cfg.Gemini.Timeout = defaultGeminiTimeout
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = EmbedFriendli
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = DefaultEmbeddingModel
	}
	if cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = cfg.Friendli.APIKey
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = StoreChromem
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = defaultChromemPath
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = DefaultCollection
	}
	if cfg.VectorStore.Weaviate.Class == "" {
		cfg.VectorStore.Weaviate.Class = DefaultCollection
	}
	if cfg.VectorStore.Database.Dimension <= 0 {
		cfg.VectorStore.Database.Dimension = DefaultVectorDimension
	}
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = DefaultChunkSize
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = DefaultTopK
	}
}

// Validate reports configuration the service cannot start with.
func (c *Config) Validate() error {
	if c.Friendli.APIKey == "" {
		return errors.New("FRIENDLIAI_API_KEY environment variable is required")
	}
	switch c.VectorStore.Type {
	case StoreChromem, StoreWeaviate:
	case StorePgvector:
		if c.VectorStore.Database.URL == "" {
			return errors.New("vector_store.database.url is required for pgvector")
		}
	default:
		return fmt.Errorf("unknown vector store type: %q", c.VectorStore.Type)
	}
	switch c.EmbedLLM.Provider {
	case EmbedFriendli, EmbedOllama:
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.EmbedLLM.Provider)
	}
	return nil
}
