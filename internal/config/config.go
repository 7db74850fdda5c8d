// Package config loads llmflow settings from defaults, an optional YAML file,
// a .env file, the environment and command-line flags, in increasing order
// of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LLMFLOW_LLM_PROVIDER.
const EnvPrefix = "LLMFLOW"

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Store     StoreConfig     `mapstructure:"store"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Dataframe DataframeConfig `mapstructure:"dataframe"`
	Server    ServerConfig    `mapstructure:"server"`

	// Tracing turns engine events into OpenTelemetry spans.
	Tracing bool `mapstructure:"tracing"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// LLMConfig selects the chat provider. An empty Model uses the provider's
// default model.
type LLMConfig struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	MaxTokens      int    `mapstructure:"max_tokens"`

	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	GoogleAPIKey    string `mapstructure:"google_api_key"`
}

// APIKey returns the key of the configured provider.
func (c LLMConfig) APIKey() string {
	switch c.Provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "google":
		return c.GoogleAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// EngineConfig holds graph engine limits. Retries apply to nodes that call a
// model; zero disables them.
type EngineConfig struct {
	MaxSteps       int           `mapstructure:"max_steps"`
	NodeTimeout    time.Duration `mapstructure:"node_timeout"`
	Retries        int           `mapstructure:"retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"` // memory, sqlite or mysql
	DSN     string `mapstructure:"dsn"`
}

type VectorConfig struct {
	Backend      string `mapstructure:"backend"` // memory or pgvector
	URL          string `mapstructure:"url"`
	Collection   string `mapstructure:"collection"`
	Dimensions   int    `mapstructure:"dimensions"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	K            int    `mapstructure:"k"`
}

// CacheConfig configures the Redis embedding cache. An empty Addr disables
// it.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type DataframeConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
	MaxRows       int           `mapstructure:"max_rows"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps persistent CLI flags to config keys.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"log-file":    "log.file",
	"with-caller": "log.with_caller",
	"provider":    "llm.provider",
	"model":       "llm.model",
	"store":       "store.backend",
	"store-dsn":   "store.dsn",
	"trace":       "tracing",
}

// SetDefaults registers every key with its default value. Viper only
// resolves environment overrides for keys it knows about.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.with_caller", false)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.google_api_key", "")

	v.SetDefault("engine.max_steps", 25)
	v.SetDefault("engine.node_timeout", 60*time.Second)
	v.SetDefault("engine.retries", 0)
	v.SetDefault("engine.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("engine.retry_max_delay", 10*time.Second)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.url", "")
	v.SetDefault("vector.collection", "documents")
	v.SetDefault("vector.dimensions", 1536)
	v.SetDefault("vector.chunk_size", 1000)
	v.SetDefault("vector.chunk_overlap", 200)
	v.SetDefault("vector.k", 4)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("dataframe.max_iterations", 8)
	v.SetDefault("dataframe.query_timeout", 20*time.Second)
	v.SetDefault("dataframe.max_rows", 200)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("tracing", false)
}

// Load reads the configuration into v. When path is empty, llmflow.yaml is
// looked up in the working directory, $HOME/.llmflow and /etc/llmflow, and
// a missing file is not an error. flags may be nil.
func Load(v *viper.Viper, path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Provider keys are also read from their conventional variables.
	for key, env := range map[string]string{
		"llm.openai_api_key":    "OPENAI_API_KEY",
		"llm.anthropic_api_key": "ANTHROPIC_API_KEY",
		"llm.google_api_key":    "GOOGLE_API_KEY",
	} {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, env); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("llmflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.llmflow")
		v.AddConfigPath("/etc/llmflow")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, errors.Wrap(err, "read config")
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	check := func(field, value string, allowed ...string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return fmt.Errorf("config: %s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
	}

	if err := check("llm.provider", c.LLM.Provider, "openai", "anthropic", "google"); err != nil {
		return err
	}
	if err := check("store.backend", c.Store.Backend, "memory", "sqlite", "mysql"); err != nil {
		return err
	}
	if err := check("vector.backend", c.Vector.Backend, "memory", "pgvector"); err != nil {
		return err
	}
	if err := check("log.format", c.Log.Format, "text", "json"); err != nil {
		return err
	}

	switch {
	case c.Store.Backend != "memory" && c.Store.DSN == "":
		return fmt.Errorf("config: store.dsn is required for the %s backend", c.Store.Backend)
	case c.Vector.Backend == "pgvector" && c.Vector.URL == "":
		return fmt.Errorf("config: vector.url is required for the pgvector backend")
	case c.Vector.ChunkSize <= 0:
		return fmt.Errorf("config: vector.chunk_size must be positive, got %d", c.Vector.ChunkSize)
	case c.Vector.ChunkOverlap < 0 || c.Vector.ChunkOverlap >= c.Vector.ChunkSize:
		return fmt.Errorf("config: vector.chunk_overlap must be in [0, chunk_size), got %d", c.Vector.ChunkOverlap)
	case c.Vector.K <= 0:
		return fmt.Errorf("config: vector.k must be positive, got %d", c.Vector.K)
	case c.Engine.MaxSteps < 0 || c.Engine.Retries < 0:
		return fmt.Errorf("config: engine limits must not be negative")
	case c.Dataframe.MaxIterations <= 0:
		return fmt.Errorf("config: dataframe.max_iterations must be positive, got %d", c.Dataframe.MaxIterations)
	}
	return nil
}
