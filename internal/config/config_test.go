package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(viper.New(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 1000, cfg.Vector.ChunkSize)
	assert.Equal(t, 200, cfg.Vector.ChunkOverlap)
	assert.Equal(t, 4, cfg.Vector.K)
	assert.Equal(t, 20*time.Second, cfg.Dataframe.QueryTimeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llmflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: anthropic
  model: claude-3-5-haiku-latest
store:
  backend: sqlite
  dsn: runs.db
vector:
  chunk_size: 500
  chunk_overlap: 50
engine:
  node_timeout: 30s
`), 0o600))

	t.Setenv("LLMFLOW_VECTOR_K", "8")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("store", "memory", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "debug"}))

	cfg, err := Load(viper.New(), path, flags)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Model)
	assert.Equal(t, "ak-test", cfg.LLM.APIKey())
	assert.Equal(t, "sqlite", cfg.Store.Backend, "unset flags do not override the file")
	assert.Equal(t, 500, cfg.Vector.ChunkSize)
	assert.Equal(t, 8, cfg.Vector.K)
	assert.Equal(t, 30*time.Second, cfg.Engine.NodeTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LLMFLOW_LLM_PROVIDER", "cohere")

	_, err := Load(viper.New(), "", nil)
	assert.ErrorContains(t, err, "llm.provider")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"unknown store":        func(c *Config) { c.Store.Backend = "redis" },
		"sqlite without dsn":   func(c *Config) { c.Store.Backend = "sqlite" },
		"pgvector without url": func(c *Config) { c.Vector.Backend = "pgvector" },
		"zero chunk size":      func(c *Config) { c.Vector.ChunkSize = 0 },
		"overlap too large":    func(c *Config) { c.Vector.ChunkOverlap = c.Vector.ChunkSize },
		"zero k":               func(c *Config) { c.Vector.K = 0 },
		"bad log format":       func(c *Config) { c.Log.Format = "xml" },
		"negative retries":     func(c *Config) { c.Engine.Retries = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
