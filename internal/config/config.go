// Package config provides YAML-based configuration for the assistant
// server. Configuration is loaded with a layered precedence: defaults →
// YAML file → env vars. Environment variables always win, so container
// deployments can override any file setting.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. CLINVIA_CONFIG environment variable
//  3. ~/.clinvia/config.yaml
//  4. ./clinvia.yaml
//
// If no file is found the system runs from defaults and env vars alone.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/clinvia/assist/internal/embedder"
	"github.com/clinvia/assist/internal/provider"
)

// Config is the top-level YAML configuration structure.
type Config struct {
	// Server configures the HTTP/WebSocket listener.
	Server ServerConfig `yaml:"server"`

	// Protocol configures the session engine.
	Protocol ProtocolConfig `yaml:"protocol"`

	// Model configures the LLM chat model provider.
	Model provider.Config `yaml:"model"`

	// Embedding configures the embedding provider for retrieval.
	Embedding embedder.Config `yaml:"embedding"`

	// Qdrant configures the vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Retrieval tunes the hybrid retriever.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Storage configures the SQLite database paths.
	Storage StorageConfig `yaml:"storage"`

	// Identity maps authenticated user ids to tenant and role.
	Identity IdentityConfig `yaml:"identity"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// AdminToken is the Bearer token for the administrative endpoints.
	// Prefer env var CLINVIA_ADMIN_TOKEN.
	AdminToken string `yaml:"admin_token"`
	// RateLimit is the per-client request budget in requests per second.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-client burst allowance.
	RateBurst int `yaml:"rate_burst"`
}

// ProtocolConfig holds session engine settings.
type ProtocolConfig struct {
	// MasterKey is the hex-encoded 32-byte key seeding per-session payload
	// encryption. Prefer env var CLINVIA_MASTER_KEY.
	MasterKey string `yaml:"master_key"`
	// MaxConnections caps concurrently open sessions.
	MaxConnections int `yaml:"max_connections"`
	// HeartbeatSeconds is the liveness event period.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
	// MaxIdleMinutes is the inactivity threshold for session cleanup.
	MaxIdleMinutes int `yaml:"max_idle_minutes"`
	// HistoryLimit caps the conversation turns kept per session.
	HistoryLimit int `yaml:"history_limit"`
	// RequestTimeoutSeconds bounds one retrieval+generation call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	// Workers bounds pipeline calls in flight across all sessions.
	Workers int `yaml:"workers"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	// SemanticWeight scales vector-similarity scores in the merge.
	SemanticWeight float32 `yaml:"semantic_weight"`
	// KeywordWeight scales term-match scores in the merge.
	KeywordWeight float32 `yaml:"keyword_weight"`
	// ScoreThreshold drops semantic hits scoring below it. -1 disables.
	ScoreThreshold float32 `yaml:"score_threshold"`
	// TopK is the number of context snippets retrieved per query.
	TopK int `yaml:"top_k"`
	// MaxContextTokens bounds the assembled prompt.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// StorageConfig holds the SQLite database paths.
type StorageConfig struct {
	// SessionDB persists protocol sessions across restarts.
	SessionDB string `yaml:"session_db"`
	// ClinicDB holds the structured clinic data.
	ClinicDB string `yaml:"clinic_db"`
	// AuditDB holds the compliance audit trail.
	AuditDB string `yaml:"audit_db"`
}

// IdentityConfig resolves users to tenant and role. Single-clinic
// deployments set only the defaults; per-user entries override them.
type IdentityConfig struct {
	// DefaultTenant is the tenant assumed for users without an entry.
	DefaultTenant string `yaml:"default_tenant"`
	// DefaultRole is the role assumed for users without an entry.
	DefaultRole string `yaml:"default_role"`
	// Users maps user id to an explicit tenant and role.
	Users map[string]IdentityEntry `yaml:"users"`
}

// IdentityEntry is one user's tenant and role.
type IdentityEntry struct {
	TenantID string `yaml:"tenant_id"`
	Role     string `yaml:"role"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// Default returns the configuration used when neither file nor env set a
// value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			RateLimit: 10,
			RateBurst: 20,
		},
		Protocol: ProtocolConfig{
			MaxConnections:        100,
			HeartbeatSeconds:      30,
			MaxIdleMinutes:        30,
			HistoryLimit:          10,
			RequestTimeoutSeconds: 30,
			Workers:               8,
		},
		Model: provider.Config{
			Backend: provider.BackendOllama,
			Ollama:  provider.ProviderOllama{Host: "http://localhost:11434", Model: "llama3"},
			OpenAI:  provider.ProviderOpenAI{Model: "gpt-4o"},
			AzureOpenAI: provider.ProviderAzureOpenAI{
				APIVersion: "2024-02-01",
			},
			Bedrock: provider.ProviderBedrock{AWSRegion: "us-east-1"},
			Gemini:  provider.ProviderGemini{Model: "gemini-1.5-pro"},
			Tuning:  provider.SharedTuning{MaxTokens: 4096, Temperature: 0.2},
		},
		Embedding: embedder.Config{
			Provider: "ollama",
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "clinvia-knowledge",
		},
		Retrieval: RetrievalConfig{
			SemanticWeight:   0.7,
			KeywordWeight:    0.3,
			ScoreThreshold:   0.7,
			TopK:             5,
			MaxContextTokens: 6000,
		},
		Storage: StorageConfig{
			SessionDB: "clinvia-sessions.db",
			ClinicDB:  "clinvia-clinic.db",
			AuditDB:   "clinvia-audit.db",
		},
		Identity: IdentityConfig{
			DefaultTenant: "default",
			DefaultRole:   "staff",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envOverrides maps environment variables onto config fields. Env vars
// always take precedence over file values.
var envOverrides = []struct {
	envKey string
	apply  func(*Config, string)
}{
	{"CLINVIA_HOST", func(c *Config, v string) { c.Server.Host = v }},
	{"CLINVIA_PORT", func(c *Config, v string) { setInt(&c.Server.Port, v) }},
	{"CLINVIA_ADMIN_TOKEN", func(c *Config, v string) { c.Server.AdminToken = v }},
	{"CLINVIA_RATE_LIMIT", func(c *Config, v string) { setFloat64(&c.Server.RateLimit, v) }},

	{"CLINVIA_MASTER_KEY", func(c *Config, v string) { c.Protocol.MasterKey = v }},
	{"CLINVIA_MAX_CONNECTIONS", func(c *Config, v string) { setInt(&c.Protocol.MaxConnections, v) }},
	{"CLINVIA_HEARTBEAT_SECONDS", func(c *Config, v string) { setInt(&c.Protocol.HeartbeatSeconds, v) }},
	{"CLINVIA_MAX_IDLE_MINUTES", func(c *Config, v string) { setInt(&c.Protocol.MaxIdleMinutes, v) }},
	{"CLINVIA_HISTORY_LIMIT", func(c *Config, v string) { setInt(&c.Protocol.HistoryLimit, v) }},
	{"CLINVIA_WORKERS", func(c *Config, v string) { setInt(&c.Protocol.Workers, v) }},

	{"MODEL_PROVIDER", func(c *Config, v string) { c.Model.Backend = provider.Backend(v) }},
	{"MODEL_MAX_TOKENS", func(c *Config, v string) { setInt(&c.Model.Tuning.MaxTokens, v) }},
	{"MODEL_TEMPERATURE", func(c *Config, v string) { setFloat32(&c.Model.Tuning.Temperature, v) }},
	{"OLLAMA_HOST", func(c *Config, v string) { c.Model.Ollama.Host = v }},
	{"OLLAMA_MODEL", func(c *Config, v string) { c.Model.Ollama.Model = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.Model.OpenAI.APIKey = v }},
	{"OPENAI_MODEL", func(c *Config, v string) { c.Model.OpenAI.Model = v }},
	{"AZURE_OPENAI_API_KEY", func(c *Config, v string) { c.Model.AzureOpenAI.APIKey = v }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config, v string) { c.Model.AzureOpenAI.Endpoint = v }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config, v string) { c.Model.AzureOpenAI.Deployment = v }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config, v string) { c.Model.AzureOpenAI.APIVersion = v }},
	{"AWS_REGION", func(c *Config, v string) { c.Model.Bedrock.AWSRegion = v }},
	{"BEDROCK_MODEL_ID", func(c *Config, v string) { c.Model.Bedrock.ModelID = v }},
	{"GOOGLE_API_KEY", func(c *Config, v string) { c.Model.Gemini.APIKey = v }},
	{"GEMINI_MODEL", func(c *Config, v string) { c.Model.Gemini.Model = v }},

	{"EMBEDDING_PROVIDER", func(c *Config, v string) { c.Embedding.Provider = v }},
	{"EMBEDDING_MODEL", func(c *Config, v string) { c.Embedding.Model = v }},
	{"EMBEDDING_DIMENSIONS", func(c *Config, v string) { setInt(&c.Embedding.Dimensions, v) }},
	{"EMBEDDING_API_KEY", func(c *Config, v string) { c.Embedding.APIKey = v }},
	{"EMBEDDING_ENDPOINT", func(c *Config, v string) { c.Embedding.Endpoint = v }},

	{"QDRANT_HOST", func(c *Config, v string) { c.Qdrant.Host = v }},
	{"QDRANT_PORT", func(c *Config, v string) { setInt(&c.Qdrant.Port, v) }},
	{"QDRANT_COLLECTION", func(c *Config, v string) { c.Qdrant.Collection = v }},
	{"QDRANT_API_KEY", func(c *Config, v string) { c.Qdrant.APIKey = v }},
	{"QDRANT_TLS", func(c *Config, v string) { c.Qdrant.TLS = v == "true" || v == "1" }},

	{"CLINVIA_SESSION_DB", func(c *Config, v string) { c.Storage.SessionDB = v }},
	{"CLINVIA_CLINIC_DB", func(c *Config, v string) { c.Storage.ClinicDB = v }},
	{"CLINVIA_AUDIT_DB", func(c *Config, v string) { c.Storage.AuditDB = v }},

	{"CLINVIA_TENANT", func(c *Config, v string) { c.Identity.DefaultTenant = v }},
	{"CLINVIA_DEFAULT_ROLE", func(c *Config, v string) { c.Identity.DefaultRole = v }},

	{"LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"LOG_FORMAT", func(c *Config, v string) { c.Logging.Format = v }},

	{"LANGFUSE_PUBLIC_KEY", func(c *Config, v string) { c.Tracing.PublicKey = v }},
	{"LANGFUSE_SECRET_KEY", func(c *Config, v string) { c.Tracing.SecretKey = v }},
	{"LANGFUSE_HOST", func(c *Config, v string) { c.Tracing.Host = v }},
}

// Load resolves and reads the configuration: defaults, then the YAML file
// (if any), then env var overrides. Returns the loaded config and the path
// of the file that was read, or empty string if none was found.
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		log.Info("loaded config file", slog.String("path", path))
	} else {
		log.Debug("no config file found, using defaults and env vars")
	}

	applied := 0
	for _, m := range envOverrides {
		if v := os.Getenv(m.envKey); v != "" {
			m.apply(cfg, v)
			applied++
		}
	}
	if applied > 0 {
		log.Debug("applied env overrides", slog.Int("count", applied))
	}

	return cfg, path, nil
}

// MasterKey decodes the hex-encoded payload encryption key. The key must
// decode to exactly 32 bytes.
func (c *Config) MasterKey() ([]byte, error) {
	if c.Protocol.MasterKey == "" {
		return nil, fmt.Errorf("config: master key is not set (CLINVIA_MASTER_KEY)")
	}
	key, err := hex.DecodeString(c.Protocol.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("config: master key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Addr returns the server's host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("CLINVIA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".clinvia", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("clinvia.yaml"); err == nil {
		return "clinvia.yaml"
	}

	return ""
}

// setInt parses v into *dst, leaving it unchanged when not parseable.
func setInt(dst *int, v string) {
	if i, err := strconv.Atoi(v); err == nil {
		*dst = i
	}
}

// setFloat32 parses v into *dst, leaving it unchanged when not parseable.
func setFloat32(dst *float32, v string) {
	if f, err := strconv.ParseFloat(v, 32); err == nil {
		*dst = float32(f)
	}
}

// setFloat64 parses v into *dst, leaving it unchanged when not parseable.
func setFloat64(dst *float64, v string) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}
