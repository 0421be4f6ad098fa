package embedder

import (
	"fmt"

	"github.com/clinvia/assist/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ — override with Config.Dimensions.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Config selects and parameterises an embedding backend.
type Config struct {
	// Provider is the backend name: ollama, openai, or azure.
	Provider string `yaml:"provider"`

	// Endpoint is the backend base URL. Defaults per provider.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates openai/azure calls. Unused for ollama.
	APIKey string `yaml:"api_key"`

	// Model is the embedding model name. Defaults per provider.
	Model string `yaml:"model"`

	// Dimensions is the embedding vector length. Defaults per provider;
	// the Qdrant collection must be created with the same value.
	Dimensions int `yaml:"dimensions"`

	// APIVersion is the Azure OpenAI API version (azure only).
	APIVersion string `yaml:"api_version"`

	// BatchSize caps texts per backend request. Default 32.
	BatchSize int `yaml:"batch_size"`

	// RequestsPerSecond throttles outbound embedding calls. Zero disables
	// throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DefaultDimensions returns the embedding vector size the given backend
// produces with its default model. Callers that pre-create the Qdrant
// collection should use this rather than hardcoding a value.
func DefaultDimensions(provider string) int {
	switch provider {
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// New constructs a rag.Embedder for the configured backend, wrapped with
// batching, rate limiting and L2 normalization.
func New(cfg Config) (rag.Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		host := cfg.Endpoint
		if host == "" {
			host = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOllamaModel
		}
		raw := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})
		return wrap(raw, cfg.BatchSize, cfg.RequestsPerSecond), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires an api key")
		}
		baseURL := cfg.Endpoint
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		dims := cfg.Dimensions
		if dims == 0 {
			dims = defaultOpenAIDimensions
		}
		raw := NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: dims,
		})
		return wrap(raw, cfg.BatchSize, cfg.RequestsPerSecond), nil

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires an api key")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires an endpoint")
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		dims := cfg.Dimensions
		if dims == 0 {
			dims = defaultOpenAIDimensions
		}
		apiVersion := cfg.APIVersion
		if apiVersion == "" {
			apiVersion = "2025-04-01-preview"
		}
		raw := NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai",
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: dims,
			Azure:      true,
			APIVersion: apiVersion,
		})
		return wrap(raw, cfg.BatchSize, cfg.RequestsPerSecond), nil

	default:
		return nil, fmt.Errorf("embedder: unknown provider %q — valid values: ollama, openai, azure", cfg.Provider)
	}
}
