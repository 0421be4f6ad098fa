// Package provider selects and constructs the LLM backend the response
// pipeline generates with. Supported backends: Ollama, OpenAI, Azure
// OpenAI, AWS Bedrock, Google Gemini.
package provider

import "fmt"

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama configures the Ollama backend.
type ProviderOllama struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// ProviderOpenAI configures the OpenAI backend.
type ProviderOpenAI struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ProviderAzureOpenAI configures the Azure OpenAI backend.
type ProviderAzureOpenAI struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// ProviderBedrock configures the AWS Bedrock backend. Credentials are
// resolved via the standard AWS SDK chain, never from this struct.
type ProviderBedrock struct {
	AWSRegion string `yaml:"aws_region"`
	ModelID   string `yaml:"model_id"`
	// Endpoint overrides the Bedrock-compatible runtime endpoint.
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// ProviderGemini configures the Google Gemini backend.
type ProviderGemini struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0-1.0).
	Temperature float32 `yaml:"temperature"`
}

// Config holds all provider-level configuration, resolved from the config
// file or environment variables. Only the sub-struct matching Backend is
// consulted.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend `yaml:"backend"`

	Ollama      ProviderOllama      `yaml:"ollama"`
	OpenAI      ProviderOpenAI      `yaml:"openai"`
	AzureOpenAI ProviderAzureOpenAI `yaml:"azure"`
	Bedrock     ProviderBedrock     `yaml:"bedrock"`
	Gemini      ProviderGemini      `yaml:"gemini"`

	Tuning SharedTuning `yaml:"tuning"`
}

// Validate checks that the selected backend has every field it requires,
// so callers get a clear error at startup rather than on the first
// request. Error messages name the environment variable that populates the
// missing field.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Host == "" {
			return fmt.Errorf("provider: OLLAMA_HOST is required for ollama backend")
		}
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: BEDROCK_MODEL_ID is required for bedrock backend")
		}
		if c.Bedrock.AWSRegion == "" {
			return fmt.Errorf("provider: AWS_REGION is required for bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: ollama, openai, azure, bedrock, gemini", c.Backend)
	}
	return nil
}
