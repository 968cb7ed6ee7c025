package config

import (
	"fmt"
)

type Config struct {
	Server       ServerConfig
	Ollama       OllamaConfig
	Storage      StorageConfig
	Synth        SynthConfig
	Payment      PaymentConfig
	Orchestrator OrchestratorConfig
	Knowledge    KnowledgeConfig
	API          APIConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
}

type StorageConfig struct {
	DataDir string
}

// SynthConfig points the answer-synthesis client at an OpenAI-compatible
// chat-completions endpoint. An empty APIKey selects the local chat model
// (Ollama.ChatModel) instead of the remote endpoint.
type SynthConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// PaymentConfig selects and parameterizes the payment gate. Mode is either
// "off" (accept everything, local development) or "evm" (validate against a
// JSON-RPC node).
type PaymentConfig struct {
	Mode             string
	RPCURL           string
	TokenAddress     string
	CreditsAddress   string
	MinAmount        float64
	MinConfirmations int
}

// OrchestratorConfig tunes query lifecycle timing. Durations are stored as
// strings and parsed at wiring time so they round-trip through the flat
// config backend.
type OrchestratorConfig struct {
	AskTimeout      string
	PollInterval    string
	WaitMode        string
	RetainTerminal  string
	RetainOrphaned  string
	JanitorInterval string
}

type KnowledgeConfig struct {
	Threshold          float64
	TopK               int
	MaxEntities        int
	MaxRelations       int
	MaxInverseEntities int
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			ChatModel:  "phi3.5",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Synth: SynthConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
		},
		Payment: PaymentConfig{
			Mode:             "off",
			MinAmount:        0.01,
			MinConfirmations: 1,
		},
		Orchestrator: OrchestratorConfig{
			AskTimeout:      "60s",
			PollInterval:    "500ms",
			WaitMode:        "wait",
			RetainTerminal:  "5m",
			RetainOrphaned:  "10m",
			JanitorInterval: "1m",
		},
		Knowledge: KnowledgeConfig{
			Threshold:          0.25,
			TopK:               15,
			MaxEntities:        5,
			MaxRelations:       3,
			MaxInverseEntities: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/payq/config.json and applies PAYQ_* environment variable
// overrides on top. Secrets (synthesis API key, API bearer token) are never
// read from the file; set them via environment variables.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Payment.Mode {
	case "off":
	case "evm":
		if cfg.Payment.RPCURL == "" {
			return fmt.Errorf("missing required config: payment.rpc_url is required when payment.mode is %q", cfg.Payment.Mode)
		}
		if cfg.Payment.TokenAddress == "" {
			return fmt.Errorf("missing required config: payment.token_address is required when payment.mode is %q", cfg.Payment.Mode)
		}
	default:
		return fmt.Errorf("invalid config: payment.mode must be \"off\" or \"evm\", got %q", cfg.Payment.Mode)
	}

	if cfg.Knowledge.Threshold < 0 || cfg.Knowledge.Threshold > 1 {
		return fmt.Errorf("invalid config: knowledge.threshold must be in [0, 1], got %v", cfg.Knowledge.Threshold)
	}

	switch cfg.Orchestrator.WaitMode {
	case "wait", "poll":
	default:
		return fmt.Errorf("invalid config: orchestrator.wait_mode must be \"wait\" or \"poll\", got %q", cfg.Orchestrator.WaitMode)
	}

	return nil
}
