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
		key: "server.port", typ: kInt, env: "PAYQ_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "PAYQ_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "PAYQ_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "PAYQ_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAYQ_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "synth.api_key", typ: kString, env: "PAYQ_SYNTH_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Synth.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Synth.APIKey },
	},
	{
		key: "synth.base_url", typ: kString, env: "PAYQ_SYNTH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Synth.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Synth.BaseURL },
	},
	{
		key: "synth.model", typ: kString, env: "PAYQ_SYNTH_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Synth.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Synth.Model },
	},
	{
		key: "payment.mode", typ: kString, env: "PAYQ_PAYMENT_MODE",
		apply:   func(cfg *Config, v any) { cfg.Payment.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Payment.Mode },
	},
	{
		key: "payment.rpc_url", typ: kString, env: "PAYQ_PAYMENT_RPC_URL",
		apply:   func(cfg *Config, v any) { cfg.Payment.RPCURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Payment.RPCURL },
	},
	{
		key: "payment.token_address", typ: kString, env: "PAYQ_PAYMENT_TOKEN_ADDRESS",
		apply:   func(cfg *Config, v any) { cfg.Payment.TokenAddress = v.(string) },
		extract: func(cfg Config) any { return cfg.Payment.TokenAddress },
	},
	{
		key: "payment.credits_address", typ: kString, env: "PAYQ_PAYMENT_CREDITS_ADDRESS",
		apply:   func(cfg *Config, v any) { cfg.Payment.CreditsAddress = v.(string) },
		extract: func(cfg Config) any { return cfg.Payment.CreditsAddress },
	},
	{
		key: "payment.min_amount", typ: kFloat, env: "PAYQ_PAYMENT_MIN_AMOUNT",
		apply:   func(cfg *Config, v any) { cfg.Payment.MinAmount = v.(float64) },
		extract: func(cfg Config) any { return cfg.Payment.MinAmount },
	},
	{
		key: "payment.min_confirmations", typ: kInt, env: "PAYQ_PAYMENT_MIN_CONFIRMATIONS",
		apply:   func(cfg *Config, v any) { cfg.Payment.MinConfirmations = v.(int) },
		extract: func(cfg Config) any { return cfg.Payment.MinConfirmations },
	},
	{
		key: "orchestrator.ask_timeout", typ: kString, env: "PAYQ_ORCHESTRATOR_ASK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.AskTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Orchestrator.AskTimeout },
	},
	{
		key: "orchestrator.poll_interval", typ: kString, env: "PAYQ_ORCHESTRATOR_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Orchestrator.PollInterval },
	},
	{
		key: "orchestrator.wait_mode", typ: kString, env: "PAYQ_ORCHESTRATOR_WAIT_MODE",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.WaitMode = v.(string) },
		extract: func(cfg Config) any { return cfg.Orchestrator.WaitMode },
	},
	{
		key: "orchestrator.retain_terminal", typ: kString, env: "PAYQ_ORCHESTRATOR_RETAIN_TERMINAL",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.RetainTerminal = v.(string) },
		extract: func(cfg Config) any { return cfg.Orchestrator.RetainTerminal },
	},
	{
		key: "orchestrator.retain_orphaned", typ: kString, env: "PAYQ_ORCHESTRATOR_RETAIN_ORPHANED",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.RetainOrphaned = v.(string) },
		extract: func(cfg Config) any { return cfg.Orchestrator.RetainOrphaned },
	},
	{
		key: "orchestrator.janitor_interval", typ: kString, env: "PAYQ_ORCHESTRATOR_JANITOR_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.JanitorInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Orchestrator.JanitorInterval },
	},
	{
		key: "knowledge.threshold", typ: kFloat, env: "PAYQ_KNOWLEDGE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Knowledge.Threshold },
	},
	{
		key: "knowledge.top_k", typ: kInt, env: "PAYQ_KNOWLEDGE_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Knowledge.TopK },
	},
	{
		key: "knowledge.max_entities", typ: kInt, env: "PAYQ_KNOWLEDGE_MAX_ENTITIES",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.MaxEntities = v.(int) },
		extract: func(cfg Config) any { return cfg.Knowledge.MaxEntities },
	},
	{
		key: "knowledge.max_relations", typ: kInt, env: "PAYQ_KNOWLEDGE_MAX_RELATIONS",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.MaxRelations = v.(int) },
		extract: func(cfg Config) any { return cfg.Knowledge.MaxRelations },
	},
	{
		key: "knowledge.max_inverse_entities", typ: kInt, env: "PAYQ_KNOWLEDGE_MAX_INVERSE_ENTITIES",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.MaxInverseEntities = v.(int) },
		extract: func(cfg Config) any { return cfg.Knowledge.MaxInverseEntities },
	},
	{
		key: "api.token", typ: kString, env: "PAYQ_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "log.level", typ: kString, env: "PAYQ_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
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
