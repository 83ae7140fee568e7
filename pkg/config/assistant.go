package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// AssistantConfig holds the routing tables and numeric policy for the
// assistant. All thresholds are tunable defaults, not invariants.
type AssistantConfig struct {
	Models  map[string]ModelConfig `yaml:"models"`
	Default ModelConfig            `yaml:"default"`
	Gateway GatewayConfig          `yaml:"gateway,omitempty"`
	Router  RouterConfig           `yaml:"router,omitempty"`
	Engine  EngineConfig           `yaml:"engine,omitempty"`
	Pricing PricingConfig          `yaml:"pricing,omitempty"`
	Aliases map[string]string      `yaml:"aliases,omitempty"`
}

// ModelConfig binds a task category to a backend, model and call limits.
type ModelConfig struct {
	Backend     string  `yaml:"backend"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	TimeoutMs   int     `yaml:"timeout_ms,omitempty"`
}

// GatewayConfig defines cache, retry and breaker policy.
type GatewayConfig struct {
	CacheTTLHours    int  `yaml:"cache_ttl_hours,omitempty"`
	MaxAttempts      int  `yaml:"max_attempts,omitempty"`
	BaseBackoffMs    int  `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs     int  `yaml:"max_backoff_ms,omitempty"`
	BreakerThreshold int  `yaml:"breaker_threshold,omitempty"`
	BreakerCooldownS int  `yaml:"breaker_cooldown_s,omitempty"`
	DiskCache        bool `yaml:"disk_cache,omitempty"`
}

// RouterConfig defines the intent tables and confidence policy.
type RouterConfig struct {
	Intents               map[string]IntentConfig `yaml:"intents"`
	Permissions           map[string][]string     `yaml:"permissions"`
	KeywordConfidence     float64                 `yaml:"keyword_confidence,omitempty"`
	MultiIntentConfidence float64                 `yaml:"multi_intent_confidence,omitempty"`
	ClarifyThreshold      float64                 `yaml:"clarify_threshold,omitempty"`
	UnclearConfidence     float64                 `yaml:"unclear_confidence,omitempty"`
	DispatchTimeoutS      int                     `yaml:"dispatch_timeout_s,omitempty"`
}

// IntentConfig defines one intent category.
type IntentConfig struct {
	Keywords    []string `yaml:"keywords"`
	Specialist  string   `yaml:"specialist,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// EngineConfig defines handler loop policy.
type EngineConfig struct {
	MaxIterations     int     `yaml:"max_iterations,omitempty"`
	FallbackCutoff    float64 `yaml:"fallback_cutoff,omitempty"`
	SufficiencyCutoff float64 `yaml:"sufficiency_cutoff,omitempty"`
}

// PricingConfig maps backend -> model -> pricing.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// CacheTTL returns the cache TTL as a duration.
func (g GatewayConfig) CacheTTL() time.Duration {
	return time.Duration(g.CacheTTLHours) * time.Hour
}

// BaseBackoff returns the first backoff interval.
func (g GatewayConfig) BaseBackoff() time.Duration {
	return time.Duration(g.BaseBackoffMs) * time.Millisecond
}

// MaxBackoff returns the backoff cap.
func (g GatewayConfig) MaxBackoff() time.Duration {
	return time.Duration(g.MaxBackoffMs) * time.Millisecond
}

// BreakerCooldown returns the breaker cooldown as a duration.
func (g GatewayConfig) BreakerCooldown() time.Duration {
	return time.Duration(g.BreakerCooldownS) * time.Second
}

// DispatchTimeout returns the multi-intent gather timeout.
func (r RouterConfig) DispatchTimeout() time.Duration {
	return time.Duration(r.DispatchTimeoutS) * time.Second
}

// Labels returns the intent labels sorted, giving every caller the same
// fixed iteration order over the table.
func (r RouterConfig) Labels() []string {
	labels := make([]string, 0, len(r.Intents))
	for label := range r.Intents {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Resolve returns the canonical model name for an alias.
// If the input is not an alias, it returns the input unchanged.
func (a *AssistantConfig) Resolve(modelOrAlias string) string {
	if a == nil || a.Aliases == nil {
		return modelOrAlias
	}
	if canonical, ok := a.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// ModelFor resolves the model configuration for a task category, falling
// back to the default target for unknown categories.
func (a *AssistantConfig) ModelFor(category string) ModelConfig {
	if mc, ok := a.Models[category]; ok {
		if mc.Model != "" {
			mc.Model = a.Resolve(mc.Model)
		}
		return mc
	}
	mc := a.Default
	mc.Model = a.Resolve(mc.Model)
	return mc
}

// IntentLabels returns the configured intent labels in fixed table order.
func (a *AssistantConfig) IntentLabels() []string {
	return a.Router.Labels()
}

// LoadAssistantConfig reads assistant configuration from a YAML file.
func LoadAssistantConfig(path string) (*AssistantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg AssistantConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyAssistantDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultAssistantConfig returns the built-in assistant configuration.
func DefaultAssistantConfig() *AssistantConfig {
	cfg := &AssistantConfig{
		Models: map[string]ModelConfig{
			"classification": {
				Backend:   "openai",
				Model:     "gpt-5.2-instant",
				MaxTokens: 256,
			},
			"planning": {
				Backend:   "anthropic",
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 512,
			},
			"synthesis": {
				Backend:   "anthropic",
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 1024,
			},
		},
		Default: ModelConfig{
			Backend: "anthropic",
			Model:   "claude-sonnet-4-20250514",
		},
		Router: RouterConfig{
			Intents: map[string]IntentConfig{
				"leave": {
					Keywords:    []string{"leave", "vacation", "pto", "time off", "annual leave", "sick day", "parental leave"},
					Specialist:  "leave",
					Description: "vacation, paid time off, sick days and leave requests",
				},
				"benefits": {
					Keywords:    []string{"insurance", "benefits", "coverage", "dental", "medical plan", "vision", "401k", "retirement plan"},
					Specialist:  "benefits",
					Description: "health insurance, retirement and other employee benefits",
				},
				"payroll": {
					Keywords:    []string{"payroll", "salary", "payslip", "paycheck", "pay date", "reimbursement", "expense report"},
					Specialist:  "payroll",
					Description: "salary, payslips, pay dates and expense reimbursement",
				},
				"it_support": {
					Keywords:    []string{"password", "laptop", "vpn", "wifi", "printer", "software install", "access request"},
					Specialist:  "it_support",
					Description: "accounts, devices, network and software issues",
				},
			},
			Permissions: map[string][]string{
				"employee":   {"leave", "benefits", "payroll", "it_support"},
				"manager":    {"leave", "benefits", "payroll", "it_support"},
				"contractor": {"it_support"},
				"admin":      {"*"},
			},
		},
		Pricing: PricingConfig{
			"anthropic": {"default": {PromptPer1K: 0.003, CompletionPer1K: 0.015}},
			"openai":    {"default": {PromptPer1K: 0.00125, CompletionPer1K: 0.01}},
			"google":    {"default": {PromptPer1K: 0.00125, CompletionPer1K: 0.005}},
			"deepseek":  {"default": {PromptPer1K: 0.00014, CompletionPer1K: 0.00028}},
		},
		Aliases: map[string]string{
			"fast":    "gpt-5.2-instant",
			"careful": "claude-sonnet-4-20250514",
			"deep":    "claude-opus-4-20250514",
		},
	}

	applyAssistantDefaults(cfg)
	return cfg
}

func applyAssistantDefaults(cfg *AssistantConfig) {
	if cfg == nil {
		return
	}
	if cfg.Gateway.CacheTTLHours == 0 {
		cfg.Gateway.CacheTTLHours = 24
	}
	if cfg.Gateway.MaxAttempts == 0 {
		cfg.Gateway.MaxAttempts = 3
	}
	if cfg.Gateway.BaseBackoffMs == 0 {
		cfg.Gateway.BaseBackoffMs = 1000
	}
	if cfg.Gateway.MaxBackoffMs == 0 {
		cfg.Gateway.MaxBackoffMs = 4000
	}
	if cfg.Gateway.MaxBackoffMs < cfg.Gateway.BaseBackoffMs {
		cfg.Gateway.MaxBackoffMs = cfg.Gateway.BaseBackoffMs
	}
	if cfg.Gateway.BreakerThreshold == 0 {
		cfg.Gateway.BreakerThreshold = 5
	}
	if cfg.Gateway.BreakerCooldownS == 0 {
		cfg.Gateway.BreakerCooldownS = 60
	}
	for label, intent := range cfg.Router.Intents {
		if intent.Specialist == "" {
			intent.Specialist = label
			cfg.Router.Intents[label] = intent
		}
	}
	if cfg.Router.KeywordConfidence == 0 {
		cfg.Router.KeywordConfidence = 0.9
	}
	if cfg.Router.MultiIntentConfidence == 0 {
		cfg.Router.MultiIntentConfidence = 0.85
	}
	if cfg.Router.ClarifyThreshold == 0 {
		cfg.Router.ClarifyThreshold = 0.4
	}
	if cfg.Router.UnclearConfidence == 0 {
		cfg.Router.UnclearConfidence = 0.2
	}
	if cfg.Router.DispatchTimeoutS == 0 {
		cfg.Router.DispatchTimeoutS = 60
	}
	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 5
	}
	if cfg.Engine.FallbackCutoff == 0 {
		cfg.Engine.FallbackCutoff = 0.4
	}
	if cfg.Engine.SufficiencyCutoff == 0 {
		cfg.Engine.SufficiencyCutoff = 0.7
	}
}

// Validate checks the assistant configuration for errors.
func (a *AssistantConfig) Validate() error {
	if a.Default.Backend == "" || a.Default.Model == "" {
		return fmt.Errorf("default model target is required")
	}
	for category, mc := range a.Models {
		if mc.Backend == "" {
			return fmt.Errorf("model category %s: backend is required", category)
		}
		if mc.Model == "" {
			return fmt.Errorf("model category %s: model is required", category)
		}
	}
	for label, intent := range a.Router.Intents {
		if len(intent.Keywords) == 0 {
			return fmt.Errorf("intent %s: keywords are required", label)
		}
	}
	for role, intents := range a.Router.Permissions {
		for _, label := range intents {
			if label == "*" {
				continue
			}
			if _, ok := a.Router.Intents[label]; !ok {
				return fmt.Errorf("role %s references unknown intent %s", role, label)
			}
		}
	}
	for alias, canonical := range a.Aliases {
		if canonical == "" {
			return fmt.Errorf("alias %s resolves to empty model", alias)
		}
	}
	return nil
}
