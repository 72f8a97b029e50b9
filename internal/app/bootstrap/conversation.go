package bootstrap

import (
	appconfig "github.com/wolfman30/sdr-agent-platform/internal/config"
	"github.com/wolfman30/sdr-agent-platform/internal/conversation"
	"github.com/wolfman30/sdr-agent-platform/internal/leads"
)

// BuildQualificationRules overlays configured thresholds on the defaults.
func BuildQualificationRules(cfg *appconfig.Config) leads.QualificationRules {
	rules := leads.DefaultQualificationRules()
	if cfg == nil {
		return rules
	}
	if cfg.QualRequiredMin > 0 {
		rules.RequiredMin = cfg.QualRequiredMin
	}
	if cfg.QualOptionalMin >= 0 {
		rules.OptionalMin = cfg.QualOptionalMin
	}
	if cfg.QualMinMessages > 0 {
		rules.MinMessages = cfg.QualMinMessages
	}
	if cfg.QualLossWindow > 0 {
		rules.LossWindow = cfg.QualLossWindow
	}
	if len(cfg.QualLossPhrases) > 0 {
		rules.LossPhrases = cfg.QualLossPhrases
	}
	return rules
}

// EngineOptions maps generation and retry settings onto engine options.
func EngineOptions(cfg *appconfig.Config, model string) []conversation.EngineOption {
	return []conversation.EngineOption{
		conversation.WithModel(model),
		conversation.WithGeneration(cfg.LLMMaxTokens, cfg.LLMTemperature),
		conversation.WithLLMTimeout(cfg.LLMTimeout),
		conversation.WithPersistAttempts(cfg.PersistMaxAttempts),
		conversation.WithCapacityReply(cfg.CapacityReply),
	}
}
