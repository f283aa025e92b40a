package providers

import (
	"github.com/brandlens/visibility-bot/internal/config"
	"github.com/sirupsen/logrus"
)

// NewFromConfig returns the enabled providers that pass the ENABLED_PROVIDERS filter
func NewFromConfig(cfg *config.Config) []Provider {
	all := []Provider{
		NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL),
		NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnthropicBaseURL),
		NewGeminiProvider(cfg.GeminiAPIKey, cfg.GeminiModel),
		NewPerplexityProvider(cfg.PerplexityAPIKey, cfg.PerplexityModel, cfg.PerplexityBaseURL),
	}

	var enabled []Provider
	for _, p := range all {
		if !p.IsEnabled() {
			logrus.Debugf("Provider %s disabled - missing credentials", p.GetName())
			continue
		}
		if !cfg.ProviderEnabled(p.GetName()) {
			logrus.Debugf("Provider %s excluded by ENABLED_PROVIDERS", p.GetName())
			continue
		}
		enabled = append(enabled, p)
	}

	logrus.Infof("Configured %d providers", len(enabled))
	return enabled
}
