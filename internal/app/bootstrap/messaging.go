package bootstrap

import (
	"fmt"

	appconfig "github.com/wolfman30/sdr-agent-platform/internal/config"
	"github.com/wolfman30/sdr-agent-platform/internal/messaging/evolution"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

// BuildReplySender creates the Evolution API client used to answer leads.
func BuildReplySender(cfg *appconfig.Config, logger *logging.Logger) (*evolution.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	client, err := evolution.New(evolution.Config{
		BaseURL:    cfg.EvolutionAPIURL,
		APIKey:     cfg.EvolutionAPIKey,
		MaxRetries: cfg.EvolutionMaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return client, nil
}
