package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/sdr-agent-platform/internal/config"
	"github.com/wolfman30/sdr-agent-platform/internal/conversation"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

// LLM is the completion gateway chosen from config plus the model id the
// engine should request.
type LLM struct {
	Client  conversation.LLMClient
	Model   string
	closers []func() error
}

// Close releases provider clients that hold connections.
func (l *LLM) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BuildLLM wires the primary completion provider and, when configured, a
// fallback provider that is tried once when the primary fails.
func BuildLLM(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	out := &LLM{}
	primary, model, err := buildProvider(ctx, cfg.LLMProvider, cfg, awsCfg, out)
	if err != nil {
		return nil, err
	}
	out.Client = primary
	out.Model = model

	fallbackName := strings.TrimSpace(cfg.LLMFallbackProvider)
	if fallbackName == "" || fallbackName == cfg.LLMProvider {
		logger.Info("using LLM provider", "provider", cfg.LLMProvider, "model", model)
		return out, nil
	}
	fallback, _, err := buildProvider(ctx, fallbackName, cfg, awsCfg, out)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("bootstrap: fallback provider: %w", err)
	}
	// The fallback keeps its own default model; the engine's model id only
	// applies to the primary.
	out.Client = conversation.NewFallbackLLMClient(primary, modelless{fallback}, logger)
	logger.Info("using LLM provider with fallback", "provider", cfg.LLMProvider, "fallback", fallbackName, "model", model)
	return out, nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, awsCfg aws.Config, out *LLM) (conversation.LLMClient, string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, "", fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for bedrock")
		}
		client := conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
		return client, cfg.BedrockModelID, nil
	case "gemini":
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: %w", err)
		}
		out.closers = append(out.closers, client.Close)
		return client, cfg.GeminiModel, nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown LLM provider %q", name)
	}
}

// modelless drops the request model so a fallback provider uses its own.
type modelless struct {
	conversation.LLMClient
}

func (m modelless) Complete(ctx context.Context, req conversation.LLMRequest) (conversation.LLMResponse, error) {
	req.Model = ""
	return m.LLMClient.Complete(ctx, req)
}

func (m modelless) Provider() string {
	if named, ok := m.LLMClient.(conversation.ProviderNamer); ok {
		return named.Provider()
	}
	return "unknown"
}
