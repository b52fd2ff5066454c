package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/teletherapy-platform/internal/config"
	"github.com/wolfman30/teletherapy-platform/internal/notes"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

// LLM is a drafting client plus the model it was configured for.
type LLM struct {
	Client notes.LLMClient
	Model  string
	Close  func() error
}

// BuildLLM selects the SOAP drafting backend. A nil result with a nil error
// means drafting is disabled.
func BuildLLM(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "":
		logger.Info("no LLM provider configured; SOAP drafting disabled")
		return nil, nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("bootstrap: GEMINI_API_KEY is required for the gemini provider")
		}
		client, err := notes.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		logger.Info("SOAP drafting enabled", "provider", "gemini", "model", cfg.GeminiModelID)
		return &LLM{Client: client, Model: cfg.GeminiModelID, Close: client.Close}, nil
	case "bedrock":
		model := strings.TrimSpace(cfg.BedrockModelID)
		if model == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		client := notes.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), model)
		logger.Info("SOAP drafting enabled", "provider", "bedrock", "model", model)
		return &LLM{Client: client, Model: model, Close: func() error { return nil }}, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown LLM provider %q", cfg.LLMProvider)
	}
}
