package executor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/anvilcode/anvil/pkg/models"
)

// APIConfig configures the direct Anthropic API backend.
type APIConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// MaxTokens caps the response length per call. Zero uses a default.
	MaxTokens int64
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the Bedrock region (e.g. "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS shared config profile.
	AWSProfile string
}

// APIExecutor runs iterations through the Anthropic Messages API.
// Session continuation is implemented as an in-memory conversation
// transcript keyed by session ID.
type APIExecutor struct {
	client    anthropic.Client
	maxTokens int64
	bedrock   bool
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string][]anthropic.MessageParam
	seq      int
}

// NewAPIExecutor creates an API executor.
func NewAPIExecutor(cfg APIConfig, logger *zap.Logger) (*APIExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.RequestOption
	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	return &APIExecutor{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
		bedrock:   cfg.UseAWSBedrock,
		logger:    logger,
		sessions:  make(map[string][]anthropic.MessageParam),
	}, nil
}

// Execute sends the prompt as one Messages API call. When req.SessionID
// names a known session the prior transcript is replayed for context.
func (e *APIExecutor) Execute(ctx context.Context, req Request) (*Response, error) {
	model := e.resolveModel(req.Model)

	e.mu.Lock()
	sessionID := req.SessionID
	var history []anthropic.MessageParam
	if sessionID != "" {
		history = e.sessions[sessionID]
	} else {
		e.seq++
		sessionID = fmt.Sprintf("api-session-%d", e.seq)
	}
	e.mu.Unlock()

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

	start := time.Now()
	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: e.maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return nil, &ExecutionError{Backend: "api", Err: err}
	}

	var output string
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			output += text.Text
		}
	}

	e.mu.Lock()
	e.sessions[sessionID] = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(output)))
	e.mu.Unlock()

	usage := models.TokenUsage{
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadTokens:  resp.Usage.CacheReadInputTokens,
	}
	e.logger.Debug("api call complete",
		zap.String("model", string(model)),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens))

	return &Response{
		Output:     output,
		SessionID:  sessionID,
		Usage:      usage,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// resolveModel maps short aliases to full model identifiers and applies
// the Bedrock inference-profile prefix when routing through Bedrock.
func (e *APIExecutor) resolveModel(model string) anthropic.Model {
	resolved := model
	switch model {
	case "", "sonnet":
		resolved = "claude-sonnet-4-5-20250929"
	case "haiku":
		resolved = "claude-haiku-4-5-20251001"
	case "opus":
		resolved = "claude-opus-4-5-20251101"
	}
	if e.bedrock {
		if translated, ok := bedrockModels[resolved]; ok {
			resolved = translated
		}
	}
	return anthropic.Model(resolved)
}

// bedrockModels maps standard model names to cross-region Bedrock
// inference profiles.
var bedrockModels = map[string]string{
	"claude-sonnet-4-5-20250929": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	"claude-haiku-4-5-20251001":  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	"claude-opus-4-5-20251101":   "us.anthropic.claude-opus-4-5-20251101-v1:0",
}
