// Package ai adapts the configured LLM providers to the chat model interface
// used by the coaching service.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"podiumgo/internal/config"
	"podiumgo/internal/logger"
	"podiumgo/internal/models"
)

var ErrEmptyReply = errors.New("model returned an empty reply")

// NewChatModel builds the chat model of one configured provider.
func NewChatModel(ctx context.Context, provider string, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key not configured", provider)
	}
	switch provider {
	case "openai":
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("openai chat model: %w", err)
		}
		return m, nil
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		m, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini chat model: %w", err)
		}
		return m, nil
	case "claude":
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		m, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURL,
			MaxTokens: 4000,
		})
		if err != nil {
			return nil, fmt.Errorf("claude chat model: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

// Chat runs completions against one model. With tools configured, streamed
// replies go through a react agent that may call them.
type Chat struct {
	model model.ToolCallingChatModel
	agent *react.Agent
	log   *slog.Logger
}

func NewChat(ctx context.Context, chatModel model.ToolCallingChatModel, tools []tool.BaseTool, log *slog.Logger) (*Chat, error) {
	c := &Chat{model: chatModel, log: logger.OrNop(log)}
	if len(tools) > 0 {
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig:      compose.ToolsNodeConfig{Tools: tools},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		c.agent = agent
	}
	return c, nil
}

// Generate returns a single completion. Tools are not offered, so the reply
// is the model's direct answer.
func (c *Chat) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	msg, err := c.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}

// Stream streams a reply, calling onDelta with each new piece of content,
// and returns the full text.
func (c *Chat) Stream(ctx context.Context, messages []*schema.Message, onDelta func(string) error) (string, error) {
	var (
		reader *schema.StreamReader[*schema.Message]
		err    error
	)
	if c.agent != nil {
		reader, err = c.agent.Stream(ctx, messages)
	} else {
		reader, err = c.model.Stream(ctx, messages)
	}
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read stream: %w", err)
		}
		if chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onDelta != nil {
			if err := onDelta(chunk.Content); err != nil {
				return "", err
			}
		}
	}
	if full.Len() == 0 {
		return "", ErrEmptyReply
	}
	return full.String(), nil
}

// ToSchema converts stored messages into model input.
func ToSchema(history []*models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}
