package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Config 描述 Gemini 模型调用参数
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // 为空时使用官方端点

	Temperature     *float32
	TopP            *float32
	MaxOutputTokens *int32

	HTTPClient *http.Client
}

// ChatModel adapts the Gemini API to eino's chat model interface.
type ChatModel struct {
	client *genai.Client
	model  string
	cfg    Config
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// NewChatModel 创建 Gemini 模型实例。
func NewChatModel(ctx context.Context, cfg *Config) (*ChatModel, error) {
	if cfg == nil || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("gemini: model is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &ChatModel{client: client, model: cfg.Model, cfg: *cfg}, nil
}

// Generate 单次生成回复。
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	modelName, contents, genCfg, err := m.prepare(input, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Models.GenerateContent(ctx, modelName, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	msg := toMessage(resp)
	if msg.Content == "" {
		return nil, fmt.Errorf("gemini: empty response (finish reason %q)", msg.ResponseMeta.FinishReason)
	}
	return msg, nil
}

// Stream 以流的形式返回增量回复。
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	modelName, contents, genCfg, err := m.prepare(input, opts...)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer writer.Close()
		for resp, err := range m.client.Models.GenerateContentStream(ctx, modelName, contents, genCfg) {
			if err != nil {
				writer.Send(nil, fmt.Errorf("gemini: stream content: %w", err))
				return
			}
			if closed := writer.Send(toMessage(resp), nil); closed {
				return
			}
		}
	}()
	return reader, nil
}

func (m *ChatModel) prepare(input []*schema.Message, opts ...model.Option) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	var maxTokens *int
	if m.cfg.MaxOutputTokens != nil {
		val := int(*m.cfg.MaxOutputTokens)
		maxTokens = &val
	}
	modelName := m.model
	options := model.GetCommonOptions(&model.Options{
		Model:       &modelName,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   maxTokens,
	}, opts...)

	system, contents := toContents(input)
	if len(contents) == 0 {
		return "", nil, nil, errors.New("gemini: no user or assistant content to send")
	}

	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       options.Temperature,
		TopP:              options.TopP,
		StopSequences:     options.Stop,
	}
	if options.MaxTokens != nil {
		genCfg.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}
	return modelName, contents, genCfg, nil
}

// toContents splits eino messages into a system instruction and the
// user/model turns Gemini expects. A leading model turn (the persona's
// opening line) is sent as-is; generateContent only needs the last turn to
// come from the user.
func toContents(input []*schema.Message) (*genai.Content, []*genai.Content) {
	var (
		systemParts []string
		contents    []*genai.Content
	)

	for _, msg := range input {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.System:
			systemParts = append(systemParts, msg.Content)
		case schema.User:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	return system, contents
}

func toMessage(resp *genai.GenerateContentResponse) *schema.Message {
	msg := &schema.Message{
		Role:         schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{},
	}
	if resp == nil {
		return msg
	}

	msg.Content = resp.Text()
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		msg.ResponseMeta.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if usage := resp.UsageMetadata; usage != nil {
		msg.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
			TotalTokens:      int(usage.TotalTokenCount),
		}
	}
	return msg
}
