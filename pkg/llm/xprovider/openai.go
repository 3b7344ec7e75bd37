package xprovider

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// OpenAIConfig OpenAI 兼容服务配置
type OpenAIConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	// Timeout SDK 层请求超时，0 表示只受 ctx 约束
	Timeout time.Duration
}

// OpenAI OpenAI Chat Completions 适配器。
// SDK 内置重试被关闭：同一调用内不重试，重试交给任务队列。
type OpenAI struct {
	name   string
	model  string
	client openai.Client
}

var _ Provider = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = string(shared.ChatModelGPT4oMini)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAI{name: cfg.Name, model: cfg.Model, client: openai.NewClient(opts...)}, nil
}

func (p *OpenAI) Name() string { return p.name }

func (p *OpenAI) Complete(ctx context.Context, req *Request) (*Completion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt)},
		Model:    shared.ChatModel(model),
	}
	applyParams(&params, req.Params)
	if req.User != "" {
		params.User = openai.String(req.User)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &Error{Provider: p.name, StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, &Error{Provider: p.name, Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &Error{Provider: p.name, StatusCode: 502, Err: ErrEmptyReply}
	}
	return &Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// applyParams 只映射影响输出的常用参数，未知参数忽略
func applyParams(p *openai.ChatCompletionNewParams, params map[string]any) {
	if v, ok := number(params["temperature"]); ok {
		p.Temperature = openai.Float(v)
	}
	if v, ok := number(params["top_p"]); ok {
		p.TopP = openai.Float(v)
	}
	if v, ok := number(params["max_tokens"]); ok {
		p.MaxCompletionTokens = openai.Int(int64(v))
	}
	if v, ok := number(params["seed"]); ok {
		p.Seed = openai.Int(int64(v))
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
