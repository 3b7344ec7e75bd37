package xprovider

import (
	"context"
	"errors"
	"strings"
)

// Request 归一化后的补全请求
type Request struct {
	Prompt string         `json:"prompt"`
	Model  string         `json:"model,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Tenant string         `json:"tenant,omitempty"`
	User   string         `json:"user,omitempty"`
}

// Validate 检查必填字段
func (r *Request) Validate() error {
	if r == nil {
		return ErrNilRequest
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Completion 提供方返回的补全结果
type Completion struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

//go:generate mockgen -destination=xprovidermock/provider.go -package=xprovidermock . Provider

// Provider 语言模型提供方。实现必须并发安全。
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// Func 函数适配器
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, req *Request) (*Completion, error)
}

var _ Provider = (*Func)(nil)

func (f *Func) Name() string { return f.ProviderName }

func (f *Func) Complete(ctx context.Context, req *Request) (*Completion, error) {
	if f.Fn == nil {
		return nil, errors.New("xprovider: nil func")
	}
	return f.Fn(ctx, req)
}
