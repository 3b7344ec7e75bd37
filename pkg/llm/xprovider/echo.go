package xprovider

import (
	"context"
	"strings"
	"time"
)

// Echo 本地回显提供方，按空白切分估算 token 数
type Echo struct {
	name  string
	model string
	delay time.Duration
}

var _ Provider = (*Echo)(nil)

// NewEcho delay 模拟上游延迟，遵守 ctx 取消
func NewEcho(name, model string, delay time.Duration) *Echo {
	if name == "" {
		name = "echo"
	}
	if model == "" {
		model = "echo-1"
	}
	return &Echo{name: name, model: model, delay: delay}
}

func (e *Echo) Name() string { return e.name }

func (e *Echo) Complete(ctx context.Context, req *Request) (*Completion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e.delay > 0 {
		t := time.NewTimer(e.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	model := req.Model
	if model == "" {
		model = e.model
	}
	content := "echo: " + req.Prompt
	return &Completion{
		Content:          content,
		Model:            model,
		PromptTokens:     int64(len(strings.Fields(req.Prompt))),
		CompletionTokens: int64(len(strings.Fields(content))),
	}, nil
}
