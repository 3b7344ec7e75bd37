package xadmin

import (
	"context"
	"sort"
	"sync"
)

// Command 管理命令。args 不含命令名本身。
type Command interface {
	Name() string
	Help() string
	Execute(ctx context.Context, args []string) (string, error)
}

// CommandFunc 函数式命令
type CommandFunc struct {
	name    string
	help    string
	execute func(ctx context.Context, args []string) (string, error)
}

var _ Command = (*CommandFunc)(nil)

func NewCommandFunc(name, help string, fn func(ctx context.Context, args []string) (string, error)) *CommandFunc {
	return &CommandFunc{name: name, help: help, execute: fn}
}

func (c *CommandFunc) Name() string { return c.name }
func (c *CommandFunc) Help() string { return c.help }

func (c *CommandFunc) Execute(ctx context.Context, args []string) (string, error) {
	return c.execute(ctx, args)
}

// CommandRegistry 命令注册表，并发安全。
// 设置白名单后只有名单内的命令与 help 可以执行。
type CommandRegistry struct {
	mu        sync.RWMutex
	commands  map[string]Command
	whitelist map[string]struct{}
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]Command)}
}

// Register 同名命令覆盖
func (r *CommandRegistry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name()] = cmd
}

func (r *CommandRegistry) Get(name string) Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[name]
}

// Commands 按名称排序
func (r *CommandRegistry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Command, 0, len(names))
	for _, name := range names {
		out = append(out, r.commands[name])
	}
	return out
}

// SetWhitelist 空列表表示不限制
func (r *CommandRegistry) SetWhitelist(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) == 0 {
		r.whitelist = nil
		return
	}
	r.whitelist = make(map[string]struct{}, len(names))
	for _, n := range names {
		r.whitelist[n] = struct{}{}
	}
}

func (r *CommandRegistry) IsAllowed(name string) bool {
	if name == "help" {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.whitelist == nil {
		return true
	}
	_, ok := r.whitelist[name]
	return ok
}
