package xconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置格式
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

const (
	delim = "."
	tag   = "koanf"
)

// Config 配置访问接口
type Config interface {
	// Unmarshal 将 path 下的配置解析到 target，path 为空表示根
	Unmarshal(path string, target any) error
	// Exists 报告 path 是否存在
	Exists(path string) bool
	// Reload 从文件重新加载，失败时保留旧值
	Reload() error
	Path() string
	Format() Format
}

type koanfConfig struct {
	mu     sync.RWMutex
	k      *koanf.Koanf
	path   string
	format Format
}

var _ Config = (*koanfConfig)(nil)

// New 从文件加载配置
func New(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	k, err := loadFile(path, format)
	if err != nil {
		return nil, err
	}
	return &koanfConfig{k: k, path: path, format: format}, nil
}

// NewFromBytes 从内存数据加载配置（测试或嵌入默认配置使用）
func NewFromBytes(data []byte, format Format) (Config, error) {
	k := koanf.New(delim)
	if len(data) > 0 {
		if err := load(k, data, format); err != nil {
			return nil, err
		}
	} else if format != FormatYAML && format != FormatJSON {
		return nil, ErrUnsupportedFormat
	}
	return &koanfConfig{k: k, format: format}, nil
}

func (c *koanfConfig) Unmarshal(path string, target any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.k.UnmarshalWithConf(path, target, koanf.UnmarshalConf{Tag: tag}); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	return nil
}

func (c *koanfConfig) Exists(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.k.Exists(path)
}

func (c *koanfConfig) Reload() error {
	if c.path == "" {
		return ErrNotReloadable
	}
	k, err := loadFile(c.path, c.format)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.k = k
	c.mu.Unlock()
	return nil
}

func (c *koanfConfig) Path() string { return c.path }

func (c *koanfConfig) Format() Format { return c.format }

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, ext)
	}
}

func loadFile(path string, format Format) (*koanf.Koanf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	k := koanf.New(delim)
	if err := load(k, data, format); err != nil {
		return nil, err
	}
	return k, nil
}

func load(k *koanf.Koanf, data []byte, format Format) error {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return ErrUnsupportedFormat
	}
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return nil
}
