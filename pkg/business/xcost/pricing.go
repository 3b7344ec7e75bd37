package xcost

import (
	"errors"
	"fmt"
)

// Wildcard 匹配任意 provider 或 model
const Wildcard = "*"

var ErrNegativePrice = errors.New("xcost: negative price")

// Price 每千 token 单价
type Price struct {
	Provider        string  `koanf:"provider" json:"provider"`
	Model           string  `koanf:"model" json:"model"`
	PromptPer1K     float64 `koanf:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `koanf:"completion_per_1k" json:"completion_per_1k"`
}

// Pricing 价格表，构造后只读，并发安全
type Pricing struct {
	prices map[string]Price
}

func priceKey(provider, model string) string { return provider + "/" + model }

// NewPricing 空的 Provider/Model 视为 Wildcard，后出现的同键价格覆盖前者
func NewPricing(prices ...Price) (*Pricing, error) {
	p := &Pricing{prices: make(map[string]Price, len(prices))}
	for _, pr := range prices {
		if pr.PromptPer1K < 0 || pr.CompletionPer1K < 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrNegativePrice, pr.Provider, pr.Model)
		}
		if pr.Provider == "" {
			pr.Provider = Wildcard
		}
		if pr.Model == "" {
			pr.Model = Wildcard
		}
		p.prices[priceKey(pr.Provider, pr.Model)] = pr
	}
	return p, nil
}

// Lookup 按回退顺序查找价格
func (p *Pricing) Lookup(provider, model string) (Price, bool) {
	if p == nil {
		return Price{}, false
	}
	for _, k := range []string{
		priceKey(provider, model),
		priceKey(provider, Wildcard),
		priceKey(Wildcard, model),
		priceKey(Wildcard, Wildcard),
	} {
		if pr, ok := p.prices[k]; ok {
			return pr, true
		}
	}
	return Price{}, false
}

// Cost 计算一次调用的成本，未配置价格时为 0
func (p *Pricing) Cost(provider, model string, promptTokens, completionTokens int64) float64 {
	pr, ok := p.Lookup(provider, model)
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*pr.PromptPer1K + float64(completionTokens)/1000*pr.CompletionPer1K
}
