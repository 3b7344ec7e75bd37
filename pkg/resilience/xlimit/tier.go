package xlimit

import (
	"fmt"
	"strings"
	"time"
)

// 内置 Tier 名称
const (
	TierStrict   = "strict"
	TierStandard = "standard"
	TierLoose    = "loose"
)

// Tier 一档限流配额
type Tier struct {
	Name   string        `json:"name" koanf:"name"`
	Limit  int           `json:"limit" koanf:"limit"`
	Window time.Duration `json:"window" koanf:"window"`
}

// Validate 校验配额。Limit 允许为 0（全部拒绝），窗口必须为正。
func (t Tier) Validate() error {
	if strings.TrimSpace(t.Name) == "" || strings.ContainsAny(t.Name, ": ") {
		return fmt.Errorf("%w: bad name %q", ErrInvalidTier, t.Name)
	}
	if t.Limit < 0 {
		return fmt.Errorf("%w: %s limit %d", ErrInvalidTier, t.Name, t.Limit)
	}
	if t.Window <= 0 {
		return fmt.Errorf("%w: %s window %s", ErrInvalidTier, t.Name, t.Window)
	}
	return nil
}

// DefaultTiers 内置三档
func DefaultTiers() []Tier {
	return []Tier{
		{Name: TierStrict, Limit: 5, Window: time.Minute},
		{Name: TierStandard, Limit: 60, Window: time.Minute},
		{Name: TierLoose, Limit: 300, Window: time.Minute},
	}
}

func indexTiers(tiers []Tier) (map[string]Tier, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidTier)
	}
	m := make(map[string]Tier, len(tiers))
	for _, t := range tiers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidTier, t.Name)
		}
		m[t.Name] = t
	}
	return m, nil
}
