package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"event-sniper/pkg/types"
)

// RuleSet is the parsed rules file: static market subscriptions, trigger
// rules, and discovery strategies. An absent file yields an empty set so
// the sniper can run on discovery alone (or do nothing, in a smoke test).
type RuleSet struct {
	Markets        []string
	ThresholdRules []types.ThresholdRule
	KeywordRules   []types.KeywordRule
	Strategies     []types.DiscoveryStrategy
}

// File-shaped structs. Cooldowns are plain seconds in YAML to keep the file
// format friendly; they convert to time.Duration on load.

type ruleFile struct {
	Markets        []string            `yaml:"markets"`
	ThresholdRules []thresholdRuleYAML `yaml:"threshold_rules"`
	KeywordRules   []keywordRuleYAML   `yaml:"keyword_rules"`
	Strategies     []strategyYAML      `yaml:"strategies"`
}

type thresholdRuleYAML struct {
	TokenID         string  `yaml:"token_id"`
	TriggerSide     string  `yaml:"trigger_side"`
	Threshold       float64 `yaml:"threshold"`
	Comparison      string  `yaml:"comparison"`
	SizeUSDC        float64 `yaml:"size_usdc"`
	ReasonTemplate  string  `yaml:"reason_template"`
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
}

type keywordRuleYAML struct {
	Keyword         string  `yaml:"keyword"`
	TokenID         string  `yaml:"token_id"`
	TriggerSide     string  `yaml:"trigger_side"`
	SizeUSDC        float64 `yaml:"size_usdc"`
	ReasonTemplate  string  `yaml:"reason_template"`
	CaseSensitive   bool    `yaml:"case_sensitive"`
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
}

type criteriaYAML struct {
	Tags         []string `yaml:"tags"`
	MinVolume    float64  `yaml:"min_volume"`
	MinLiquidity float64  `yaml:"min_liquidity"`
	Keywords     []string `yaml:"keywords"`
	ActiveOnly   *bool    `yaml:"active_only"`
}

type ruleTemplateYAML struct {
	TriggerSide     string  `yaml:"trigger_side"`
	Threshold       float64 `yaml:"threshold"`
	Comparison      string  `yaml:"comparison"`
	SizeUSDC        float64 `yaml:"size_usdc"`
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
}

type strategyYAML struct {
	Name         string           `yaml:"name"`
	Criteria     criteriaYAML     `yaml:"criteria"`
	RuleTemplate ruleTemplateYAML `yaml:"rule_template"`
	MaxMarkets   int              `yaml:"max_markets"`
}

// Strategy-stamped rules space their triggers wider than hand-written ones.
const defaultTemplateCooldown = 300 * time.Second

// LoadRules parses the rules file at path. defaultCooldown applies to any
// threshold or keyword rule that does not set cooldown_seconds. A missing
// file returns an empty RuleSet and no error.
func LoadRules(path string, defaultCooldown time.Duration) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RuleSet{}, nil
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	set := &RuleSet{Markets: file.Markets}

	for i, r := range file.ThresholdRules {
		rule, err := r.toRule(defaultCooldown)
		if err != nil {
			return nil, fmt.Errorf("threshold_rules[%d]: %w", i, err)
		}
		set.ThresholdRules = append(set.ThresholdRules, rule)
	}
	for i, r := range file.KeywordRules {
		rule, err := r.toRule(defaultCooldown)
		if err != nil {
			return nil, fmt.Errorf("keyword_rules[%d]: %w", i, err)
		}
		set.KeywordRules = append(set.KeywordRules, rule)
	}
	for i, s := range file.Strategies {
		strat, err := s.toStrategy()
		if err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		set.Strategies = append(set.Strategies, strat)
	}

	return set, nil
}

func (r thresholdRuleYAML) toRule(defaultCooldown time.Duration) (types.ThresholdRule, error) {
	side, err := parseSide(r.TriggerSide)
	if err != nil {
		return types.ThresholdRule{}, err
	}
	cmp, err := parseComparison(r.Comparison)
	if err != nil {
		return types.ThresholdRule{}, err
	}
	if r.TokenID == "" {
		return types.ThresholdRule{}, fmt.Errorf("token_id is required")
	}
	if r.Threshold <= 0 || r.Threshold >= 1 {
		return types.ThresholdRule{}, fmt.Errorf("threshold must be in (0, 1), got %v", r.Threshold)
	}
	if r.SizeUSDC <= 0 {
		return types.ThresholdRule{}, fmt.Errorf("size_usdc must be > 0, got %v", r.SizeUSDC)
	}
	return types.ThresholdRule{
		TokenID:        r.TokenID,
		TriggerSide:    side,
		Threshold:      r.Threshold,
		Comparison:     cmp,
		SizeUSDC:       r.SizeUSDC,
		ReasonTemplate: r.ReasonTemplate,
		Cooldown:       cooldownOrDefault(r.CooldownSeconds, defaultCooldown),
	}, nil
}

func (r keywordRuleYAML) toRule(defaultCooldown time.Duration) (types.KeywordRule, error) {
	side, err := parseSide(r.TriggerSide)
	if err != nil {
		return types.KeywordRule{}, err
	}
	if r.Keyword == "" {
		return types.KeywordRule{}, fmt.Errorf("keyword is required")
	}
	if r.TokenID == "" {
		return types.KeywordRule{}, fmt.Errorf("token_id is required")
	}
	if r.SizeUSDC <= 0 {
		return types.KeywordRule{}, fmt.Errorf("size_usdc must be > 0, got %v", r.SizeUSDC)
	}
	return types.KeywordRule{
		Keyword:        r.Keyword,
		TokenID:        r.TokenID,
		TriggerSide:    side,
		SizeUSDC:       r.SizeUSDC,
		ReasonTemplate: r.ReasonTemplate,
		CaseSensitive:  r.CaseSensitive,
		Cooldown:       cooldownOrDefault(r.CooldownSeconds, defaultCooldown),
	}, nil
}

func (s strategyYAML) toStrategy() (types.DiscoveryStrategy, error) {
	if s.Name == "" {
		return types.DiscoveryStrategy{}, fmt.Errorf("name is required")
	}
	side, err := parseSide(s.RuleTemplate.TriggerSide)
	if err != nil {
		return types.DiscoveryStrategy{}, fmt.Errorf("rule_template: %w", err)
	}
	cmp, err := parseComparison(s.RuleTemplate.Comparison)
	if err != nil {
		return types.DiscoveryStrategy{}, fmt.Errorf("rule_template: %w", err)
	}
	if s.RuleTemplate.Threshold <= 0 || s.RuleTemplate.Threshold >= 1 {
		return types.DiscoveryStrategy{}, fmt.Errorf("rule_template: threshold must be in (0, 1), got %v", s.RuleTemplate.Threshold)
	}
	if s.RuleTemplate.SizeUSDC <= 0 {
		return types.DiscoveryStrategy{}, fmt.Errorf("rule_template: size_usdc must be > 0, got %v", s.RuleTemplate.SizeUSDC)
	}

	maxMarkets := s.MaxMarkets
	if maxMarkets <= 0 {
		maxMarkets = 10
	}
	activeOnly := true
	if s.Criteria.ActiveOnly != nil {
		activeOnly = *s.Criteria.ActiveOnly
	}

	return types.DiscoveryStrategy{
		Name: s.Name,
		Criteria: types.MarketCriteria{
			Tags:         s.Criteria.Tags,
			MinVolume:    s.Criteria.MinVolume,
			MinLiquidity: s.Criteria.MinLiquidity,
			Keywords:     s.Criteria.Keywords,
			ActiveOnly:   activeOnly,
		},
		RuleTemplate: types.RuleTemplate{
			TriggerSide: side,
			Threshold:   s.RuleTemplate.Threshold,
			Comparison:  cmp,
			SizeUSDC:    s.RuleTemplate.SizeUSDC,
			Cooldown:    cooldownOrDefault(s.RuleTemplate.CooldownSeconds, defaultTemplateCooldown),
		},
		MaxMarkets: maxMarkets,
	}, nil
}

func parseSide(s string) (types.Side, error) {
	switch types.Side(s) {
	case types.BUY, types.SELL:
		return types.Side(s), nil
	}
	return "", fmt.Errorf("trigger_side must be BUY or SELL, got %q", s)
}

func parseComparison(s string) (types.Comparison, error) {
	switch types.Comparison(s) {
	case types.ComparisonAbove, types.ComparisonBelow:
		return types.Comparison(s), nil
	}
	return "", fmt.Errorf("comparison must be above or below, got %q", s)
}

func cooldownOrDefault(seconds float64, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
