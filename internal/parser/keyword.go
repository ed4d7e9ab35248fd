package parser

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"event-sniper/pkg/types"
)

// KeywordParser fires when a NEWS or SOCIAL event's content contains a
// watched keyword. Each keyword keeps its own cooldown clock; rules are
// checked in install order and the first match wins for an event.
type KeywordParser struct {
	mu sync.Mutex

	rules       []types.KeywordRule
	lastTrigger map[string]time.Time // keyed by keyword

	logger *slog.Logger
}

// NewKeywordParser creates a parser seeded with the given rules.
func NewKeywordParser(rules []types.KeywordRule, logger *slog.Logger) *KeywordParser {
	p := &KeywordParser{
		rules:       append([]types.KeywordRule(nil), rules...),
		lastTrigger: make(map[string]time.Time),
		logger:      logger.With("component", "keyword_parser"),
	}
	p.logger.Info("keyword parser initialized", "rules", len(rules))
	return p
}

// Evaluate checks an external event's content against the keyword rules.
func (p *KeywordParser) Evaluate(event types.MarketEvent) *types.TradeSignal {
	if event.Type != types.EventNews && event.Type != types.EventSocial {
		return nil
	}
	if event.Content == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, rule := range p.rules {
		if last, ok := p.lastTrigger[rule.Keyword]; ok && now.Sub(last) < rule.Cooldown {
			continue
		}
		if !containsKeyword(event.Content, rule.Keyword, rule.CaseSensitive) {
			continue
		}

		p.lastTrigger[rule.Keyword] = now

		p.logger.Info("keyword triggered",
			"keyword", rule.Keyword,
			"token_id", rule.TokenID,
			"source", event.Source,
			"side", rule.TriggerSide,
		)

		return &types.TradeSignal{
			TokenID:   rule.TokenID,
			Side:      rule.TriggerSide,
			SizeUSDC:  rule.SizeUSDC,
			Reason:    rule.Reason(event.Source, event.Content),
			Timestamp: now,
		}
	}
	return nil
}

// AddRule installs a rule at runtime.
func (p *KeywordParser) AddRule(rule types.KeywordRule) {
	p.mu.Lock()
	p.rules = append(p.rules, rule)
	p.mu.Unlock()

	p.logger.Info("rule added", "keyword", rule.Keyword, "token_id", rule.TokenID)
}

// Reset clears trigger history. Rules survive.
func (p *KeywordParser) Reset() {
	p.mu.Lock()
	p.lastTrigger = make(map[string]time.Time)
	p.mu.Unlock()

	p.logger.Info("parser state reset")
}

func containsKeyword(content, keyword string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(content, keyword)
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(keyword))
}
