package relay

import (
	"strings"
	"unicode/utf8"

	"tgrelay/internal/transport"
)

// FilterConfig is the immutable rule set for one Filter.
// Keyword matching is case-insensitive substring matching.
type FilterConfig struct {
	// IncludeKeywords: when non-empty, at least one must occur in the text.
	IncludeKeywords []string
	// ExcludeKeywords: any occurrence rejects the message.
	ExcludeKeywords []string
	// MediaOnly rejects messages without a media attachment.
	MediaOnly bool
	// MinLength is the minimum text length in runes (0 = no limit).
	// It applies to media captions as well.
	MinLength int
}

// Rejection reasons, stable strings used in logs and counters.
const (
	ReasonNoMedia     = "no-media"
	ReasonTooShort    = "too-short"
	ReasonExcluded    = "excluded-keyword"
	ReasonNotIncluded = "not-included"
)

// Decision is the outcome of Filter.Decide. Reason is empty when Pass.
type Decision struct {
	Pass   bool
	Reason string
}

func pass() Decision           { return Decision{Pass: true} }
func reject(r string) Decision { return Decision{Reason: r} }

// Filter evaluates inbound messages against a fixed rule set.
// Decide is pure and deterministic; the Filter itself is immutable after
// NewFilter, so it may be swapped atomically on config reload.
type Filter struct {
	cfg     FilterConfig
	include []string // lower-cased
	exclude []string // lower-cased
}

func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{
		cfg:     cfg,
		include: lowerAll(cfg.IncludeKeywords),
		exclude: lowerAll(cfg.ExcludeKeywords),
	}
}

func (f *Filter) Config() FilterConfig { return f.cfg }

// Decide applies the rules in fixed order; the first matching rejection
// wins:
//
//  1. media-only
//  2. minimum length
//  3. exclude keywords
//  4. include keywords
func (f *Filter) Decide(msg transport.Inbound) Decision {
	if f.cfg.MediaOnly && !msg.HasMedia {
		return reject(ReasonNoMedia)
	}
	if utf8.RuneCountInString(msg.Text) < f.cfg.MinLength {
		return reject(ReasonTooShort)
	}

	if len(f.exclude) > 0 || len(f.include) > 0 {
		text := strings.ToLower(msg.Text)
		for _, kw := range f.exclude {
			if strings.Contains(text, kw) {
				return reject(ReasonExcluded)
			}
		}
		if len(f.include) > 0 && !containsAny(text, f.include) {
			return reject(ReasonNotIncluded)
		}
	}
	return pass()
}

func containsAny(text string, kws []string) bool {
	for _, kw := range kws {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, strings.ToLower(s))
	}
	return out
}
