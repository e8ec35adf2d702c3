package relay

import (
	"testing"

	"tgrelay/internal/transport"
)

func TestDecideRuleOrder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		cfg    FilterConfig
		msg    transport.Inbound
		pass   bool
		reason string
	}{
		{
			name:   "media only rejects text message",
			cfg:    FilterConfig{MediaOnly: true},
			msg:    transport.Inbound{Text: "plain text"},
			reason: ReasonNoMedia,
		},
		{
			name: "media only passes media",
			cfg:  FilterConfig{MediaOnly: true},
			msg:  transport.Inbound{HasMedia: true},
			pass: true,
		},
		{
			name:   "too short",
			cfg:    FilterConfig{MinLength: 10},
			msg:    transport.Inbound{Text: "hi"},
			reason: ReasonTooShort,
		},
		{
			name:   "short caption on media still rejected",
			cfg:    FilterConfig{MinLength: 10},
			msg:    transport.Inbound{Text: "pic", HasMedia: true},
			reason: ReasonTooShort,
		},
		{
			name: "empty text passes with zero min length",
			cfg:  FilterConfig{MinLength: 0},
			msg:  transport.Inbound{Text: "", HasMedia: true},
			pass: true,
		},
		{
			name:   "exclude beats include",
			cfg:    FilterConfig{IncludeKeywords: []string{"crypto"}, ExcludeKeywords: []string{"spam"}, MinLength: 5},
			msg:    transport.Inbound{Text: "crypto market spam update"},
			reason: ReasonExcluded,
		},
		{
			name:   "include required but absent",
			cfg:    FilterConfig{IncludeKeywords: []string{"rent", "flat"}},
			msg:    transport.Inbound{Text: "selling a bike"},
			reason: ReasonNotIncluded,
		},
		{
			name: "include matches case-insensitively",
			cfg:  FilterConfig{IncludeKeywords: []string{"Rent"}},
			msg:  transport.Inbound{Text: "2 rooms for RENTING in centre"},
			pass: true,
		},
		{
			name: "empty include passes unconditionally",
			cfg:  FilterConfig{},
			msg:  transport.Inbound{Text: "anything at all"},
			pass: true,
		},
		{
			name: "exclude case-insensitive",
			cfg:  FilterConfig{ExcludeKeywords: []string{"SPAM"}},
			msg:  transport.Inbound{Text: "this is spammy"},
			// "spam" occurs as a substring of "spammy"
			reason: ReasonExcluded,
		},
		{
			name: "min length counts runes not bytes",
			cfg:  FilterConfig{MinLength: 7},
			msg:  transport.Inbound{Text: "квартира"}, // 8 runes, 16 bytes
			pass: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NewFilter(tt.cfg).Decide(tt.msg)
			if got.Pass != tt.pass {
				t.Fatalf("Decide() pass = %v, want %v (reason %q)", got.Pass, tt.pass, got.Reason)
			}
			if !tt.pass && got.Reason != tt.reason {
				t.Fatalf("Decide() reason = %q, want %q", got.Reason, tt.reason)
			}
		})
	}
}

func TestDecideDeterministic(t *testing.T) {
	t.Parallel()
	f := NewFilter(FilterConfig{
		IncludeKeywords: []string{"rent"},
		ExcludeKeywords: []string{"scam"},
		MinLength:       4,
	})
	msg := transport.Inbound{Text: "room for rent, city centre", HasMedia: true}

	first := f.Decide(msg)
	for i := 0; i < 100; i++ {
		if got := f.Decide(msg); got != first {
			t.Fatalf("Decide() not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestDecideNoSideEffects(t *testing.T) {
	t.Parallel()
	cfg := FilterConfig{IncludeKeywords: []string{"A"}, ExcludeKeywords: []string{"B"}}
	f := NewFilter(cfg)
	_ = f.Decide(transport.Inbound{Text: "a b c"})
	if got := f.Config(); len(got.IncludeKeywords) != 1 || got.IncludeKeywords[0] != "A" {
		t.Fatalf("filter config mutated: %+v", got)
	}
}
