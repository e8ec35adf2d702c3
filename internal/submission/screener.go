// Package submission implements the private-chat intake: users send
// listing messages to the bot, the screener checks them against the
// posting rules, and confirmed submissions are queued into the relay
// pipeline for rate-limited posting to the destination channel.
package submission

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Topic keywords accepted when the config lists none of its own.
var defaultTopicKeywords = []string{
	"apartment", "flat", "rent", "renting", "rental",
	"room", "studio", "bedroom", "sublet", "lease",
	"housing", "accommodation", "vuokra", "asunto",
	"1bdrm", "2bdrm", "3bdrm", "квартира", "комната", "аренда",
}

// Spam and scam markers rejected regardless of topic.
var defaultBlockedPatterns = []string{
	`bit\.ly`, `tinyurl`, `click here`,
	`earn money`, `make money fast`, `crypto`,
	`investment opportunity`, `guaranteed returns`,
}

// Screening outcomes.
const (
	ReasonEmpty      = "empty"
	ReasonSpam       = "spam-pattern"
	ReasonBlocked    = "blocked-keyword"
	ReasonTooShort   = "too-short"
	ReasonOffTopic   = "off-topic"
	ReasonApproved   = "approved"
	defaultMinLength = 20
)

// Verdict is the screening outcome plus the feedback text shown to the
// submitting user.
type Verdict struct {
	Approved bool
	Reason   string
	Feedback string
}

// ScreenerConfig derives from the filters section: the channel filter's
// keyword lists double as the submission rules, like the screening rules
// of the posting guidelines they enforce.
type ScreenerConfig struct {
	// TopicKeywords: at least one must occur; empty falls back to the
	// built-in rental vocabulary.
	TopicKeywords []string
	// BlockedKeywords reject the submission outright.
	BlockedKeywords []string
	// BlockedPatterns are case-insensitive regexps; empty falls back to
	// the built-in spam markers.
	BlockedPatterns []string
	// MinLength in runes; 0 falls back to 20.
	MinLength int
}

// Screener is immutable after NewScreener and safe for concurrent use.
type Screener struct {
	topic     []string // lower-cased
	blocked   []string // lower-cased
	patterns  []*regexp.Regexp
	minLength int
}

func NewScreener(cfg ScreenerConfig) (*Screener, error) {
	topic := lowerAll(cfg.TopicKeywords)
	if len(topic) == 0 {
		topic = lowerAll(defaultTopicKeywords)
	}
	raw := cfg.BlockedPatterns
	if len(raw) == 0 {
		raw = defaultBlockedPatterns
	}
	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("submissions: bad pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	minLen := cfg.MinLength
	if minLen <= 0 {
		minLen = defaultMinLength
	}
	return &Screener{
		topic:     topic,
		blocked:   lowerAll(cfg.BlockedKeywords),
		patterns:  patterns,
		minLength: minLen,
	}, nil
}

// Screen checks one submission; first failing rule wins.
func (s *Screener) Screen(text string) Verdict {
	if strings.TrimSpace(text) == "" {
		return Verdict{
			Reason:   ReasonEmpty,
			Feedback: "Your message is empty. Please include details about the rental.",
		}
	}
	for _, re := range s.patterns {
		if re.MatchString(text) {
			return Verdict{
				Reason:   ReasonSpam,
				Feedback: "Your message contains suspicious content and cannot be posted.",
			}
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range s.blocked {
		if strings.Contains(lower, kw) {
			return Verdict{
				Reason:   ReasonBlocked,
				Feedback: "Your message contains blocked content and cannot be posted.",
			}
		}
	}
	if utf8.RuneCountInString(text) < s.minLength {
		return Verdict{
			Reason: ReasonTooShort,
			Feedback: fmt.Sprintf(
				"Your message is too short. Please include more details (minimum %d characters).", s.minLength),
		}
	}
	if !containsAny(lower, s.topic) {
		return Verdict{
			Reason: ReasonOffTopic,
			Feedback: "Your message doesn't appear to be about rentals.\n" +
				"Please include the property type (apartment, flat, room, studio), " +
				"terms (rent, lease, sublet) and details like price and location.",
		}
	}
	return Verdict{
		Approved: true,
		Reason:   ReasonApproved,
	}
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
