// Package dedup compares candidate prompts against previously produced
// content so that duplicate topics are not queued or produced twice.
//
// Matching is heuristic. A prompt is reduced to its core topic by stripping
// common boilerplate, then compared against content titles: an exact
// (case-insensitive) title match wins over a containment match. Topics
// shorter than the configured minimum are never matched.
package dedup

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/pkg/api"
)

// DefaultMinTopicLength is used when a Checker is built with a
// non-positive minimum.
const DefaultMinTopicLength = 4

// MatchKind reports how a content record matched.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchContains MatchKind = "contains"
)

// Match describes an existing content record that looks like the candidate.
type Match struct {
	Record    *api.ContentRecord `json:"record"`
	Kind      MatchKind          `json:"kind"`
	CoreTopic string             `json:"core_topic"`
}

// Checker looks up candidate prompts in a ContentStore.
type Checker struct {
	content persistence.ContentStore
	minLen  int
}

// NewChecker returns a Checker. minTopicLength is measured in runes.
func NewChecker(content persistence.ContentStore, minTopicLength int) *Checker {
	if minTopicLength <= 0 {
		minTopicLength = DefaultMinTopicLength
	}
	return &Checker{content: content, minLen: minTopicLength}
}

// Find returns the first content record matching prompt, or nil when none
// does or when the core topic is too short to compare.
func (c *Checker) Find(ctx context.Context, prompt string) (*Match, error) {
	core := CoreTopic(prompt)
	if len([]rune(core)) < c.minLen {
		return nil, nil
	}

	for _, title := range exactCandidates(prompt, core) {
		rec, err := c.content.FindContentByTitle(ctx, title)
		if err == nil {
			return &Match{Record: rec, Kind: MatchExact, CoreTopic: core}, nil
		}
		if !errors.Is(err, api.ErrNotFound) {
			return nil, err
		}
	}

	found, err := c.content.SearchContent(ctx, core, 1)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return &Match{Record: found[0], Kind: MatchContains, CoreTopic: core}, nil
	}
	return nil, nil
}

func exactCandidates(prompt, core string) []string {
	full := normalizeSpace(strings.TrimRight(strings.TrimSpace(prompt), "?!."))
	if strings.EqualFold(full, core) {
		return []string{core}
	}
	return []string{full, core}
}

// Leading phrases removed from prompts, longest first.
var prefixes = []string{
	"write an article about",
	"write a post about",
	"write about",
	"tell me about",
	"what is the meaning of",
	"what is the symbolism of",
	"what does it mean to dream about",
	"what does it mean to dream of",
	"what does it mean when",
	"what does",
	"what is",
	"what are",
	"what's",
	"who is",
	"who was",
	"why do",
	"why does",
	"why is",
	"how to",
	"how do",
	"how does",
	"how can",
	"when is",
	"where is",
	"explain",
	"the meaning of",
	"spiritual meaning of",
	"meaning of",
	"symbolism of",
	"dreaming of",
	"dreaming about",
	"dream about",
	"dream of",
}

// Trailing phrases removed from prompts, longest first.
var suffixes = []string{
	"spiritual meaning and symbolism",
	"meaning and symbolism",
	"symbolism and meaning",
	"spiritual meaning",
	"biblical meaning",
	"dream meaning",
	"meaning",
	"symbolism",
	"mean",
	"explained",
	"in dreams",
	"in a dream",
}

// CoreTopic lowercases prompt, collapses whitespace and strips the known
// boilerplate prefixes and suffixes, repeating until nothing changes.
func CoreTopic(prompt string) string {
	s := strings.ToLower(normalizeSpace(prompt))
	s = strings.TrimFunc(s, isEdgePunct)

	for {
		before := s
		for _, p := range prefixes {
			if rest, ok := cutWord(s, p, true); ok {
				s = rest
				break
			}
		}
		for _, suf := range suffixes {
			if rest, ok := cutWord(s, suf, false); ok {
				s = rest
				break
			}
		}
		s = strings.TrimPrefix(s, "a ")
		s = strings.TrimPrefix(s, "an ")
		s = strings.TrimPrefix(s, "the ")
		s = strings.TrimFunc(s, isEdgePunct)
		if s == before {
			return s
		}
	}
}

// cutWord removes phrase from the start (or end) of s only when it is a
// whole word sequence.
func cutWord(s, phrase string, leading bool) (string, bool) {
	if leading {
		rest, ok := strings.CutPrefix(s, phrase)
		if !ok || (rest != "" && !startsWithSeparator(rest)) {
			return s, false
		}
		return strings.TrimSpace(rest), true
	}
	rest, ok := strings.CutSuffix(s, phrase)
	if !ok || (rest != "" && !endsWithSeparator(rest)) {
		return s, false
	}
	return strings.TrimSpace(rest), true
}

func startsWithSeparator(s string) bool {
	r := []rune(s)[0]
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

func endsWithSeparator(s string) bool {
	r := []rune(s)
	last := r[len(r)-1]
	return unicode.IsSpace(last) || unicode.IsPunct(last)
}

func isEdgePunct(r rune) bool {
	return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
