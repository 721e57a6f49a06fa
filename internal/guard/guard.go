// Package guard implements the personal-info pattern guard: a fixed, ordered
// list of matchers run against every final local transcript turn while
// monitoring is active.
//
// Two matcher families are combined per category: regular expressions for
// digit-bearing identifiers (resident IDs, account and card numbers, codes)
// and fuzzy keyword matching for spoken trigger words. Speech-to-text mangles
// words like "password" or "OTP" often enough that exact keyword comparison
// misses real disclosures, so keywords are compared with Jaro-Winkler
// similarity.
package guard

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// Category identifies the kind of personal information a matcher detects.
// The numeric order is the match precedence: when one turn trips several
// matchers, the lowest category wins.
type Category int

const (
	// CategoryResidentID is a national resident registration number.
	CategoryResidentID Category = iota

	// CategoryBankAccount is a bank account number.
	CategoryBankAccount

	// CategoryCardNumber is a payment card number.
	CategoryCardNumber

	// CategoryPassword is a spoken password or PIN mention.
	CategoryPassword

	// CategoryOTP is a one-time or verification code mention.
	CategoryOTP

	// CategoryCVC is a card security code mention.
	CategoryCVC

	// CategoryPhoneNumber is a phone number.
	CategoryPhoneNumber
)

// String returns the log label for the category.
func (c Category) String() string {
	switch c {
	case CategoryResidentID:
		return "resident_id"
	case CategoryBankAccount:
		return "bank_account"
	case CategoryCardNumber:
		return "card_number"
	case CategoryPassword:
		return "password"
	case CategoryOTP:
		return "otp"
	case CategoryCVC:
		return "cvc"
	case CategoryPhoneNumber:
		return "phone_number"
	default:
		return "unknown"
	}
}

// Match describes a positive detection.
type Match struct {
	// Category is the kind of personal information detected.
	Category Category

	// Fragment is the piece of the turn that tripped the matcher, for
	// logging and the alert record.
	Fragment string
}

// matcher is one entry in the ordered matcher list. verify, when set, filters
// pattern hits that also look like a later category's identifier.
type matcher struct {
	category Category
	pattern  *regexp.Regexp
	verify   func(frag string) bool
	keywords []string
}

// defaultKeywordThreshold is the minimum Jaro-Winkler similarity between a
// spoken token and a trigger keyword to count as a match.
const defaultKeywordThreshold = 0.92

// Guard runs the ordered matcher list. Construct with New; safe for
// concurrent use once built.
type Guard struct {
	matchers  []matcher
	threshold float64
}

// Option is a functional option for Guard.
type Option func(*Guard)

// WithKeywordThreshold overrides the fuzzy keyword similarity threshold.
// Values closer to 1 demand near-exact tokens.
func WithKeywordThreshold(t float64) Option {
	return func(g *Guard) {
		g.threshold = t
	}
}

// New builds a Guard with the fixed matcher list. Order is precedence.
func New(opts ...Option) *Guard {
	g := &Guard{
		threshold: defaultKeywordThreshold,
		matchers: []matcher{
			{
				category: CategoryResidentID,
				// Six birth digits, a century/sex digit, six more digits.
				pattern: regexp.MustCompile(`\b\d{6}[-\s]?\d{7}\b`),
			},
			{
				category: CategoryBankAccount,
				// Dash/space separated digit groups, verified to the 10-14
				// digit account shape so 16-digit cards and 0-prefixed phone
				// numbers fall through to their own matchers.
				pattern:  regexp.MustCompile(`\b\d{2,6}(?:[-\s]\d{2,6}){1,3}\b`),
				verify:   looksLikeAccountNumber,
				keywords: []string{"account"},
			},
			{
				category: CategoryCardNumber,
				pattern:  regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
			},
			{
				category: CategoryPassword,
				keywords: []string{"password", "passcode", "pin"},
			},
			{
				category: CategoryOTP,
				pattern:  regexp.MustCompile(`\bcode\s+(?:is\s+)?\d{4,8}\b`),
				keywords: []string{"otp", "verification"},
			},
			{
				category: CategoryCVC,
				keywords: []string{"cvc", "cvv", "security"},
			},
			{
				category: CategoryPhoneNumber,
				pattern:  regexp.MustCompile(`\b0\d{1,2}[-\s]?\d{3,4}[-\s]?\d{4}\b`),
			},
		},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Inspect runs the matcher list over one turn of local speech. The first
// matching category wins. Empty or whitespace-only text never matches.
func (g *Guard) Inspect(text string) (Match, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Match{}, false
	}
	lower := strings.ToLower(trimmed)
	tokens := strings.Fields(lower)

	for _, m := range g.matchers {
		if m.pattern != nil {
			for _, frag := range m.pattern.FindAllString(lower, -1) {
				if m.verify == nil || m.verify(frag) {
					return Match{Category: m.category, Fragment: frag}, true
				}
			}
		}
		if frag, ok := g.matchKeywords(tokens, m.keywords); ok {
			return Match{Category: m.category, Fragment: frag}, true
		}
	}
	return Match{}, false
}

// looksLikeAccountNumber accepts 10-14 digit identifiers that do not carry a
// phone-style leading zero.
func looksLikeAccountNumber(frag string) bool {
	digits := 0
	for _, r := range frag {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10 && digits <= 14 && frag[0] != '0'
}

// matchKeywords compares each spoken token against each trigger keyword with
// Jaro-Winkler similarity, returning the first token at or above the
// threshold.
func (g *Guard) matchKeywords(tokens, keywords []string) (string, bool) {
	for _, tok := range tokens {
		for _, kw := range keywords {
			if tok == kw {
				return tok, true
			}
			if matchr.JaroWinkler(tok, kw, false) >= g.threshold {
				return tok, true
			}
		}
	}
	return "", false
}
