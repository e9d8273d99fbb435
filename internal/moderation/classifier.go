package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	CodeLink    = "link"
	CodeCaps    = "caps spam"
	CodeFlood   = "flood"
	badWordCode = "badword:"

	ReasonLink    = "Posting links"
	ReasonCaps    = "Caps spam"
	ReasonFlood   = "Flooding"
	ReasonManual  = "Warned by an admin"
	badWordReason = "Use of banned word: "

	capsThreshold = 25
	capsMaxLength = 400
)

// DefaultBadWords apply to chats that have no filter words of their own.
var DefaultBadWords = []string{"spamword1", "scam", "porn", "sex", "casino", "fake"}

var linkRx = regexp.MustCompile(`(https?://\S+|\bwww\.\S+)`)

type ClassifyInput struct {
	Text        string
	Caption     string
	BlockLinks  bool
	FilterWords []string
	FromAdmin   bool
}

type Verdict struct {
	Violation bool
	Code      string
	Reason    string
}

var Clean = Verdict{}

func violation(code, reason string) Verdict {
	return Verdict{Violation: true, Code: code, Reason: reason}
}

// Classify applies the content rules in order: links, banned words, caps. The first
// matching rule decides the verdict.
func Classify(in ClassifyInput) Verdict {
	text := in.Text
	if text == "" {
		text = in.Caption
	}
	if text == "" {
		return Clean
	}
	lowered := strings.ToLower(text)

	if in.BlockLinks && !in.FromAdmin && linkRx.MatchString(lowered) {
		return violation(CodeLink, ReasonLink)
	}

	words := in.FilterWords
	if len(words) == 0 {
		words = DefaultBadWords
	}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(lowered, w) {
			return violation(badWordCode+w, badWordReason+w)
		}
	}

	if countUpper(text) > capsThreshold && len([]rune(text)) < capsMaxLength {
		return violation(CodeCaps, ReasonCaps)
	}
	return Clean
}

func countUpper(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsUpper(r) {
			n++
		}
	}
	return n
}
