package leads

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultLossPhrases are matched as whole words against recent user messages
// after case and accent folding.
var DefaultLossPhrases = []string{
	"not interested",
	"no longer interested",
	"don't need",
	"dont need",
	"do not need",
	"no longer need",
	"please stop",
	"stop messaging",
	"unsubscribe",
	"nao tenho interesse",
	"sem interesse",
	"nao estou interessado",
	"nao estou interessada",
	"nao preciso",
	"pare de mandar",
}

// QualificationRules are the thresholds behind the qualification heuristic.
type QualificationRules struct {
	// RequiredMin of name/company/challenge must be known.
	RequiredMin int
	// OptionalMin of role/budget/urgency must be known, unless MinMessages is reached.
	OptionalMin int
	MinMessages int
	// LossWindow is how many recent user messages are scanned for loss phrases.
	LossWindow  int
	LossPhrases []string
}

// DefaultQualificationRules returns the stock thresholds.
func DefaultQualificationRules() QualificationRules {
	return QualificationRules{
		RequiredMin: 2,
		OptionalMin: 1,
		MinMessages: 6,
		LossWindow:  4,
		LossPhrases: DefaultLossPhrases,
	}
}

// EvalInput is the state the evaluator decides on.
type EvalInput struct {
	Current            Status
	Data               LeadData
	RecentUserMessages []string
	MessageCount       int
}

// Evaluator derives a lead's status from what is known and what was said.
type Evaluator struct {
	rules   QualificationRules
	phrases [][]string
}

// NewEvaluator builds an evaluator. Zero-valued rules fall back to defaults.
func NewEvaluator(rules QualificationRules) *Evaluator {
	def := DefaultQualificationRules()
	if rules.RequiredMin <= 0 {
		rules.RequiredMin = def.RequiredMin
	}
	if rules.OptionalMin <= 0 {
		rules.OptionalMin = def.OptionalMin
	}
	if rules.MinMessages <= 0 {
		rules.MinMessages = def.MinMessages
	}
	if rules.LossWindow <= 0 {
		rules.LossWindow = def.LossWindow
	}
	if len(rules.LossPhrases) == 0 {
		rules.LossPhrases = def.LossPhrases
	}
	phrases := make([][]string, 0, len(rules.LossPhrases))
	for _, p := range rules.LossPhrases {
		if words := foldedWords(p); len(words) > 0 {
			phrases = append(phrases, words)
		}
	}
	return &Evaluator{rules: rules, phrases: phrases}
}

// Rules returns the effective thresholds.
func (e *Evaluator) Rules() QualificationRules {
	return e.rules
}

// Evaluate returns the status for this turn. Scheduled leads stay scheduled;
// otherwise loss signals win over qualification.
func (e *Evaluator) Evaluate(in EvalInput) Status {
	if in.Current == StatusScheduled {
		return StatusScheduled
	}
	if in.MessageCount <= 0 {
		return StatusNew
	}
	if e.HasLossSignal(in.RecentUserMessages) {
		return StatusLost
	}
	if e.IsQualified(in.Data, in.MessageCount) {
		return StatusQualified
	}
	return StatusInProgress
}

// HasLossSignal scans the last LossWindow messages for a loss phrase. A phrase
// only matches a run of whole words.
func (e *Evaluator) HasLossSignal(userMessages []string) bool {
	start := len(userMessages) - e.rules.LossWindow
	if start < 0 {
		start = 0
	}
	for _, msg := range userMessages[start:] {
		words := foldedWords(msg)
		for _, phrase := range e.phrases {
			if containsWords(words, phrase) {
				return true
			}
		}
	}
	return false
}

func foldedWords(s string) []string {
	return strings.FieldsFunc(FoldText(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsWords(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, w := range phrase {
			if words[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// IsQualified applies the required/optional attribute thresholds.
func (e *Evaluator) IsQualified(data LeadData, messageCount int) bool {
	required := countKnown(data.Name, data.Company, data.Challenge)
	if required < e.rules.RequiredMin {
		return false
	}
	optional := countKnown(data.Role, data.Budget, data.Urgency)
	return optional >= e.rules.OptionalMin || messageCount >= e.rules.MinMessages
}

func countKnown(values ...string) int {
	n := 0
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// FoldText lowercases, strips accents and normalizes apostrophes and spacing.
func FoldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.NewReplacer("’", "'", "‘", "'").Replace(folded)
	return strings.Join(strings.Fields(folded), " ")
}
