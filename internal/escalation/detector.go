package escalation

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"
)

// Category is the closed set of escalation categories. The detector only
// ever returns one of these values, never free text.
type Category string

const (
	CategoryNone                  Category = "none"
	CategoryViolenceThreat        Category = "violence_threat"
	CategoryLegalThreat           Category = "legal_threat"
	CategoryMedicalEmergency      Category = "medical_emergency"
	CategoryDoNotContact          Category = "do_not_contact"
	CategoryExtremeAnger          Category = "extreme_anger"
	CategoryUnacceptableComplaint Category = "unacceptable_complaint"
)

// Source records which pass produced the result.
type Source string

const (
	SourceDeterministic Source = "deterministic"
	SourceModel         Source = "model"
)

// Result is the detector's classification of one inbound message.
type Result struct {
	Triggered bool     `json:"triggered"`
	Category  Category `json:"category"`
	Source    Source   `json:"source"`
}

// ErrDetectionDegraded reports that the model classifier failed or returned
// an unrecognized value and detection fell back to "none". The caller must
// log it; it is not fatal.
var ErrDetectionDegraded = errors.New("escalation detection degraded")

// Classifier is the generative fallback consulted when no deterministic
// rule matches. It returns one of the Category string values.
type Classifier interface {
	ClassifyEscalation(ctx context.Context, text string) (string, error)
}

// Rule is one deterministic pattern rule. Rules are evaluated in slice
// order and the first matching rule wins.
type Rule struct {
	Category Category
	Patterns []*regexp.Regexp
}

func (r Rule) matches(text string) bool {
	for _, p := range r.Patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// DefaultRules returns the built-in rule set. Priority order is
// violence, legal, medical, then do-not-contact.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: CategoryViolenceThreat,
			Patterns: compile(
				`\bkill\b`,
				`\b(hurt|harm|beat up)\s+(you|your)\b`,
				`\bshoot(ing)?\s*(up)?\b`,
				`\bburn\s+(down|your)\b`,
				`\bdestroy\s+your\b`,
				`\bgoing to pay for this\b`,
				`\bknow where you live\b`,
			),
		},
		{
			Category: CategoryLegalThreat,
			Patterns: compile(
				`\bsue\b`,
				`\bsuing\b`,
				`\blawyer\b`,
				`\battorney\b`,
				`\blawsuit\b`,
				`\blegal action\b`,
				`\bmalpractice\b`,
				`\breporting you to\b`,
			),
		},
		{
			Category: CategoryMedicalEmergency,
			Patterns: compile(
				`\bsevere pain\b`,
				`\ballergic reaction\b`,
				`\bswollen\b`,
				`\bswelling\b`,
				`\bbleeding\b`,
				`\brash\b`,
				`\bemergency\b`,
				`\binfect(ed|ion)\b`,
				`\bcan'?t breathe\b`,
			),
		},
		{
			Category: CategoryDoNotContact,
			Patterns: compile(
				`\bdo\s*n[o']?t\s+(contact|text|call|message)\s+me\b`,
				`\bstop\s+(texting|messaging|calling|contacting|bothering)\s*(me)?\b`,
				`\bremove me\b`,
				`\bunsubscribe\b`,
				`\bleave me alone\b`,
				`\bopt\s*out\b`,
				`\btake me off\b`,
				`\bdon'?t want to hear from you\b`,
			),
		},
	}
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Detector classifies inbound message text. The deterministic pre-pass
// never consults the classifier, so safety-critical detection does not
// depend on an external service. The classifier result never overrides a
// deterministic match.
type Detector struct {
	rules      []Rule
	classifier Classifier
}

func NewDetector(rules []Rule, classifier Classifier) *Detector {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Detector{rules: rules, classifier: classifier}
}

// Detect classifies text into an escalation category. On classifier
// failure it returns a "none" result together with ErrDetectionDegraded;
// the result is still usable.
func (d *Detector) Detect(ctx context.Context, text string) (Result, error) {
	for _, rule := range d.rules {
		if rule.matches(text) {
			return Result{Triggered: true, Category: rule.Category, Source: SourceDeterministic}, nil
		}
	}

	none := Result{Triggered: false, Category: CategoryNone, Source: SourceDeterministic}

	if d.classifier == nil {
		return none, nil
	}

	raw, err := d.classifier.ClassifyEscalation(ctx, text)
	if err != nil {
		return none, errors.Join(ErrDetectionDegraded, err)
	}

	category, ok := ParseCategory(raw)
	if !ok {
		log.Printf("Classifier returned unrecognized category %q", raw)
		return none, ErrDetectionDegraded
	}
	if category == CategoryNone {
		return Result{Triggered: false, Category: CategoryNone, Source: SourceModel}, nil
	}
	return Result{Triggered: true, Category: category, Source: SourceModel}, nil
}

// ParseCategory maps a raw classifier token to a Category.
func ParseCategory(raw string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryNone:
		return CategoryNone, true
	case CategoryViolenceThreat:
		return CategoryViolenceThreat, true
	case CategoryLegalThreat:
		return CategoryLegalThreat, true
	case CategoryMedicalEmergency:
		return CategoryMedicalEmergency, true
	case CategoryDoNotContact:
		return CategoryDoNotContact, true
	case CategoryExtremeAnger:
		return CategoryExtremeAnger, true
	case CategoryUnacceptableComplaint:
		return CategoryUnacceptableComplaint, true
	default:
		return CategoryNone, false
	}
}
