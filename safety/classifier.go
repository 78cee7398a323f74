// Package safety assigns a risk tier to shell commands before they run.
//
// Classification is pure and rule driven; nothing here talks to a model.
// Malformed input never blocks a turn: it is reported as a ClassificationError
// and treated as Dangerous, which forces an interactive confirmation.
package safety

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/m4xw311/shellmind/errors"
	"gopkg.in/yaml.v3"
)

type Tier int

const (
	Safe Tier = iota
	Caution
	Dangerous
)

func (t Tier) String() string {
	switch t {
	case Safe:
		return "safe"
	case Caution:
		return "caution"
	case Dangerous:
		return "dangerous"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier accepts safe, caution (or moderate) and dangerous.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return Safe, nil
	case "caution", "moderate":
		return Caution, nil
	case "dangerous":
		return Dangerous, nil
	}
	return Safe, errors.New("unknown risk tier %q", s)
}

func (t *Tier) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseTier(value.Value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Tier) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// SynthesizedCommand is a command proposed by the model together with its
// classification. It is never mutated after Classify returns it.
type SynthesizedCommand struct {
	Text      string
	Tier      Tier
	Rationale string
	// Rules lists the names of every rule that fired.
	Rules []string
}

// ClassificationError reports text the classifier could not reason about.
type ClassificationError struct {
	Text   string
	Reason string
}

func (e *ClassificationError) Error() string {
	return "cannot classify command: " + e.Reason
}

// Classifier evaluates commands against an ordered rule set.
type Classifier struct {
	byTier      [3][]*Rule
	commandWide []*Rule
}

// New compiles the given rules into a classifier. Rules are evaluated
// dangerous first, then caution, then safe; order within a tier is kept.
func New(rules []Rule) (*Classifier, error) {
	c := &Classifier{}
	for i := range rules {
		r := rules[i]
		if r.re == nil && r.needle == "" {
			if err := r.compile(); err != nil {
				return nil, err
			}
		}
		if r.Tier < Safe || r.Tier > Dangerous {
			return nil, errors.New("rule %q has invalid tier %d", r.Name, int(r.Tier))
		}
		if r.Scope == ScopeCommand {
			if r.Tier == Safe {
				return nil, errors.New("rule %q: command-scoped rules cannot mark text safe", r.Name)
			}
			c.commandWide = append(c.commandWide, &r)
			continue
		}
		c.byTier[r.Tier] = append(c.byTier[r.Tier], &r)
	}
	return c, nil
}

// NewDefault builds a classifier from the built-in rules plus, when
// userRulesFile is non-empty, the rules in that file.
func NewDefault(userRulesFile string) (*Classifier, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	if userRulesFile != "" {
		extra, err := LoadRulesFile(userRulesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, extra...)
	}
	return New(rules)
}

// Classify assigns a tier to text. The returned command is always usable;
// when err is non-nil it is a *ClassificationError and the command is
// Dangerous.
func (c *Classifier) Classify(text string) (SynthesizedCommand, error) {
	segments, err := Split(text)
	if err != nil {
		ce := &ClassificationError{Text: text, Reason: err.Error()}
		return SynthesizedCommand{
			Text:      text,
			Tier:      Dangerous,
			Rationale: ce.Error(),
		}, ce
	}

	lowered := strings.ToLower(text)
	result := SynthesizedCommand{Text: text, Tier: Safe}
	decided := false
	raise := func(tier Tier, rationale, rule string) {
		if rule != "" {
			result.Rules = append(result.Rules, rule)
		}
		if !decided || tier > result.Tier {
			result.Tier = tier
			result.Rationale = rationale
			decided = true
		}
	}

	for _, r := range c.commandWide {
		if r.matches(lowered) {
			raise(r.Tier, r.Rationale, r.Name)
		}
	}

	for _, seg := range segments {
		r := c.matchSegment(strings.ToLower(seg))
		if r == nil {
			raise(Caution, fmt.Sprintf("unrecognized command %q; review before running", firstWord(seg)), "")
			continue
		}
		raise(r.Tier, r.Rationale, r.Name)
	}
	return result, nil
}

func (c *Classifier) matchSegment(seg string) *Rule {
	for tier := Dangerous; tier >= Safe; tier-- {
		for _, r := range c.byTier[tier] {
			if r.matches(seg) {
				return r
			}
		}
	}
	return nil
}

// Split breaks a command into segments on ; && || | and newlines, honoring
// single quotes, double quotes and backslash escapes. Empty segments are
// dropped. Empty text, NUL bytes, invalid UTF-8 and unbalanced quotes are
// errors.
func Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.Sentinel("empty command")
	}
	if !utf8.ValidString(text) {
		return nil, errors.Sentinel("command is not valid UTF-8")
	}
	if strings.ContainsRune(text, 0) {
		return nil, errors.Sentinel("command contains a NUL byte")
	}

	var (
		segments []string
		current  strings.Builder
		quote    rune
		escaped  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' && quote != '\'' {
			current.WriteRune(r)
			escaped = true
			continue
		}
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			current.WriteRune(r)
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
			current.WriteRune(r)
		case ';', '\n':
			flush()
		case '|':
			flush()
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
			}
		case '&':
			if i+1 < len(runes) && runes[i+1] == '&' {
				flush()
				i++
				continue
			}
			current.WriteRune(r)
		default:
			current.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, errors.Sentinel("unbalanced quotes")
	}
	flush()
	if len(segments) == 0 {
		return nil, errors.Sentinel("command has no executable segment")
	}
	return segments, nil
}

func firstWord(seg string) string {
	if fields := strings.Fields(seg); len(fields) > 0 {
		return fields[0]
	}
	return seg
}

// Policy decides when a classified command needs the user's approval.
type Policy struct {
	// AutoExecute skips confirmation for Safe and Caution commands.
	AutoExecute bool
}

// RequiresConfirmation is always true for Dangerous commands.
func (p Policy) RequiresConfirmation(t Tier) bool {
	return t == Dangerous || !p.AutoExecute
}

// Warning returns the annotation shown next to a command, if any.
func Warning(cmd SynthesizedCommand) string {
	switch cmd.Tier {
	case Dangerous:
		return "DANGEROUS: " + cmd.Rationale
	case Caution:
		return "Caution: " + cmd.Rationale
	}
	return ""
}
