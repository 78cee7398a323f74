package safety

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/m4xw311/shellmind/errors"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

type MatchKind string

const (
	MatchPrefix   MatchKind = "prefix"
	MatchContains MatchKind = "contains"
	MatchRegex    MatchKind = "regex"
)

type Scope string

const (
	ScopeSegment Scope = "segment"
	ScopeCommand Scope = "command"
)

// Rule maps a pattern to a risk tier.
type Rule struct {
	Name      string    `yaml:"name"`
	Scope     Scope     `yaml:"scope,omitempty"`
	Match     MatchKind `yaml:"match"`
	Pattern   string    `yaml:"pattern"`
	Tier      Tier      `yaml:"tier"`
	Rationale string    `yaml:"rationale"`
	Example   string    `yaml:"example,omitempty"`

	re     *regexp.Regexp
	needle string
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() ([]Rule, error) {
	return parseRules(defaultRulesYAML, "rules.yaml")
}

// LoadRulesFile reads additional rules from a YAML file in the same format as
// the built-in set.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read rules file %s", path)
	}
	return parseRules(data, path)
}

func parseRules(data []byte, source string) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "could not parse rules %s", source)
	}
	for i := range f.Rules {
		if err := f.Rules[i].compile(); err != nil {
			return nil, errors.Wrapf(err, "%s: rule %d", source, i)
		}
	}
	return f.Rules, nil
}

func (r *Rule) compile() error {
	if r.Name == "" {
		return errors.New("rule has no name")
	}
	if r.Pattern == "" {
		return errors.New("rule %q has an empty pattern", r.Name)
	}
	if r.Scope == "" {
		r.Scope = ScopeSegment
	}
	if r.Scope != ScopeSegment && r.Scope != ScopeCommand {
		return errors.New("rule %q has unknown scope %q", r.Name, r.Scope)
	}
	switch r.Match {
	case MatchPrefix, MatchContains:
		r.needle = strings.ToLower(r.Pattern)
	case MatchRegex:
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return errors.Wrapf(err, "rule %q has an invalid pattern", r.Name)
		}
		r.re = re
	default:
		return errors.New("rule %q has unknown match kind %q", r.Name, r.Match)
	}
	return nil
}

// matches expects text already lowercased and trimmed.
func (r *Rule) matches(text string) bool {
	switch r.Match {
	case MatchPrefix:
		if !strings.HasPrefix(text, r.needle) {
			return false
		}
		if len(text) == len(r.needle) {
			return true
		}
		next := text[len(r.needle)]
		return next == ' ' || next == '\t' || !isWordByte(r.needle[len(r.needle)-1])
	case MatchContains:
		return strings.Contains(text, r.needle)
	case MatchRegex:
		return r.re.MatchString(text)
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z')
}
