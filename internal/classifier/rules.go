package classifier

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pbaille/dramabot/internal/domain"
)

//go:embed rules.yaml
var defaultRules []byte

// Action is what a matching rule does
type Action string

const (
	// ActionCategory picks a random entry of the rule's category
	ActionCategory Action = "category"
	// ActionAuthor picks a random entry of every author mentioned
	ActionAuthor Action = "author"
	// ActionLiteral answers with the rule's fixed reply
	ActionLiteral Action = "literal"
	// ActionHelp lists the keywords of the rules before it
	ActionHelp Action = "help"
)

// Rule is one row of the rule table
type Rule struct {
	Name     string          `yaml:"name"`
	Action   Action          `yaml:"action"`
	Category domain.Category `yaml:"category,omitempty"`
	Keywords []string        `yaml:"keywords,omitempty"`
	Reply    string          `yaml:"reply,omitempty"`
	// Fallback is answered when a category rule's category is empty.
	// Left blank, an empty category yields an empty reply.
	Fallback string `yaml:"fallback,omitempty"`
}

// Marker decorates a reply with Icon when the message contains Token.
// Token is matched case-sensitively.
type Marker struct {
	Token string `yaml:"token"`
	Icon  string `yaml:"icon"`
}

// Rules is the whole rule table
type Rules struct {
	ErrorText  string              `yaml:"error_text"`
	HelpHeader string              `yaml:"help_header"`
	Heart      Marker              `yaml:"heart"`
	Rules      []Rule              `yaml:"rules"`
	Authors    map[string][]string `yaml:"authors"`
}

// DefaultRules returns the embedded rule table
func DefaultRules() *Rules {
	r, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return r
}

// LoadRules reads a rule table from a YAML file
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	r, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return r, nil
}

// ParseRules decodes and validates a YAML rule table
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) validate() error {
	if strings.TrimSpace(r.ErrorText) == "" {
		return fmt.Errorf("error_text is required")
	}
	if len(r.Rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}

	valid := make(map[domain.Category]bool)
	for _, c := range domain.Categories() {
		valid[c] = true
	}

	for i, rule := range r.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		switch rule.Action {
		case ActionCategory:
			if !valid[rule.Category] {
				return fmt.Errorf("rule %q: unknown category %q", rule.Name, rule.Category)
			}
		case ActionLiteral:
			if rule.Reply == "" {
				return fmt.Errorf("rule %q: reply is required", rule.Name)
			}
		case ActionAuthor, ActionHelp:
		default:
			return fmt.Errorf("rule %q: unknown action %q", rule.Name, rule.Action)
		}
		if rule.Action != ActionAuthor && len(rule.Keywords) == 0 {
			return fmt.Errorf("rule %q: keywords are required", rule.Name)
		}
	}
	return nil
}

// keywords returns the keywords a rule matches on. Author rules match on
// every alias of every known author.
func (r *Rules) keywords(rule Rule) []string {
	if rule.Action != ActionAuthor {
		return rule.Keywords
	}
	var all []string
	for _, key := range r.authorKeys() {
		all = append(all, r.Authors[key]...)
	}
	return all
}

// aliases returns the names an author key is called by. Keys are compared
// case-insensitively.
func (r *Rules) aliases(authorKey string) []string {
	for key, names := range r.Authors {
		if strings.EqualFold(key, authorKey) {
			return names
		}
	}
	return nil
}
