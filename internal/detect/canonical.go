package detect

import (
	"bytes"
	"fmt"
	"regexp"
)

// Rule removes whole lines that are known to differ between otherwise
// identical links.
type Rule struct {
	Name        string
	Description string
	Pattern     *regexp.Regexp
}

// NewRule compiles pattern into a named Rule.
func NewRule(name, pattern, description string) (Rule, error) {
	if name == "" {
		return Rule{}, fmt.Errorf("canonicalization rule needs a name")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", name, err)
	}
	return Rule{Name: name, Description: description, Pattern: re}, nil
}

// OutputPathRule drops the map header that restates the absolute output
// path. Each run links into its own directory, so this line always
// differs and carries no layout information.
var OutputPathRule = Rule{
	Name:        "output-path",
	Description: "map header restating the absolute output path",
	Pattern:     regexp.MustCompile(`^# Path:`),
}

// DefaultRules returns the rules every Canonicalizer starts from.
func DefaultRules() []Rule {
	return []Rule{OutputPathRule}
}

// Canonicalizer strips volatile lines from link maps.
//
// Only lines matching a rule are removed. Everything else, including line
// order, addresses and line terminators, is preserved byte for byte:
// island ordering is exactly what a map comparison must observe.
type Canonicalizer struct {
	rules []Rule
}

// NewCanonicalizer builds a Canonicalizer from the default rules followed
// by extra. Rule names must be unique.
func NewCanonicalizer(extra ...Rule) (*Canonicalizer, error) {
	rules := append(DefaultRules(), extra...)
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.Pattern == nil {
			return nil, fmt.Errorf("rule %q has no pattern", r.Name)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate canonicalization rule %q", r.Name)
		}
		seen[r.Name] = true
	}
	return &Canonicalizer{rules: rules}, nil
}

// Rules returns the active rules in evaluation order.
func (c *Canonicalizer) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Canonicalize returns data without the lines matched by any rule.
// Applying it twice gives the same result as applying it once.
func (c *Canonicalizer) Canonicalize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i+1]
		}
		data = data[len(line):]

		if !c.drops(bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r"))) {
			out = append(out, line...)
		}
	}
	return out
}

func (c *Canonicalizer) drops(line []byte) bool {
	for _, r := range c.rules {
		if r.Pattern.Match(line) {
			return true
		}
	}
	return false
}
