// Package pattern implements priority-ordered rule matching over round
// histories. A rule maps the last three round outcomes to a decision
// symbol, written as "AAB-A"; multiple rules are separated by
// semicolons and matched first-to-last.
package pattern

import (
	"fmt"
	"strings"
	"sync"
)

// Symbols allowed in rule histories and decisions.
const (
	SymbolA = 'A'
	SymbolB = 'B'
)

// Side identifies which side of the table a decision targets.
type Side int

const (
	SideNone Side = iota
	Side1         // decision symbol A
	Side2         // decision symbol B
)

func (s Side) String() string {
	switch s {
	case Side1:
		return "side1"
	case Side2:
		return "side2"
	default:
		return "none"
	}
}

// SideForSymbol maps a decision symbol to its side. The mapping is
// fixed: A targets side1, B targets side2.
func SideForSymbol(sym byte) Side {
	switch sym {
	case SymbolA:
		return Side1
	case SymbolB:
		return Side2
	default:
		return SideNone
	}
}

// Rule is a single history->decision mapping.
type Rule struct {
	History  string // exactly 3 symbols over {A,B}
	Decision byte   // one symbol over {A,B}
}

// Side returns the side the rule's decision targets.
func (r Rule) Side() Side {
	return SideForSymbol(r.Decision)
}

func (r Rule) String() string {
	return fmt.Sprintf("%s-%c", r.History, r.Decision)
}

// FormatError describes why a rule list was rejected, naming the
// offending rule and field.
type FormatError struct {
	RuleIndex int    // 1-based position in the rule list
	Rule      string // the malformed rule as written
	Field     string // "rule", "history" or "decision"
	Reason    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid pattern format: rule %d (%q): %s %s", e.RuleIndex, e.Rule, e.Field, e.Reason)
}

// Parse validates and canonicalizes a semicolon-separated rule list.
// Input is case-insensitive; the returned rules are uppercase.
func Parse(text string) ([]Rule, error) {
	text = strings.ToUpper(strings.TrimSpace(text))
	if text == "" {
		return nil, &FormatError{RuleIndex: 1, Rule: "", Field: "rule", Reason: "must not be empty"}
	}

	parts := strings.Split(text, ";")
	rules := make([]Rule, 0, len(parts))
	for i, part := range parts {
		rule, err := parseRule(i+1, part)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseRule(index int, raw string) (Rule, error) {
	history, decision, ok := strings.Cut(raw, "-")
	if !ok {
		return Rule{}, &FormatError{RuleIndex: index, Rule: raw, Field: "rule", Reason: `is missing the "-" separator`}
	}
	if len(history) != 3 {
		return Rule{}, &FormatError{
			RuleIndex: index, Rule: raw, Field: "history",
			Reason: fmt.Sprintf("must be exactly 3 symbols, got %d", len(history)),
		}
	}
	for _, c := range history {
		if c != SymbolA && c != SymbolB {
			return Rule{}, &FormatError{
				RuleIndex: index, Rule: raw, Field: "history",
				Reason: fmt.Sprintf("contains illegal symbol %q, only A and B are allowed", c),
			}
		}
	}
	if len(decision) != 1 {
		return Rule{}, &FormatError{
			RuleIndex: index, Rule: raw, Field: "decision",
			Reason: fmt.Sprintf("must be exactly 1 symbol, got %d", len(decision)),
		}
	}
	if decision[0] != SymbolA && decision[0] != SymbolB {
		return Rule{}, &FormatError{
			RuleIndex: index, Rule: raw, Field: "decision",
			Reason: fmt.Sprintf("contains illegal symbol %q, only A and B are allowed", rune(decision[0])),
		}
	}
	return Rule{History: history, Decision: decision[0]}, nil
}

// Combine re-serializes a set of parsed rules into canonical text and
// re-validates the whole result. Duplicate histories are legal; order
// encodes priority.
func Combine(rules []Rule) (string, error) {
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = r.String()
	}
	combined := strings.Join(parts, ";")
	if _, err := Parse(combined); err != nil {
		return "", err
	}
	return combined, nil
}

// Store holds the active rule list for one table. The list is replaced
// wholesale by SetRules; Match never fails once the list has been
// validated. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewStore returns an empty store. An empty store matches nothing.
func NewStore() *Store {
	return &Store{}
}

// SetRules parses text and replaces the active rule list. On error the
// previous list is kept.
func (s *Store) SetRules(text string) error {
	rules, err := Parse(text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return nil
}

// Match returns the first rule whose history equals the input,
// case-insensitively. ok is false if no rule matches or the input is
// not exactly 3 symbols long.
func (s *Store) Match(history string) (Rule, bool) {
	if len(history) != 3 {
		return Rule{}, false
	}
	history = strings.ToUpper(history)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.History == history {
			return r, true
		}
	}
	return Rule{}, false
}

// AddRule validates and appends a single rule at the lowest priority.
func (s *Store) AddRule(history string, decision string) error {
	rule, err := parseRule(1, fmt.Sprintf("%s-%s", strings.ToUpper(history), strings.ToUpper(decision)))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.mu.Unlock()
	return nil
}

// RemoveRule removes the first rule with the given history. Returns
// false if no rule matched.
func (s *Store) RemoveRule(history string) bool {
	history = strings.ToUpper(history)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.History == history {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes all rules.
func (s *Store) Clear() {
	s.mu.Lock()
	s.rules = nil
	s.mu.Unlock()
}

// Rules returns a copy of the active rule list in priority order.
func (s *Store) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of active rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// String returns the canonical text form of the active rule list.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]string, len(s.rules))
	for i, r := range s.rules {
		parts[i] = r.String()
	}
	return strings.Join(parts, ";")
}
