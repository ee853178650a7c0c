// Package intent holds the declarative keyword-reply table. Rules are
// configuration data, not control flow: the orchestrator consults the
// table and emits the canned reply without a model call on a hit.
package intent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
	// Exact requires the whole (normalized) message to equal a keyword;
	// otherwise a substring hit is enough.
	Exact bool `yaml:"exact"`
}

type Table struct {
	rules []Rule
}

func NewTable(rules []Rule) *Table {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Reply) == "" || len(r.Keywords) == 0 {
			continue
		}
		out = append(out, r)
	}
	return &Table{rules: out}
}

type tableFile struct {
	Rules []Rule `yaml:"rules"`
}

func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent table %s: %w", path, err)
	}
	var doc tableFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode intent table %s: %w", path, err)
	}
	return NewTable(doc.Rules), nil
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// Match returns the first rule reply whose keyword hits the text.
func (t *Table) Match(text string) (string, bool) {
	if t == nil {
		return "", false
	}
	norm := normalize(text)
	if norm == "" {
		return "", false
	}
	for _, r := range t.rules {
		for _, kw := range r.Keywords {
			kw = normalize(kw)
			if kw == "" {
				continue
			}
			if r.Exact {
				if norm == kw {
					return r.Reply, true
				}
				continue
			}
			if strings.Contains(norm, kw) {
				return r.Reply, true
			}
		}
	}
	return "", false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(s, ".!?,~ ")
}
