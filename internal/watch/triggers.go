// Package watch scans the chat list for unread conversations and
// matches their previews against the trigger table.
package watch

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Trigger pairs a phrase with its canned reply.
type Trigger struct {
	Phrase string `yaml:"phrase"`
	Reply  string `yaml:"reply"`
}

// TriggerTable maps trigger phrases to canned replies. Matching is
// case-insensitive substring containment; the first entry that matches
// wins, so order in the file is priority order.
type TriggerTable struct {
	entries []Trigger
}

// DefaultTriggers is the built-in table used when no trigger file is
// configured.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{Phrase: "hellokaun", Reply: "Hi, I'm interested! Can you share more details?"},
	}
}

// NewTriggerTable builds a table, folding phrases to lower case and
// dropping empty entries.
func NewTriggerTable(entries []Trigger) *TriggerTable {
	t := &TriggerTable{}
	for _, e := range entries {
		phrase := strings.ToLower(strings.TrimSpace(e.Phrase))
		if phrase == "" {
			continue
		}
		t.entries = append(t.entries, Trigger{Phrase: phrase, Reply: e.Reply})
	}
	return t
}

// LoadTriggers reads a YAML trigger file. An empty path or a missing
// file yields the built-in defaults; a malformed or empty file is an
// error so a live reload can keep the previous table.
func LoadTriggers(path string) (*TriggerTable, error) {
	if path == "" {
		return NewTriggerTable(DefaultTriggers()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTriggerTable(DefaultTriggers()), nil
		}
		return nil, fmt.Errorf("read triggers: %w", err)
	}

	var entries []Trigger
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse triggers: %w", err)
	}

	table := NewTriggerTable(entries)
	if table.Len() == 0 {
		return nil, fmt.Errorf("trigger file %s has no usable entries", path)
	}
	return table, nil
}

// Match tests text against the table and returns the reply of the
// first trigger whose phrase the text contains.
func (t *TriggerTable) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, e := range t.entries {
		if strings.Contains(lower, e.Phrase) {
			return e.Reply, true
		}
	}
	return "", false
}

// Len returns the number of usable entries.
func (t *TriggerTable) Len() int {
	return len(t.entries)
}
