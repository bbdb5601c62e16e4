// Package persona loads the identity document the agent acts as: the
// name, address, payment details, and preferences a task like "order a
// pizza" draws on. The document is arbitrary nested YAML or JSON; it
// flattens to an ordered list of labeled facts for the system prompt.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pair is one flattened persona fact.
type Pair struct {
	Label string
	Value string
}

// Persona is an ordered set of facts about who the agent is acting as.
type Persona struct {
	Pairs []Pair
}

// Load reads a persona document from disk. YAML being a superset of
// JSON, one parser covers both formats.
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse persona %s: %w", path, err)
	}
	return p, nil
}

// Parse flattens a persona document into ordered pairs.
func Parse(data []byte) (*Persona, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &Persona{Pairs: Flatten(&doc)}, nil
}

// Prompt renders the persona as "label: value" lines.
func (p *Persona) Prompt() string {
	if p == nil || len(p.Pairs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, pair := range p.Pairs {
		if i > 0 {
			b.WriteByte('\n')
		}
		if pair.Label == "" {
			b.WriteString(pair.Value)
			continue
		}
		b.WriteString(pair.Label)
		b.WriteString(": ")
		b.WriteString(pair.Value)
	}
	return b.String()
}

// Flatten walks the node tree depth-first in document order, one pair
// per scalar leaf. Nested keys join with a space, so
// {payment: {card: {number: N}}} yields ("payment card number", N).
// The yaml.Node tree is used instead of map[string]any because Go maps
// would destroy the document's key order.
func Flatten(doc *yaml.Node) []Pair {
	var pairs []Pair
	node := doc
	if node == nil {
		return pairs
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return pairs
		}
		node = node.Content[0]
	}
	flattenInto(&pairs, "", node)
	return pairs
}

func flattenInto(pairs *[]Pair, label string, node *yaml.Node) {
	node = deref(node)
	if node == nil {
		return
	}
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := deref(node.Content[i])
			if key == nil {
				continue
			}
			child := key.Value
			if label != "" {
				child = label + " " + key.Value
			}
			flattenInto(pairs, child, node.Content[i+1])
		}
	case yaml.SequenceNode:
		if allScalars(node) {
			parts := make([]string, 0, len(node.Content))
			for _, item := range node.Content {
				parts = append(parts, deref(item).Value)
			}
			*pairs = append(*pairs, Pair{Label: label, Value: strings.Join(parts, ", ")})
			return
		}
		for _, item := range node.Content {
			flattenInto(pairs, label, item)
		}
	case yaml.ScalarNode:
		*pairs = append(*pairs, Pair{Label: label, Value: node.Value})
	}
}

func allScalars(node *yaml.Node) bool {
	for _, item := range node.Content {
		item = deref(item)
		if item == nil || item.Kind != yaml.ScalarNode {
			return false
		}
	}
	return true
}

func deref(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node
}
