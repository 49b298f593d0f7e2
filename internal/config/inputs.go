package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/arielsync/internal/models"
)

// queryEntry is the long form of a query file entry.
type queryEntry struct {
	Expression string `yaml:"expression"`
	Class      string `yaml:"class"`
}

// LoadInputs reads the processor→clients file and the query file. Both may
// be JSON or YAML mappings; their key order is kept. Client lists are sorted.
// Queries named in shortQueries get the SHORT class unless the query file
// sets a class explicitly.
func LoadInputs(epClientsFile, queriesFile string, shortQueries []string) (models.Inputs, error) {
	inputs := models.Inputs{Clients: map[string][]string{}}

	epNode, err := readMapping(epClientsFile)
	if err != nil {
		return inputs, err
	}
	for i := 0; i+1 < len(epNode.Content); i += 2 {
		processor := epNode.Content[i].Value
		if _, dup := inputs.Clients[processor]; dup {
			return inputs, fmt.Errorf("%s: duplicate event processor %q", epClientsFile, processor)
		}
		var clients []string
		if err := epNode.Content[i+1].Decode(&clients); err != nil {
			return inputs, fmt.Errorf("%s: clients of %q: %w", epClientsFile, processor, err)
		}
		slices.Sort(clients)
		inputs.Processors = append(inputs.Processors, processor)
		inputs.Clients[processor] = clients
	}

	qNode, err := readMapping(queriesFile)
	if err != nil {
		return inputs, err
	}
	seen := map[string]bool{}
	for i := 0; i+1 < len(qNode.Content); i += 2 {
		name := qNode.Content[i].Value
		if seen[name] {
			return inputs, fmt.Errorf("%s: duplicate query %q", queriesFile, name)
		}
		seen[name] = true

		tmpl, err := decodeTemplate(name, qNode.Content[i+1], shortQueries)
		if err != nil {
			return inputs, fmt.Errorf("%s: %w", queriesFile, err)
		}
		inputs.Templates = append(inputs.Templates, tmpl)
	}

	if len(inputs.Processors) == 0 {
		return inputs, fmt.Errorf("%s: no event processors", epClientsFile)
	}
	if len(inputs.Templates) == 0 {
		return inputs, fmt.Errorf("%s: no queries", queriesFile)
	}
	return inputs, nil
}

func decodeTemplate(name string, node *yaml.Node, shortQueries []string) (models.QueryTemplate, error) {
	tmpl := models.QueryTemplate{Name: name, Class: models.ClassLong}
	if slices.Contains(shortQueries, name) {
		tmpl.Class = models.ClassShort
	}

	switch node.Kind {
	case yaml.ScalarNode:
		tmpl.Expression = node.Value
	case yaml.MappingNode:
		var e queryEntry
		if err := node.Decode(&e); err != nil {
			return tmpl, fmt.Errorf("query %q: %w", name, err)
		}
		tmpl.Expression = e.Expression
		switch models.DurationClass(strings.ToUpper(e.Class)) {
		case "":
		case models.ClassShort:
			tmpl.Class = models.ClassShort
		case models.ClassLong:
			tmpl.Class = models.ClassLong
		default:
			return tmpl, fmt.Errorf("query %q: unknown class %q", name, e.Class)
		}
	default:
		return tmpl, fmt.Errorf("query %q: expected string or mapping", name)
	}

	if strings.TrimSpace(tmpl.Expression) == "" {
		return tmpl, fmt.Errorf("query %q: empty expression", name)
	}
	return tmpl, nil
}

// readMapping parses path and returns its top-level mapping node.
func readMapping(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	// Tabs are insignificant whitespace in JSON but YAML rejects them as
	// indentation; valid JSON never has raw tabs inside strings.
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data = bytes.ReplaceAll(data, []byte("\t"), []byte("  "))
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse %s: top level must be a mapping", path)
	}
	return doc.Content[0], nil
}
