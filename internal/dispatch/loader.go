package dispatch

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRules []byte

// DefaultTable returns the built-in rule table.
func DefaultTable() *Table {
	t, err := LoadRulesFromBytes(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("built-in rule table is invalid: %v", err))
	}
	return t
}

// LoadRulesFromFile loads a rule table from a YAML file.
func LoadRulesFromFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

// LoadRules loads a rule table from a reader.
func LoadRules(r io.Reader) (*Table, error) {
	var config RulesConfig
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return NewTable(config.Rules)
}

// LoadRulesFromBytes loads a rule table from YAML bytes.
func LoadRulesFromBytes(data []byte) (*Table, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return NewTable(config.Rules)
}
