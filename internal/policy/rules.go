package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleFile models the structure of configs/policy.yaml.
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules parses the YAML rule table. An absent path yields an empty table,
// leaving the registry defaults in charge.
func LoadRules(path string) ([]Rule, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取策略规则失败: %w", err)
	}

	var file RuleFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析策略规则失败: %w", err)
	}
	return file.Rules, nil
}
