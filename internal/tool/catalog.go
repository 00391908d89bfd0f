package tool

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog models the structure of configs/tools.yaml.
type Catalog struct {
	Tools []Definition `yaml:"tools"`
}

// LoadCatalog parses the YAML file listing the device capabilities exposed to
// the agent and builds a read-only registry from it.
func LoadCatalog(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("工具目录文件路径不能为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取工具目录失败: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return nil, fmt.Errorf("解析工具目录失败: %w", err)
	}
	if len(catalog.Tools) == 0 {
		return nil, fmt.Errorf("工具目录 %s 为空", path)
	}

	registry, err := NewRegistryFrom(catalog.Tools)
	if err != nil {
		return nil, fmt.Errorf("构建工具目录失败: %w", err)
	}
	return registry, nil
}
