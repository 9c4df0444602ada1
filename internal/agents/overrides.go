package agents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overridesFile is the on-disk shape of an instruction override file:
//
//	agents:
//	  orchestrator:
//	    instruction: |
//	      ...
type overridesFile struct {
	Agents map[string]struct {
		Instruction string `yaml:"instruction"`
	} `yaml:"agents"`
}

// LoadOverrides reads per-agent instruction overrides from a YAML file.
// Environment references like ${VAR} inside instructions are expanded.
// A missing file is not an error; it just means no overrides.
func LoadOverrides(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("agents: reading overrides: %w", err)
	}

	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("agents: parsing overrides: %w", err)
	}

	overrides := make(map[string]string, len(file.Agents))
	for name, entry := range file.Agents {
		if entry.Instruction != "" {
			overrides[name] = os.ExpandEnv(entry.Instruction)
		}
	}
	return overrides, nil
}
