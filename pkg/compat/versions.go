package compat

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadVersionsFile reads the host's shared dependency versions from a flat
// name->version document (JSON or YAML). A missing or empty path yields an
// empty map, which negotiates every requirement as a missing dependency.
func LoadVersionsFile(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shared dependency versions: %w", err)
	}

	var versions map[string]string
	if err := json.Unmarshal(data, &versions); err == nil {
		return versions, nil
	}
	if err := yaml.Unmarshal(data, &versions); err != nil {
		return nil, fmt.Errorf("failed to parse shared dependency versions %s: %w", path, err)
	}
	return versions, nil
}
